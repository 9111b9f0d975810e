// Package model defines the domain types used across the application.
package model

import "time"

// ListingID identifies a listing on its source portal. It is the dedup key.
type ListingID string

// Expose is a normalized real-estate listing.
type Expose struct {
	ID          ListingID
	Title       string
	Address     string
	Price       string
	Size        string
	Rooms       string
	RentWarm    string
	URL         string
	Description string
	Images      []string
}

// DeliveryTask is one outbound chat API call. It is the queue wire payload.
type DeliveryTask struct {
	URL    string         `json:"url"`
	Params map[string]any `json:"params"`
}

// DedupRecord marks a listing that has already been notified.
type DedupRecord struct {
	ID     ListingID
	SeenAt time.Time
}

// Subscriber is a Telegram chat that asked to receive notifications.
type Subscriber struct {
	ChatID    int64
	Username  string
	CreatedAt time.Time
}
