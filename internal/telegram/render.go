// Package telegram renders exposes into Bot API calls.
package telegram

import (
	"encoding/json"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"flatnotify/internal/model"
)

// MaxMessageLength is the longest text the Bot API accepts in one message.
const MaxMessageLength = 4095

// MaxMediaGroup is the number of photos sent in one media group.
const MaxMediaGroup = 9

// NewListingMarker opens the first message of every expose.
const NewListingMarker = "------------NEW LISTING------------"

// Bot API method names.
const (
	MethodSendMessage    = "sendMessage"
	MethodSendPhoto      = "sendPhoto"
	MethodSendMediaGroup = "sendMediaGroup"
)

// Endpoints holds the Bot API URLs a renderer targets.
type Endpoints struct {
	SendMessage    string
	SendPhoto      string
	SendMediaGroup string
}

// NewEndpoints builds the Bot API URLs for the given bot token.
func NewEndpoints(token string) Endpoints {
	return Endpoints{
		SendMessage:    fmt.Sprintf(tgbotapi.APIEndpoint, token, MethodSendMessage),
		SendPhoto:      fmt.Sprintf(tgbotapi.APIEndpoint, token, MethodSendPhoto),
		SendMediaGroup: fmt.Sprintf(tgbotapi.APIEndpoint, token, MethodSendMediaGroup),
	}
}

// Renderer converts exposes into ordered delivery tasks.
type Renderer struct {
	endpoints Endpoints
	template  string
}

// NewRenderer creates a Renderer. The template uses {title}, {address}, {price},
// {size}, {rooms}, {rent_warm}, {url} and {id} placeholders.
func NewRenderer(endpoints Endpoints, template string) *Renderer {
	return &Renderer{endpoints: endpoints, template: template}
}

// Render returns the tasks announcing e to every chat. The sequence for one chat is
// the listing text, the photos, then the description; chats follow each other.
func (r *Renderer) Render(e model.Expose, chatIDs []int64) []model.DeliveryTask {
	var tasks []model.DeliveryTask
	for _, chatID := range chatIDs {
		tasks = append(tasks, r.RenderFor(e, chatID)...)
	}
	return tasks
}

// RenderFor returns the ordered tasks announcing e to one chat.
func (r *Renderer) RenderFor(e model.Expose, chatID int64) []model.DeliveryTask {
	var tasks []model.DeliveryTask

	text := NewListingMarker + "\n" + r.FormatExpose(e)
	tasks = append(tasks, r.textTasks(chatID, text)...)
	tasks = append(tasks, r.imageTasks(chatID, e.Images)...)

	if strings.TrimSpace(e.Description) != "" {
		tasks = append(tasks, r.textTasks(chatID, e.Description)...)
	}
	return tasks
}

// Message returns the tasks sending a plain text to every chat.
func (r *Renderer) Message(text string, chatIDs []int64) []model.DeliveryTask {
	var tasks []model.DeliveryTask
	for _, chatID := range chatIDs {
		tasks = append(tasks, r.textTasks(chatID, text)...)
	}
	return tasks
}

// FormatExpose fills the message template with the expose fields.
func (r *Renderer) FormatExpose(e model.Expose) string {
	rep := strings.NewReplacer(
		"{id}", string(e.ID),
		"{title}", e.Title,
		"{address}", e.Address,
		"{price}", e.Price,
		"{size}", e.Size,
		"{rooms}", e.Rooms,
		"{rent_warm}", e.RentWarm,
		"{url}", e.URL,
	)
	return strings.TrimSpace(rep.Replace(r.template))
}

// textTasks skips blank chunks; the sender would refuse them as empty messages.
func (r *Renderer) textTasks(chatID int64, text string) []model.DeliveryTask {
	chunks := Split(text, MaxMessageLength)
	tasks := make([]model.DeliveryTask, 0, len(chunks))
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		tasks = append(tasks, model.DeliveryTask{
			URL:    r.endpoints.SendMessage,
			Params: map[string]any{"chat_id": chatID, "text": chunk},
		})
	}
	return tasks
}

func (r *Renderer) imageTasks(chatID int64, images []string) []model.DeliveryTask {
	var tasks []model.DeliveryTask
	for _, group := range PartitionImages(images) {
		if len(group) == 1 {
			tasks = append(tasks, model.DeliveryTask{
				URL:    r.endpoints.SendPhoto,
				Params: map[string]any{"chat_id": chatID, "photo": group[0]},
			})
			continue
		}
		tasks = append(tasks, model.DeliveryTask{
			URL:    r.endpoints.SendMediaGroup,
			Params: map[string]any{"chat_id": chatID, "media": mediaJSON(group)},
		})
	}
	return tasks
}

// PartitionImages splits images into consecutive groups of at most MaxMediaGroup.
func PartitionImages(images []string) [][]string {
	var groups [][]string
	for start := 0; start < len(images); start += MaxMediaGroup {
		end := min(start+MaxMediaGroup, len(images))
		groups = append(groups, images[start:end])
	}
	return groups
}

// Split cuts text into consecutive chunks of at most limit runes.
// Empty text yields no chunks.
func Split(text string, limit int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func mediaJSON(urls []string) string {
	media := make([]tgbotapi.InputMediaPhoto, 0, len(urls))
	for _, u := range urls {
		media = append(media, tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(u)))
	}
	data, err := json.Marshal(media)
	if err != nil {
		// InputMediaPhoto with a URL always marshals.
		panic(fmt.Sprintf("marshal media group: %v", err))
	}
	return string(data)
}
