// Package normalize turns raw scraped listing records into exposes.
//
// Scraped data is unreliable, so every field is decoded on its own and falls back
// to an empty value when it is missing or has an unexpected type. A broken field
// never drops an otherwise valid listing.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"flatnotify/internal/model"
)

// Raw is a scraped listing record as produced by a portal crawler or decoded JSON.
type Raw map[string]any

// origSuffix marks the full-size original variant in portal image URLs.
const origSuffix = "/ORIG"

// Normalize converts a raw record into an Expose. It never fails.
// When no id is present the listing URL is used as id; the id is empty only
// when both are missing.
func Normalize(raw Raw) model.Expose {
	e := model.Expose{
		Title:       raw.text("title"),
		Address:     raw.text("address"),
		Price:       raw.text("price"),
		Size:        raw.text("size"),
		Rooms:       raw.text("rooms"),
		RentWarm:    raw.text("rent_warm"),
		URL:         raw.text("url"),
		Description: plainText(raw.text("description")),
		Images:      raw.images(),
	}
	e.ID = model.ListingID(raw.text("id"))
	if e.ID == "" {
		e.ID = model.ListingID(e.URL)
	}
	return e
}

// text returns the field as a trimmed string. Numbers are formatted without
// trailing zeros; anything else yields "".
func (r Raw) text(key string) string {
	switch v := r[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return ""
	}
}

func (r Raw) images() []string {
	var urls []string
	switch v := r["images"].(type) {
	case []string:
		for _, u := range v {
			urls = appendImage(urls, u)
		}
	case []any:
		for _, item := range v {
			if u, ok := item.(string); ok {
				urls = appendImage(urls, u)
			}
		}
	}
	if len(urls) == 0 {
		urls = appendImage(urls, r.text("image"))
	}
	return urls
}

func appendImage(urls []string, u string) []string {
	u = strings.TrimSpace(u)
	if i := strings.Index(u, origSuffix); i > 0 {
		u = u[:i]
	}
	if u == "" {
		return urls
	}
	return append(urls, u)
}

// plainText strips markup from an HTML fragment. Input without tags is returned as is.
func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		p.AppendHtml("\n")
	})
	return strings.TrimSpace(doc.Text())
}
