package source

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"flatnotify/internal/model"
	"flatnotify/internal/normalize"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
	agent      string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.agent = req.Header.Get("User-Agent")
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t, "../../testdata/listings.xml")

	tests := []struct {
		name      string
		transport *mockTransport
		wantItems int
		wantErr   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: xml, statusCode: 200},
			wantItems: 3,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "not found", statusCode: 404},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.transport)
			records, err := s.Fetch(context.Background(), "https://portal.example/rss")

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantItems, len(records)); diff != "" {
				t.Errorf("record count mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff("flatnotify/1.0", tt.transport.agent); diff != "" {
				t.Errorf("user agent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFetchedRecordsNormalize(t *testing.T) {
	xml := loadFixture(t, "../../testdata/listings.xml")
	records, err := New(&mockTransport{body: xml, statusCode: 200}).Fetch(context.Background(), "https://portal.example/rss")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	var got []model.Expose
	for _, r := range records {
		got = append(got, normalize.Normalize(r))
	}

	want := []model.Expose{
		{
			ID:          "42",
			Title:       "Sunny 2-room flat",
			Address:     "Musterstraße 1, 10115 Berlin",
			Price:       "850 €",
			Size:        "54 m²",
			Rooms:       "2",
			RentWarm:    "1050 €",
			URL:         "https://portal.example/expose/42",
			Description: "Balcony facing south.\nClose to the park.",
			Images:      []string{"https://img.example/42/a.jpg"},
		},
		{
			ID:          "https://portal.example/expose/43",
			Title:       "Loft without guid",
			Price:       "1200 €",
			URL:         "https://portal.example/expose/43",
			Description: "Plain text description",
		},
		{
			Title: "Entry without link",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exposes mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord(t *testing.T) {
	tests := []struct {
		name string
		item *gofeed.Item
		want normalize.Raw
	}{
		{
			name: "content used when description is blank",
			item: &gofeed.Item{GUID: "g1", Title: "T", Link: "L", Description: " ", Content: "<b>body</b>"},
			want: normalize.Raw{"id": "g1", "title": "T", "url": "L", "description": "<b>body</b>"},
		},
		{
			name: "entry image and enclosures are merged",
			item: &gofeed.Item{
				Title: "T",
				Link:  "L",
				Image: &gofeed.Image{URL: "https://img/1.jpg"},
				Enclosures: []*gofeed.Enclosure{
					{URL: "https://img/1.jpg", Type: "image/jpeg"},
					{URL: "https://img/2.png"},
					{URL: "https://video/3.mp4", Type: "video/mp4"},
				},
			},
			want: normalize.Raw{
				"title": "T", "url": "L", "description": "",
				"images": []string{"https://img/1.jpg", "https://img/2.png"},
			},
		},
		{
			name: "custom listing fields",
			item: &gofeed.Item{Title: "T", Link: "L", Custom: map[string]string{"price": "900", "other": "x"}},
			want: normalize.Raw{"title": "T", "url": "L", "description": "", "price": "900"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Record(tt.item)); diff != "" {
				t.Errorf("Record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
