// Package announce normalizes loosely shaped feed records into Announcement
// values with a stable identity and a display form.
package announce

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	DefaultTitle = "Announcement"
	// BodyLimit caps the body in Format, in runes.
	BodyLimit = 2500
	// fallbackBodyRunes is how much of the raw body goes into a fallback identity.
	fallbackBodyRunes = 30
)

// Announcement is one feed item. It is never persisted on its own; only its
// ID is stored as a subscriber's last-seen marker.
type Announcement struct {
	ID        string
	Title     string
	Body      string
	Timestamp string
}

// record mirrors the subset of feed keys we understand. Scalars of any JSON
// type are accepted and rendered as strings.
type record struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	MessageID   string `json:"messageId"`
	DateCreated string `json:"dateCreated"`
	CreatedAt   string `json:"createdAt"`
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Message     string `json:"message"`
	Text        string `json:"text"`
}

type Options struct {
	// StripHTML reduces title and body markup to plain text. Identity always
	// uses the raw fields so markers stay stable when this is toggled.
	StripHTML bool
}

// Parse decodes one raw feed record.
func Parse(raw map[string]any, opts Options) (Announcement, error) {
	var r record
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Announcement{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Announcement{}, fmt.Errorf("decode announcement: %w", err)
	}

	a := Announcement{
		ID:        r.identity(),
		Title:     firstNonEmpty(r.Title, r.Subject),
		Body:      firstNonEmpty(r.Body, r.Message, r.Text),
		Timestamp: firstNonEmpty(r.DateCreated, r.CreatedAt),
	}
	if opts.StripHTML {
		a.Title = strings.TrimSpace(StripHTML(a.Title))
		a.Body = StripHTML(a.Body)
	}
	if a.Title == "" {
		a.Title = DefaultTitle
	}
	return a, nil
}

// ParseAll decodes a batch, keeping feed order.
func ParseAll(raws []map[string]any, opts Options) ([]Announcement, error) {
	out := make([]Announcement, 0, len(raws))
	for i, raw := range raws {
		a, err := Parse(raw, opts)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r record) identity() string {
	if id := firstNonEmpty(r.ID, r.UUID, r.MessageID, r.DateCreated, r.CreatedAt); id != "" {
		return id
	}
	return r.Title + "|" + truncateRunes(r.Body, fallbackBodyRunes)
}

// Format renders the message sent to a subscriber.
func Format(a Announcement) string {
	title := a.Title
	if title == "" {
		title = DefaultTitle
	}
	var b strings.Builder
	b.WriteString("🧠 " + title)
	if a.Timestamp != "" {
		b.WriteString("\n🗓 " + a.Timestamp)
	}
	body := strings.TrimSpace(a.Body)
	if n := []rune(body); len(n) > BodyLimit {
		body = string(n[:BodyLimit]) + "…"
	}
	if body != "" {
		b.WriteString("\n\n" + body)
	}
	return strings.TrimSpace(b.String())
}

// SummaryLine is the one-line digest form used by /recent.
func SummaryLine(a Announcement) string {
	title := a.Title
	if title == "" {
		title = DefaultTitle
	}
	if a.Timestamp == "" {
		return "• " + title
	}
	return "• " + title + " (" + a.Timestamp + ")"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
