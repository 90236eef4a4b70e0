package announce

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func TestIdentityCascade(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"id wins", `{"id":"a","uuid":"b","dateCreated":"d"}`, "a"},
		{"numeric id", `{"id":12345678901234}`, "12345678901234"},
		{"uuid", `{"uuid":"u-1","messageId":"m"}`, "u-1"},
		{"messageId", `{"messageId":77,"createdAt":"c"}`, "77"},
		{"dateCreated", `{"dateCreated":"2024-05-01T00:00:00Z","createdAt":"c"}`, "2024-05-01T00:00:00Z"},
		{"createdAt", `{"createdAt":"c","title":"t"}`, "c"},
		{"empty id skipped", `{"id":"","uuid":"u"}`, "u"},
		{"null id skipped", `{"id":null,"uuid":"u"}`, "u"},
		{"fallback", `{"title":"Hello","body":"0123456789012345678901234567890123456789"}`, "Hello|012345678901234567890123456789"},
		{"fallback uses raw title only", `{"subject":"S","body":"b"}`, "|b"},
		{"fallback multibyte", `{"title":"T","body":"` + strings.Repeat("é", 40) + `"}`, "T|" + strings.Repeat("é", 30)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, err := Parse(decode(t, tc.raw), Options{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, a.ID)
		})
	}
}

func TestIdentityIsStable(t *testing.T) {
	t.Parallel()
	raw := `{"title":"<b>Hi</b>","body":"<p>x</p>"}`
	plain, err := Parse(decode(t, raw), Options{})
	require.NoError(t, err)
	stripped, err := Parse(decode(t, raw), Options{StripHTML: true})
	require.NoError(t, err)
	assert.Equal(t, plain.ID, stripped.ID)
	assert.Equal(t, "Hi", stripped.Title)
	assert.Equal(t, "x", stripped.Body)
}

func TestParseDisplayFields(t *testing.T) {
	t.Parallel()
	a, err := Parse(decode(t, `{"id":1,"subject":"Sub","message":"msg","createdAt":"yesterday"}`), Options{})
	require.NoError(t, err)
	assert.Equal(t, Announcement{ID: "1", Title: "Sub", Body: "msg", Timestamp: "yesterday"}, a)

	a, err = Parse(decode(t, `{"id":2,"text":"only text"}`), Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, a.Title)
	assert.Equal(t, "only text", a.Body)
}

func TestParseRejectsNestedObjects(t *testing.T) {
	t.Parallel()
	_, err := Parse(decode(t, `{"id":{"nested":true}}`), Options{})
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "🧠 Title\n🗓 2024-01-01\n\nBody", Format(Announcement{Title: "Title", Timestamp: "2024-01-01", Body: "  Body \n"}))
	assert.Equal(t, "🧠 Announcement", Format(Announcement{}))
	assert.Equal(t, "🧠 T\n\nB", Format(Announcement{Title: "T", Body: "B"}))

	long := strings.Repeat("x", BodyLimit+10)
	out := Format(Announcement{Title: "T", Body: long})
	assert.True(t, strings.HasSuffix(out, strings.Repeat("x", BodyLimit)+"…"))

	exact := strings.Repeat("y", BodyLimit)
	assert.False(t, strings.HasSuffix(Format(Announcement{Title: "T", Body: exact}), "…"))
}

func TestSummaryLine(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "• T (2024-01-01)", SummaryLine(Announcement{Title: "T", Timestamp: "2024-01-01"}))
	assert.Equal(t, "• T", SummaryLine(Announcement{Title: "T"}))
	assert.Equal(t, "• Announcement", SummaryLine(Announcement{}))
}

func TestStripHTML(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "plain", StripHTML("plain"))
	assert.Equal(t, "a\nb", StripHTML("a<br>b"))
	assert.Equal(t, "One\n\nTwo", StripHTML("<p>One</p>\n\n\n<p>Two</p>"))
	assert.Equal(t, "• x\n• y", StripHTML("<ul><li>x</li><li>y</li></ul>"))
	assert.Equal(t, "Tom & Jerry", StripHTML("Tom &amp; Jerry"))
}
