package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTextShortIsSingleChunk(t *testing.T) {
	t.Parallel()
	got := SplitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("SplitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	para := strings.Repeat("a", 6)
	s := para + "\n" + para + "\n" + para
	got := SplitText(s, 10)
	want := []string{para, para, para}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks %q, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitTextRespectsRuneLimit(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("🧠", 25)
	got := SplitText(s, 10)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, c := range got {
		if n := utf8.RuneCountInString(c); n > 10 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
	}
	if strings.Join(got, "") != s {
		t.Fatal("chunks do not reassemble into the input")
	}
}
