package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
}

func TestWithFieldsAreWritten(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(&buf, "debug").With(String("comp", "dispatch"))
	l.Warn("send failed", Int64("chat_id", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if m["comp"] != "dispatch" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["chat_id"] != float64(42) {
		t.Fatalf("chat_id = %v", m["chat_id"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v", m["err"])
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(&buf, "warn")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if l.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if got := ParseLevel(" warning ", zerolog.InfoLevel); got != zerolog.WarnLevel {
		t.Fatalf("ParseLevel(warning) = %v", got)
	}
	if got := ParseLevel("nonsense", zerolog.ErrorLevel); got != zerolog.ErrorLevel {
		t.Fatalf("ParseLevel(nonsense) = %v", got)
	}
}

func TestRenderChatLine(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"error","time":"x","message":"state save failed","path":"state.json","err":"disk full"}`)
	got := renderChatLine(line)
	if !strings.HasPrefix(got, "[ERROR] state save failed") {
		t.Fatalf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "- err=disk full\n- path=state.json") {
		t.Fatalf("fields not sorted/rendered: %q", got)
	}
}
