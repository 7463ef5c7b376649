package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := NewSlogLogger(slog.New(h))

	log.Debug("parsed section",
		String("kind", "table"),
		Int("entries", 12),
		Int64("offset", 4096),
		Error("cause", errors.New("nope")))

	out := buf.String()
	for _, want := range []string{"parsed section", "kind=table", "entries=12", "offset=4096", "cause=nope"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output: %s", want, out)
		}
	}
}

func TestSlogLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	log.With(String("component", "xref")).Info("done")
	if !strings.Contains(buf.String(), "component=xref") {
		t.Fatalf("expected bound field in output: %s", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	var log Logger = NopLogger{}
	log.With(String("k", "v")).Info("silently dropped")
}
