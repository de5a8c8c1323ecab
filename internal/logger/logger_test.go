package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.InfoLevel, "json")

	log.Debug().Msg("hidden")
	log.Info().Str("component", "attempt").Msg("visible")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "visible" || entry["component"] != "attempt" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	for _, in := range []string{"", "loud"} {
		if got := parseLevel(in); got != zerolog.InfoLevel {
			t.Errorf("parseLevel(%q) = %v", in, got)
		}
	}
	if got := parseLevel("debug"); got != zerolog.DebugLevel {
		t.Errorf("parseLevel(debug) = %v", got)
	}
}
