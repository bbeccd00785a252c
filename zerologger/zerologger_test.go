package zerologger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	buf.Reset()
	return out
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := New(zerolog.New(&buf))

	log.Info("connection established", "role", "client", "buffer_size", 16, "error", errors.New("boom"))

	line := decodeLine(t, &buf)
	if line["message"] != "connection established" {
		t.Errorf("message = %v", line["message"])
	}
	if line["level"] != "info" {
		t.Errorf("level = %v", line["level"])
	}
	if line["role"] != "client" {
		t.Errorf("role = %v", line["role"])
	}
	if line["buffer_size"] != float64(16) {
		t.Errorf("buffer_size = %v", line["buffer_size"])
	}
	if line["error"] != "boom" {
		t.Errorf("error = %v", line["error"])
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	log := New(zerolog.New(&buf))

	for level, fn := range map[string]func(string, ...any){
		"debug": log.Debug,
		"info":  log.Info,
		"warn":  log.Warn,
		"error": log.Error,
	} {
		fn("msg")
		if got := decodeLine(t, &buf)["level"]; got != level {
			t.Errorf("level = %v, want %s", got, level)
		}
	}
}

func TestLogger_DisabledLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(zerolog.New(&buf).Level(zerolog.WarnLevel))

	log.Debug("hidden", "key", "value")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("unexpected output %q", buf.String())
	}

	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("missing warn output: %q", buf.String())
	}
}

func TestLogger_OddArguments(t *testing.T) {
	var buf bytes.Buffer
	log := New(zerolog.New(&buf))

	log.Info("odd", 42, "value", "dangling")

	line := decodeLine(t, &buf)
	if line["!BADKEY"] != "value" {
		t.Errorf("!BADKEY = %v", line["!BADKEY"])
	}
	if v, ok := line["dangling"]; !ok || v != nil {
		t.Errorf("dangling = %v, %v", v, ok)
	}
}
