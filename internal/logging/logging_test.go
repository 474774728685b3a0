package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newLogger(Config{Level: "warn"}, &buf), "decider")

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	logger.Warn().Msg("shown")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "decider" || entry["message"] != "shown" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatal("expected timestamp field")
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "chatty"}, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Fatalf("expected exactly one line, got %q", buf.String())
	}
}

func TestBotLoggerWritesDebug(t *testing.T) {
	var buf bytes.Buffer
	bl := BotLogger{Logger: newLogger(Config{Level: "debug"}, &buf)}
	bl.Printf("Endpoint: %s", "getUpdates")
	bl.Println("response", 200)
	out := buf.String()
	if !bytes.Contains([]byte(out), []byte("Endpoint: getUpdates")) || !bytes.Contains([]byte(out), []byte("response 200")) {
		t.Fatalf("unexpected output %q", out)
	}
}
