package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
)

func TestSlogAdapterLogsSuccessEvent(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{
		Timestamp: time.Now(),
		Category:  CategoryEnvelope,
		Operation: "sign",
		KeyID:     []byte{0xde, 0xad},
	})

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if logEntry["level"] != "DEBUG" {
		t.Errorf("level: got %v, want %q", logEntry["level"], "DEBUG")
	}
	if logEntry["category"] != "ENVELOPE" {
		t.Errorf("category: got %v, want %q", logEntry["category"], "ENVELOPE")
	}
	if logEntry["operation"] != "sign" {
		t.Errorf("operation: got %v, want %q", logEntry["operation"], "sign")
	}
	if logEntry["key_id"] != "dead" {
		t.Errorf("key_id: got %v, want %q", logEntry["key_id"], "dead")
	}
	if _, ok := logEntry["code"]; ok {
		t.Error("code should be absent on success")
	}
}

func TestSlogAdapterLogsFailureAtWarn(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{
		Category:  CategoryAdmission,
		Operation: "validate",
		Outcome:   OutcomeFailure,
		Code:      errcode.InvalidArgs,
		JoinerID:  "0011223344556677",
		Detail:    "eui64 not set",
	})

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if logEntry["level"] != "WARN" {
		t.Errorf("level: got %v, want %q", logEntry["level"], "WARN")
	}
	if logEntry["code"] != "INVALID_ARGS" {
		t.Errorf("code: got %v, want %q", logEntry["code"], "INVALID_ARGS")
	}
	if logEntry["joiner_id"] != "0011223344556677" {
		t.Errorf("joiner_id: got %v, want %q", logEntry["joiner_id"], "0011223344556677")
	}
	if logEntry["detail"] != "eui64 not set" {
		t.Errorf("detail: got %v, want %q", logEntry["detail"], "eui64 not set")
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(Event{Category: CategoryKey, Operation: "encode"})
	if buf.Len() != 0 {
		t.Errorf("debug event should be filtered, got %q", buf.String())
	}

	adapter.Log(Event{Category: CategoryKey, Operation: "encode", Outcome: OutcomeFailure, Code: errcode.UnsupportedKey})
	if !strings.Contains(buf.String(), "UNSUPPORTED_KEY") {
		t.Errorf("output = %q, want it to contain UNSUPPORTED_KEY", buf.String())
	}
}
