package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"
)

func TestLogRequestEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	LogRequest(map[string]any{"method": "GET", "path": "/healthz", "status": 200})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if entry["method"] != "GET" || entry["path"] != "/healthz" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestLogErrorCarriesCause(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	LogError("store unavailable", errors.New("dial tcp: refused"), map[string]any{"path": "/v1/auth/login"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if entry["level"] != "error" || entry["msg"] != "store unavailable" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["error"] != "dial tcp: refused" || entry["path"] != "/v1/auth/login" {
		t.Fatalf("cause lost: %v", entry)
	}
}
