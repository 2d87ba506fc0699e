package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLogLevels(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Info("started", map[string]any{"port": 4001})
	Error("failed", errors.New("boom"), nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if first["level"] != "info" || first["msg"] != "started" || first["port"] != float64(4001) {
		t.Fatalf("unexpected info entry %v", first)
	}
	if second["level"] != "error" || second["error"] != "boom" {
		t.Fatalf("unexpected error entry %v", second)
	}
}

func TestSetupTracingNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "crm-auth-service", "test", "")
	if err != nil {
		t.Fatalf("SetupTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
