package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetupRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(&buf, "escrowd", "test", slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("order created", "order_id", 7)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %s in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["message"] != "order created" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

func TestMaskField(t *testing.T) {
	if got := MaskField("authorization", "Bearer abc"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %v", got)
	}
	if got := MaskField("order_id", "12"); got.Value.String() != "12" {
		t.Fatalf("allowlisted key should pass through, got %v", got)
	}
	if got := MaskBearer("Bearer abc.def"); got != "Bearer "+RedactedValue {
		t.Fatalf("unexpected bearer mask %q", got)
	}
	if got := MaskBearer(""); got != "" {
		t.Fatalf("empty header should stay empty, got %q", got)
	}
}
