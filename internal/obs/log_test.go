package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLogLineShape(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Info("listener.bound", Fields{"addr": "0.0.0.0:2002"})
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if m["level"] != "info" || m["msg"] != "listener.bound" || m["addr"] != "0.0.0.0:2002" {
		t.Errorf("unexpected fields: %v", m)
	}
	if _, ok := m["ts"]; !ok {
		t.Error("expected ts field")
	}
}

func TestDebugGate(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer EnableDebug(false)

	Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug line written while disabled: %q", buf.String())
	}
	EnableDebug(true)
	Debug("shown", nil)
	if !strings.Contains(buf.String(), `"shown"`) {
		t.Errorf("expected debug line, got %q", buf.String())
	}
}
