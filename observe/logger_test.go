package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %v\n%s", err, line)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_WithCallFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).
		WithCall(CallMeta{Backend: "hr", Tool: "list_employees", Kind: "list", Subject: "u-1"})

	logger.Info(context.Background(), "done", F("duration_ms", 12.5))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	want := map[string]any{
		"backend":     "hr",
		"tool":        "list_employees",
		"tool_kind":   "list",
		"subject":     "u-1",
		"duration_ms": 12.5,
		"level":       "info",
		"msg":         "done",
	}
	for k, v := range want {
		if lines[0][k] != v {
			t.Errorf("%s = %v, want %v", k, lines[0][k], v)
		}
	}
	if _, err := time.Parse(time.RFC3339Nano, lines[0]["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf)

	logger.Info(context.Background(), "call",
		F("arguments", map[string]any{"ssn": "123-45-6789"}),
		F("token", "eyJhbGciOi"),
		F("authorization", "Bearer abc"),
		F("backend", "hr"),
	)

	out := buf.String()
	for _, leaked := range []string{"123-45-6789", "eyJhbGciOi", "Bearer abc"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log leaked %q: %s", leaked, out)
		}
	}
	line := decodeLines(t, &buf)[0]
	if line["backend"] != "hr" {
		t.Errorf("backend = %v, want hr", line["backend"])
	}
	if line["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", line["token"])
	}
}

func TestLogger_WithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLoggerWithWriter("info", &buf)
	child := parent.With(F("request_id", "r-1"))

	child.Info(context.Background(), "child")
	parent.Info(context.Background(), "parent")

	lines := decodeLines(t, &buf)
	if lines[0]["request_id"] != "r-1" {
		t.Errorf("child request_id = %v", lines[0]["request_id"])
	}
	if _, ok := lines[1]["request_id"]; ok {
		t.Error("parent logger picked up child field")
	}
}

func TestLogger_ErrorValuesSerialized(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Error(context.Background(), "failed", F("error", errors.New("dial tcp: refused")))

	if got := decodeLines(t, &buf)[0]["error"]; got != "dial tcp: refused" {
		t.Errorf("error = %v", got)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"debug", "info", "warn", "error"}},
		{"info", []string{"info", "warn", "error"}},
		{"warn", []string{"warn", "error"}},
		{"error", []string{"error"}},
		{"bogus", []string{"info", "warn", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLoggerWithWriter(tt.level, &buf)
			ctx := context.Background()
			l.Debug(ctx, "m")
			l.Info(ctx, "m")
			l.Warn(ctx, "m")
			l.Error(ctx, "m")

			lines := decodeLines(t, &buf)
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines, want %d", len(lines), len(tt.want))
			}
			for i, w := range tt.want {
				if lines[i]["level"] != w {
					t.Errorf("line %d level = %v, want %v", i, lines[i]["level"], w)
				}
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Info(context.Background(), "ignored")
	if l.With(F("a", 1)) == nil || l.WithCall(CallMeta{}) == nil {
		t.Error("NopLogger derived loggers must not be nil")
	}
}
