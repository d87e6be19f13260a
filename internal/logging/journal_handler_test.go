package logging

import (
	"context"
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestJournalFieldName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"pid", "PID"},
		{"run_id", "RUN_ID"},
		{"run.error", "RUN_ERROR"},
		{"_internal", "INTERNAL"},
		{"2xx", "XX"},
		{"exit-code", "EXIT_CODE"},
		{"...", ""},
	}

	for _, tt := range tests {
		if got := journalFieldName(tt.key); got != tt.want {
			t.Errorf("journalFieldName(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestPutField(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fields := map[string]string{}

	for _, attr := range []slog.Attr{
		slog.Int("pid", 42),
		slog.Bool("ready", true),
		slog.Float64("seconds", 1.5),
		slog.Duration("timeout", 30*time.Second),
		slog.Time("started", at),
		slog.Group("exit", slog.Int("code", 2), slog.String("signal", "interrupt")),
		{},
	} {
		putField(fields, "node_", attr)
	}

	want := map[string]string{
		"NODE_PID":         "42",
		"NODE_READY":       "true",
		"NODE_SECONDS":     "1.5",
		"NODE_TIMEOUT":     "30s",
		"NODE_STARTED":     "2024-01-02T03:04:05Z",
		"NODE_EXIT_CODE":   "2",
		"NODE_EXIT_SIGNAL": "interrupt",
	}
	if !reflect.DeepEqual(fields, want) {
		t.Errorf("fields = %v, want %v", fields, want)
	}
}

func TestJournalHandlerGroups(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("module", "process")}).
		WithGroup("run").
		WithAttrs([]slog.Attr{slog.String("id", "abc")}).(*JournalHandler)

	fields := map[string]string{}
	for _, attr := range h.attrs {
		putField(fields, "", attr)
	}
	putField(fields, h.prefix, slog.Int("pid", 7))

	want := map[string]string{"MODULE": "process", "RUN_ID": "abc", "RUN_PID": "7"}
	if !reflect.DeepEqual(fields, want) {
		t.Errorf("fields = %v, want %v", fields, want)
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at info level")
	}
}
