package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func resetLogging() {
	reg = newRegistry()
}

func TestModuleLevelOverride(t *testing.T) {
	resetLogging()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"process": "debug",
			"api":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"process", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()

			gotDebug := handler.Enabled(context.Background(), slog.LevelDebug)
			gotInfo := handler.Enabled(context.Background(), slog.LevelInfo)
			gotWarn := handler.Enabled(context.Background(), slog.LevelWarn)

			if gotDebug != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, gotDebug, tt.wantDebug)
			}
			if gotInfo != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, gotInfo, tt.wantInfo)
			}
			if gotWarn != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, gotWarn, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetLogging()

	handlerBefore := GetLogger("process").Handler()
	if handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger created before Initialize should NOT have debug enabled")
	}

	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"process": "debug"},
	})

	// Initialize swaps the handler but keeps the module's LevelVar.
	if !GetLogger("process").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Logger after Initialize should have debug enabled")
	}
	if !handlerBefore.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Cached logger should have debug enabled after Initialize updates LevelVar")
	}
}

func TestSetLevel(t *testing.T) {
	resetLogging()
	Initialize(Config{Level: "info", Format: "text"})

	handler := GetLogger("process").Handler()
	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug enabled before SetLevel")
	}

	if err := SetLevel("process", "debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug not enabled after SetLevel")
	}

	// A global change keeps the module override.
	if err := SetLevel("", "error"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if !handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("module override lost after global change")
	}
	if GetLogger("api").Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("new module should use the global error level")
	}

	if err := SetLevel("process", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}

	want := map[string]string{"process": "debug", "api": "error"}
	if got := Levels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Levels() = %v, want %v", got, want)
	}
}

func TestBufferHandlerCapturesEntries(t *testing.T) {
	resetLogging()
	Initialize(Config{Level: "debug", Format: "text", BufferSize: 2})

	var seen []LogEntry
	SetLogCallback(func(e LogEntry) { seen = append(seen, e) })

	logger := slog.New(NewBufferHandler(slog.LevelDebug)).With("module", "process")
	logger.Info("first")
	logger.WithGroup("run").Warn("second", "pid", 42, "error", errors.New("boom"))
	logger.Debug("third")

	entries := GetBuffer().ReadAll()
	if len(entries) != 2 {
		t.Fatalf("buffer has %d entries, want 2", len(entries))
	}
	second := entries[0]
	if second.Message != "second" || second.Level != "warn" || second.Module != "process" {
		t.Errorf("entry = %+v", second)
	}
	if second.Attributes["run.pid"] != int64(42) {
		t.Errorf("run.pid = %v (%T)", second.Attributes["run.pid"], second.Attributes["run.pid"])
	}
	if second.Attributes["run.error"] != "boom" {
		t.Errorf("run.error = %v", second.Attributes["run.error"])
	}
	if len(seen) != 3 {
		t.Errorf("callback saw %d entries, want 3", len(seen))
	}
}

func TestBufferHandlerGroupScope(t *testing.T) {
	resetLogging()
	Initialize(Config{Level: "info", BufferSize: 4})

	slog.New(NewBufferHandler(slog.LevelInfo)).
		With("module", "node", "a", 1).
		WithGroup("g").
		With("b", 2).
		Info("scoped", "c", 3, slog.Group("exit", "code", 2))

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("buffer has %d entries, want 1", len(entries))
	}
	want := map[string]any{"a": int64(1), "g.b": int64(2), "g.c": int64(3), "g.exit.code": int64(2)}
	if got := entries[0].Attributes; !reflect.DeepEqual(got, want) {
		t.Errorf("attributes = %v, want %v", got, want)
	}
	if entries[0].Module != "node" {
		t.Errorf("module = %q, want node", entries[0].Module)
	}
}

func TestBufferHandlerBeforeInitialize(t *testing.T) {
	resetLogging()
	h := NewBufferHandler(slog.LevelInfo)
	if err := h.Handle(context.Background(), slog.NewRecord(timeZero, slog.LevelInfo, "dropped", 0)); err != nil {
		t.Errorf("Handle() error = %v", err)
	}
	if GetBuffer() != nil {
		t.Error("buffer created without Initialize")
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("journal down") }

func TestFanout(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(newFanout(debugHandler, infoHandler)).With("module", "test")
	logger.Debug("debug only message")
	logger.Info("both")

	output := buf.String()
	if count := strings.Count(output, "debug only message"); count != 1 {
		t.Errorf("Expected 1 debug message, got %d. Output: %s", count, output)
	}
	if count := strings.Count(output, "msg=both"); count != 2 {
		t.Errorf("Expected 2 info messages, got %d. Output: %s", count, output)
	}

	if h := newFanout(infoHandler); h != slog.Handler(infoHandler) {
		t.Error("single handler should not be wrapped")
	}

	buf.Reset()
	f := newFanout(failingHandler{infoHandler}, infoHandler)
	err := f.Handle(context.Background(), slog.NewRecord(timeZero, slog.LevelInfo, "still written", 0))
	if err == nil || !strings.Contains(err.Error(), "journal down") {
		t.Errorf("Handle() error = %v", err)
	}
	if !strings.Contains(buf.String(), "still written") {
		t.Error("healthy handler skipped after a failure")
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseLevel(tt.input)
			if ok == tt.isNil {
				t.Fatalf("parseLevel(%q) ok = %v, want %v", tt.input, ok, !tt.isNil)
			}
			if ok && got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
