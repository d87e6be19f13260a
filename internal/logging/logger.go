package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// DefaultBufferSize is the number of log entries kept for /api/logs.
const DefaultBufferSize = 1000

// Logger is the subset of *slog.Logger that components depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level      string            `toml:"level"`
	Format     string            `toml:"format"`
	Modules    map[string]string `toml:"modules"`
	BufferSize int               `toml:"buffer_size"`
}

type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// registry holds every module logger and the sinks they share.
type registry struct {
	mu      sync.RWMutex
	cfg     Config
	ready   bool
	root    slog.LevelVar
	modules map[string]moduleLogger
	buffer  *RingBuffer[LogEntry]
	onEntry LogCallback
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{modules: make(map[string]moduleLogger)}
}

// levelFor returns the override for module, or fallback. Callers hold mu.
func (r *registry) levelFor(module string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(r.cfg.Modules[module]); ok {
		return l
	}
	return fallback
}

// sinks returns the buffer and callback that BufferHandler writes to.
func (r *registry) sinks() (*RingBuffer[LogEntry], LogCallback) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffer, r.onEntry
}

// build creates the logger for module. An existing lv is reused so loggers
// handed out earlier follow later level changes.
func (r *registry) build(module string, lv *slog.LevelVar, level slog.Level) moduleLogger {
	if lv == nil {
		lv = &slog.LevelVar{}
	}
	lv.Set(level)
	return moduleLogger{
		logger: slog.New(createHandler(r.cfg.Format, lv)).With("module", module),
		level:  lv,
	}
}

// Initialize sets up the logging system. Loggers handed out earlier keep
// working and pick up the configured levels.
func Initialize(config Config) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.cfg = config
	reg.ready = true

	size := config.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	reg.buffer = NewRingBuffer[LogEntry](size)

	root, ok := parseLevel(config.Level)
	if !ok {
		root = slog.LevelInfo
	}
	reg.root.Set(root)

	// Rebuild so earlier loggers switch to the configured format.
	for name, m := range reg.modules {
		reg.modules[name] = reg.build(name, m.level, reg.levelFor(name, root))
	}

	slog.SetDefault(slog.New(createHandler(config.Format, &reg.root)))
}

// GetBuffer returns the log ring buffer for reading historical logs.
// Nil before Initialize.
func GetBuffer() *RingBuffer[LogEntry] {
	buffer, _ := reg.sinks()
	return buffer
}

// SetLogCallback registers a function that receives every new log entry.
func SetLogCallback(callback LogCallback) {
	reg.mu.Lock()
	reg.onEntry = callback
	reg.mu.Unlock()
}

// SetLevel changes the level of one module at runtime. An empty module
// changes the global level and every module without an override.
func SetLevel(module, level string) error {
	parsed, ok := parseLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if module == "" {
		reg.cfg.Level = level
		reg.root.Set(parsed)
		for name, m := range reg.modules {
			m.level.Set(reg.levelFor(name, parsed))
		}
		return nil
	}

	if reg.cfg.Modules == nil {
		reg.cfg.Modules = make(map[string]string)
	}
	reg.cfg.Modules[module] = level
	if m, ok := reg.modules[module]; ok {
		m.level.Set(parsed)
	}
	return nil
}

// Levels returns the current level of every module logger.
func Levels() map[string]string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	levels := make(map[string]string, len(reg.modules))
	for name, m := range reg.modules {
		levels[name] = levelToString(m.level.Level())
	}
	return levels
}

// GetLogger returns the logger for module, creating it on first use.
// Before Initialize new loggers write text at info level.
func GetLogger(module string) *slog.Logger {
	reg.mu.RLock()
	m, ok := reg.modules[module]
	reg.mu.RUnlock()
	if ok {
		return m.logger
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if m, ok := reg.modules[module]; ok {
		return m.logger
	}

	level := slog.LevelInfo
	if reg.ready {
		level = reg.levelFor(module, reg.root.Level())
	}
	m = reg.build(module, nil, level)
	reg.modules[module] = m
	return m.logger
}

// createHandler fans records out to stdout (when attached), the journal
// (when present) and the ring buffer.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	handlers := make([]slog.Handler, 0, 3)
	if stdoutWritable() {
		if format == "json" {
			handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
		}
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(level))
	}
	handlers = append(handlers, NewBufferHandler(level))

	return newFanout(handlers...)
}

// stdoutWritable reports whether stdout is a terminal, pipe, socket or file.
func stdoutWritable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	if mode.IsRegular() {
		return true
	}
	return mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
