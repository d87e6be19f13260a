package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// SyslogIdentifier tags every journal entry, for journalctl -t.
const SyslogIdentifier = "gethkeeper"

// JournalHandler is a slog.Handler that sends records to the systemd journal.
// Attributes become journal fields, so `journalctl RUN_ID=...` finds every
// line of one node run.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string // joined group names, "" or "A_B_"
}

// NewJournalHandler creates a new journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the record to the journal.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := levelToPriority(r.Level)

	fields := map[string]string{
		"PRIORITY":          strconv.Itoa(int(priority)),
		"SYSLOG_IDENTIFIER": SyslogIdentifier,
	}
	for _, attr := range h.attrs {
		putField(fields, "", attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		putField(fields, h.prefix, attr)
		return true
	})

	if err := journal.Send(r.Message, priority, fields); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send to journal: %v\n", err)
		return err
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	grouped := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	grouped = append(grouped, h.attrs...)
	for _, a := range attrs {
		// The group prefix in effect now applies, not the one at Handle time.
		a.Key = h.prefix + a.Key
		grouped = append(grouped, a)
	}
	return &JournalHandler{level: h.level, attrs: grouped, prefix: h.prefix}
}

// WithGroup returns a new handler with a group prefix.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &JournalHandler{level: h.level, attrs: h.attrs, prefix: h.prefix + name + "_"}
}

func levelToPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// putField stores attr under its journal field name. Groups flatten into
// PREFIX_KEY names.
func putField(fields map[string]string, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix += attr.Key + "_"
		}
		for _, a := range attr.Value.Group() {
			putField(fields, groupPrefix, a)
		}
		return
	}

	name := journalFieldName(prefix + attr.Key)
	if name == "" {
		return
	}

	v := attr.Value
	switch v.Kind() {
	case slog.KindInt64:
		fields[name] = strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		fields[name] = strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		fields[name] = strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		fields[name] = strconv.FormatBool(v.Bool())
	case slog.KindTime:
		fields[name] = v.Time().Format(time.RFC3339Nano)
	default:
		fields[name] = v.String()
	}
}

// journalFieldName maps an attribute key to a valid journal field name:
// upper case letters, digits and underscores, not starting with an
// underscore or digit. Returns "" when nothing usable is left.
func journalFieldName(key string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(key) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), "_0123456789")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
