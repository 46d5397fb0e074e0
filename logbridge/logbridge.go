// Package logbridge relays slog records to a host message queue.
//
// Each record becomes one queued message whose tag encodes its severity
// as a verbosity level ("v" for errors through "vvvv" for debug), or the
// dedicated "log" tag when output is restricted to the log file. Message
// text is truncated to a configured maximum length.
//
// The bridge is an explicit handle: a session builds one at start, calls
// Configure whenever options change, and stops using it at close. Nothing
// touches the process-wide default logger.
package logbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

// LogFileTag routes a message to the log file only.
const LogFileTag = "log"

// Queue receives bridged messages.
type Queue interface {
	QueueMessage(tag, text string)
}

// QueueFunc adapts a function to Queue.
type QueueFunc func(tag, text string)

func (f QueueFunc) QueueMessage(tag, text string) { f(tag, text) }

// Settings control level filtering, tagging and truncation.
type Settings struct {
	Verbosity  int
	FileOnly   bool
	MaxLength  int
	LoggerName string
}

// LevelForVerbosity maps a host verbosity to the minimum level bridged.
// Verbosity 0 passes everything and leaves filtering to the host, which
// decides by tag; 1 through 4 select error, warn, info and debug.
func LevelForVerbosity(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelDebug
	case verbosity == 1:
		return slog.LevelError
	case verbosity == 2:
		return slog.LevelWarn
	case verbosity == 3:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

// TagForLevel maps a record level to its verbosity tag.
func TagForLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "v"
	case level >= slog.LevelWarn:
		return "vv"
	case level >= slog.LevelInfo:
		return "vvv"
	}
	return "vvvv"
}

// Bridge owns the shared configuration of every handler derived from it.
type Bridge struct {
	mu       sync.RWMutex
	settings Settings
	queue    Queue
}

// New creates a Bridge delivering to queue.
func New(queue Queue, settings Settings) *Bridge {
	b := &Bridge{queue: queue}
	b.Configure(settings)
	return b
}

// Configure replaces the settings. Loggers already handed out pick the
// change up on their next record.
func (b *Bridge) Configure(settings Settings) {
	if settings.MaxLength <= 0 {
		settings.MaxLength = 1000
	}
	b.mu.Lock()
	b.settings = settings
	b.mu.Unlock()
}

// Settings returns the current settings.
func (b *Bridge) Settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Logger returns a logger writing through the bridge.
func (b *Bridge) Logger() *slog.Logger {
	return slog.New(&handler{bridge: b})
}

type handler struct {
	bridge *Bridge
	attrs  []slog.Attr
	group  string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= LevelForVerbosity(h.bridge.Settings().Verbosity)
}

func (h *handler) Handle(_ context.Context, record slog.Record) error {
	settings := h.bridge.Settings()

	var text strings.Builder
	text.WriteString(record.Level.String())
	if settings.LoggerName != "" {
		text.WriteByte(' ')
		text.WriteString(settings.LoggerName)
	}
	text.WriteByte(' ')
	text.WriteString(record.Message)
	for _, attr := range h.attrs {
		writeAttr(&text, h.group, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&text, h.group, attr)
		return true
	})

	tag := TagForLevel(record.Level)
	if settings.FileOnly {
		tag = LogFileTag
	}
	h.bridge.queue.QueueMessage(tag, Truncate(text.String(), settings.MaxLength))
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, attr := range attrs {
		if h.group != "" {
			attr.Key = h.group + "." + attr.Key
		}
		merged = append(merged, attr)
	}
	return &handler{bridge: h.bridge, attrs: merged, group: h.group}
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &handler{bridge: h.bridge, attrs: h.attrs, group: group}
}

func writeAttr(text *strings.Builder, group string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if group != "" && !strings.HasPrefix(key, group+".") {
		key = group + "." + key
	}
	fmt.Fprintf(text, " %s=%v", key, attr.Value.Any())
}

// Truncate shortens s to at most maxLength bytes without splitting a rune.
func Truncate(s string, maxLength int) string {
	if maxLength <= 0 || len(s) <= maxLength {
		return s
	}
	cut := maxLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
