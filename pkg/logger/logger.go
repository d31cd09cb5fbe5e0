// Package logger builds the process slog.Logger and bridges whatsmeow's logger into it.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	charmLog "github.com/charmbracelet/log"
	waLog "go.mau.fi/whatsmeow/util/log"

	"menubot/pkg/config"
)

const (
	envFormat         = "MENUBOT_LOG_FORMAT"
	envLevel          = "MENUBOT_LOG_LEVEL"
	envAddSource      = "MENUBOT_LOG_ADD_SOURCE"
	envWhatsmeowLevel = "MENUBOT_LOG_WHATSMEOW_LEVEL"
)

const (
	formatText = "text"
	formatJSON = "json"

	componentWhatsmeow = "whatsmeow"
)

// LogEntry is one line of JSON output. The keys every message log carries are lifted out of
// Fields so log pipelines can index them directly.
type LogEntry struct {
	Level     string         `json:"level"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component,omitempty"`
	Module    string         `json:"module,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	SenderID  string         `json:"sender_id,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

type options struct {
	format         string
	level          slog.Level
	whatsmeowLevel slog.Level
	addSource      bool
}

// New builds the logger described by cfg, writing to stderr. MENUBOT_LOG_* variables win over
// the file settings.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	var base slog.Handler
	switch opts.format {
	case formatJSON:
		base = &jsonHandler{
			level:     opts.level,
			addSource: opts.addSource,
			writer:    writer,
			mu:        &sync.Mutex{},
		}
	default:
		base = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(opts.level),
			ReportTimestamp: true,
			ReportCaller:    opts.addSource,
			Formatter:       charmLog.TextFormatter,
		})
	}

	gate := &componentGate{
		next:   base,
		minima: map[string]slog.Level{componentWhatsmeow: opts.whatsmeowLevel},
	}
	return slog.New(gate), nil
}

func resolveOptions(cfg config.LoggingConfig) (options, error) {
	format := strings.ToLower(envOr(envFormat, cfg.Format))
	if format == "" {
		format = formatText
	}
	if format != formatJSON && format != formatText {
		return options{}, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevel(envOr(envLevel, cfg.Level), slog.LevelInfo)
	if err != nil {
		return options{}, err
	}

	waLevel, err := parseLevel(envOr(envWhatsmeowLevel, cfg.WhatsmeowLevel), slog.LevelWarn)
	if err != nil {
		return options{}, fmt.Errorf("whatsmeow: %w", err)
	}

	addSource := cfg.AddSource
	if value := strings.TrimSpace(os.Getenv(envAddSource)); value != "" {
		addSource = parseBool(value)
	}

	return options{format: format, level: level, whatsmeowLevel: waLevel, addSource: addSource}, nil
}

func envOr(key string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(fallback)
}

func parseLevel(input string, fallback slog.Level) (slog.Level, error) {
	switch strings.ToLower(input) {
	case "":
		return fallback, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", input)
	}
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// componentGate drops records from components that carry their own minimum level.
type componentGate struct {
	next      slog.Handler
	minima    map[string]slog.Level
	component string
}

func (g *componentGate) Enabled(ctx context.Context, level slog.Level) bool {
	if floor, ok := g.minima[g.component]; ok && level < floor {
		return false
	}
	return g.next.Enabled(ctx, level)
}

func (g *componentGate) Handle(ctx context.Context, record slog.Record) error {
	component := g.component
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "component" {
			component = attr.Value.String()
			return false
		}
		return true
	})

	if floor, ok := g.minima[component]; ok && record.Level < floor {
		return nil
	}
	return g.next.Handle(ctx, record)
}

func (g *componentGate) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *g
	next.next = g.next.WithAttrs(attrs)
	for _, attr := range attrs {
		if attr.Key == "component" {
			next.component = attr.Value.String()
		}
	}
	return &next
}

func (g *componentGate) WithGroup(name string) slog.Handler {
	next := *g
	next.next = g.next.WithGroup(name)
	return &next
}

type jsonHandler struct {
	level     slog.Level
	addSource bool
	writer    io.Writer
	attrs     []slog.Attr
	groups    []string
	mu        *sync.Mutex
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: timestamp(record.Time),
		Message:   record.Message,
	}

	fields := make(map[string]any)
	for _, attr := range h.attrs {
		entry.apply(fields, h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		entry.apply(fields, h.groups, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	if h.addSource {
		entry.Caller = callerFromRecord(record)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(append(line, '\n'))
	return err
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// apply stores attr on a promoted field when it is an ungrouped routing key, else in fields.
func (e *LogEntry) apply(fields map[string]any, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if len(groups) == 0 && attr.Value.Kind() == slog.KindString {
		if target := e.promoted(attr.Key); target != nil {
			*target = attr.Value.String()
			return
		}
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(append(append([]string{}, groups...), attr.Key), ".")
	}
	fields[key] = attrValue(attr.Value)
}

func (e *LogEntry) promoted(key string) *string {
	switch key {
	case "component":
		return &e.Component
	case "module":
		return &e.Module
	case "channel":
		return &e.Channel
	case "session_id":
		return &e.SessionID
	case "sender_id":
		return &e.SenderID
	default:
		return nil
	}
}

func callerFromRecord(record slog.Record) string {
	if record.PC == 0 {
		return ""
	}

	frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
	if frame.File == "" {
		return ""
	}

	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

func attrValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		return value.Float64()
	case slog.KindBool:
		return value.Bool()
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := value.Group()
		result := make(map[string]any, len(group))
		for _, item := range group {
			result[item.Key] = attrValue(item.Value.Resolve())
		}
		return result
	case slog.KindAny:
		return value.Any()
	default:
		return value.String()
	}
}

// waLogger forwards whatsmeow's printf-style logging into slog under component=whatsmeow, so
// the component gate applies logging.whatsmeow_level to it.
type waLogger struct {
	base   *slog.Logger
	log    *slog.Logger
	module string
}

// WhatsApp adapts log for the whatsmeow client and store.
func WhatsApp(log *slog.Logger, module string) waLog.Logger {
	if log == nil {
		log = slog.Default()
	}
	base := log.With("component", componentWhatsmeow)
	return &waLogger{base: base, log: base.With("module", module), module: module}
}

func (l *waLogger) Errorf(msg string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Warnf(msg string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Infof(msg string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Debugf(msg string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(msg, args...))
}

func (l *waLogger) Sub(module string) waLog.Logger {
	name := l.module + "/" + module
	return &waLogger{base: l.base, log: l.base.With("module", name), module: name}
}
