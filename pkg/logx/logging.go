// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the code can log through a small, stable API
// while sink wiring (console, file, levels) stays swappable at runtime.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ---- Config ----

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ---- Logger API ----

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Field mutates a zerolog event.
//
// This intentionally mirrors the ergonomics of slog.Attr without depending
// on slog. Fields are applied in-order; later fields win on key collisions.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger is a lightweight structured logger.
//
// - If created from Service, it stays "live" across Service.Apply() calls.
// - With() returns a derived logger with additional fixed fields.
// - Zero value is a safe no-op logger.
type Logger struct {
	svc     *Service
	base    zerolog.Logger
	hasBase bool

	fields []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	return Logger{base: zerolog.Nop(), hasBase: true}
}

// NewConsole creates a standalone console logger (no Service, no fanout).
// Useful for bootstrapping components before config is loaded.
func NewConsole(level string) Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	cw := newConsoleWriter(os.Stdout)
	zl := zerolog.New(cw).Level(parseLevel(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{base: zl, hasBase: true}
}

func (l Logger) IsZero() bool { return l.svc == nil && !l.hasBase && len(l.fields) == 0 }

func (l Logger) root() zerolog.Logger {
	if l.svc != nil {
		return l.svc.current()
	}
	if l.hasBase {
		return l.base
	}
	return zerolog.Nop()
}

// Enabled reports whether the given level would be logged.
func (l Logger) Enabled(level Level) bool {
	return level >= l.root().GetLevel()
}

func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	cp := l
	cp.fields = append(append([]Field(nil), l.fields...), fields...)
	return cp
}

func (l Logger) Trace(msg string, fields ...Field) { l.log(zerolog.TraceLevel, msg, fields...) }
func (l Logger) Debug(msg string, fields ...Field) { l.log(zerolog.DebugLevel, msg, fields...) }
func (l Logger) Info(msg string, fields ...Field)  { l.log(zerolog.InfoLevel, msg, fields...) }
func (l Logger) Warn(msg string, fields ...Field)  { l.log(zerolog.WarnLevel, msg, fields...) }
func (l Logger) Error(msg string, fields ...Field) { l.log(zerolog.ErrorLevel, msg, fields...) }

func (l Logger) log(level zerolog.Level, msg string, fields ...Field) {
	zl := l.root()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}

	// Caller: keep it short (file:line), avoid noisy function names and full paths.
	if caller := shortCaller(3); caller != "" {
		e.Str(zerolog.CallerFieldName, caller)
	}

	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}

	e.Msg(msg)
}

func shortCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok || file == "" {
		return ""
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// ---- Service (dynamic config + sinks) ----

type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // stores zerolog.Logger

	file *os.File
}

// New creates the logging service, applies the initial config immediately,
// and returns both the Service and a root Logger.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{cfg: cfg}

	// Safe bootstrap root.
	boot := newConsoleRoot(parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(boot)

	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	v := s.root.Load()
	if v == nil {
		return zerolog.Nop()
	}
	zl, ok := v.(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()

	if f != nil {
		_ = f.Close()
	}
	return nil
}

// Apply swaps logger outputs/levels at runtime.
// It is safe to call concurrently.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg

	// Close previous file (if any).
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	lvl := parseLevel(cfg.Level, zerolog.InfoLevel)

	writers := make([]io.Writer, 0, 2)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./tickq.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	mw := zerolog.MultiLevelWriter(writers...)
	zl := zerolog.New(mw).Level(lvl).With().Timestamp().Logger()
	s.root.Store(zl)
}

func newConsoleRoot(lvl zerolog.Level) zerolog.Logger {
	cw := newConsoleWriter(os.Stdout)
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}

func newConsoleWriter(w io.Writer) io.Writer {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	// Keep caller short and stable.
	cw.FormatCaller = func(i interface{}) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
