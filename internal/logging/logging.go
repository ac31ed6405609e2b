package logging

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured kv logger used across the service.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
}

// Entry is a log line kept in the in-memory ring.
type Entry struct {
	Time   time.Time      `json:"time"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

var (
	bufMu   sync.RWMutex
	recent  = make([]*Entry, 1000)
	nextIdx = 0
	// global log level (debug|info|warn|error)
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// ZapLogger adapts a zap SugaredLogger to Logger.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// New builds the service logger. JSON output unless jsonOut is false.
func New(env, lvl string, jsonOut bool) *ZapLogger {
	SetLevel(lvl)
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	var enc zapcore.Encoder
	if jsonOut {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level),
		&ringCore{LevelEnabler: level},
	)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).With(zap.String("env", env))
	return &ZapLogger{s: z.Sugar()}
}

// Nop returns a logger that discards everything; handy in tests.
func Nop() *ZapLogger { return &ZapLogger{s: zap.NewNop().Sugar()} }

// Zap exposes the underlying zap logger for middleware that needs it.
func (l *ZapLogger) Zap() *zap.Logger { return l.s.Desugar().WithOptions(zap.AddCallerSkip(-1)) }

// With returns a child logger carrying kv on every line.
func (l *ZapLogger) With(kv ...any) *ZapLogger { return &ZapLogger{s: l.s.With(kv...)} }

func (l *ZapLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *ZapLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *ZapLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *ZapLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *ZapLogger) Fatal(msg string, kv ...any) { l.s.Fatalw(msg, kv...) }

// Level control
func SetLevel(lvl string) {
	l, err := zapcore.ParseLevel(lvl)
	if err != nil {
		l = zapcore.InfoLevel
	}
	level.SetLevel(l)
}

func GetLevel() string { return level.Level().String() }

// ringCore mirrors every enabled entry into the recent buffer.
type ringCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
}

func (c *ringCore) With(fs []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fs))
	merged = append(merged, c.fields...)
	merged = append(merged, fs...)
	return &ringCore{LevelEnabler: c.LevelEnabler, fields: merged}
}

func (c *ringCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *ringCore) Write(e zapcore.Entry, fs []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fs {
		f.AddTo(enc)
	}
	var fields map[string]any
	if len(enc.Fields) > 0 {
		fields = enc.Fields
	}
	appendBuf(&Entry{Time: e.Time, Level: e.Level.String(), Msg: e.Message, Fields: fields})
	return nil
}

func (c *ringCore) Sync() error { return nil }

func appendBuf(e *Entry) {
	bufMu.Lock()
	defer bufMu.Unlock()
	recent[nextIdx] = e
	nextIdx = (nextIdx + 1) % len(recent)
}

// Recent returns up to n most recent log entries (newest-first).
func Recent(n int) []*Entry {
	bufMu.RLock()
	defer bufMu.RUnlock()
	if n <= 0 || n > len(recent) {
		n = len(recent)
	}
	out := make([]*Entry, 0, n)
	i := (nextIdx - 1 + len(recent)) % len(recent)
	for c := 0; c < len(recent) && len(out) < n; c++ {
		if recent[i] != nil {
			out = append(out, recent[i])
		}
		i = (i - 1 + len(recent)) % len(recent)
	}
	return out
}
