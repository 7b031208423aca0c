// Package log provides the structured logger used by every component of the
// coordinator and the participant client.
package log

import (
	"context"
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger logs messages with alternating key/value pairs.
type Logger interface {
	Debugw(msg string, keyvals ...interface{})
	Infow(msg string, keyvals ...interface{})
	Warnw(msg string, keyvals ...interface{})
	Errorw(msg string, keyvals ...interface{})
	// With returns a logger adding keyvals to every statement.
	With(keyvals ...interface{}) Logger
	// Named appends name to the logger name, "coordinator.http" style.
	Named(name string) Logger
}

type logger struct {
	s *zap.SugaredLogger
}

func (l *logger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *logger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *logger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *logger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l *logger) With(kv ...interface{}) Logger { return &logger{l.s.With(kv...)} }
func (l *logger) Named(name string) Logger      { return &logger{l.s.Named(name)} }

const (
	DebugLevel = int(zapcore.DebugLevel)
	InfoLevel  = int(zapcore.InfoLevel)
	WarnLevel  = int(zapcore.WarnLevel)
	ErrorLevel = int(zapcore.ErrorLevel)
)

// ParseLevel maps a textual level ("debug", "info", "warn", "error") to one
// of the level constants. Unknown names fall back to InfoLevel.
func ParseLevel(name string) int {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return InfoLevel
	}
	return int(lvl)
}

// New returns a logger writing statements at or above level to output, or
// to stdout when output is nil.
func New(output io.Writer, level int, isJSON bool) Logger {
	if output == nil {
		output = os.Stdout
	}
	core := zapcore.NewCore(encoder(isJSON), zapcore.Lock(zapcore.AddSync(output)), zapcore.Level(level))
	return &logger{zap.New(core, zap.WithCaller(true)).Sugar()}
}

func encoder(isJSON bool) zapcore.Encoder {
	conf := zap.NewProductionEncoderConfig()
	conf.EncodeTime = zapcore.ISO8601TimeEncoder
	if isJSON {
		conf.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewJSONEncoder(conf)
	}
	conf.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(conf)
}

type holder struct{ Logger }

var std atomic.Value

// SetDefault replaces the logger returned by DefaultLogger. Binaries call it
// once their flags are parsed.
func SetDefault(l Logger) {
	std.Store(holder{l})
}

// DefaultLogger returns the process wide logger, a JSON logger at info
// level on stdout unless SetDefault was called.
func DefaultLogger() Logger {
	if h, ok := std.Load().(holder); ok {
		return h.Logger
	}
	l := New(nil, InfoLevel, true)
	if std.CompareAndSwap(nil, holder{l}) {
		return l
	}
	return std.Load().(holder).Logger
}

type ctxKey struct{}

// ToContext returns a copy of ctx carrying l.
func ToContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContextOrDefault returns the logger set with ToContext, or the default
// logger.
func FromContextOrDefault(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return DefaultLogger()
}
