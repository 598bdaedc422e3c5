package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap's sugared logger
type Logger struct {
	*zap.SugaredLogger
}

// New builds a logger writing to stdout and to any extra writers (e.g. the
// in-memory log buffer served by the API)
func New(debug bool, extra ...io.Writer) *Logger {
	return NewWithSink(debug, os.Stdout, extra...)
}

// NewWithSink is New with the primary output chosen by the caller. The CLI
// logs to stderr so stdout carries only the transcript.
func NewWithSink(debug bool, out io.Writer, extra ...io.Writer) *Logger {
	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	level := zap.InfoLevel

	if debug {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.TimeKey = "time"
		encCfg.LevelKey = "level"
		encCfg.MessageKey = "msg"
		encCfg.CallerKey = "caller"
		enc = zapcore.NewConsoleEncoder(encCfg)
		level = zap.DebugLevel
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "timestamp"
		encCfg.LevelKey = "level"
		encCfg.MessageKey = "msg"
		encCfg.CallerKey = "caller"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	syncers := []zapcore.WriteSyncer{zapcore.Lock(zapcore.AddSync(out))}
	for _, w := range extra {
		syncers = append(syncers, zapcore.AddSync(w))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(syncers...), level)
	return &Logger{zap.New(core, zap.AddCaller()).Sugar()}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// Named returns a child logger scoped to a component
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.SugaredLogger.Named(name)}
}
