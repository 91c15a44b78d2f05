package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes everything at or above the configured level to stdout and
// errors additionally to the errors file, which the bot can send back on !errors.
type Logger struct {
	z     *zap.SugaredLogger
	errMu sync.Mutex
	errW  io.WriteCloser
}

func New(errorsPath, level string) (*Logger, error) {
	// Clear the errors file on startup
	if err := os.Truncate(errorsPath, 0); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(errorsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(lvl)),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), zap.NewAtomicLevelAt(zapcore.ErrorLevel)),
	)
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &Logger{z: z.Sugar(), errW: f}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{z: l.z.With(kv...), errW: nil}
}

func (l *Logger) Close() error {
	_ = l.z.Sync()
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.errW != nil {
		err := l.errW.Close()
		l.errW = nil
		return err
	}
	return nil
}

func (l *Logger) Debugf(format string, args ...any) {
	l.z.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.z.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.z.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.z.Errorf(format, args...)
}
