package logutil

import (
    "os"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

// Logger is the printf-style logging contract used across the module.
// *zap.SugaredLogger satisfies it through the adapter returned by New.
type Logger interface {
    Debugf(format string, args ...any)
    Infof(format string, args ...any)
    Warnf(format string, args ...any)
    Errorf(format string, args ...any)
    // Named returns a child logger scoped to the given component name.
    Named(name string) Logger
}

// Config selects level and encoding. JSON may also be forced with SU_LOG_JSON=1
// or SU_LOG_FORMAT=json.
type Config struct {
    Level string `json:"level"`
    JSON  bool   `json:"json"`
}

type sugared struct{ s *zap.SugaredLogger }

func (l sugared) Debugf(f string, args ...any) { l.s.Debugf(f, args...) }
func (l sugared) Infof(f string, args ...any)  { l.s.Infof(f, args...) }
func (l sugared) Warnf(f string, args ...any)  { l.s.Warnf(f, args...) }
func (l sugared) Errorf(f string, args ...any) { l.s.Errorf(f, args...) }
func (l sugared) Named(name string) Logger     { return sugared{s: l.s.Named(name)} }

// New builds a zap-backed Logger writing to stderr.
func New(cfg Config) Logger {
    if os.Getenv("SU_LOG_JSON") == "1" || os.Getenv("SU_LOG_FORMAT") == "json" {
        cfg.JSON = true
    }
    enc := zapcore.EncoderConfig{
        TimeKey:        "ts",
        LevelKey:       "level",
        NameKey:        "logger",
        MessageKey:     "msg",
        StacktraceKey:  "stacktrace",
        LineEnding:     zapcore.DefaultLineEnding,
        EncodeLevel:    zapcore.LowercaseLevelEncoder,
        EncodeTime:     zapcore.ISO8601TimeEncoder,
        EncodeDuration: zapcore.StringDurationEncoder,
        EncodeName:     zapcore.FullNameEncoder,
    }
    var encoder zapcore.Encoder
    if cfg.JSON {
        encoder = zapcore.NewJSONEncoder(enc)
    } else {
        enc.EncodeLevel = zapcore.CapitalLevelEncoder
        encoder = zapcore.NewConsoleEncoder(enc)
    }
    core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), parseLevel(cfg.Level))
    return sugared{s: zap.New(core).Sugar()}
}

// FromZap adapts an existing zap logger.
func FromZap(l *zap.Logger) Logger {
    if l == nil { return Nop() }
    return sugared{s: l.Sugar()}
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return sugared{s: zap.NewNop().Sugar()} }

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
    if l == nil { return Nop() }
    return l
}

func parseLevel(s string) zapcore.Level {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return zapcore.DebugLevel
    case "warn", "warning":
        return zapcore.WarnLevel
    case "error":
        return zapcore.ErrorLevel
    default:
        return zapcore.InfoLevel
    }
}
