package logging

import (
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the logging contract shared by the service packages.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithFields(fields map[string]any) Logger
}

// New builds a glog-backed Logger. Format is "json" or "console".
func New(level, format string, out io.Writer) Logger {
	if out == nil {
		out = os.Stdout
	}
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	level = strings.ToLower(level)

	var base glog.Logger
	if strings.EqualFold(format, "console") {
		base = glog.NewLogger(glog.WithWriter(out), glog.WithLevel(level))
	} else {
		base = glog.NewLogger(glog.WithWriter(out), glog.WithLoggerTypeJSON(), glog.WithLevel(level))
	}
	return &glogLogger{logger: base}
}

type glogLogger struct {
	logger glog.Logger
}

func (l *glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *glogLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return &glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)              {}
func (nopLogger) Info(string, ...any)               {}
func (nopLogger) Warn(string, ...any)               {}
func (nopLogger) Error(string, ...any)              {}
func (n nopLogger) WithFields(map[string]any) Logger { return n }

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
