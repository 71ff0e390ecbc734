// Package logging builds the process logger. Components take a *log.Logger
// and derive their own prefix from it with For.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Mschirtzinger/tasksync/internal/config"
)

// Logger is the process log sink plus its optional rotating file.
type Logger struct {
	*log.Logger
	file    *lumberjack.Logger
	verbose bool
}

// New returns a logger writing to stderr and, when cfg.File is set, to a
// size-rotated log file.
func New(cfg config.LogConfig) *Logger {
	return newWithWriter(os.Stderr, cfg)
}

func newWithWriter(w io.Writer, cfg config.LogConfig) *Logger {
	l := &Logger{verbose: cfg.Verbose}
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = io.MultiWriter(w, l.file)
	}
	l.Logger = log.New(w, "", log.LstdFlags)
	return l
}

// For returns a logger for one component, e.g. For("sync") logs "[sync] ...".
func (l *Logger) For(component string) *log.Logger {
	return log.New(l.Writer(), "["+component+"] ", l.Flags())
}

// Debugf logs only when verbose logging is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if l.verbose {
		l.Printf(format, args...)
	}
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything, for tests.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// OrDefault returns l, or a stderr logger with the component prefix when l
// is nil.
func OrDefault(l *log.Logger, component string) *log.Logger {
	if l != nil {
		return l
	}
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}
