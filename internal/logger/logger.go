// Package logger provides named loggers that share a single process-wide handler.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cenkalti/log"
)

var (
	handlerM sync.RWMutex
	handler  log.Handler
)

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
}

// SetHandler changes the global logging handler.
// Loggers created before the call keep writing to the old handler.
func SetHandler(h log.Handler) {
	h.SetFormatter(logFormatter{})
	handlerM.Lock()
	handler = h
	handlerM.Unlock()
}

// SetOutput replaces the global handler with one that writes to w.
func SetOutput(w io.Writer) {
	h := log.NewWriterHandler(w)
	handlerM.RLock()
	h.SetLevel(currentLevel)
	handlerM.RUnlock()
	SetHandler(h)
}

var currentLevel = log.INFO

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handlerM.Lock()
	currentLevel = l
	handler.SetLevel(l)
	handlerM.Unlock()
}

// ParseLevel converts a level name from config files and command line flags.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG, nil
	case "", "info":
		return log.INFO, nil
	case "notice":
		return log.NOTICE, nil
	case "warning", "warn":
		return log.WARNING, nil
	case "error":
		return log.ERROR, nil
	case "critical":
		return log.CRITICAL, nil
	}
	return log.INFO, fmt.Errorf("unknown log level: %q", s)
}

// Logger is for logging messages from inside of the program in various logging levels.
type Logger log.Logger

// New returns a new Logger with a name.
// Log messages are prefixed with this name by the default Handler.
func New(name string) Logger {
	logger := log.NewLogger(name)
	logger.SetLevel(log.DEBUG) // forward all messages to handler
	handlerM.RLock()
	logger.SetHandler(handler)
	handlerM.RUnlock()
	return logger
}

type logFormatter struct{}

// Format outputs a message like "2014-02-28 18:15:57 [example] INFO     somethinfig happened"
func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %-8s %s",
		fmt.Sprint(rec.Time)[:19],
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
