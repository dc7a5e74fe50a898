package obs

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu           sync.RWMutex
	base         = newLogger(os.Stdout)
	debugEnabled atomic.Bool
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// EnableDebug globally enables debug logs.
func EnableDebug(v bool) { debugEnabled.Store(v) }

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	base = newLogger(w)
	mu.Unlock()
}

type Fields map[string]any

func logWith(level zerolog.Level, msg string, f Fields) {
	mu.RLock()
	l := base
	mu.RUnlock()
	ev := l.WithLevel(level)
	if len(f) > 0 {
		ev = ev.Fields(map[string]any(f))
	}
	ev.Msg(msg)
}

func Info(msg string, f Fields)  { logWith(zerolog.InfoLevel, msg, f) }
func Error(msg string, f Fields) { logWith(zerolog.ErrorLevel, msg, f) }
func Debug(msg string, f Fields) {
	if debugEnabled.Load() {
		logWith(zerolog.DebugLevel, msg, f)
	}
}
