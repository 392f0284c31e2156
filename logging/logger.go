package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	mu     sync.RWMutex
	output io.Writer = os.Stderr
)

// Init configures the global zerolog logger. format is "console", "json" or
// "auto"; auto picks the console writer when stderr is a terminal.
func Init(level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339

	var w io.Writer = os.Stderr
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	default:
		if isTerminal(os.Stderr.Fd()) {
			w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		}
	}

	mu.Lock()
	output = w
	mu.Unlock()
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a config string onto a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Writer returns the writer the global logger was configured with.
func Writer() io.Writer {
	mu.RLock()
	defer mu.RUnlock()
	return output
}

// TalkLogger returns a logger that writes to the global output and to
// processing.log inside dir. The returned close func releases the file.
func TalkLogger(dir string, fields map[string]string) (zerolog.Logger, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return zerolog.Nop(), func() error { return nil }, fmt.Errorf("ensure talk dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "processing.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), func() error { return nil }, fmt.Errorf("open talk log: %w", err)
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(Writer(), f)).With().Timestamp()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger(), f.Close, nil
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
