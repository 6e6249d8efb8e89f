package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Development environments get the
// console writer; everything else writes JSON lines to stdout.
func NewLogger(env, level string) zerolog.Logger {
	return newLogger(os.Stdout, env, level)
}

func newLogger(out io.Writer, env, level string) zerolog.Logger {
	if env == "dev" || env == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "handyhub").Logger()
}
