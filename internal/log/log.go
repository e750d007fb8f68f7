package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dotse/slug"
	slogmulti "github.com/samber/slog-multi"
)

type Config struct {
	Level Level `mapstructure:"level"`
	// If set, logs are also written as JSON lines to this file
	File string `mapstructure:"file"`
	// Log every HTTP request through the gin middleware
	HTTPEnabled bool  `mapstructure:"http_enabled"`
	HTTPLevel   Level `mapstructure:"http_level"`
}

type Level string

const (
	Debug Level = "debug"
	Info  Level = "info"
	Warn  Level = "warn"
	Error Level = "error"
)

// ToSlogLevel maps our levels to the equivalent slog level. Unknown names map to error.
func ToSlogLevel(level Level) slog.Level {
	switch Level(strings.ToLower(string(level))) {
	case Debug:
		return slog.LevelDebug
	case Info:
		return slog.LevelInfo
	case Warn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// NewHandler fans records out to a console handler on out and, when file is
// non-nil, a JSON handler on file.
func NewHandler(level Level, out io.Writer, file io.Writer) slog.Handler {
	opts := slug.HandlerOptions{
		HandlerOptions: slog.HandlerOptions{
			Level: ToSlogLevel(level),
		},
	}

	handlers := []slog.Handler{slug.NewHandler(opts, out)}
	if file != nil {
		handlers = append(handlers, slog.NewJSONHandler(file, &opts.HandlerOptions))
	}

	return slogmulti.Fanout(handlers...)
}

// MustCreateLogger configures the default global logger.
//
// Returns a cleanup function which should be called on program shutdown.
//
// Panics on failure to open the log file for writing.
func MustCreateLogger(conf Config, version string) func() {
	var (
		closer  = func() {}
		logFile *os.File
	)

	if conf.File != "" {
		file, errLogFile := os.OpenFile(conf.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if errLogFile != nil {
			panic(fmt.Sprintf("Failed to open logfile: %v", errLogFile))
		}
		logFile = file

		closer = func() {
			if errClose := logFile.Close(); errClose != nil {
				panic(fmt.Sprintf("Failed to close log file: %v", errClose))
			}
		}
	}

	var handler slog.Handler
	if logFile != nil {
		handler = NewHandler(conf.Level, os.Stdout, logFile)
	} else {
		handler = NewHandler(conf.Level, os.Stdout, nil)
	}

	defaultLogger := slog.New(handler)
	if version != "" {
		defaultLogger = defaultLogger.With("release", version)
	}

	slog.SetDefault(defaultLogger)

	return closer
}

func Closer(closer io.Closer) {
	if errClose := closer.Close(); errClose != nil {
		slog.Error("Failed to close", slog.String("error", errClose.Error()))
	}
}
