package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init configures the global logger: console output in development, JSON otherwise.
func Init(serviceName string, isDevelopment bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer = os.Stdout
	if isDevelopment {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	log.Logger = Logger
}

// WithContext returns the global logger tagged with the request id, if any.
func WithContext(ctx context.Context) *zerolog.Logger {
	logger := Logger.With().Logger()
	if ctx == nil {
		return &logger
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With().Str("request_id", reqID).Logger()
	}
	return &logger
}

func Info(ctx context.Context) *zerolog.Event {
	return WithContext(ctx).Info()
}

func Error(ctx context.Context) *zerolog.Event {
	return WithContext(ctx).Error()
}

func Debug(ctx context.Context) *zerolog.Event {
	return WithContext(ctx).Debug()
}

func Warn(ctx context.Context) *zerolog.Event {
	return WithContext(ctx).Warn()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
