package logger

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/appointment-replication/internal/correlation"
)

// New creates a JSON logger writing to stdout at the given level.
func New(level string) *logrus.Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(os.Stdout)

	return log
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// FromContext decorates log with the correlation id carried by ctx.
func FromContext(ctx context.Context, log logrus.FieldLogger) logrus.FieldLogger {
	if id := correlation.FromContext(ctx); id != "" {
		return log.WithField("correlation_id", id)
	}
	return log
}
