// Package logging configures the logrus logger used across hold.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05.000 Z07:00"

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type utcFormatter struct {
	logrus.Formatter
}

func (f utcFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.UTC()
	return f.Formatter.Format(entry)
}

// New creates a logger writing to out. An empty level means info and an
// empty format means text.
func New(level, format string, out io.Writer) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var lineFormatter logrus.Formatter
	switch format {
	case "", FormatText:
		lineFormatter = &logrus.TextFormatter{
			TimestampFormat:  timestampFormat,
			FullTimestamp:    true,
			DisableColors:    true,
			QuoteEmptyFields: true,
		}
	case FormatJSON:
		lineFormatter = &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		}
	default:
		return nil, fmt.Errorf("unknown log format %q (expected %s or %s)", format, FormatText, FormatJSON)
	}

	logger := logrus.New()
	logger.SetLevel(lvl)
	logger.SetFormatter(utcFormatter{lineFormatter})
	logger.SetOutput(out)
	return logger, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}
