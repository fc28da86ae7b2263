// Package logging builds the logrus entry handed to every component.
package logging

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Field keys shared across packages.
const (
	FieldBatchID    = "batch_id"
	FieldChunk      = "chunk"
	FieldRows       = "rows"
	FieldBusinessID = "business_id"
	FieldSource     = "source"
)

func New(level, format string, out io.Writer) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	l.SetLevel(lvl)

	switch format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return logrus.NewEntry(l), nil
}

// Nop discards everything below panic.
func Nop() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
