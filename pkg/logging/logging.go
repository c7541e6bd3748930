// Package logging provides the logger interface shared by every component of
// the backend pool. It is a thin bridge over logrus so tests can inject a
// buffered logger and production code can swap in structured output.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is implemented by *logrus.Entry and *logrus.Logger. Components take
// this interface rather than a concrete type so they can be constructed with
// a field-tagged child logger (log.WithField("component", "scheduler")).
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// NewDefault returns a logger writing structured text to os.Stderr at info
// level, suitable for command entry points.
func NewDefault() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return log
}

// Component returns a child logger tagged with the given component name.
func Component(log Logger, name string) Logger {
	return log.WithField("component", name)
}
