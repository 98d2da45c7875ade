// Package logrus adapts a logrus entry to reactkv.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/reactkv"
)

var _ reactkv.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every record with component=reactkv.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "reactkv")}
}

func (l Logger) Debug(msg string, f reactkv.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f reactkv.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f reactkv.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f reactkv.Fields) { l.with(f).Error(msg) }

func (l Logger) with(f reactkv.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}
