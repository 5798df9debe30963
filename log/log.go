// Copyright 2019 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package log wraps logrus with the narrow logging surface the sandbox
// actually needs: leveled logging plus structured fields, nothing more.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Fields aliases logrus.Fields
type Fields = logrus.Fields

// Entry aliases logrus.Entry
type Entry = logrus.Entry

// Logger is the interface for loggers that can be used by applications.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
	Error(...interface{})

	WithField(key string, value interface{}) *Entry
	WithFields(Fields) *Entry

	SetLevel(string) error
	SetOutput(io.Writer)
	SetJSONFormatter()
}

type logger struct {
	entry *logrus.Entry
}

// NewLogger creates a new logger.
func NewLogger() Logger {
	l := logrus.New()
	return logger{entry: logrus.NewEntry(l)}
}

// Debug logs a message at level Debug on the logger.
func (l logger) Debug(args ...interface{}) {
	l.entry.Debug(args...)
}

// Info logs a message at level Info on the logger.
func (l logger) Info(args ...interface{}) {
	l.entry.Info(args...)
}

// Warn logs a message at level Warn on the logger.
func (l logger) Warn(args ...interface{}) {
	l.entry.Warn(args...)
}

// Error logs a message at level Error on the logger.
func (l logger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

// WithField adds a field to the logger.
func (l logger) WithField(key string, value interface{}) *Entry {
	return l.entry.WithField(key, value)
}

// WithFields adds a map of fields to the logger.
func (l logger) WithFields(fields Fields) *Entry {
	return l.entry.WithFields(fields)
}

// SetLevel sets the logger level.
func (l logger) SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	l.entry.Logger.SetLevel(lvl)
	return nil
}

// SetOutput sets the logger output.
func (l logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// SetJSONFormatter sets the logger formatter to JSONFormatter.
func (l logger) SetJSONFormatter() {
	l.entry.Logger.SetFormatter(&logrus.JSONFormatter{})
}

var globalLogger = logger{entry: logrus.NewEntry(logrus.New())}

// Global returns the default logger, used wherever a sandbox instance
// isn't configured with its own via WithLogger.
func Global() Logger {
	return globalLogger
}
