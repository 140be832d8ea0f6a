// Package logging builds the structured logger shared by every gateway
// component. One *logrus.Logger is constructed in the composition root and
// threaded explicitly into constructors; no package-level global is used.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotating file sink. A zero value logs to stderr
// only.
type Options struct {
	FilePath   string // if empty, only stderr is used
	MaxSizeMB  int    // default 100
	MaxBackups int    // default 7
	MaxAgeDays int    // default 14
	JSON       bool   // structured JSON vs text formatter
}

// New builds a logrus.Logger writing to stderr and, if configured, to a
// lumberjack-rotated file.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()
	if opts.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.FilePath == "" {
		return logger
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 7
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 14
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(logger.Out, rotator))
	return logger
}
