package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger configured from the given level/format
// strings (as read from Config.Logging). An unrecognized level falls back
// to info rather than erroring, since logging setup must never be the
// reason a simulation fails to start.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// WithCPU returns an entry pre-tagged with the owning CPU, used
// throughout the per-CPU goroutines so log lines are attributable without
// every call site repeating the field.
func WithCPU(logger *logrus.Logger, cpu int) *logrus.Entry {
	return logger.WithField("cpu", cpu)
}

// WithTask returns an entry pre-tagged with a task id.
func WithTask(logger *logrus.Logger, taskID string) *logrus.Entry {
	return logger.WithField("task_id", taskID)
}
