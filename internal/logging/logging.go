// Package logging configures the logrus logger shared by the relay's CLI
// and its controller/worker packages, mirroring the level surface
// (error/warning/info/debug) the original project's command-line tool
// exposed via its own --log flag.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// ParseLevel maps the CLI's level name to a logrus.Level, accepting
// "warning" as a synonym for logrus's own "warn" spelling.
func ParseLevel(name string) (logrus.Level, error) {
	if name == "warning" {
		name = "warn"
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return 0, fmt.Errorf("logging: %w", err)
	}
	return level, nil
}

// New builds a logrus.Logger at the given level, writing text-formatted
// lines to stderr (logrus's default).
func New(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	return logger
}
