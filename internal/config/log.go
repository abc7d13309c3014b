package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var root = &logrus.Logger{
	Out: os.Stderr,
	Formatter: &CustomTextFormatter{
		TextFormatter: logrus.TextFormatter{FullTimestamp: true},
	},
	Hooks: make(logrus.LevelHooks),
	Level: logrus.InfoLevel,
}

// NamedLogger creates a named package logger sharing the root output,
// level and formatter.
func NamedLogger(name string) *logrus.Entry {
	return root.WithField("pkg", name)
}

// CustomTextFormatter moves the package name in front of the message.
type CustomTextFormatter struct {
	logrus.TextFormatter
}

// Format renders a single log entry
func (f *CustomTextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if name, ok := entry.Data["pkg"]; ok {
		data := make(logrus.Fields, len(entry.Data))
		for k, v := range entry.Data {
			if k != "pkg" {
				data[k] = v
			}
		}
		clone := entry.Dup()
		clone.Data = data
		clone.Time = entry.Time
		clone.Level = entry.Level
		clone.Message = fmt.Sprintf("[%-10s] %s", name, entry.Message)
		return f.TextFormatter.Format(clone)
	}
	return f.TextFormatter.Format(entry)
}

// SetupLogging configures the root logger from the log section.
func SetupLogging(cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	root.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		root.SetFormatter(&CustomTextFormatter{TextFormatter: logrus.TextFormatter{FullTimestamp: true}})
	case "json":
		root.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format: %s", cfg.Format)
	}
	return nil
}

// SetLogOutput redirects the root logger, e.g. to silence tests.
func SetLogOutput(w io.Writer) {
	root.SetOutput(w)
}
