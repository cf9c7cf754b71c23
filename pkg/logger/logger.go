package logger

import (
	"io"
	"os"
	"sync"

	"robot-qlearning/pkg/config"

	"github.com/sirupsen/logrus"
)

var (
	Log     *logrus.Logger
	logFile *os.File
	mu      sync.Mutex
)

// Initialize sets up the global logger from the logging section
func Initialize(cfg config.LoggingConfig) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		l.Warnf("Invalid log level '%s', using 'info'", cfg.Level)
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		l.Warnf("Invalid log format '%s', using 'text'", cfg.Format)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	l.SetOutput(openOutput(l, cfg.Output))

	Log = l
	return l
}

func openOutput(l *logrus.Logger, output string) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	// Anything else is a file path
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		l.Warnf("Failed to open log file '%s', using stdout", output)
		return os.Stdout
	}
	logFile = file
	return file
}

// SetLevel changes the level of the global logger. Unknown levels are ignored
func SetLevel(level string) bool {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		GetLogger().Warnf("Ignoring invalid log level '%s'", level)
		return false
	}
	l := GetLogger()
	if l.GetLevel() == parsed {
		return false
	}
	l.SetLevel(parsed)
	return true
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if Log == nil {
		Log = logrus.New()
		Log.SetLevel(logrus.InfoLevel)
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return Log
}

// WithRun returns an entry tagged with the training run identifier
func WithRun(runID string) *logrus.Entry {
	return GetLogger().WithField("run_id", runID)
}
