// Package logging builds the component loggers used across the daemon.
// Output goes to stderr and, when a log directory is configured, to a
// size- and age-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup returns the shared log writer. With an empty dir only stderr
// is used; otherwise log lines also land in dir/notisync.log, rotated
// at 10 MB and pruned after keepForDays.
func Setup(dir string, keepForDays int) io.Writer {
	if dir == "" {
		return os.Stderr
	}

	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "notisync.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     keepForDays,
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, rotated)
}

// New creates a component logger on w with the "[component] " prefix
// convention used throughout the daemon.
func New(w io.Writer, component string) *log.Logger {
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
