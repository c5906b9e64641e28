package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, appName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName+".log"), nil
}

// setupLog sends the log to a file in the user cache dir. Logging is
// silently disabled when the file cannot be opened.
func setupLog() (func() error, error) {
	log.SetOutput(io.Discard)

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		// log disabled
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	logOut = f
	log.SetOutput(f)
	log.SetLevel(log.DebugLevel)
	return f.Close, nil
}

// logOut is the log file, or nil when file logging is disabled.
var logOut io.Writer

// applyLogSettings mirrors the log to stderr with --verbose and applies
// ARRE_LOG_LEVEL.
func applyLogSettings(verbose bool, level string) {
	if verbose {
		w := io.Writer(os.Stderr)
		if logOut != nil {
			w = io.MultiWriter(logOut, os.Stderr)
		}
		log.SetOutput(w)
		log.SetLevel(log.DebugLevel)
	}
	if level == "" {
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("Ignoring invalid log level", "level", level)
		return
	}
	log.SetLevel(lvl)
}
