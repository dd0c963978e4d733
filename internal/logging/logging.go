// Package logging provides CLI-facing log output plus structured
// component loggers for the core subsystems.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
)

var (
	disabled = false
	logger   = log.New(os.Stdout, "", log.LstdFlags)
)

// Disable turns off CLI logging and routes structured logs to io.Discard.
// Used by commands that own their own terminal output.
func Disable() {
	disabled = true
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Enable turns logging back on.
func Enable() {
	disabled = false
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// Verbose switches the structured logger to debug level.
func Verbose() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

// Component returns a structured logger tagged with a component name.
// Core packages log through these rather than the package-level funcs.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}
