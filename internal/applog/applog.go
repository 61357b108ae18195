// Package applog provides the structured logger shared by effigy's core
// subsystems: a thin wrapper around charmbracelet/log giving each
// subsystem a prefixed logger written to stderr, with the level
// controlled by verbosity.
package applog

import (
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	mu      sync.Mutex
	loggers = map[string]*log.Logger{}
)

// For returns the prefixed logger for a given subsystem (e.g. "scheduler",
// "lockmgr", "watch"), creating it on first use. Loggers are cached so
// repeated calls from the same subsystem share one instance and level.
func For(prefix string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[prefix]; ok {
		return l
	}
	l := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          prefix,
		ReportTimestamp: false,
	})
	l.SetLevel(defaultLevel)
	loggers[prefix] = l
	return l
}

// SetVerbose raises every cached and future logger to Debug level when
// verbose is true, or resets to Warn otherwise. Called once from cmd/effigy
// after flag parsing.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	level := log.WarnLevel
	if verbose {
		level = log.DebugLevel
	}
	for _, l := range loggers {
		l.SetLevel(level)
	}
	defaultLevel = level
}

var defaultLevel = log.WarnLevel
