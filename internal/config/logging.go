package config

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/memctl/internal/logging"
)

// Logger is the process-wide logger used while configuration is loaded,
// before a command has built its own. Its level follows the configured
// logging level once a command starts.
//
//nolint:gochecknoglobals // Logger is intentionally global for application-wide structured logging
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	Level(logging.ParseLevel(DefaultLogLevel)).
	With().
	Timestamp().
	Logger()

//nolint:gochecknoglobals // Guards Logger
var logMu sync.RWMutex

// SetLogLevel changes Logger's level. Unknown levels mean info.
func SetLogLevel(level string) {
	logMu.Lock()
	defer logMu.Unlock()
	Logger = Logger.Level(logging.ParseLevel(level))
}

// GetLogger returns a copy of Logger.
func GetLogger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return Logger
}

// ToLoggingConfig converts the file section into a logging.Config. A
// configured file selects file output; otherwise logs go to stderr.
func (lc *LoggingConfig) ToLoggingConfig() logging.Config {
	output := logging.OutputStderr
	if lc.File != "" {
		output = outputTypeFile
	}
	return logging.Config{
		Level:  lc.Level,
		Format: lc.Format,
		Output: output,
		File:   lc.File,
	}
}

// GetLoggingConfig returns a copy of the global Logging section. Flag
// overrides such as --debug are applied by the caller.
func GetLoggingConfig() LoggingConfig {
	return GetGlobalConfig().Logging
}
