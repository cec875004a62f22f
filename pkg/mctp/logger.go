package mctp

import (
	"avaneesh/mctp-go/pkg/config"
	"avaneesh/mctp-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel sets the level of the global logger
func SetLogLevel(level LogLevel) {
	logger.GetDefault().SetLevel(logger.Level(level))
}

// ParseLogLevel converts a level name such as "debug" to a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	l, err := logger.ParseLevel(s)
	return LogLevel(l), err
}

// InitLogging replaces the global logger with one built from the log
// section of the daemon configuration
func InitLogging(cfg config.LogConfig) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return err
	}
	c := config.Config{Log: cfg}
	l, err := logger.New(c.LoggerOptions())
	if err != nil {
		return err
	}
	logger.SetDefault(l)
	return nil
}
