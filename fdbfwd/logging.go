package fdbfwd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging configures the standard logrus logger from c. When debug is true the level is
// forced to debug.
func SetupLogging(c LogConfig, debug bool) error {
	level := log.InfoLevel

	if c.Level != "" {
		var err error

		level, err = log.ParseLevel(c.Level)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrConfig, err)
		}
	}

	if debug {
		level = log.DebugLevel
	}

	log.SetLevel(level)

	switch c.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("%w: invalid log format %q", ErrConfig, c.Format)
	}

	log.SetOutput(logOutput(c))

	return nil
}

func logOutput(c LogConfig) io.Writer {
	if c.File == "" {
		return os.Stderr
	}

	return io.MultiWriter(
		os.Stderr,
		&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
			Compress:   c.Compress,
		},
	)
}
