package observability

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogger sets the level and output format of the standard logrus
// logger. format is "text" or "json"; an empty level keeps the current one.
func ConfigureLogger(level, format string) error {
	if level != "" {
		lvl, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log.SetLevel(lvl)
	}

	switch format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.SetOutput(os.Stderr)
	return nil
}
