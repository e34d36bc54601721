package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// New builds the process logger. The level comes from LOG_LEVEL
// (trace/debug/info/warn/error); an absent or unparseable value leaves
// the default of info in place.
func New() *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level, err := log.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
