// internal/utils/logger.go
package utils

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger writes JSON in production and text elsewhere. Unknown levels fall back to info.
func NewLogger(environment, level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	if environment == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
