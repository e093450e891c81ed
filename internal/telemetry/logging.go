package telemetry

import (
	"github.com/sirupsen/logrus"

	"granule-reprocessing/internal/config"
)

// NewLogger builds the service logger: JSON output outside dev, level from
// configuration.
func NewLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.Env != "dev" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return log
}
