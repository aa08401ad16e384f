package repository

import (
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"
)

// zerologWriter routes gorm's log lines into the global zerolog logger.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...any) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newGormLogger reports slow queries and errors. A missing row is an
// expected outcome of lookups here and is not logged.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
