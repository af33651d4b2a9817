package observability

import (
	"github.com/danmuck/edgewire/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process-wide runtime logger and returns it.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime(app)
	return log.Logger
}
