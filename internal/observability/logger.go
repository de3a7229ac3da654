package observability

import (
	"github.com/danmuck/pistelink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logger and tags every line with the app
// name and local piste.
func InitLogger(app string, piste int) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Int("piste", piste).Logger()
	log.Logger = logger
	return logger
}
