package testlog

import (
	"testing"

	"github.com/danmuck/pistelink/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start routes logs through the test writer settings and brackets the test
// with start and finish lines so interleaved dispatcher output can be
// attributed.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
	t.Cleanup(func() {
		log.Info().Str("test", t.Name()).Bool("failed", t.Failed()).Msg("finish")
	})
}
