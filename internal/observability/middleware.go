package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// quietPaths are polled by dashboards, tablets and scrapers; they log at debug.
var quietPaths = map[string]bool{
	"/health":         true,
	"/ready":          true,
	"/metrics":        true,
	"/box":            true,
	"/pistes/current": true,
}

// RequestLogger logs one line per request tagged with the repeater's piste.
// Requests that change repeater state are marked as control and never quieted.
func RequestLogger(logger zerolog.Logger, piste int) gin.HandlerFunc {
	logger = logger.With().Int("piste", piste).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		control := c.Request.Method != http.MethodGet && c.Request.Method != http.MethodOptions

		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case !control && quietPaths[path]:
			event = logger.Debug()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Bool("control", control).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}

// RequestMetricsMiddleware records request counts and latency per route.
// Unmatched paths share one label so scanners cannot grow the series set.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(node, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
