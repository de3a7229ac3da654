package repeater

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/pistelink/internal/box"
	"github.com/danmuck/pistelink/internal/display"
	"github.com/danmuck/pistelink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	version        = "0.1.0"
	controlTimeout = 2 * time.Second
)

// Server is the HTTP status and control surface. Reads come straight from
// snapshots; anything that changes state goes through the dispatcher.
type Server struct {
	svc    *Service
	hub    *display.Hub
	router *gin.Engine
}

func NewServer(svc *Service, hub *display.Hub) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, svc.Config().Piste))
	r.Use(observability.RequestMetricsMiddleware(nodeName(svc.Config().Piste)))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(svc.Config().CORSOrigins),
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{svc: svc, hub: hub, router: r}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func nodeName(piste int) string {
	return "repeater-" + strconv.Itoa(piste)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    s.svc.Uptime().String(),
			"component": "repeater",
			"version":   version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !s.svc.Ready() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":         s.svc.Ready(),
			"box_connected": s.svc.BoxConnected(),
			"network":       s.svc.NetworkStatus().State,
			"component":     "repeater",
			"version":       version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/box", func(c *gin.Context) {
		resp := gin.H{
			"state":     s.svc.Snapshot(),
			"connected": s.svc.BoxConnected(),
		}
		if w, ok := s.svc.PendingWeapon(); ok {
			resp["pending_weapon"] = w
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/pistes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pistes": s.svc.Registry().List()})
	})

	r.GET("/pistes/current", func(c *gin.Context) {
		st, err := s.svc.Registry().Current()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": st})
	})

	r.GET("/pistes/:piste", func(c *gin.Context) {
		piste, ok := parsePiste(c)
		if !ok {
			return
		}
		st, found := s.svc.Registry().Get(piste)
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "piste not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": st})
	})

	r.GET("/network", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"network": s.svc.NetworkStatus()})
	})

	r.POST("/view/next", s.control(func(ctx context.Context, _ *gin.Context) (box.State, error) {
		return s.svc.ViewNext(ctx)
	}))
	r.POST("/view/prev", s.control(func(ctx context.Context, _ *gin.Context) (box.State, error) {
		return s.svc.ViewPrev(ctx)
	}))
	r.POST("/view/:piste", func(c *gin.Context) {
		piste, ok := parsePiste(c)
		if !ok {
			return
		}
		s.control(func(ctx context.Context, _ *gin.Context) (box.State, error) {
			return s.svc.ViewSelect(ctx, piste)
		})(c)
	})

	r.POST("/keys/:key", func(c *gin.Context) {
		key := c.Param("key")
		if len(key) != 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key must be a single character"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()
		if err := s.svc.QueueKey(ctx, key[0]); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "key": key})
	})

	r.POST("/weapon/:weapon", func(c *gin.Context) {
		w, ok := box.ParseWeapon(c.Param("weapon"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown weapon"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()
		if err := s.svc.RequestWeapon(ctx, w); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "requested", "weapon": w})
	})

	r.POST("/demo", s.control(func(ctx context.Context, _ *gin.Context) (box.State, error) {
		return s.svc.SetDemo(ctx, true)
	}))
	r.DELETE("/demo", s.control(func(ctx context.Context, _ *gin.Context) (box.State, error) {
		return s.svc.SetDemo(ctx, false)
	}))

	if s.hub != nil {
		r.GET("/ws", gin.WrapH(s.hub))
	}
}

// control wraps a dispatcher call with a bounded wait and a state response.
func (s *Server) control(fn func(ctx context.Context, c *gin.Context) (box.State, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), controlTimeout)
		defer cancel()
		st, err := fn(ctx, c)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": st})
	}
}

func parsePiste(c *gin.Context) (int, bool) {
	piste, err := strconv.Atoi(c.Param("piste"))
	if err != nil || piste < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid piste"})
		return 0, false
	}
	return piste, true
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, box.ErrOutOfRange):
		status = http.StatusConflict
	case errors.Is(err, box.ErrPisteUnknown):
		status = http.StatusNotFound
	case errors.Is(err, ErrKeyQueueFull), errors.Is(err, ErrInboxFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrServiceStopped), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
