package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Ready reports whether the agent is serving calls.
type Ready func() bool

// NewRouter returns the HTTP routes for /metrics and /healthz.
func NewRouter(logger zerolog.Logger, ready Ready) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	started := time.Now()
	r.GET("/healthz", func(c *gin.Context) {
		ok := ready == nil || ready()
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ok,
			"uptime": time.Since(started).String(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Serve runs the HTTP endpoint on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger, ready Ready) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(logger, ready),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	}
}
