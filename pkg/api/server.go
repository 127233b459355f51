// Package api exposes the negotiation engine over HTTP: demand intake,
// channel inspection, oracle stats, and the event stream via SSE and
// WebSocket.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NatureBlueee/towow/pkg/config"
	"github.com/NatureBlueee/towow/pkg/engine"
	"github.com/NatureBlueee/towow/pkg/version"
)

// Server is the HTTP front end over a running engine.
type Server struct {
	cfg    *config.ServerConfig
	engine *engine.Engine
	http   *http.Server
}

// NewServer creates the server. Call Run to serve.
func NewServer(cfg *config.ServerConfig, eng *engine.Engine) *Server {
	s := &Server{cfg: cfg, engine: eng}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.health)
	r.GET("/ws", s.handleWebSocket)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/demands", s.submitDemand)
		v1.GET("/channels", s.listChannels)
		v1.GET("/channels/:id", s.getChannel)
		v1.GET("/events", s.streamEvents)
		v1.GET("/oracle/stats", s.oracleStats)
	}
	return r
}

// Handler returns the routed HTTP handler for embedding in another
// server or an httptest fixture.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.cfg.ListenAddr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
}

// requestLogger is a minimal slog access-log middleware. The event
// stream endpoints are long-lived and excluded.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/ws" || path == "/api/v1/events" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
