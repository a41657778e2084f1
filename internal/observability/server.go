package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/decompctl/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes /metrics and /healthz for a running engine.
type Server struct {
	ID      string
	Started time.Time

	router    *gin.Engine
	logger    zerolog.Logger
	validator auth.Validator
}

func NewServer(id string, logger zerolog.Logger) *Server {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware(id))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{ID: id, Started: time.Now(), router: r, logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
		})
	})
	s.router.GET("/metrics", s.authorize, gin.WrapH(promhttp.Handler()))
}

// RequireToken guards /metrics with v. /healthz stays open.
func (s *Server) RequireToken(v auth.Validator) {
	s.validator = v
}

func (s *Server) authorize(c *gin.Context) {
	if s.validator == nil {
		c.Next()
		return
	}
	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err == nil {
		err = s.validator.Validate(token)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
