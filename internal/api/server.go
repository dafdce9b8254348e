// Package api exposes the Router to operators over HTTP and a status
// websocket, and provides the matching client.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"fest_router/native/internal/domain"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

var api = sonic.ConfigStd

// Controller is the Router surface served by the API.
type Controller interface {
	RegisterSource(ctx context.Context, blob []byte) ([]byte, error)
	RegisterSink(ctx context.Context, blob []byte) ([]byte, error)
	OfferSink(ctx context.Context, id, name string) ([]byte, error)
	CompleteSinkOffer(blob []byte) error
	Assign(sinkID, sourceID string) error
	Remove(id string) error
	State() domain.State
	Subscribe(fn func(domain.StatusEvent)) (cancel func())
}

type Options struct {
	// JWTSecret enables operator authentication when set.
	JWTSecret   string
	CORSOrigins []string
	Release     bool
}

// Server serves the control API and the status websocket.
type Server struct {
	engine *gin.Engine
	ctrl   Controller
	hub    *Hub
}

func NewServer(ctrl Controller, opts Options) *Server {
	if opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine: gin.Default(),
		ctrl:   ctrl,
		hub:    NewHub(ctrl),
	}

	// Global CORS middleware (runs before routing)
	s.engine.Use(OriginFilter(opts.CORSOrigins))

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := func(c *gin.Context) { c.Next() }
	if opts.JWTSecret != "" {
		auth = JWTAuth(opts.JWTSecret)
	}

	apiGroup := s.engine.Group("/api", auth)
	{
		apiGroup.GET("/state", s.getState)
		apiGroup.POST("/sources", s.registerSource)
		apiGroup.POST("/sinks", s.registerSink)
		apiGroup.POST("/sinks/offer", s.offerSink)
		apiGroup.POST("/sinks/answer", s.completeSinkOffer)
		apiGroup.PUT("/routes/:sinkId", s.assign)
		apiGroup.DELETE("/sessions/:id", s.remove)
	}

	s.engine.GET("/ws/status", auth, s.hub.Serve)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[api] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Println("[api] stopped")
	return nil
}
