// Package apiserver implements the external HTTP surface: GET /health,
// GET /sources, POST /task, and POST /helius/webhook. A separate,
// unauthenticated metrics listener is constructed by NewMetricsServer for
// the configured metrics port.
//
// A Server holds its dependencies plus a pre-built *http.Server, with a
// setupRouter() that wraps one mux in a middleware chain and Start/Stop
// offering context-bounded graceful shutdown — no TLS, RBAC, or IP
// allowlist, since this protocol's external surface needs none of them.
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/megayours/megaforwarder/pkg/cache"
	"github.com/megayours/megaforwarder/pkg/config"
	"github.com/megayours/megaforwarder/pkg/eventbus"
)

// Coordinator is the subset of task.Coordinator the API surface depends on.
type Coordinator interface {
	Run(ctx context.Context, pluginID string, input any) (any, error)
}

// Config tunes the external API server.
type Config struct {
	ListenAddr      string
	Webhook         config.HeliusWebhookConfig
	WebhookDedupTTL time.Duration
	ShutdownTimeout time.Duration
}

// Dependencies holds everything the external API surface calls into.
type Dependencies struct {
	Config      Config
	Coordinator Coordinator
	Cache       cache.Store
	Bus         eventbus.Bus
	Sources     []string
	Logger      *zap.Logger
}

// Server serves the external API surface.
type Server struct {
	cfg         Config
	coordinator Coordinator
	cache       cache.Store
	bus         eventbus.Bus
	sources     []string
	logger      *zap.Logger

	httpServer *http.Server
	running    atomic.Bool
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewServer constructs a Server from deps, wiring its middleware chain and
// routes but not yet listening.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Coordinator == nil {
		return nil, errors.New("apiserver: coordinator is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("apiserver: cache is required")
	}
	if deps.Bus == nil {
		return nil, errors.New("apiserver: bus is required")
	}
	if deps.Config.ListenAddr == "" {
		return nil, errors.New("apiserver: listen addr is required")
	}
	if deps.Config.WebhookDedupTTL <= 0 {
		deps.Config.WebhookDedupTTL = 10 * time.Second
	}
	if deps.Config.ShutdownTimeout <= 0 {
		deps.Config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:         deps.Config,
		coordinator: deps.Coordinator,
		cache:       deps.Cache,
		bus:         deps.Bus,
		sources:     deps.Sources,
		logger:      deps.Logger,
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start begins serving in a background goroutine and returns immediately;
// listen errors are logged rather than returned.
func (s *Server) Start(context.Context) error {
	if s.running.Load() {
		return errors.New("apiserver: already running")
	}
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("api server error", zap.Error(err))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("api server started", zap.String("addr", s.cfg.ListenAddr))
	}
	return nil
}

// Stop gracefully shuts down the HTTP listener, waiting up to
// cfg.ShutdownTimeout for in-flight requests to finish.
func (s *Server) Stop() error {
	var stopErr error
	s.closeOnce.Do(func() {
		if !s.running.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			stopErr = fmt.Errorf("apiserver: shutdown: %w", err)
		}
		s.wg.Wait()
		s.running.Store(false)
	})
	return stopErr
}
