// Package api serves stored runs and the rendered report over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ethpandaops/dnsperfoor/pkg/config"
	"github.com/ethpandaops/dnsperfoor/pkg/report"
	"github.com/ethpandaops/dnsperfoor/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	reportCfg  *config.ReportConfig
	store      store.Store
	aggregator *report.Aggregator
	reports    singleflight.Group
	limiters   []*rateLimiterMap
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server reading from an already started store.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	reportCfg *config.ReportConfig,
	st store.Store,
) Server {
	return newServer(log, cfg, reportCfg, st)
}

func newServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	reportCfg *config.ReportConfig,
	st store.Store,
) *server {
	return &server{
		log:        log.WithField("component", "api"),
		cfg:        cfg,
		reportCfg:  reportCfg,
		store:      st,
		aggregator: report.NewAggregator(st, reportCfg),
		done:       make(chan struct{}),
	}
}

// Start binds the listener and serves requests in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind synchronously so port conflicts fail fast.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	for _, rl := range s.limiters {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			rl.cleanup(s.done)
		}()
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server. The store is left to its owner.
// Calling Stop more than once is a no-op.
func (s *server) Stop() error {
	stopped := false

	s.stopOnce.Do(func() {
		close(s.done)

		stopped = true
	})

	if !stopped {
		return nil
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
