// ABOUTME: Top-level wiring and lifecycle for the pairwire service
// ABOUTME: Builds store, engine, router, and frontends, then runs them

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pairwire/pairwire/internal/config"
	"github.com/pairwire/pairwire/internal/consensus"
	"github.com/pairwire/pairwire/internal/dedupe"
	"github.com/pairwire/pairwire/internal/frontend"
	"github.com/pairwire/pairwire/internal/frontend/matrixfe"
	"github.com/pairwire/pairwire/internal/frontend/slackfe"
	"github.com/pairwire/pairwire/internal/pairing"
	"github.com/pairwire/pairwire/internal/random"
	"github.com/pairwire/pairwire/internal/relay"
	"github.com/pairwire/pairwire/internal/store"
	"github.com/pairwire/pairwire/internal/transform"
)

// Gateway owns every long-lived component and their shutdown order.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	router     *relay.Router
	frontends  *frontend.Registry
	dedupe     *dedupe.Cache
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a fully wired Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	rng, err := random.NewRand()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("seeding rng: %w", err)
	}

	var engineOpts []pairing.Option
	if cfg.Pairing.CoolDown > 0 {
		engineOpts = append(engineOpts, pairing.WithCoolDown(cfg.Pairing.CoolDown))
	}
	if cfg.Pairing.FanOut > 0 {
		engineOpts = append(engineOpts, pairing.WithFanOut(cfg.Pairing.FanOut))
	}
	engine := pairing.New(s, rng, logger, engineOpts...)

	var mode *consensus.Feature
	var tr *transform.Transformer
	if cfg.Mode.Enabled {
		mode = consensus.New(s, logger, "uwu", cfg.Mode.Keywords)

		trRNG, err := random.NewRand()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("seeding rng: %w", err)
		}
		tr = transform.New(trRNG)
	}

	dedupeCache := dedupe.New(5*time.Minute, 100_000) // TTL 5min, max 100k entries
	registry := frontend.NewRegistry()

	g := &Gateway{
		config:    cfg,
		store:     s,
		frontends: registry,
		dedupe:    dedupeCache,
		logger:    logger.With("component", "gateway"),
	}

	g.router = relay.New(s, engine, registry, mode, tr, dedupeCache, logger)

	if err := g.registerFrontends(cfg, logger); err != nil {
		_ = s.Close()
		dedupeCache.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/api/stats", g.handleStats)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerFrontends builds and registers every enabled adapter.
func (g *Gateway) registerFrontends(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Frontends.Matrix.Enabled {
		m, err := matrixfe.New(cfg.Frontends.Matrix, g.router, logger)
		if err != nil {
			return fmt.Errorf("creating matrix frontend: %w", err)
		}
		if err := g.frontends.Register(m); err != nil {
			return err
		}
	}

	if cfg.Frontends.Slack.Enabled {
		sl := slackfe.New(cfg.Frontends.Slack, g.router, logger)
		if err := g.frontends.Register(sl); err != nil {
			return err
		}
	}

	return nil
}

// Run starts the HTTP server and every frontend, then blocks until the
// context is cancelled or a component fails. Returns nil on graceful
// shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	adapters := g.frontends.All()
	errCh := make(chan error, len(adapters)+1)

	httpLn, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, a := range adapters {
		go func() {
			g.logger.Info("starting frontend", "name", a.Name())
			if err := a.Start(runCtx); err != nil {
				errCh <- fmt.Errorf("frontend %s: %w", a.Name(), err)
			}
		}()
	}

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	cancel()

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or component error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("component error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional component error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.dedupe.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
