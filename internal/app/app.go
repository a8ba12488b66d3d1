// Package app wires configuration into a ready optimizer with its storage,
// graph store and detectors.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sergeeey/TERAG111-sub002/internal/breaker"
	"github.com/sergeeey/TERAG111-sub002/internal/config"
	"github.com/sergeeey/TERAG111-sub002/internal/detector"
	"github.com/sergeeey/TERAG111-sub002/internal/graphstore"
	"github.com/sergeeey/TERAG111-sub002/internal/optimizer"
	"github.com/sergeeey/TERAG111-sub002/internal/patterns"
	"github.com/sergeeey/TERAG111-sub002/internal/storage"
)

// App holds every long-lived component built from a Config.
type App struct {
	Config    config.Config
	Store     storage.Storage
	Graph     graphstore.Driver
	Buffer    *detector.LineBuffer
	Detector  detector.Detector
	Breaker   *breaker.Breaker
	Optimizer *optimizer.Optimizer
	Logger    *slog.Logger
}

// New builds an App. An unreachable graph store is not fatal: detection
// still works from logs and every apply fails through the breaker.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	compiled := patterns.Default()
	if cfg.PatternsPath != "" {
		p, err := patterns.Load(cfg.PatternsPath)
		if err != nil {
			return nil, fmt.Errorf("loading patterns: %w", err)
		}
		compiled = p
	}
	parser := detector.NewParser(compiled)

	store, err := storage.NewStorage(ctx, cfg.StorageFactoryConfig(), logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Store:  store,
		Buffer: detector.NewLineBuffer(cfg.OTLPBufferSize),
		Logger: logger,
	}

	detectors := detector.Multi{}
	if cfg.LogPath != "" {
		detectors = append(detectors, detector.NewFileDetector(cfg.LogPath, parser, logger))
	}
	detectors = append(detectors, detector.NewBufferDetector(a.Buffer, parser, logger))

	graph, err := graphstore.Open(ctx, graphstore.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	}, logger)
	switch {
	case err == nil:
		a.Graph = graph
		detectors = append(detectors, detector.NewDriverDetector(graph, parser, logger))
	case errors.Is(err, graphstore.ErrUnavailable):
		logger.Info("no graph store configured, index creation disabled")
		a.Graph = graphstore.Unavailable{}
	default:
		logger.Warn("graph store unreachable, index creation disabled", "error", err)
		a.Graph = graphstore.Unavailable{}
	}
	a.Detector = detectors

	a.Breaker = breaker.New(breaker.Config{
		Name:             "index-apply",
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		Logger:           logger,
	})
	if err := optimizer.RestoreBreaker(ctx, a.Breaker, store); err != nil {
		logger.Warn("breaker state not restored", "error", err)
	}

	a.Optimizer = optimizer.New(optimizer.Config{
		Detector:     a.Detector,
		Applier:      a.Graph,
		Ledger:       store,
		Breaker:      a.Breaker,
		BreakerStore: store,
		History:      store,
		Logger:       logger,
	})

	return a, nil
}

// Close releases the graph store and storage.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Graph.Close(ctx), a.Store.Close())
}
