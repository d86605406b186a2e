package main

import (
	"context"
	"fmt"

	"evidencelab/internal/config"
	"evidencelab/internal/perception"
	"evidencelab/internal/session"
	"evidencelab/internal/store"
	"evidencelab/internal/usage"

	"go.uber.org/zap"
)

// app bundles what every command needs. Close releases it.
type app struct {
	cfg     *config.Config
	store   *store.LocalStore
	tracker *usage.Tracker
	engine  *session.Engine
}

// openApp builds the provider, gateway, store and session engine from cfg.
// sessionID selects an existing session; 0 leaves the engine without one.
func openApp(ctx context.Context, cfg *config.Config, sessionID int64) (*app, error) {
	p, err := perception.NewProviderFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.LLM.Provider, err)
	}
	return openAppWith(ctx, cfg, p, sessionID)
}

func openAppWith(ctx context.Context, cfg *config.Config, p perception.Provider, sessionID int64) (*app, error) {
	st, err := store.NewLocalStore(cfg.Store.DatabasePath)
	if err != nil {
		return nil, err
	}
	tracker, err := usage.NewTracker(cfg.Store.UsagePath)
	if err != nil {
		st.Close()
		return nil, err
	}

	gateway := perception.NewGateway(p, perception.WithUsageRecorder(tracker))
	a := &app{
		cfg:     cfg,
		store:   st,
		tracker: tracker,
		engine:  session.NewEngine(st, gateway, cfg),
	}
	if sessionID != 0 {
		if _, err := a.engine.Use(ctx, sessionID); err != nil {
			a.Close()
			return nil, fmt.Errorf("session %d: %w", sessionID, err)
		}
	}
	if logger != nil {
		logger.Debug("app ready",
			zap.String("provider", p.Name()),
			zap.String("db", st.Path()),
			zap.Int64("session", sessionID))
	}
	return a, nil
}

// Close flushes usage and closes the store.
func (a *app) Close() {
	if err := a.tracker.Close(); err != nil && logger != nil {
		logger.Warn("failed to save usage", zap.Error(err))
	}
	if err := a.store.Close(); err != nil && logger != nil {
		logger.Warn("failed to close store", zap.Error(err))
	}
}

// turnContext bounds one reasoning turn by the configured timeout.
func (a *app) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.cfg.GetLLMTimeout())
}

// openOffline opens the app for commands that never reason, so they work
// without provider credentials.
func openOffline(ctx context.Context, sessionID int64) (*app, error) {
	return openAppWith(ctx, cfg, perception.NewMockProvider(), sessionID)
}
