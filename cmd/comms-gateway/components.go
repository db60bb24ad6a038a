package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sipico/comms-gateway/internal/auth"
	"github.com/sipico/comms-gateway/internal/config"
	"github.com/sipico/comms-gateway/internal/dispatch"
	"github.com/sipico/comms-gateway/internal/filter"
	"github.com/sipico/comms-gateway/internal/gateway"
	"github.com/sipico/comms-gateway/internal/message"
	"github.com/sipico/comms-gateway/internal/metrics"
	"github.com/sipico/comms-gateway/internal/ratelimit"
	"github.com/sipico/comms-gateway/internal/review"
	"github.com/sipico/comms-gateway/internal/storage"
	"github.com/sipico/comms-gateway/internal/webhook"
)

// serverShutdownTimeout bounds the graceful drain of both listeners.
const serverShutdownTimeout = 30 * time.Second

// components holds everything the serve and approve commands run on.
type components struct {
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	registry   *prometheus.Registry
	store      *storage.SQLiteStorage
	auth       *auth.Authenticator
	filters    *filter.Engine
	dispatcher *dispatch.Registry
	notifier   *webhook.Notifier
	reviewer   *review.Service
	server     *gateway.Server
}

// newLogger builds the JSON logger of the process. The returned LevelVar
// controls its level.
func newLogger(w io.Writer, level string) (*slog.Logger, *slog.LevelVar, error) {
	parsed, err := config.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	logLevel := new(slog.LevelVar)
	logLevel.Set(parsed)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})), logLevel, nil
}

// initializeComponents wires the gateway from cfg. The caller closes
// components.store.
func initializeComponents(cfg *config.Config, logOutput io.Writer) (*components, error) {
	logger, logLevel, err := newLogger(logOutput, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	metrics.Version = version
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Init(registry); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	c := &components{
		logger:   logger,
		logLevel: logLevel,
		registry: registry,
		store:    store,
		auth:     auth.NewAuthenticator(store, logger),
		filters:  filter.NewEngine(logger),
	}

	if err := c.reloadFilters(context.Background()); err != nil {
		_ = store.Close()
		return nil, err
	}

	c.dispatcher, err = buildDispatcher(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	c.notifier = webhook.NewNotifier(store,
		webhook.WithTimeout(cfg.WebhookTimeout),
		webhook.WithUserAgent("comms-gateway/"+version),
		webhook.WithLogger(logger),
	)
	c.reviewer = review.NewService(store, c.dispatcher, c.notifier, logger)

	c.server = gateway.New(gateway.Deps{
		Store:    store,
		Consent:  store,
		Auth:     c.auth,
		Limiter:  ratelimit.New(store),
		Filters:  c.filters,
		Reviewer: c.reviewer,
		Logger:   logger,
	},
		gateway.WithVersion(version),
		gateway.WithRequestTimeout(cfg.RequestTimeout),
		gateway.WithMaxBodyBytes(cfg.MaxBodyBytes),
		gateway.WithShutdownTimeout(serverShutdownTimeout),
	)

	return c, nil
}

// reloadFilters recompiles the enabled content filters from storage.
func (c *components) reloadFilters(ctx context.Context) error {
	enabled, err := c.store.ListEnabledFilters(ctx)
	if err != nil {
		return fmt.Errorf("failed to load content filters: %w", err)
	}
	c.filters.Reload(enabled)
	return nil
}

// buildDispatcher registers a sender per configured channel. In dry-run
// mode every channel logs instead.
func buildDispatcher(cfg *config.Config, logger *slog.Logger) (*dispatch.Registry, error) {
	reg := dispatch.NewRegistry()
	if cfg.DryRun {
		for _, ch := range message.Channels() {
			reg.Register(ch, dispatch.LogSender{Logger: logger})
		}
		return reg, nil
	}

	for ch, line := range cfg.SendCommands() {
		sender, err := commandSender(cfg, line)
		if err != nil {
			return nil, fmt.Errorf("invalid send command for %s: %w", ch, err)
		}
		reg.Register(ch, sender)
	}
	return reg, nil
}

// commandSender parses a send command. An approval answers only after the
// send and the webhook finish, so the command gets what is left of the
// request timeout once the webhook is accounted for.
func commandSender(cfg *config.Config, line string) (*dispatch.CommandSender, error) {
	sender, err := dispatch.ParseCommand(line)
	if err != nil {
		return nil, err
	}
	if budget := cfg.RequestTimeout - cfg.WebhookTimeout; budget > 0 && budget < sender.Timeout {
		sender.Timeout = budget
	}
	return sender, nil
}
