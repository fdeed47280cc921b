package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/gale/internal/store"
	"github.com/dukex/gale/pkg/config"
	"github.com/dukex/gale/pkg/dispatch"
	"github.com/dukex/gale/pkg/status"
)

func NewStore(cfg *config.Config, logger *slog.Logger) *store.Store {
	st, err := store.Open(cfg.SQLiteDSN(true), cfg.SQLiteDSN(false), logger)
	if err != nil {
		panic(fmt.Errorf("failed to open run store: %w", err))
	}

	return st
}

// NewReporter picks the status reporter the configuration asks for. With
// no webhook URL configured, status updates only reach the log.
func NewReporter(cfg *config.Config, logger *slog.Logger) status.Reporter {
	if cfg.StatusWebhookURL == "" {
		return status.NewLogReporter(logger)
	}

	return status.MultiReporter{
		status.NewLogReporter(logger),
		status.NewWebhookReporter(cfg.StatusWebhookURL, cfg.StatusWebhookToken, logger),
	}
}

// NewLedger picks the delivery ledger. Redis makes duplicate suppression
// shared across instances; without it the ledger is process local.
func NewLedger(ctx context.Context, cfg *config.Config) dispatch.DeliveryLedger {
	if cfg.RedisAddr == "" {
		return dispatch.NewMemoryLedger(cfg.DeliveryTTL)
	}

	ledger, err := dispatch.NewRedisLedger(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.DeliveryTTL)
	if err != nil {
		panic(fmt.Errorf("failed to connect delivery ledger: %w", err))
	}

	return ledger
}
