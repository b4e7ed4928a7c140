package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// RevocationPruner deletes revocation-ledger entries whose expiry has passed.
type RevocationPruner interface {
	DeleteExpiredRevocations(ctx context.Context, before time.Time) (int64, error)
}

// NewRevokedPruneHandler builds the asynq handler for TaskRevokedPrune.
// Pruning is pure housekeeping: an expired ledger entry already reads as
// "not revoked", so removing it never changes a validity answer.
func NewRevokedPruneHandler(repo RevocationPruner, logger *slog.Logger, pruned prometheus.Counter) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		rows, err := repo.DeleteExpiredRevocations(ctx, time.Now())
		if err != nil {
			return err
		}
		if pruned != nil {
			pruned.Add(float64(rows))
		}
		if logger != nil {
			logger.Info("pruned expired revocations", slog.Int64("rows", rows))
		}
		return nil
	}
}

// NewPrunedCounter registers and returns the pruned-rows counter.
func NewPrunedCounter(reg prometheus.Registerer) prometheus.Counter {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_revoked_tokens_pruned_total",
		Help: "Revocation ledger entries removed by the pruning job.",
	})
	if reg != nil {
		reg.MustRegister(counter)
	}
	return counter
}
