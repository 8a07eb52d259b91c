package service

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Reporter receives durable sync failures and recoveries.
type Reporter interface {
	DurableWriteFailed(ctx context.Context, accountID, op string, err error)
	Resynced(ctx context.Context, accountID string)
}

type SyncReporter struct {
	log      *slog.Logger
	failures *prometheus.CounterVec
	resyncs  *prometheus.CounterVec
}

func NewSyncReporter(log *slog.Logger, failures, resyncs *prometheus.CounterVec) *SyncReporter {
	return &SyncReporter{log: log, failures: failures, resyncs: resyncs}
}

func (r *SyncReporter) DurableWriteFailed(ctx context.Context, accountID, op string, err error) {
	r.log.ErrorContext(ctx, "durable cart write failed, session degraded to local-only",
		"user_id", accountID, "op", op, "error", err)
	r.failures.WithLabelValues(op).Inc()
}

func (r *SyncReporter) Resynced(ctx context.Context, accountID string) {
	r.log.InfoContext(ctx, "durable cart sync re-established", "user_id", accountID)
	r.resyncs.WithLabelValues().Inc()
}
