// Package observability wires operation logging and Prometheus metrics for
// the economy service.
package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/lumichat/economy/pkg/economy"
)

// OperationsTotal counts state-changing operations by name and outcome.
var OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "economy",
	Subsystem: "service",
	Name:      "operations_total",
	Help:      "Total economy operations by operation and status.",
}, []string{"operation", "status"})

// ReplaysTotal counts operations answered from an idempotency snapshot.
var ReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "economy",
	Subsystem: "service",
	Name:      "replays_total",
	Help:      "Total operations answered from a stored idempotency snapshot.",
}, []string{"operation"})

// CoinsMovedTotal sums coin amounts flowing through committed operations.
var CoinsMovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "economy",
	Subsystem: "service",
	Name:      "coins_moved_total",
	Help:      "Total coins moved by committed operations, by operation.",
}, []string{"operation"})

// Recorder implements economy.OperationLogger: every operation callback is
// logged through zap and counted in Prometheus.
type Recorder struct {
	logger *zap.Logger
}

// NewRecorder returns a Recorder writing through the given zap logger.
func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// LogOperation records one operation outcome.
func (recorder *Recorder) LogOperation(_ context.Context, entry economy.OperationLog) {
	OperationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Replayed {
		ReplaysTotal.WithLabelValues(entry.Operation).Inc()
	}
	if entry.Error == nil && entry.Amount > 0 {
		CoinsMovedTotal.WithLabelValues(entry.Operation).Add(float64(entry.Amount.Int64()))
	}

	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount_coins", entry.Amount.Int64()),
		zap.String("idempotency_key", entry.IdempotencyKey.String()),
		zap.Bool("replayed", entry.Replayed),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		recorder.logger.Warn("economy operation failed", fields...)
		return
	}
	recorder.logger.Info("economy operation", fields...)
}
