package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/lumichat/economy/internal/observability"
	"github.com/lumichat/economy/pkg/economy"
)

func TestRecorderCountsOperations(t *testing.T) {
	recorder := observability.NewRecorder(zap.NewNop())
	userID, err := economy.NewUserID("metrics-user")
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	amount, err := economy.NewCoinAmount(25)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}

	operationsBefore := testutil.ToFloat64(observability.OperationsTotal.WithLabelValues("purchase_coins", "ok"))
	replaysBefore := testutil.ToFloat64(observability.ReplaysTotal.WithLabelValues("purchase_coins"))
	coinsBefore := testutil.ToFloat64(observability.CoinsMovedTotal.WithLabelValues("purchase_coins"))

	recorder.LogOperation(context.Background(), economy.OperationLog{
		Operation: "purchase_coins",
		UserID:    userID,
		Amount:    amount,
		Status:    "ok",
	})
	recorder.LogOperation(context.Background(), economy.OperationLog{
		Operation: "purchase_coins",
		UserID:    userID,
		Amount:    amount,
		Replayed:  true,
		Status:    "replayed",
	})
	recorder.LogOperation(context.Background(), economy.OperationLog{
		Operation: "purchase_coins",
		UserID:    userID,
		Status:    "error",
		Error:     errors.New("store unavailable"),
	})

	if got := testutil.ToFloat64(observability.OperationsTotal.WithLabelValues("purchase_coins", "ok")); got != operationsBefore+1 {
		t.Fatalf("expected one new ok operation, got delta %v", got-operationsBefore)
	}
	if got := testutil.ToFloat64(observability.ReplaysTotal.WithLabelValues("purchase_coins")); got != replaysBefore+1 {
		t.Fatalf("expected one new replay, got delta %v", got-replaysBefore)
	}
	if got := testutil.ToFloat64(observability.CoinsMovedTotal.WithLabelValues("purchase_coins")); got != coinsBefore+50 {
		t.Fatalf("expected 50 coins counted across both successful entries, got delta %v", got-coinsBefore)
	}
}
