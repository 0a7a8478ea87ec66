package economy

import (
	"context"
	"errors"
	"testing"
)

type capturingLogger struct {
	entries []OperationLog
}

func (logger *capturingLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func (logger *capturingLogger) last(test *testing.T) OperationLog {
	test.Helper()
	if len(logger.entries) == 0 {
		test.Fatalf("no operation logged")
	}
	return logger.entries[len(logger.entries)-1]
}

func TestOperationLoggingStatuses(test *testing.T) {
	test.Parallel()
	clock := newTestClock(startOfDayUnixUTC)
	store := newStubStore(test, clock.Now)
	logger := &capturingLogger{}
	service := mustNewService(test, store, clock, WithOperationLogger(logger))
	userID := mustUserID(test, "logged-user")
	key := mustIdempotencyKey(test, "log-1")

	if _, err := service.ApplyTransaction(context.Background(), userID, mustAmount(test, 10), TransactionCredit, "topup", key, mustMetadata(test, "{}")); err != nil {
		test.Fatalf("credit: %v", err)
	}
	entry := logger.last(test)
	if entry.Operation != "apply_transaction" || entry.Status != "ok" {
		test.Fatalf("expected ok apply_transaction, got %q %q", entry.Operation, entry.Status)
	}
	if entry.Amount.Int64() != 10 || entry.UserID.String() != "logged-user" {
		test.Fatalf("entry must carry amount and user, got %d %q", entry.Amount.Int64(), entry.UserID.String())
	}

	if _, err := service.ApplyTransaction(context.Background(), userID, mustAmount(test, 10), TransactionCredit, "topup", key, mustMetadata(test, "{}")); err != nil {
		test.Fatalf("replayed credit: %v", err)
	}
	entry = logger.last(test)
	if entry.Status != "replayed" || !entry.Replayed {
		test.Fatalf("expected a replayed entry, got %q", entry.Status)
	}

	_, err := service.ApplyTransaction(context.Background(), userID, mustAmount(test, 500), TransactionDebit, "overdraft", mustIdempotencyKey(test, "log-2"), mustMetadata(test, "{}"))
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	entry = logger.last(test)
	if entry.Status != "error" || !errors.Is(entry.Error, ErrInsufficientBalance) {
		test.Fatalf("expected an error entry, got %q %v", entry.Status, entry.Error)
	}
}

func TestServiceWithoutLoggerStaysQuiet(test *testing.T) {
	test.Parallel()
	clock := newTestClock(startOfDayUnixUTC)
	store := newStubStore(test, clock.Now)
	service := mustNewService(test, store, clock)

	if _, err := service.ApplyTransaction(context.Background(), mustUserID(test, "quiet-user"), mustAmount(test, 10), TransactionCredit, "topup", mustIdempotencyKey(test, "quiet-1"), mustMetadata(test, "{}")); err != nil {
		test.Fatalf("credit: %v", err)
	}
}
