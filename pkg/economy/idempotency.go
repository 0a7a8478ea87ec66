package economy

import (
	"context"
	"encoding/json"
	"errors"
)

// runIdempotent executes op exactly once per idempotency key.
//
// The key is reserved before op runs, so a concurrent call with the same key
// observes the reservation and fails fast with ErrDuplicateInFlight. A key
// whose operation already committed replays the stored result snapshot into
// result without invoking op. The snapshot write happens inside the same
// store transaction as op, so a committed operation always has its result on
// record. On failure the reservation is released so the client can retry with
// the same key.
//
// op must leave its complete outcome in result before returning nil; the
// returned bool reports whether the outcome was replayed from an earlier
// execution.
func (service *Service) runIdempotent(ctx context.Context, key IdempotencyKey, result any, op func(ctx context.Context, txStore Store) error) (bool, error) {
	nowUnixUTC := service.nowFn()
	reservation := IdempotencyRecord{
		Key:              key.String(),
		Status:           IdempotencyPending,
		CreatedUnixUTC:   nowUnixUTC,
		ExpiresAtUnixUTC: nowUnixUTC + service.config.Idempotency.RetentionSeconds,
	}
	reserveErr := service.store.InsertIdempotencyRecord(ctx, reservation)
	if errors.Is(reserveErr, ErrDuplicateIdempotencyKey) {
		existing, found, err := service.store.GetIdempotencyRecord(ctx, key)
		if err != nil {
			return false, err
		}
		if !found {
			// The competing record vanished between insert and read;
			// let the caller retry.
			return false, ErrDuplicateInFlight
		}
		if existing.Status != IdempotencyCommitted {
			return false, ErrDuplicateInFlight
		}
		if err := json.Unmarshal(existing.ResultSnapshot, result); err != nil {
			return false, WrapError("idempotency", "snapshot", "decode", err)
		}
		return true, nil
	}
	if reserveErr != nil {
		return false, reserveErr
	}

	executeErr := service.withConflictRetry(ctx, func() error {
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := op(ctx, txStore); err != nil {
				return err
			}
			snapshot, err := json.Marshal(result)
			if err != nil {
				return WrapError("idempotency", "snapshot", "encode", err)
			}
			return txStore.CompleteIdempotencyRecord(ctx, key, snapshot)
		})
	})
	if executeErr != nil {
		_ = service.store.DeleteIdempotencyRecord(ctx, key)
		return false, executeErr
	}
	return false, nil
}
