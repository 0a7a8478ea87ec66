package economy

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing economy operation.
type OperationLog struct {
	Operation      string
	UserID         UserID
	Amount         CoinAmount
	IdempotencyKey IdempotencyKey
	Replayed       bool
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithConflictRetries overrides how many times a transient store conflict is
// retried before surfacing.
func WithConflictRetries(attempts int) ServiceOption {
	return func(service *Service) {
		if attempts > 0 {
			service.conflictRetries = attempts
		}
	}
}
