package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation  string
	CardID     string
	Amount     decimal.Decimal
	Liters     decimal.Decimal
	Cost       decimal.Decimal
	CardStatus string
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every mutating operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}
