// Package oplog bridges ledger operation callbacks onto a zap logger.
package oplog

import (
	"context"

	"github.com/kandutap/fuelcard/pkg/ledger"
	"go.uber.org/zap"
)

// Logger emits one structured log line per ledger operation.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger writing through the supplied zap logger.
func New(logger *zap.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *Logger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("card_id", entry.CardID),
		zap.String("status", entry.Status),
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if !entry.Liters.IsZero() {
		fields = append(fields, zap.String("liters", entry.Liters.String()))
	}
	if !entry.Cost.IsZero() {
		fields = append(fields, zap.String("cost", entry.Cost.String()))
	}
	if entry.CardStatus != "" {
		fields = append(fields, zap.String("card_status", entry.CardStatus))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}
