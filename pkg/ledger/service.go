package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Service is the account ledger: every balance mutation it performs is
// tied to an auditable transaction record, except SetBalance, which is a
// documented administrative override.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ProvisionCard creates a card with an initial balance. The card id format
// is guaranteed by the CardID type; duplicates fail with ErrDuplicateCard
// and leave the existing card untouched.
func (service *Service) ProvisionCard(ctx context.Context, cardID CardID, initialBalance decimal.Decimal) error {
	_, operationError := service.store.CreateCard(ctx, cardID, initialBalance, service.nowFn())
	service.logOperation(ctx, OperationLog{
		Operation: operationProvisionCard,
		CardID:    cardID.String(),
		Amount:    initialBalance,
		Error:     operationError,
	})
	return operationError
}

// SetBalance overwrites a card's balance without writing a top-up record.
// It is an administrative escape hatch from the transaction-derived
// balance invariant; callers wanting an auditable change use ApplyTopUp.
func (service *Service) SetBalance(ctx context.Context, cardID CardID, balance decimal.Decimal) error {
	operationError := service.store.UpdateCardBalance(ctx, cardID, balance, service.nowFn())
	service.logOperation(ctx, OperationLog{
		Operation: operationSetBalance,
		CardID:    cardID.String(),
		Amount:    balance,
		Error:     operationError,
	})
	return operationError
}

// ApplyTopUp appends a top-up record and raises the card balance by the
// same amount in one atomic transaction: the card read and the balance
// write cannot interleave with another top-up or balance override on the
// same card. Negative and zero amounts are accepted.
func (service *Service) ApplyTopUp(ctx context.Context, cardID CardID, amount decimal.Decimal) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		card, err := transactionStore.GetCardForUpdate(ctx, cardID)
		if err != nil {
			return err
		}
		now := service.nowFn()
		if _, err := transactionStore.InsertTopUp(ctx, cardID, amount, now); err != nil {
			return err
		}
		return transactionStore.UpdateCardBalance(ctx, cardID, card.Balance.Add(amount), now)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationApplyTopUp,
		CardID:    cardID.String(),
		Amount:    amount,
		Error:     operationError,
	})
	return operationError
}

// SetStatus moves a card between the active and disabled states.
func (service *Service) SetStatus(ctx context.Context, cardID CardID, status CardStatus) error {
	operationError := service.store.UpdateCardStatus(ctx, cardID, status, service.nowFn())
	service.logOperation(ctx, OperationLog{
		Operation:  operationSetStatus,
		CardID:     cardID.String(),
		CardStatus: status.String(),
		Error:      operationError,
	})
	return operationError
}

// Card returns a single card.
func (service *Service) Card(ctx context.Context, cardID CardID) (Card, error) {
	return service.store.GetCard(ctx, cardID)
}

// Cards returns every card, unordered.
func (service *Service) Cards(ctx context.Context) ([]Card, error) {
	return service.store.ListCards(ctx)
}

// TopUpHistory returns a card together with its top-ups, newest first.
func (service *Service) TopUpHistory(ctx context.Context, cardID CardID) (Card, []TopUp, error) {
	card, err := service.store.GetCard(ctx, cardID)
	if err != nil {
		return Card{}, nil, err
	}
	topUps, err := service.store.ListTopUps(ctx, cardID)
	if err != nil {
		return Card{}, nil, err
	}
	return card, topUps, nil
}

// RecordPumpUsage appends a dispense record. It intentionally mirrors the
// terminal protocol: the card is not required to exist, the balance is not
// debited, and funds sufficiency is not checked.
func (service *Service) RecordPumpUsage(ctx context.Context, cardID string, liters decimal.Decimal, cost decimal.Decimal) error {
	_, operationError := service.store.InsertPumpRecord(ctx, cardID, liters, cost, service.nowFn())
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordPumpUsage,
		CardID:    cardID,
		Liters:    liters,
		Cost:      cost,
		Error:     operationError,
	})
	return operationError
}

// PumpHistory returns a card's dispense records, newest first.
// A non-positive limit falls back to DefaultPumpHistoryLimit.
func (service *Service) PumpHistory(ctx context.Context, cardID string, limit int) ([]PumpRecord, error) {
	if limit <= 0 {
		limit = DefaultPumpHistoryLimit
	}
	return service.store.ListPumpRecords(ctx, cardID, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
