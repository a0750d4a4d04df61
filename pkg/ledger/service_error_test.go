package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	cardIDValue            = "12345"
	errStoreMessage        = "store error"
	caseGetCardError       = "card lookup error"
	caseInsertTopUpError   = "insert top-up error"
	caseUpdateBalanceError = "update balance error"
	caseCreateCardError    = "create card error"
	caseUpdateStatusError  = "update status error"
	caseInsertPumpError    = "insert pump record error"
	caseListTopUpsError    = "list top-ups error"
	caseListPumpError      = "list pump records error"
	errorMismatchMessage   = "expected %v, got %v"
	unexpectedWriteMessage = "unexpected write after failed step"
	missingRollbackMessage = "expected transaction rollback"
)

var errStoreFailure = errors.New(errStoreMessage)

// stubStore returns canned values and injectable errors; WithTx tracks
// whether the callback failed so rollback behavior can be asserted.
type stubStore struct {
	card               Card
	getCardError       error
	createCardError    error
	insertTopUpError   error
	updateBalanceError error
	updateStatusError  error
	insertPumpError    error
	listTopUpsError    error
	listPumpError      error

	topUpInserted  bool
	balanceUpdated bool
	rolledBack     bool
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	cardID := mustCardID(test, cardIDValue)
	return &stubStore{
		card: Card{
			ID:      cardID,
			Balance: decimal.NewFromInt(100),
			Status:  CardStatusActive,
		},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	err := fn(ctx, store)
	if err != nil {
		store.rolledBack = true
	}
	return err
}

func (store *stubStore) CreateCard(ctx context.Context, cardID CardID, balance decimal.Decimal, now time.Time) (Card, error) {
	if store.createCardError != nil {
		return Card{}, store.createCardError
	}
	return store.card, nil
}

func (store *stubStore) GetCard(ctx context.Context, cardID CardID) (Card, error) {
	if store.getCardError != nil {
		return Card{}, store.getCardError
	}
	return store.card, nil
}

func (store *stubStore) GetCardForUpdate(ctx context.Context, cardID CardID) (Card, error) {
	return store.GetCard(ctx, cardID)
}

func (store *stubStore) ListCards(ctx context.Context) ([]Card, error) {
	return []Card{store.card}, nil
}

func (store *stubStore) UpdateCardBalance(ctx context.Context, cardID CardID, balance decimal.Decimal, now time.Time) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	store.balanceUpdated = true
	return nil
}

func (store *stubStore) UpdateCardStatus(ctx context.Context, cardID CardID, status CardStatus, now time.Time) error {
	return store.updateStatusError
}

func (store *stubStore) InsertTopUp(ctx context.Context, cardID CardID, amount decimal.Decimal, now time.Time) (TopUp, error) {
	if store.insertTopUpError != nil {
		return TopUp{}, store.insertTopUpError
	}
	store.topUpInserted = true
	return TopUp{ID: 1, CardID: cardID.String(), Amount: amount, CreatedAt: now}, nil
}

func (store *stubStore) InsertPumpRecord(ctx context.Context, cardID string, liters decimal.Decimal, cost decimal.Decimal, now time.Time) (PumpRecord, error) {
	if store.insertPumpError != nil {
		return PumpRecord{}, store.insertPumpError
	}
	return PumpRecord{ID: 1, CardID: cardID, Liters: liters, Cost: cost, CreatedAt: now}, nil
}

func (store *stubStore) ListTopUps(ctx context.Context, cardID CardID) ([]TopUp, error) {
	if store.listTopUpsError != nil {
		return nil, store.listTopUpsError
	}
	return []TopUp{}, nil
}

func (store *stubStore) ListPumpRecords(ctx context.Context, cardID string, limit int) ([]PumpRecord, error) {
	if store.listPumpError != nil {
		return nil, store.listPumpError
	}
	return []PumpRecord{}, nil
}

func mustCardID(test *testing.T, raw string) CardID {
	test.Helper()
	cardID, err := NewCardID(raw)
	if err != nil {
		test.Fatalf("card id: %v", err)
	}
	return cardID
}

func mustNewService(test *testing.T, store Store) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return time.Unix(0, 0).UTC() })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	return service
}

func TestNewServiceValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() time.Time { return time.Now() }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
}

func TestNewReporterValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewReporter(nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
}

func TestApplyTopUpReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{
			name: caseGetCardError,
			configure: func(store *stubStore) {
				store.getCardError = errStoreFailure
			},
		},
		{
			name: caseInsertTopUpError,
			configure: func(store *stubStore) {
				store.insertTopUpError = errStoreFailure
			},
		},
		{
			name: caseUpdateBalanceError,
			configure: func(store *stubStore) {
				store.updateBalanceError = errStoreFailure
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)
			cardID := mustCardID(test, cardIDValue)

			err := service.ApplyTopUp(context.Background(), cardID, decimal.NewFromInt(10))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
			if !store.rolledBack {
				test.Fatalf(missingRollbackMessage)
			}
			if store.balanceUpdated && store.insertTopUpError != nil {
				test.Fatalf(unexpectedWriteMessage)
			}
		})
	}
}

func TestSingleStepOperationsReturnStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
		invoke    func(service *Service, cardID CardID) error
	}{
		{
			name: caseCreateCardError,
			configure: func(store *stubStore) {
				store.createCardError = errStoreFailure
			},
			invoke: func(service *Service, cardID CardID) error {
				return service.ProvisionCard(context.Background(), cardID, decimal.NewFromInt(50))
			},
		},
		{
			name: caseUpdateBalanceError,
			configure: func(store *stubStore) {
				store.updateBalanceError = errStoreFailure
			},
			invoke: func(service *Service, cardID CardID) error {
				return service.SetBalance(context.Background(), cardID, decimal.NewFromInt(50))
			},
		},
		{
			name: caseUpdateStatusError,
			configure: func(store *stubStore) {
				store.updateStatusError = errStoreFailure
			},
			invoke: func(service *Service, cardID CardID) error {
				return service.SetStatus(context.Background(), cardID, CardStatusDisabled)
			},
		},
		{
			name: caseInsertPumpError,
			configure: func(store *stubStore) {
				store.insertPumpError = errStoreFailure
			},
			invoke: func(service *Service, cardID CardID) error {
				return service.RecordPumpUsage(context.Background(), cardID.String(), decimal.NewFromInt(5), decimal.NewFromInt(7))
			},
		},
		{
			name: caseListTopUpsError,
			configure: func(store *stubStore) {
				store.listTopUpsError = errStoreFailure
			},
			invoke: func(service *Service, cardID CardID) error {
				_, _, err := service.TopUpHistory(context.Background(), cardID)
				return err
			},
		},
		{
			name: caseListPumpError,
			configure: func(store *stubStore) {
				store.listPumpError = errStoreFailure
			},
			invoke: func(service *Service, cardID CardID) error {
				_, err := service.PumpHistory(context.Background(), cardID.String(), 10)
				return err
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)
			cardID := mustCardID(test, cardIDValue)

			if err := testCase.invoke(service, cardID); !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
		})
	}
}
