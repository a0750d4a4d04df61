package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const minCardIDLength = 4

// CardID identifies a stored-value card: a digit string of at least four characters.
type CardID struct {
	value string
}

// NewCardID validates and normalizes a card identifier.
func NewCardID(raw string) (CardID, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < minCardIDLength {
		return CardID{}, fmt.Errorf("%w: must be at least %d digits", ErrInvalidCardID, minCardIDLength)
	}
	for _, character := range trimmed {
		if character < '0' || character > '9' {
			return CardID{}, fmt.Errorf("%w: must contain digits only", ErrInvalidCardID)
		}
	}
	return CardID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CardID) String() string {
	return id.value
}

// CardStatus defines the card lifecycle states.
type CardStatus string

const (
	CardStatusActive   CardStatus = "active"
	CardStatusDisabled CardStatus = "disabled"
)

// ParseCardStatus validates a raw status value.
func ParseCardStatus(raw string) (CardStatus, error) {
	switch CardStatus(strings.TrimSpace(raw)) {
	case CardStatusActive:
		return CardStatusActive, nil
	case CardStatusDisabled:
		return CardStatusDisabled, nil
	default:
		return "", fmt.Errorf("%w: must be %q or %q", ErrInvalidCardStatus, CardStatusActive, CardStatusDisabled)
	}
}

// String returns the status value.
func (status CardStatus) String() string {
	return string(status)
}

// NewAmount converts a raw numeric value into a decimal amount,
// rejecting non-finite inputs before they reach the store.
func NewAmount(raw float64) (decimal.Decimal, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return decimal.Decimal{}, fmt.Errorf("%w: must be a finite number", ErrInvalidAmount)
	}
	return decimal.NewFromFloat(raw), nil
}

// Card is a stored-value account.
type Card struct {
	ID        CardID
	Balance   decimal.Decimal
	Status    CardStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TopUp is an immutable record of a balance-increasing funding event.
type TopUp struct {
	ID        int64
	CardID    string
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// PumpRecord is an immutable record of a dispense event.
// Its card id is recorded as given; the referenced card is not required to exist.
type PumpRecord struct {
	ID        int64
	CardID    string
	Liters    decimal.Decimal
	Cost      decimal.Decimal
	CreatedAt time.Time
}

// CardSeed describes a card provisioned during first-run seeding.
type CardSeed struct {
	ID      CardID
	Balance decimal.Decimal
}

// UsageTotals aggregates funding and dispense activity across all cards.
type UsageTotals struct {
	TotalRevenue decimal.Decimal
	TotalLiters  decimal.Decimal
	TotalPumps   int64
}

// DailyStat is a per-calendar-date rollup of pump activity.
type DailyStat struct {
	Date    string
	Revenue decimal.Decimal
	Liters  decimal.Decimal
	Pumps   int64
}

// CardUsage ranks a card by its total dispensed volume.
type CardUsage struct {
	CardID      string
	TotalLiters decimal.Decimal
	TotalSpent  decimal.Decimal
	TotalPumps  int64
}

// HourlyCount is the number of pump events observed in one hour-of-day bucket.
// Hour is zero padded, "00" through "23".
type HourlyCount struct {
	Hour  string
	Count int64
}

// CardActivity pairs a card with its transaction counts.
type CardActivity struct {
	Card       Card
	TopUpCount int64
	PumpCount  int64
}

// AdminReport bundles every aggregate view into one payload.
type AdminReport struct {
	Totals             UsageTotals
	DailyStats         []DailyStat
	TopCards           []CardUsage
	HourlyDistribution []HourlyCount
	Cards              []CardActivity
}

// Store is the transactional persistence contract used by Service.
type Store interface {
	// WithTx runs fn against a transaction-scoped store. A nil return
	// commits; any error rolls back. The handle is released either way.
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateCard(ctx context.Context, cardID CardID, balance decimal.Decimal, now time.Time) (Card, error)
	GetCard(ctx context.Context, cardID CardID) (Card, error)
	// GetCardForUpdate reads a card while holding a row lock on engines
	// that support one, so a concurrent read-modify-write on the same
	// card cannot interleave.
	GetCardForUpdate(ctx context.Context, cardID CardID) (Card, error)
	ListCards(ctx context.Context) ([]Card, error)
	UpdateCardBalance(ctx context.Context, cardID CardID, balance decimal.Decimal, now time.Time) error
	UpdateCardStatus(ctx context.Context, cardID CardID, status CardStatus, now time.Time) error
	InsertTopUp(ctx context.Context, cardID CardID, amount decimal.Decimal, now time.Time) (TopUp, error)
	InsertPumpRecord(ctx context.Context, cardID string, liters decimal.Decimal, cost decimal.Decimal, now time.Time) (PumpRecord, error)
	ListTopUps(ctx context.Context, cardID CardID) ([]TopUp, error)
	ListPumpRecords(ctx context.Context, cardID string, limit int) ([]PumpRecord, error)
}

// ReportingStore is the read-only aggregate contract used by Reporter.
// Read-committed isolation is sufficient for every method.
type ReportingStore interface {
	UsageTotals(ctx context.Context) (UsageTotals, error)
	DailyPumpStats(ctx context.Context, limit int) ([]DailyStat, error)
	TopCardsByLiters(ctx context.Context, limit int) ([]CardUsage, error)
	HourlyPumpCounts(ctx context.Context) ([]HourlyCount, error)
	ListCardActivity(ctx context.Context) ([]CardActivity, error)
}
