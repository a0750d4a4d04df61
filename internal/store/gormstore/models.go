package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Card mirrors the cards table.
type Card struct {
	ID        string          `gorm:"primaryKey"`
	Balance   decimal.Decimal `gorm:"type:numeric;not null"`
	Status    string          `gorm:"not null;default:active"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

func (Card) TableName() string { return "cards" }

// TopUp mirrors the top_ups table.
type TopUp struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	CardID    string          `gorm:"not null;index:idx_top_ups_card_created,priority:1"`
	Amount    decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt time.Time       `gorm:"not null;index:idx_top_ups_card_created,priority:2"`
}

func (TopUp) TableName() string { return "top_ups" }

// PumpRecord mirrors the pump_history table. The card_id column carries no
// foreign-key constraint: dispense events are recorded even for card ids
// the system has never provisioned.
type PumpRecord struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	CardID    string          `gorm:"not null;index:idx_pump_history_card_created,priority:1"`
	Liters    decimal.Decimal `gorm:"type:numeric;not null"`
	Cost      decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt time.Time       `gorm:"not null;index:idx_pump_history_card_created,priority:2"`
}

func (PumpRecord) TableName() string { return "pump_history" }
