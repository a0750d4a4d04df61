package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kandutap/fuelcard/pkg/ledger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	sqliteDialectName     = "sqlite"

	errorOperationStore    = "store"
	errorSubjectCard       = "card"
	errorSubjectTopUp      = "top_up"
	errorSubjectPumpRecord = "pump_record"
	errorSubjectReport     = "report"
	errorCodeCreate        = "create"
	errorCodeDuplicate     = "duplicate"
	errorCodeGet           = "get"
	errorCodeInsert        = "insert"
	errorCodeInvalid       = "invalid"
	errorCodeList          = "list"
	errorCodeSeed          = "seed"
	errorCodeTotals        = "totals"
	errorCodeDailyStats    = "daily_stats"
	errorCodeTopCards      = "top_cards"
	errorCodeHourly        = "hourly_distribution"
	errorCodeActivity      = "card_activity"
	errorCodeUpdateBalance = "update_balance"
	errorCodeUpdateStatus  = "update_status"
)

// Store implements ledger.Store and ledger.ReportingStore using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the cards, top_ups, and pump_history tables.
func (store *Store) Migrate(ctx context.Context) error {
	return store.db.WithContext(ctx).AutoMigrate(&Card{}, &TopUp{}, &PumpRecord{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateCard(ctx context.Context, cardID ledger.CardID, balance decimal.Decimal, now time.Time) (ledger.Card, error) {
	row := Card{
		ID:        cardID.String(),
		Balance:   balance,
		Status:    ledger.CardStatusActive.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeDuplicate, ledger.ErrDuplicateCard)
	}
	if err != nil {
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeCreate, err)
	}
	return mapCard(row)
}

func (store *Store) GetCard(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	return store.getCard(ctx, cardID, false)
}

func (store *Store) GetCardForUpdate(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	return store.getCard(ctx, cardID, true)
}

func (store *Store) getCard(ctx context.Context, cardID ledger.CardID, locked bool) (ledger.Card, error) {
	query := store.db.WithContext(ctx)
	// SQLite serializes writers at the transaction level and rejects the
	// FOR UPDATE syntax, so the row lock applies to server engines only.
	if locked && store.db.Dialector.Name() != sqliteDialectName {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row Card
	err := query.Where("id = ?", cardID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, ledger.ErrCardNotFound)
		}
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeGet, err)
	}
	return mapCard(row)
}

func (store *Store) ListCards(ctx context.Context) ([]ledger.Card, error) {
	var rows []Card
	if err := store.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectCard, errorCodeList, err)
	}
	cards := make([]ledger.Card, 0, len(rows))
	for _, row := range rows {
		card, err := mapCard(row)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func (store *Store) UpdateCardBalance(ctx context.Context, cardID ledger.CardID, balance decimal.Decimal, now time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Card{}).
		Where("id = ?", cardID.String()).
		Updates(map[string]interface{}{"balance": balance, "updated_at": now})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCard, errorCodeUpdateBalance, ledger.ErrCardNotFound)
	}
	return nil
}

func (store *Store) UpdateCardStatus(ctx context.Context, cardID ledger.CardID, status ledger.CardStatus, now time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Card{}).
		Where("id = ?", cardID.String()).
		Updates(map[string]interface{}{"status": status.String(), "updated_at": now})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCard, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCard, errorCodeUpdateStatus, ledger.ErrCardNotFound)
	}
	return nil
}

func (store *Store) InsertTopUp(ctx context.Context, cardID ledger.CardID, amount decimal.Decimal, now time.Time) (ledger.TopUp, error) {
	row := TopUp{CardID: cardID.String(), Amount: amount, CreatedAt: now}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.TopUp{}, wrapStoreError(errorSubjectTopUp, errorCodeInsert, err)
	}
	return mapTopUp(row), nil
}

func (store *Store) InsertPumpRecord(ctx context.Context, cardID string, liters decimal.Decimal, cost decimal.Decimal, now time.Time) (ledger.PumpRecord, error) {
	row := PumpRecord{CardID: cardID, Liters: liters, Cost: cost, CreatedAt: now}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return ledger.PumpRecord{}, wrapStoreError(errorSubjectPumpRecord, errorCodeInsert, err)
	}
	return mapPumpRecord(row), nil
}

func (store *Store) ListTopUps(ctx context.Context, cardID ledger.CardID) ([]ledger.TopUp, error) {
	var rows []TopUp
	err := store.db.WithContext(ctx).
		Where("card_id = ?", cardID.String()).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTopUp, errorCodeList, err)
	}
	topUps := make([]ledger.TopUp, 0, len(rows))
	for _, row := range rows {
		topUps = append(topUps, mapTopUp(row))
	}
	return topUps, nil
}

func (store *Store) ListPumpRecords(ctx context.Context, cardID string, limit int) ([]ledger.PumpRecord, error) {
	var rows []PumpRecord
	err := store.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPumpRecord, errorCodeList, err)
	}
	records := make([]ledger.PumpRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, mapPumpRecord(row))
	}
	return records, nil
}

func (store *Store) UsageTotals(ctx context.Context) (ledger.UsageTotals, error) {
	var row struct {
		TotalRevenue decimal.Decimal
		TotalLiters  decimal.Decimal
		TotalPumps   int64
	}
	err := store.db.WithContext(ctx).Raw(
		`SELECT
			(SELECT coalesce(sum(amount), 0) FROM top_ups) AS total_revenue,
			(SELECT coalesce(sum(liters), 0) FROM pump_history) AS total_liters,
			(SELECT count(id) FROM pump_history) AS total_pumps`,
	).Scan(&row).Error
	if err != nil {
		return ledger.UsageTotals{}, wrapStoreError(errorSubjectReport, errorCodeTotals, err)
	}
	return ledger.UsageTotals{
		TotalRevenue: row.TotalRevenue,
		TotalLiters:  row.TotalLiters,
		TotalPumps:   row.TotalPumps,
	}, nil
}

func (store *Store) DailyPumpStats(ctx context.Context, limit int) ([]ledger.DailyStat, error) {
	dateColumn := store.dateExpression()
	var rows []struct {
		Date    string
		Revenue decimal.Decimal
		Liters  decimal.Decimal
		Pumps   int64
	}
	err := store.db.WithContext(ctx).
		Model(&PumpRecord{}).
		Select(dateColumn + " AS date, coalesce(sum(cost), 0) AS revenue, coalesce(sum(liters), 0) AS liters, count(id) AS pumps").
		Group(dateColumn).
		Order(dateColumn + " DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReport, errorCodeDailyStats, err)
	}
	stats := make([]ledger.DailyStat, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, ledger.DailyStat{
			Date:    row.Date,
			Revenue: row.Revenue,
			Liters:  row.Liters,
			Pumps:   row.Pumps,
		})
	}
	return stats, nil
}

func (store *Store) TopCardsByLiters(ctx context.Context, limit int) ([]ledger.CardUsage, error) {
	var rows []struct {
		CardID      string
		TotalLiters decimal.Decimal
		TotalSpent  decimal.Decimal
		TotalPumps  int64
	}
	err := store.db.WithContext(ctx).
		Model(&PumpRecord{}).
		Select("card_id, sum(liters) AS total_liters, sum(cost) AS total_spent, count(id) AS total_pumps").
		Group("card_id").
		Order("total_liters DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReport, errorCodeTopCards, err)
	}
	usages := make([]ledger.CardUsage, 0, len(rows))
	for _, row := range rows {
		usages = append(usages, ledger.CardUsage{
			CardID:      row.CardID,
			TotalLiters: row.TotalLiters,
			TotalSpent:  row.TotalSpent,
			TotalPumps:  row.TotalPumps,
		})
	}
	return usages, nil
}

func (store *Store) HourlyPumpCounts(ctx context.Context) ([]ledger.HourlyCount, error) {
	hourColumn := store.hourExpression()
	var rows []struct {
		Hour  string
		Count int64
	}
	err := store.db.WithContext(ctx).
		Model(&PumpRecord{}).
		Select(hourColumn + " AS hour, count(id) AS count").
		Group(hourColumn).
		Order("hour ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReport, errorCodeHourly, err)
	}
	counts := make([]ledger.HourlyCount, 0, len(rows))
	for _, row := range rows {
		counts = append(counts, ledger.HourlyCount{Hour: row.Hour, Count: row.Count})
	}
	return counts, nil
}

func (store *Store) ListCardActivity(ctx context.Context) ([]ledger.CardActivity, error) {
	var rows []struct {
		ID         string
		Balance    decimal.Decimal
		Status     string
		CreatedAt  time.Time
		UpdatedAt  time.Time
		TopUpCount int64
		PumpCount  int64
	}
	err := store.db.WithContext(ctx).
		Table("cards").
		Select(`cards.id, cards.balance, cards.status, cards.created_at, cards.updated_at,
			count(DISTINCT top_ups.id) AS top_up_count,
			count(DISTINCT pump_history.id) AS pump_count`).
		Joins("LEFT JOIN top_ups ON top_ups.card_id = cards.id").
		Joins("LEFT JOIN pump_history ON pump_history.card_id = cards.id").
		Group("cards.id, cards.balance, cards.status, cards.created_at, cards.updated_at").
		Order("cards.updated_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReport, errorCodeActivity, err)
	}
	activities := make([]ledger.CardActivity, 0, len(rows))
	for _, row := range rows {
		card, err := mapCard(Card{
			ID:        row.ID,
			Balance:   row.Balance,
			Status:    row.Status,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
		if err != nil {
			return nil, err
		}
		activities = append(activities, ledger.CardActivity{
			Card:       card,
			TopUpCount: row.TopUpCount,
			PumpCount:  row.PumpCount,
		})
	}
	return activities, nil
}

// SeedCards provisions the given cards only when the cards table is empty,
// making first-run seeding idempotent across restarts.
func (store *Store) SeedCards(ctx context.Context, seeds []ledger.CardSeed, now time.Time) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var count int64
		if err := transaction.Model(&Card{}).Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectCard, errorCodeSeed, err)
		}
		if count > 0 {
			return nil
		}
		for _, seed := range seeds {
			row := Card{
				ID:        seed.ID.String(),
				Balance:   seed.Balance,
				Status:    ledger.CardStatusActive.String(),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := transaction.Create(&row).Error; err != nil {
				return wrapStoreError(errorSubjectCard, errorCodeSeed, err)
			}
		}
		return nil
	})
}

func (store *Store) dateExpression() string {
	if store.db.Dialector.Name() == sqliteDialectName {
		return "date(created_at)"
	}
	return "to_char(created_at, 'YYYY-MM-DD')"
}

func (store *Store) hourExpression() string {
	if store.db.Dialector.Name() == sqliteDialectName {
		return "strftime('%H', created_at)"
	}
	return "to_char(created_at, 'HH24')"
}

func mapCard(row Card) (ledger.Card, error) {
	cardID, err := ledger.NewCardID(row.ID)
	if err != nil {
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	status, err := ledger.ParseCardStatus(row.Status)
	if err != nil {
		return ledger.Card{}, wrapStoreError(errorSubjectCard, errorCodeInvalid, err)
	}
	return ledger.Card{
		ID:        cardID,
		Balance:   row.Balance,
		Status:    status,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func mapTopUp(row TopUp) ledger.TopUp {
	return ledger.TopUp{
		ID:        row.ID,
		CardID:    row.CardID,
		Amount:    row.Amount,
		CreatedAt: row.CreatedAt,
	}
}

func mapPumpRecord(row PumpRecord) ledger.PumpRecord {
	return ledger.PumpRecord{
		ID:        row.ID,
		CardID:    row.CardID,
		Liters:    row.Liters,
		Cost:      row.Cost,
		CreatedAt: row.CreatedAt,
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
