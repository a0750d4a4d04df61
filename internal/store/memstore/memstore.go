// Package memstore provides an in-memory implementation of the ledger
// store contracts. A single mutex serializes transactions, which mirrors
// the per-card atomicity the SQL stores provide; it backs the package
// tests and is not a production store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kandutap/fuelcard/pkg/ledger"
	"github.com/shopspring/decimal"
)

// Store keeps cards and transaction history in process memory.
type Store struct {
	mu          sync.Mutex
	cards       map[string]ledger.Card
	topUps      []ledger.TopUp
	pumpRecords []ledger.PumpRecord
	nextTopUpID int64
	nextPumpID  int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{cards: make(map[string]ledger.Card)}
}

// WithTx serializes fn against all other transactions and rolls state back
// when fn returns an error.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, &txView{store: store}); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

func (store *Store) CreateCard(ctx context.Context, cardID ledger.CardID, balance decimal.Decimal, now time.Time) (ledger.Card, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.createCard(cardID, balance, now)
}

func (store *Store) GetCard(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.getCard(cardID)
}

func (store *Store) GetCardForUpdate(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.getCard(cardID)
}

func (store *Store) ListCards(ctx context.Context) ([]ledger.Card, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	cards := make([]ledger.Card, 0, len(store.cards))
	for _, card := range store.cards {
		cards = append(cards, card)
	}
	sort.Slice(cards, func(left, right int) bool {
		return cards[left].ID.String() < cards[right].ID.String()
	})
	return cards, nil
}

func (store *Store) UpdateCardBalance(ctx context.Context, cardID ledger.CardID, balance decimal.Decimal, now time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.updateCardBalance(cardID, balance, now)
}

func (store *Store) UpdateCardStatus(ctx context.Context, cardID ledger.CardID, status ledger.CardStatus, now time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.updateCardStatus(cardID, status, now)
}

func (store *Store) InsertTopUp(ctx context.Context, cardID ledger.CardID, amount decimal.Decimal, now time.Time) (ledger.TopUp, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.insertTopUp(cardID, amount, now)
}

func (store *Store) InsertPumpRecord(ctx context.Context, cardID string, liters decimal.Decimal, cost decimal.Decimal, now time.Time) (ledger.PumpRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.insertPumpRecord(cardID, liters, cost, now)
}

func (store *Store) ListTopUps(ctx context.Context, cardID ledger.CardID) ([]ledger.TopUp, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.listTopUps(cardID), nil
}

func (store *Store) ListPumpRecords(ctx context.Context, cardID string, limit int) ([]ledger.PumpRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.listPumpRecords(cardID, limit), nil
}

func (store *Store) UsageTotals(ctx context.Context) (ledger.UsageTotals, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	totals := ledger.UsageTotals{
		TotalRevenue: decimal.Zero,
		TotalLiters:  decimal.Zero,
	}
	for _, topUp := range store.topUps {
		totals.TotalRevenue = totals.TotalRevenue.Add(topUp.Amount)
	}
	for _, record := range store.pumpRecords {
		totals.TotalLiters = totals.TotalLiters.Add(record.Liters)
		totals.TotalPumps++
	}
	return totals, nil
}

func (store *Store) DailyPumpStats(ctx context.Context, limit int) ([]ledger.DailyStat, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	byDate := make(map[string]*ledger.DailyStat)
	for _, record := range store.pumpRecords {
		date := record.CreatedAt.UTC().Format("2006-01-02")
		stat, exists := byDate[date]
		if !exists {
			stat = &ledger.DailyStat{Date: date, Revenue: decimal.Zero, Liters: decimal.Zero}
			byDate[date] = stat
		}
		stat.Revenue = stat.Revenue.Add(record.Cost)
		stat.Liters = stat.Liters.Add(record.Liters)
		stat.Pumps++
	}
	stats := make([]ledger.DailyStat, 0, len(byDate))
	for _, stat := range byDate {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(left, right int) bool {
		return stats[left].Date > stats[right].Date
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func (store *Store) TopCardsByLiters(ctx context.Context, limit int) ([]ledger.CardUsage, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	byCard := make(map[string]*ledger.CardUsage)
	order := make([]string, 0)
	for _, record := range store.pumpRecords {
		usage, exists := byCard[record.CardID]
		if !exists {
			usage = &ledger.CardUsage{CardID: record.CardID, TotalLiters: decimal.Zero, TotalSpent: decimal.Zero}
			byCard[record.CardID] = usage
			order = append(order, record.CardID)
		}
		usage.TotalLiters = usage.TotalLiters.Add(record.Liters)
		usage.TotalSpent = usage.TotalSpent.Add(record.Cost)
		usage.TotalPumps++
	}
	usages := make([]ledger.CardUsage, 0, len(order))
	for _, cardID := range order {
		usages = append(usages, *byCard[cardID])
	}
	sort.SliceStable(usages, func(left, right int) bool {
		return usages[left].TotalLiters.GreaterThan(usages[right].TotalLiters)
	})
	if len(usages) > limit {
		usages = usages[:limit]
	}
	return usages, nil
}

func (store *Store) HourlyPumpCounts(ctx context.Context) ([]ledger.HourlyCount, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	byHour := make(map[string]int64)
	for _, record := range store.pumpRecords {
		byHour[record.CreatedAt.UTC().Format("15")]++
	}
	counts := make([]ledger.HourlyCount, 0, len(byHour))
	for hour, count := range byHour {
		counts = append(counts, ledger.HourlyCount{Hour: hour, Count: count})
	}
	sort.Slice(counts, func(left, right int) bool {
		return counts[left].Hour < counts[right].Hour
	})
	return counts, nil
}

func (store *Store) ListCardActivity(ctx context.Context) ([]ledger.CardActivity, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	activities := make([]ledger.CardActivity, 0, len(store.cards))
	for _, card := range store.cards {
		activity := ledger.CardActivity{Card: card}
		for _, topUp := range store.topUps {
			if topUp.CardID == card.ID.String() {
				activity.TopUpCount++
			}
		}
		for _, record := range store.pumpRecords {
			if record.CardID == card.ID.String() {
				activity.PumpCount++
			}
		}
		activities = append(activities, activity)
	}
	sort.SliceStable(activities, func(left, right int) bool {
		return activities[left].Card.UpdatedAt.After(activities[right].Card.UpdatedAt)
	})
	return activities, nil
}

// txView exposes the store to a WithTx callback without re-locking.
type txView struct {
	store *Store
}

func (view *txView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, view)
}

func (view *txView) CreateCard(ctx context.Context, cardID ledger.CardID, balance decimal.Decimal, now time.Time) (ledger.Card, error) {
	return view.store.createCard(cardID, balance, now)
}

func (view *txView) GetCard(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	return view.store.getCard(cardID)
}

func (view *txView) GetCardForUpdate(ctx context.Context, cardID ledger.CardID) (ledger.Card, error) {
	return view.store.getCard(cardID)
}

func (view *txView) ListCards(ctx context.Context) ([]ledger.Card, error) {
	cards := make([]ledger.Card, 0, len(view.store.cards))
	for _, card := range view.store.cards {
		cards = append(cards, card)
	}
	return cards, nil
}

func (view *txView) UpdateCardBalance(ctx context.Context, cardID ledger.CardID, balance decimal.Decimal, now time.Time) error {
	return view.store.updateCardBalance(cardID, balance, now)
}

func (view *txView) UpdateCardStatus(ctx context.Context, cardID ledger.CardID, status ledger.CardStatus, now time.Time) error {
	return view.store.updateCardStatus(cardID, status, now)
}

func (view *txView) InsertTopUp(ctx context.Context, cardID ledger.CardID, amount decimal.Decimal, now time.Time) (ledger.TopUp, error) {
	return view.store.insertTopUp(cardID, amount, now)
}

func (view *txView) InsertPumpRecord(ctx context.Context, cardID string, liters decimal.Decimal, cost decimal.Decimal, now time.Time) (ledger.PumpRecord, error) {
	return view.store.insertPumpRecord(cardID, liters, cost, now)
}

func (view *txView) ListTopUps(ctx context.Context, cardID ledger.CardID) ([]ledger.TopUp, error) {
	return view.store.listTopUps(cardID), nil
}

func (view *txView) ListPumpRecords(ctx context.Context, cardID string, limit int) ([]ledger.PumpRecord, error) {
	return view.store.listPumpRecords(cardID, limit), nil
}

func (store *Store) createCard(cardID ledger.CardID, balance decimal.Decimal, now time.Time) (ledger.Card, error) {
	if _, exists := store.cards[cardID.String()]; exists {
		return ledger.Card{}, ledger.ErrDuplicateCard
	}
	card := ledger.Card{
		ID:        cardID,
		Balance:   balance,
		Status:    ledger.CardStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	store.cards[cardID.String()] = card
	return card, nil
}

func (store *Store) getCard(cardID ledger.CardID) (ledger.Card, error) {
	card, exists := store.cards[cardID.String()]
	if !exists {
		return ledger.Card{}, ledger.ErrCardNotFound
	}
	return card, nil
}

func (store *Store) updateCardBalance(cardID ledger.CardID, balance decimal.Decimal, now time.Time) error {
	card, exists := store.cards[cardID.String()]
	if !exists {
		return ledger.ErrCardNotFound
	}
	card.Balance = balance
	card.UpdatedAt = now
	store.cards[cardID.String()] = card
	return nil
}

func (store *Store) updateCardStatus(cardID ledger.CardID, status ledger.CardStatus, now time.Time) error {
	card, exists := store.cards[cardID.String()]
	if !exists {
		return ledger.ErrCardNotFound
	}
	card.Status = status
	card.UpdatedAt = now
	store.cards[cardID.String()] = card
	return nil
}

func (store *Store) insertTopUp(cardID ledger.CardID, amount decimal.Decimal, now time.Time) (ledger.TopUp, error) {
	store.nextTopUpID++
	topUp := ledger.TopUp{
		ID:        store.nextTopUpID,
		CardID:    cardID.String(),
		Amount:    amount,
		CreatedAt: now,
	}
	store.topUps = append(store.topUps, topUp)
	return topUp, nil
}

func (store *Store) insertPumpRecord(cardID string, liters decimal.Decimal, cost decimal.Decimal, now time.Time) (ledger.PumpRecord, error) {
	store.nextPumpID++
	record := ledger.PumpRecord{
		ID:        store.nextPumpID,
		CardID:    cardID,
		Liters:    liters,
		Cost:      cost,
		CreatedAt: now,
	}
	store.pumpRecords = append(store.pumpRecords, record)
	return record, nil
}

func (store *Store) listTopUps(cardID ledger.CardID) []ledger.TopUp {
	topUps := make([]ledger.TopUp, 0)
	for _, topUp := range store.topUps {
		if topUp.CardID == cardID.String() {
			topUps = append(topUps, topUp)
		}
	}
	sort.SliceStable(topUps, func(left, right int) bool {
		if topUps[left].CreatedAt.Equal(topUps[right].CreatedAt) {
			return topUps[left].ID > topUps[right].ID
		}
		return topUps[left].CreatedAt.After(topUps[right].CreatedAt)
	})
	return topUps
}

func (store *Store) listPumpRecords(cardID string, limit int) []ledger.PumpRecord {
	records := make([]ledger.PumpRecord, 0)
	for _, record := range store.pumpRecords {
		if record.CardID == cardID {
			records = append(records, record)
		}
	}
	sort.SliceStable(records, func(left, right int) bool {
		if records[left].CreatedAt.Equal(records[right].CreatedAt) {
			return records[left].ID > records[right].ID
		}
		return records[left].CreatedAt.After(records[right].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

type storeSnapshot struct {
	cards       map[string]ledger.Card
	topUps      []ledger.TopUp
	pumpRecords []ledger.PumpRecord
	nextTopUpID int64
	nextPumpID  int64
}

func (store *Store) snapshot() storeSnapshot {
	cards := make(map[string]ledger.Card, len(store.cards))
	for id, card := range store.cards {
		cards[id] = card
	}
	topUps := make([]ledger.TopUp, len(store.topUps))
	copy(topUps, store.topUps)
	pumpRecords := make([]ledger.PumpRecord, len(store.pumpRecords))
	copy(pumpRecords, store.pumpRecords)
	return storeSnapshot{
		cards:       cards,
		topUps:      topUps,
		pumpRecords: pumpRecords,
		nextTopUpID: store.nextTopUpID,
		nextPumpID:  store.nextPumpID,
	}
}

func (store *Store) restore(snapshot storeSnapshot) {
	store.cards = snapshot.cards
	store.topUps = snapshot.topUps
	store.pumpRecords = snapshot.pumpRecords
	store.nextTopUpID = snapshot.nextTopUpID
	store.nextPumpID = snapshot.nextPumpID
}
