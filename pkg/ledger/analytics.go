package ledger

import (
	"context"
	"fmt"
)

// Reporter computes read-only usage summaries over the transaction history.
// It holds no state between calls: every method recomputes from the store,
// and none of them blocks a concurrent ledger write.
type Reporter struct {
	store ReportingStore
}

// NewReporter wires a Reporter.
func NewReporter(store ReportingStore) (*Reporter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: reporting store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Reporter{store: store}, nil
}

// Totals sums top-up amounts and dispensed liters and counts pump events
// across all cards.
func (reporter *Reporter) Totals(ctx context.Context) (UsageTotals, error) {
	return reporter.store.UsageTotals(ctx)
}

// DailyStats groups pump activity by calendar date, newest date first,
// truncated to the most recent limit days present in the data. Days with
// no pump events are absent, not zero-filled. A non-positive limit falls
// back to DefaultDailyStatsLimit.
func (reporter *Reporter) DailyStats(ctx context.Context, limit int) ([]DailyStat, error) {
	if limit <= 0 {
		limit = DefaultDailyStatsLimit
	}
	return reporter.store.DailyPumpStats(ctx, limit)
}

// TopCards ranks cards by total dispensed liters, descending. A
// non-positive limit falls back to DefaultTopCardsLimit.
func (reporter *Reporter) TopCards(ctx context.Context, limit int) ([]CardUsage, error) {
	if limit <= 0 {
		limit = DefaultTopCardsLimit
	}
	return reporter.store.TopCardsByLiters(ctx, limit)
}

// HourlyDistribution counts pump events per observed hour of day,
// ascending by hour. Hours with no events are absent.
func (reporter *Reporter) HourlyDistribution(ctx context.Context) ([]HourlyCount, error) {
	return reporter.store.HourlyPumpCounts(ctx)
}

// CardActivity lists every card with its top-up and pump counts, most
// recently updated first.
func (reporter *Reporter) CardActivity(ctx context.Context) ([]CardActivity, error) {
	return reporter.store.ListCardActivity(ctx)
}

// Report combines every aggregate view into a single payload.
func (reporter *Reporter) Report(ctx context.Context) (AdminReport, error) {
	totals, err := reporter.Totals(ctx)
	if err != nil {
		return AdminReport{}, err
	}
	dailyStats, err := reporter.DailyStats(ctx, DefaultDailyStatsLimit)
	if err != nil {
		return AdminReport{}, err
	}
	topCards, err := reporter.TopCards(ctx, DefaultTopCardsLimit)
	if err != nil {
		return AdminReport{}, err
	}
	hourlyDistribution, err := reporter.HourlyDistribution(ctx)
	if err != nil {
		return AdminReport{}, err
	}
	cards, err := reporter.CardActivity(ctx)
	if err != nil {
		return AdminReport{}, err
	}
	return AdminReport{
		Totals:             totals,
		DailyStats:         dailyStats,
		TopCards:           topCards,
		HourlyDistribution: hourlyDistribution,
		Cards:              cards,
	}, nil
}
