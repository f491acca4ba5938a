package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	amppool "github.com/amphq/amppool/internal"
)

const (
	statsInterval   = 5 * time.Minute
	statsRetrySleep = 60 * time.Second
	credentialPage  = 10_000
)

// StatsStore is the persistence interface consumed by StatsWorker.
type StatsStore interface {
	AggregateLogs(ctx context.Context, since, until time.Time, groupBy string) ([]amppool.StatRow, error)
	UpsertStats(ctx context.Context, rows []amppool.StatRow) error

	ListCredentials(ctx context.Context, enabledOnly bool, offset, limit int) ([]*amppool.Credential, error)
	SumCost(ctx context.Context, keyID int64, status string) (decimal.Decimal, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error
}

// StatsWorker recomputes rollup rows from the request log every five
// minutes and then refreshes credential balances from accumulated cost.
// Recomputation is absolute over each window, so repeating a tick is
// harmless.
type StatsWorker struct {
	store   StatsStore
	trigger chan struct{}
	now     func() time.Time
}

// NewStatsWorker creates a StatsWorker backed by store.
func NewStatsWorker(store StatsStore) *StatsWorker {
	return &StatsWorker{
		store:   store,
		trigger: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Name returns the worker identifier.
func (w *StatsWorker) Name() string { return "stats" }

// TriggerNow schedules an immediate tick. Coalesces when one is pending.
func (w *StatsWorker) TriggerNow() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run performs an initial tick, then recomputes on the periodic schedule
// until ctx is cancelled. A failed tick is logged and retried after a
// shortened delay rather than aborting the worker.
func (w *StatsWorker) Run(ctx context.Context) error {
	w.tickOrRetry(ctx)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tickOrRetry(ctx)
		case <-w.trigger:
			w.tickOrRetry(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *StatsWorker) tickOrRetry(ctx context.Context) {
	if err := w.Tick(ctx); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "stats tick failed",
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(statsRetrySleep):
		case <-ctx.Done():
		}
	}
}

// Tick recomputes the current rollup windows and refreshes balances once.
func (w *StatsWorker) Tick(ctx context.Context) error {
	now := w.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)
	hourStart := now.Truncate(time.Hour)

	prevStart := hourStart.Add(-time.Hour)

	// Windows recomputed each tick: today so far, the current hour, and the
	// previous hour to pick up rows that landed after its boundary.
	windows := []struct {
		since, until time.Time
		hour         int
	}{
		{dayStart, now, amppool.WholeDayHour},
		{hourStart, now, now.Hour()},
		{prevStart, hourStart, prevStart.Hour()},
	}

	var rows []amppool.StatRow
	for _, win := range windows {
		date := win.since.Format(time.DateOnly)
		for _, dim := range []struct {
			groupBy  string
			statType string
		}{
			{"", amppool.StatGlobal},
			{"provider", amppool.StatProvider},
			{"model", amppool.StatModel},
		} {
			agg, err := w.store.AggregateLogs(ctx, win.since, win.until, dim.groupBy)
			if err != nil {
				return err
			}
			for _, r := range agg {
				r.StatDate = date
				r.StatHour = win.hour
				r.StatType = dim.statType
				rows = append(rows, r)
			}
		}
	}
	if err := w.store.UpsertStats(ctx, rows); err != nil {
		return err
	}

	if err := w.refreshBalances(ctx); err != nil {
		return err
	}
	slog.Info("stats rollup completed", "rows", len(rows))
	return nil
}

// refreshBalances recomputes each enabled credential's remaining balance as
// total_balance minus the summed cost of its successful requests. Keys with
// no known total are skipped.
func (w *StatsWorker) refreshBalances(ctx context.Context) error {
	creds, err := w.store.ListCredentials(ctx, true, 0, credentialPage)
	if err != nil {
		return err
	}
	now := w.now().UTC()
	for _, c := range creds {
		if c.TotalBalance == nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "credential has no total balance, skipping refresh",
				slog.Int64("key_id", c.ID),
			)
			continue
		}
		spent, err := w.store.SumCost(ctx, c.ID, amppool.StatusSuccess)
		if err != nil {
			return err
		}
		if err := w.store.UpdateBalance(ctx, c.ID, c.TotalBalance.Sub(spent), now); err != nil {
			return err
		}
	}
	return nil
}
