package worker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	amppool "github.com/amphq/amppool/internal"
	"github.com/amphq/amppool/internal/testutil"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedLogs(t *testing.T, store *testutil.FakeStore, now time.Time) {
	t.Helper()
	ctx := context.Background()
	rows := []amppool.LogRecord{
		{KeyID: 1, Provider: "openai", Model: "gpt-4o", Status: amppool.StatusSuccess,
			PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: dec("0.25")},
		{KeyID: 1, Provider: "anthropic", Model: "claude-3-opus-20240229", Status: amppool.StatusSuccess,
			PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28, Cost: dec("0.50")},
		{KeyID: 1, Provider: "openai", Model: "gpt-4o", Status: amppool.StatusError},
	}
	for i := range rows {
		if err := store.InsertLog(ctx, &rows[i]); err != nil {
			t.Fatalf("InsertLog: %v", err)
		}
		store.Logs[i].CreatedAt = now.Add(-time.Minute)
	}
}

func newFixedStatsWorker(store *testutil.FakeStore, now time.Time) *StatsWorker {
	w := NewStatsWorker(store)
	w.now = func() time.Time { return now }
	return w
}

func TestTickRollsUpAllDimensions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	store := testutil.NewFakeStore()
	seedLogs(t, store, now)
	w := newFixedStatsWorker(store, now)

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	hour := 10
	day, err := store.QueryStats(context.Background(), amppool.StatFilter{
		StatDate: "2026-03-14", StatType: amppool.StatGlobal,
	})
	if err != nil {
		t.Fatalf("QueryStats: %v", err)
	}
	var whole, hourly *amppool.StatRow
	for i := range day {
		switch day[i].StatHour {
		case amppool.WholeDayHour:
			whole = &day[i]
		case hour:
			hourly = &day[i]
		}
	}
	if whole == nil || hourly == nil {
		t.Fatalf("missing global rows: %+v", day)
	}
	if whole.RequestCount != 3 || whole.SuccessCount != 2 || whole.ErrorCount != 1 {
		t.Errorf("whole-day counts = %d/%d/%d", whole.RequestCount, whole.SuccessCount, whole.ErrorCount)
	}
	if !whole.Cost.Equal(dec("0.75")) {
		t.Errorf("whole-day cost = %s, want 0.75", whole.Cost)
	}

	byProvider, _ := store.QueryStats(context.Background(), amppool.StatFilter{
		StatDate: "2026-03-14", StatType: amppool.StatProvider, Provider: "openai",
	})
	if len(byProvider) == 0 {
		t.Fatal("no provider rows")
	}
	byModel, _ := store.QueryStats(context.Background(), amppool.StatFilter{
		StatDate: "2026-03-14", StatType: amppool.StatModel, Model: "gpt-4o",
	})
	if len(byModel) == 0 {
		t.Fatal("no model rows")
	}
}

// Recomputation is absolute: running the tick twice must not double counts.
func TestTickIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	store := testutil.NewFakeStore()
	seedLogs(t, store, now)
	w := newFixedStatsWorker(store, now)
	ctx := context.Background()

	if err := w.Tick(ctx); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	first, _ := store.QueryStats(ctx, amppool.StatFilter{})

	if err := w.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	second, _ := store.QueryStats(ctx, amppool.StatFilter{})

	if len(first) != len(second) {
		t.Fatalf("row count changed: %d -> %d", len(first), len(second))
	}
	hour := -1
	rows, _ := store.QueryStats(ctx, amppool.StatFilter{
		StatDate: "2026-03-14", StatHour: &hour, StatType: amppool.StatGlobal,
	})
	if len(rows) != 1 {
		t.Fatalf("global whole-day rows = %d, want 1", len(rows))
	}
	if rows[0].RequestCount != 3 {
		t.Errorf("request count = %d, want 3 after repeat tick", rows[0].RequestCount)
	}
}

func TestBalanceRefresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	store := testutil.NewFakeStore()
	ctx := context.Background()

	total := dec("10.00")
	err := store.CreateCredential(ctx, &amppool.Credential{
		APIKey: "sk-a", Enabled: true, TotalBalance: &total,
	})
	if err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	// A key with no known total is skipped, not zeroed.
	if err := store.CreateCredential(ctx, &amppool.Credential{APIKey: "sk-b", Enabled: true}); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}
	seedLogs(t, store, now)

	w := newFixedStatsWorker(store, now)
	if err := w.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	c, err := store.GetCredential(ctx, 1)
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if c.Balance == nil {
		t.Fatal("balance not set")
	}
	// 10.00 - 0.25 - 0.50; the error row's cost does not count.
	if !c.Balance.Equal(dec("9.25")) {
		t.Errorf("balance = %s, want 9.25", c.Balance)
	}
	if c.BalanceLastUpdate == nil || !c.BalanceLastUpdate.Equal(now) {
		t.Errorf("balance_last_update = %v, want %v", c.BalanceLastUpdate, now)
	}

	b, _ := store.GetCredential(ctx, 2)
	if b.Balance != nil {
		t.Error("key without total_balance had its balance written")
	}
}
