package credits_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docustream/credits"
	"github.com/docustream/credits/id"
	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/store/memory"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// fakeClock is a mutable time source for window rollover tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestEngine(t *testing.T, opts ...credits.Option) *credits.Engine {
	t.Helper()
	return credits.New(memory.New(), opts...)
}

func mustCreate(t *testing.T, e *credits.Engine, tr tier.Tier) id.UserID {
	t.Helper()
	userID := id.NewUserID()
	_, err := e.CreateAccount(context.Background(), userID, tr)
	require.NoError(t, err)
	return userID
}

func TestReserve_FreeTierEndToEnd(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierFree)

	// Free tier: 10/day. Spend 8, then a cost-3 call must be denied while a
	// cost-2 call still fits.
	for i := 0; i < 8; i++ {
		d, err := engine.ReserveCredits(ctx, userID, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	denied, err := engine.ReserveCredits(ctx, userID, 3)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, quota.WindowDaily, denied.Window)
	assert.Contains(t, denied.Message, "daily credit limit of 10")
	assert.Equal(t, int64(8), denied.DailyUsed, "denied call must not consume credits")
	assert.Empty(t, denied.ReservationID)

	allowed, err := engine.ReserveCredits(ctx, userID, 2)
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, int64(10), allowed.DailyUsed)
	assert.NotEmpty(t, allowed.ReservationID)
	assert.Equal(t, int64(0), allowed.RemainingToday)
}

func TestReserve_ConcurrentNeverOversubscribes(t *testing.T) {
	ctx := context.Background()
	table, err := tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierFree: {DailyLimit: 10, MonthlyLimit: 1000},
	})
	require.NoError(t, err)

	engine := newTestEngine(t, credits.WithPolicies(table))
	userID := mustCreate(t, engine, tier.TierFree)

	const workers = 25
	var wg sync.WaitGroup
	allowed := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := engine.ReserveCredits(ctx, userID, 1)
			if err == nil && d.Allowed {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	assert.Equal(t, 10, len(allowed), "exactly the daily limit must be admitted")

	snap, err := engine.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.DailyUsed)
}

func TestReserve_UnlimitedStillCounts(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierEnterprise)

	for i := 0; i < 50; i++ {
		d, err := engine.ReserveCredits(ctx, userID, 100)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	snap, err := engine.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), snap.DailyUsed, "unlimited accounts still accrue usage")
	assert.Equal(t, tier.Unlimited, snap.RemainingToday)
}

func TestReserve_ZeroCostBypassesQuota(t *testing.T) {
	ctx := context.Background()
	table, err := tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierFree: {DailyLimit: 1, MonthlyLimit: 1},
	})
	require.NoError(t, err)

	engine := newTestEngine(t, credits.WithPolicies(table))
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Quota is exhausted, but a free tool is always admitted.
	d, err = engine.ReserveCredits(ctx, userID, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.DailyUsed)
}

func TestReserve_ZeroCostAllowedAboveLimit(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierPro)

	d, err := engine.ReserveCredits(ctx, userID, 50)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// A downgrade keeps the counters, so usage now sits above the free
	// ceiling of 10.
	require.NoError(t, engine.SetTier(ctx, userID, tier.TierFree))

	denied, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// A free tool is still admitted; the ceilings only gate costed work.
	d, err = engine.ReserveCredits(ctx, userID, 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(50), d.DailyUsed)
}

func TestReserve_DailyDenialTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	table, err := tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierFree: {DailyLimit: 5, MonthlyLimit: 5},
	})
	require.NoError(t, err)

	engine := newTestEngine(t, credits.WithPolicies(table))
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.ReserveCredits(ctx, userID, 5)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Both windows are now exhausted; the daily window names the denial.
	denied, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, quota.WindowDaily, denied.Window)
}

func TestReserve_MonthlyDenial(t *testing.T) {
	ctx := context.Background()
	table, err := tier.NewTable(map[tier.Tier]tier.Policy{
		tier.TierFree: {DailyLimit: 100, MonthlyLimit: 10},
	})
	require.NoError(t, err)

	engine := newTestEngine(t, credits.WithPolicies(table))
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.ReserveCredits(ctx, userID, 10)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	denied, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, quota.WindowMonthly, denied.Window)
	assert.Contains(t, denied.Message, "monthly credit limit of 10")
}

func TestReserve_UnknownUserIsAnError(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.ReserveCredits(ctx, id.NewUserID(), 1)
	require.Error(t, err)
	assert.True(t, credits.IsNotFound(err), "missing account is an error, not a denial")
}

func TestReserve_NegativeCostRejected(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierFree)

	_, err := engine.ReserveCredits(ctx, userID, -5)
	require.ErrorIs(t, err, credits.ErrInvalidCost)
}

func TestReserve_UnknownTierFallsBackToFree(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.Tier("legacy-gold"))

	for i := 0; i < 10; i++ {
		d, err := engine.ReserveCredits(ctx, userID, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	denied, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	assert.False(t, denied.Allowed, "unknown tier must enforce the free policy")
}

func TestCheckAndReserve_ResolvesToolCost(t *testing.T) {
	ctx := context.Background()
	costs, err := tier.NewCostTable(map[string]int64{"ocr": 2})
	require.NoError(t, err)

	engine := newTestEngine(t, credits.WithCosts(costs))
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.CheckAndReserve(ctx, userID, "ocr")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(2), d.Cost)

	// Unknown tools charge the default cost of 1.
	d, err = engine.CheckAndReserve(ctx, userID, "brand-new-tool")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Cost)
}

func TestCheckAndReserve_StrictUnknownTool(t *testing.T) {
	ctx := context.Background()
	costs, err := tier.NewCostTable(map[string]int64{"ocr": 2}, tier.Strict())
	require.NoError(t, err)

	engine := newTestEngine(t, credits.WithCosts(costs))
	userID := mustCreate(t, engine, tier.TierFree)

	_, err = engine.CheckAndReserve(ctx, userID, "brand-new-tool")
	require.ErrorIs(t, err, tier.ErrUnknownTool)
}

func TestWindowRollover_DailyResetsMonthlyKeeps(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC))
	engine := newTestEngine(t, credits.WithClock(clock.Now))
	userID := mustCreate(t, engine, tier.TierFree)

	for i := 0; i < 10; i++ {
		d, err := engine.ReserveCredits(ctx, userID, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	denied, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// Next UTC day: daily window resets, monthly carries over.
	clock.Set(time.Date(2026, time.March, 16, 0, 0, 1, 0, time.UTC))

	d, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.DailyUsed)
	assert.Equal(t, int64(11), d.MonthlyUsed)
}

func TestWindowRollover_MonthResetsBoth(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, time.March, 31, 12, 0, 0, 0, time.UTC))
	engine := newTestEngine(t, credits.WithClock(clock.Now))
	userID := mustCreate(t, engine, tier.TierPro)

	d, err := engine.ReserveCredits(ctx, userID, 7)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Set(time.Date(2026, time.April, 1, 0, 0, 1, 0, time.UTC))

	d, err = engine.ReserveCredits(ctx, userID, 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, int64(3), d.DailyUsed)
	assert.Equal(t, int64(3), d.MonthlyUsed)
}

func TestSnapshot_ReflectsRolloverWithoutWrite(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC))
	engine := newTestEngine(t, credits.WithClock(clock.Now))
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.ReserveCredits(ctx, userID, 4)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Set(time.Date(2026, time.March, 16, 8, 0, 0, 0, time.UTC))

	snap, err := engine.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.DailyUsed, "snapshot must report the rolled window")
	assert.Equal(t, int64(4), snap.MonthlyUsed)
	assert.Equal(t, int64(10), snap.RemainingToday)

	// The read must not have persisted the rollover.
	stored, err := engine.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.CreditsUsedToday)
}

func TestNoRefundOnFailure(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.ReserveCredits(ctx, userID, 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// The downstream operation fails; the reservation stands.
	err = engine.Record(ctx, &usage.Entry{
		UserID:      userID,
		ToolType:    "ocr",
		CreditsUsed: 3,
		Success:     false,
	})
	require.NoError(t, err)

	snap, err := engine.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.DailyUsed)
}

func TestRecordAndHistory(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, credits.WithRecorderConfig(2, 10*time.Millisecond))
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	userID := mustCreate(t, engine, tier.TierFree)

	for i := 0; i < 3; i++ {
		err := engine.Record(ctx, &usage.Entry{
			UserID:      userID,
			ToolType:    "translate",
			CreditsUsed: 1,
			Success:     true,
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		entries, err := engine.History(ctx, userID, usage.QueryOpts{})
		return err == nil && len(entries) == 3
	}, 2*time.Second, 20*time.Millisecond)

	entries, err := engine.History(ctx, userID, usage.QueryOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "translate", e.ToolType)
		assert.False(t, e.ID.IsNil(), "recorder must assign entry IDs")
	}
}

func TestStopFlushesBufferedUsage(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, credits.WithRecorderConfig(1000, time.Hour))
	require.NoError(t, engine.Start(ctx))

	userID := mustCreate(t, engine, tier.TierFree)

	err := engine.Record(ctx, &usage.Entry{
		UserID:      userID,
		ToolType:    "summarize",
		CreditsUsed: 1,
		Success:     true,
	})
	require.NoError(t, err)

	require.NoError(t, engine.Stop())

	// Stop drained the buffer into the store before closing down.
	entries, err := engine.History(ctx, userID, usage.QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The recorder refuses entries once stopped rather than losing them.
	err = engine.Record(ctx, &usage.Entry{
		UserID:      userID,
		ToolType:    "summarize",
		CreditsUsed: 1,
	})
	assert.ErrorIs(t, err, credits.ErrRecorderStopped)
}

func TestDenialError_MapsWindowToSentinel(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.ReserveCredits(ctx, userID, 10)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.NoError(t, credits.DenialError(d))

	denied, err := engine.ReserveCredits(ctx, userID, 1)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	dErr := credits.DenialError(denied)
	require.Error(t, dErr)
	assert.ErrorIs(t, dErr, credits.ErrDailyQuotaExceeded)
	assert.True(t, credits.IsQuotaDenied(dErr))
	assert.Contains(t, dErr.Error(), denied.Message)
}

func TestPurgeUsage(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, credits.WithRecorderConfig(1, 10*time.Millisecond))
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	userID := mustCreate(t, engine, tier.TierFree)

	old := &usage.Entry{
		UserID:      userID,
		ToolType:    "ocr",
		CreditsUsed: 1,
		CreatedAt:   time.Now().UTC().Add(-48 * time.Hour),
	}
	recent := &usage.Entry{
		UserID:      userID,
		ToolType:    "ocr",
		CreditsUsed: 1,
	}
	require.NoError(t, engine.Record(ctx, old))
	require.NoError(t, engine.Record(ctx, recent))

	require.Eventually(t, func() bool {
		entries, err := engine.History(ctx, userID, usage.QueryOpts{})
		return err == nil && len(entries) == 2
	}, 2*time.Second, 20*time.Millisecond)

	count, err := engine.PurgeUsage(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	entries, err := engine.History(ctx, userID, usage.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Purging the log never touches the quota counters.
	snap, err := engine.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.DailyUsed)
}

func TestSetTier_KeepsCounters(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierFree)

	d, err := engine.ReserveCredits(ctx, userID, 9)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, engine.SetTier(ctx, userID, tier.TierPro))

	snap, err := engine.Snapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, tier.TierPro, snap.Tier)
	assert.Equal(t, int64(9), snap.DailyUsed, "tier change must not reset counters")
	assert.Equal(t, int64(500), snap.DailyLimit)

	// Headroom under the new tier applies immediately.
	d, err = engine.ReserveCredits(ctx, userID, 50)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCreateAccount_Duplicate(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	userID := mustCreate(t, engine, tier.TierFree)

	_, err := engine.CreateAccount(ctx, userID, tier.TierFree)
	require.ErrorIs(t, err, credits.ErrAlreadyExists)
}
