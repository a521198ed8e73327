package credits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docustream/credits/account"
	"github.com/docustream/credits/id"
	"github.com/docustream/credits/plugin"
	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/store"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// Engine is the credit-metering and quota-enforcement engine.
//
// Every chargeable tool route calls CheckAndReserve exactly once before
// performing work, and Record once after the work completes. Credits are
// consumed on admission and never refunded when the downstream operation
// fails or the request is aborted; attempting the operation is the thing
// being charged.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	policies tier.Table
	costs    tier.CostTable
	clock    func() time.Time

	// Background workers
	usageBuffer chan *usage.Entry
	stopChan    chan struct{}
	wg          sync.WaitGroup

	// Configuration
	usageBatchSize     int
	usageFlushInterval time.Duration
	retention          time.Duration
	sweepInterval      time.Duration
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	defaultCosts, err := tier.NewCostTable(nil)
	if err != nil {
		panic(fmt.Sprintf("credits: default cost table: %v", err))
	}

	e := &Engine{
		store:              s,
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		policies:           tier.DefaultTable(),
		costs:              defaultCosts,
		clock:              func() time.Time { return time.Now().UTC() },
		usageBuffer:        make(chan *usage.Entry, 10000),
		stopChan:           make(chan struct{}),
		usageBatchSize:     100,
		usageFlushInterval: 5 * time.Second,
		sweepInterval:      time.Hour,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPolicies sets the tier policy table.
func WithPolicies(table tier.Table) Option {
	return func(e *Engine) {
		e.policies = table
	}
}

// WithCosts sets the per-tool credit cost table.
func WithCosts(costs tier.CostTable) Option {
	return func(e *Engine) {
		e.costs = costs
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRecorderConfig configures usage recording parameters.
func WithRecorderConfig(batchSize int, flushInterval time.Duration) Option {
	return func(e *Engine) {
		e.usageBatchSize = batchSize
		e.usageFlushInterval = flushInterval
	}
}

// WithRetention enables the background retention sweep: usage log entries
// older than d are purged every sweep interval. Zero disables the sweep.
func WithRetention(d, sweepInterval time.Duration) Option {
	return func(e *Engine) {
		e.retention = d
		if sweepInterval > 0 {
			e.sweepInterval = sweepInterval
		}
	}
}

// WithClock injects the time source used for window rollover decisions.
// Production uses UTC wall clock; tests inject a fake.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// Start begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	// Migrate database
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	// Initialize plugins
	e.plugins.EmitInit(ctx, e)

	// Start usage flush worker
	e.wg.Add(1)
	go e.usageFlushWorker(ctx)

	// Start retention sweep worker
	if e.retention > 0 {
		e.wg.Add(1)
		go e.retentionWorker(ctx)
	}

	e.logger.Info("credit engine started",
		"batch_size", e.usageBatchSize,
		"flush_interval", e.usageFlushInterval,
		"retention", e.retention,
	)

	return nil
}

// Stop shuts down the Engine, flushing any buffered usage entries.
func (e *Engine) Stop() error {
	close(e.stopChan)
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Account Management
// ──────────────────────────────────────────────────

// CreateAccount creates a credit account for a user on the given tier.
func (e *Engine) CreateAccount(ctx context.Context, userID id.UserID, tr tier.Tier) (*account.Account, error) {
	if userID.IsNil() {
		return nil, ErrInvalidInput
	}

	a := account.New(userID, tr, e.clock())
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetAccount retrieves the stored account for a user.
func (e *Engine) GetAccount(ctx context.Context, userID id.UserID) (*account.Account, error) {
	return e.store.GetAccount(ctx, userID)
}

// SetTier moves a user to a different subscription tier. Counters are not
// reset by a tier change; the new ceilings apply from the next reservation.
func (e *Engine) SetTier(ctx context.Context, userID id.UserID, to tier.Tier) error {
	a, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if a.Tier == to {
		return nil
	}

	if err := e.store.SetTier(ctx, userID, to); err != nil {
		return err
	}

	e.plugins.EmitTierChanged(ctx, userID.String(), a.Tier, to)
	return nil
}

// ──────────────────────────────────────────────────
// Quota Enforcement
// ──────────────────────────────────────────────────

// CheckAndReserve resolves the credit cost of a tool invocation and
// atomically reserves it against the user's daily and monthly quotas.
//
// Callers must invoke this exactly once per chargeable operation, proceed
// only when the decision is allowed, and map denials to a retryable-later
// (HTTP 429 equivalent) response carrying the decision message.
func (e *Engine) CheckAndReserve(ctx context.Context, userID id.UserID, toolType string) (*quota.Decision, error) {
	cost, err := e.costs.CostOf(toolType)
	if err != nil {
		return nil, err
	}
	return e.ReserveCredits(ctx, userID, cost)
}

// ReserveCredits atomically reserves cost credits against the user's quotas.
// A negative cost is a programming error and is rejected outright, never
// clamped into a refund.
func (e *Engine) ReserveCredits(ctx context.Context, userID id.UserID, cost int64) (*quota.Decision, error) {
	if cost < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	if userID.IsNil() {
		return nil, ErrUserNotFound
	}

	res, err := e.store.Reserve(ctx, userID, cost, e.policies, e.clock())
	if err != nil {
		return nil, err
	}

	if res.DayRolled {
		e.plugins.EmitWindowRollover(ctx, userID.String(), quota.WindowDaily)
	}
	if res.MonthRolled {
		e.plugins.EmitWindowRollover(ctx, userID.String(), quota.WindowMonthly)
	}

	decision := &quota.Decision{
		Allowed:        res.Allowed,
		Cost:           cost,
		Tier:           res.Tier,
		DailyUsed:      res.DailyUsed,
		DailyLimit:     res.Policy.DailyLimit,
		MonthlyUsed:    res.MonthlyUsed,
		MonthlyLimit:   res.Policy.MonthlyLimit,
		RemainingToday: quota.Remaining(res.Policy.DailyLimit, res.DailyUsed),
	}

	if res.Allowed {
		decision.ReservationID = uuid.New().String()
		e.logger.Debug("credits reserved",
			"user", userID.String(),
			"cost", cost,
			"daily_used", res.DailyUsed,
			"monthly_used", res.MonthlyUsed,
		)
	} else {
		decision.Window = res.Window
		switch res.Window {
		case quota.WindowDaily:
			decision.Message = fmt.Sprintf("daily credit limit of %d reached", res.Policy.DailyLimit)
		case quota.WindowMonthly:
			decision.Message = fmt.Sprintf("monthly credit limit of %d reached", res.Policy.MonthlyLimit)
		}

		limit := res.Policy.DailyLimit
		used := res.DailyUsed
		if res.Window == quota.WindowMonthly {
			limit = res.Policy.MonthlyLimit
			used = res.MonthlyUsed
		}
		e.plugins.EmitQuotaExceeded(ctx, userID.String(), res.Window, used, limit)

		e.logger.Info("reservation denied",
			"user", userID.String(),
			"cost", cost,
			"window", res.Window,
			"used", used,
			"limit", limit,
		)
	}

	e.plugins.EmitReservation(ctx, userID.String(), decision)
	return decision, nil
}

// ──────────────────────────────────────────────────
// Usage Recording
// ──────────────────────────────────────────────────

// Record accepts a usage log entry for asynchronous persistence
// (non-blocking). Recording is observability, not correctness: callers log
// failures and move on, and a slow store never blocks the user-visible
// response.
func (e *Engine) Record(ctx context.Context, entry *usage.Entry) error {
	if entry == nil || entry.UserID.IsNil() {
		return ErrInvalidInput
	}

	// After Stop no worker drains the buffer; refuse instead of silently
	// losing the entry.
	select {
	case <-e.stopChan:
		return ErrRecorderStopped
	default:
	}

	if entry.ID.IsNil() {
		entry.ID = id.NewUsageEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.clock()
	}

	select {
	case e.usageBuffer <- entry:
		e.plugins.EmitUsageRecorded(ctx, entry)
		return nil
	default:
		return ErrRecorderFull
	}
}

// History returns a user's usage log entries, newest first.
func (e *Engine) History(ctx context.Context, userID id.UserID, opts usage.QueryOpts) ([]*usage.Entry, error) {
	return e.store.QueryUsage(ctx, userID, opts)
}

// PurgeUsage deletes usage log entries created before the cutoff. The sweep
// never touches account counters.
func (e *Engine) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	count, err := e.store.PurgeUsage(ctx, before)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		e.plugins.EmitUsagePurged(ctx, count)
	}
	return count, nil
}

// usageFlushWorker flushes buffered usage entries to the store.
func (e *Engine) usageFlushWorker(ctx context.Context) {
	defer e.wg.Done()

	batch := make([]*usage.Entry, 0, e.usageBatchSize)
	ticker := time.NewTicker(e.usageFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			// Drain whatever is still buffered, then final flush.
			for {
				select {
				case entry := <-e.usageBuffer:
					batch = append(batch, entry)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				e.flushUsageBatch(ctx, batch)
			}
			return

		case entry := <-e.usageBuffer:
			batch = append(batch, entry)
			if len(batch) >= e.usageBatchSize {
				e.flushUsageBatch(ctx, batch)
				batch = make([]*usage.Entry, 0, e.usageBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				e.flushUsageBatch(ctx, batch)
				batch = make([]*usage.Entry, 0, e.usageBatchSize)
			}
		}
	}
}

func (e *Engine) flushUsageBatch(ctx context.Context, batch []*usage.Entry) {
	start := time.Now()

	if err := e.store.InsertUsage(ctx, batch); err != nil {
		e.logger.Error("failed to flush usage batch",
			"error", err,
			"batch_size", len(batch),
		)
		return
	}

	elapsed := time.Since(start)
	e.plugins.EmitUsageFlushed(ctx, len(batch), elapsed)

	e.logger.Debug("flushed usage batch",
		"batch_size", len(batch),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// retentionWorker periodically purges usage entries past the retention
// horizon.
func (e *Engine) retentionWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			cutoff := e.clock().Add(-e.retention)
			count, err := e.PurgeUsage(ctx, cutoff)
			if err != nil {
				e.logger.Error("retention sweep failed", "error", err)
				continue
			}
			if count > 0 {
				e.logger.Info("retention sweep purged usage entries",
					"count", count,
					"cutoff", cutoff,
				)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Usage Reporting
// ──────────────────────────────────────────────────

// Snapshot returns a user's current consumption and remaining balance.
// The read routes through the same window-rollover normalization step the
// enforcer uses, so a snapshot taken right after a boundary reports the
// rolled-over counters without writing anything.
func (e *Engine) Snapshot(ctx context.Context, userID id.UserID) (*quota.Snapshot, error) {
	a, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := a.Clone()
	view.Normalize(e.clock())
	pol := e.policies.PolicyFor(view.Tier)

	return &quota.Snapshot{
		UserID:           view.ID,
		Tier:             view.Tier,
		DailyUsed:        view.CreditsUsedToday,
		DailyLimit:       pol.DailyLimit,
		MonthlyUsed:      view.CreditsUsedMonth,
		MonthlyLimit:     pol.MonthlyLimit,
		RemainingToday:   quota.Remaining(pol.DailyLimit, view.CreditsUsedToday),
		RemainingMonth:   quota.Remaining(pol.MonthlyLimit, view.CreditsUsedMonth),
		DayWindowStart:   view.DayWindowStart,
		MonthWindowStart: view.MonthWindowStart,
	}, nil
}
