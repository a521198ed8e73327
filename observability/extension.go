// Package observability provides a metrics plugin for the credit engine that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/docustream/credits/plugin"
	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin           = (*MetricsExtension)(nil)
	_ plugin.OnInit           = (*MetricsExtension)(nil)
	_ plugin.OnReservation    = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded  = (*MetricsExtension)(nil)
	_ plugin.OnWindowRollover = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded  = (*MetricsExtension)(nil)
	_ plugin.OnUsageFlushed   = (*MetricsExtension)(nil)
	_ plugin.OnUsagePurged    = (*MetricsExtension)(nil)
	_ plugin.OnTierChanged    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an engine plugin to automatically track quota metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Reservation metrics
	ReservationsAllowed Counter
	ReservationsDenied  Counter
	DeniedDaily         Counter
	DeniedMonthly       Counter
	ReservationCost     Histogram

	// Window metrics
	DayRollovers   Counter
	MonthRollovers Counter

	// Usage log metrics
	UsageRecorded     Counter
	UsageBatchSize    Histogram
	UsageFlushLatency Histogram
	UsagePurged       Counter

	// Account metrics
	TierChanges Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Reservation metrics
		ReservationsAllowed: factory.Counter("credits.reservations.allowed"),
		ReservationsDenied:  factory.Counter("credits.reservations.denied"),
		DeniedDaily:         factory.Counter("credits.reservations.denied.daily"),
		DeniedMonthly:       factory.Counter("credits.reservations.denied.monthly"),
		ReservationCost:     factory.Histogram("credits.reservations.cost"),

		// Window metrics
		DayRollovers:   factory.Counter("credits.windows.day_rollovers"),
		MonthRollovers: factory.Counter("credits.windows.month_rollovers"),

		// Usage log metrics
		UsageRecorded:     factory.Counter("credits.usage.recorded"),
		UsageBatchSize:    factory.Histogram("credits.usage.batch.size"),
		UsageFlushLatency: factory.Histogram("credits.usage.flush.latency_ms"),
		UsagePurged:       factory.Counter("credits.usage.purged"),

		// Account metrics
		TierChanges: factory.Counter("credits.accounts.tier_changes"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// OnReservation implements plugin.OnReservation.
func (m *MetricsExtension) OnReservation(_ context.Context, _ string, decision *quota.Decision) error {
	if decision.Allowed {
		m.ReservationsAllowed.Inc()
	} else {
		m.ReservationsDenied.Inc()
	}
	m.ReservationCost.Observe(float64(decision.Cost))
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _ string, window quota.Window, _, _ int64) error {
	switch window {
	case quota.WindowDaily:
		m.DeniedDaily.Inc()
	case quota.WindowMonthly:
		m.DeniedMonthly.Inc()
	}
	return nil
}

// OnWindowRollover implements plugin.OnWindowRollover.
func (m *MetricsExtension) OnWindowRollover(_ context.Context, _ string, window quota.Window) error {
	switch window {
	case quota.WindowDaily:
		m.DayRollovers.Inc()
	case quota.WindowMonthly:
		m.MonthRollovers.Inc()
	}
	return nil
}

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _ *usage.Entry) error {
	m.UsageRecorded.Inc()
	return nil
}

// OnUsageFlushed implements plugin.OnUsageFlushed.
func (m *MetricsExtension) OnUsageFlushed(_ context.Context, count int, elapsed time.Duration) error {
	m.UsageBatchSize.Observe(float64(count))
	m.UsageFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnUsagePurged implements plugin.OnUsagePurged.
func (m *MetricsExtension) OnUsagePurged(_ context.Context, count int64) error {
	m.UsagePurged.Add(float64(count))
	return nil
}

// OnTierChanged implements plugin.OnTierChanged.
func (m *MetricsExtension) OnTierChanged(_ context.Context, _ string, _, _ tier.Tier) error {
	m.TierChanges.Inc()
	return nil
}
