// Package audithook bridges credit engine lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import any
// concrete audit system. Callers inject a RecorderFunc adapter that bridges
// to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docustream/credits/plugin"
	"github.com/docustream/credits/quota"
	"github.com/docustream/credits/tier"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin           = (*Extension)(nil)
	_ plugin.OnQuotaExceeded  = (*Extension)(nil)
	_ plugin.OnWindowRollover = (*Extension)(nil)
	_ plugin.OnUsagePurged    = (*Extension)(nil)
	_ plugin.OnTierChanged    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so this package carries no backend dependency —
// callers inject the concrete recorder at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges credit engine lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (e *Extension) OnQuotaExceeded(ctx context.Context, userID string, window quota.Window, used, limit int64) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourceQuota, userID, CategoryAccess, nil,
		"user_id", userID,
		"window", string(window),
		"used", used,
		"limit", limit,
	)
}

// OnWindowRollover implements plugin.OnWindowRollover.
func (e *Extension) OnWindowRollover(ctx context.Context, userID string, window quota.Window) error {
	return e.record(ctx, ActionWindowRollover, SeverityInfo, OutcomeSuccess,
		ResourceQuota, userID, CategoryAccess, nil,
		"user_id", userID,
		"window", string(window),
	)
}

// OnUsagePurged implements plugin.OnUsagePurged.
func (e *Extension) OnUsagePurged(ctx context.Context, count int64) error {
	return e.record(ctx, ActionUsagePurged, SeverityInfo, OutcomeSuccess,
		ResourceUsage, "", CategoryRetention, nil,
		"purged", count,
	)
}

// OnTierChanged implements plugin.OnTierChanged.
func (e *Extension) OnTierChanged(ctx context.Context, userID string, from, to tier.Tier) error {
	return e.record(ctx, ActionTierChanged, SeverityInfo, OutcomeSuccess,
		ResourceAccount, userID, CategoryAccount, nil,
		"user_id", userID,
		"from", string(from),
		"to", string(to),
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
