package audithook

// Action constants for audit events.
const (
	// Quota actions
	ActionQuotaExceeded  = "quota.exceeded"
	ActionWindowRollover = "window.rollover"

	// Usage actions
	ActionUsagePurged = "usage.purged"

	// Account actions
	ActionTierChanged = "tier.changed"
)

// Resource constants for audit events.
const (
	ResourceQuota   = "quota"
	ResourceUsage   = "usage"
	ResourceAccount = "account"
)

// Category constants for audit events.
const (
	CategoryAccess    = "access"
	CategoryUsage     = "usage"
	CategoryAccount   = "account"
	CategoryRetention = "retention"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
