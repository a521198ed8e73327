// Package usage defines the append-only usage log.
package usage

import (
	"time"

	"github.com/docustream/credits/id"
)

// Entry is one usage log record, created after a tool invocation completes
// and immutable afterwards. Entries exist for audit and analytics; the
// authoritative quota gate is the account counters, not a re-derived sum of
// entries.
type Entry struct {
	ID               id.UsageEntryID `json:"id"`
	UserID           id.UserID       `json:"user_id"`
	ToolType         string          `json:"tool_type"`
	CreditsUsed      int64           `json:"credits_used"`
	InputTokens      int64           `json:"input_tokens,omitempty"`
	OutputTokens     int64           `json:"output_tokens,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Success          bool            `json:"success"`
	CreatedAt        time.Time       `json:"created_at"`
}

// QueryOpts filters and pages a usage history query.
// Results are always ordered newest first.
type QueryOpts struct {
	ToolType string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}
