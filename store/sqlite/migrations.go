package sqlite

import (
	"time"
)

// accountRow is the gorm mapping for a credit account.
type accountRow struct {
	UserID           string    `gorm:"primaryKey;column:user_id"`
	Tier             string    `gorm:"column:tier;not null"`
	CreditsUsedToday int64     `gorm:"column:credits_used_today;not null;default:0"`
	CreditsUsedMonth int64     `gorm:"column:credits_used_month;not null;default:0"`
	DayWindowStart   time.Time `gorm:"column:day_window_start;not null"`
	MonthWindowStart time.Time `gorm:"column:month_window_start;not null"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (accountRow) TableName() string { return "credit_accounts" }

// usageRow is the gorm mapping for a usage log entry.
type usageRow struct {
	ID               string    `gorm:"primaryKey;column:id"`
	UserID           string    `gorm:"column:user_id;not null;index:idx_usage_user_created,priority:1"`
	ToolType         string    `gorm:"column:tool_type;not null"`
	CreditsUsed      int64     `gorm:"column:credits_used;not null"`
	InputTokens      int64     `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens     int64     `gorm:"column:output_tokens;not null;default:0"`
	ProcessingTimeMs int64     `gorm:"column:processing_time_ms;not null;default:0"`
	Success          bool      `gorm:"column:success;not null;default:true"`
	CreatedAt        time.Time `gorm:"column:created_at;index;index:idx_usage_user_created,priority:2"`
}

func (usageRow) TableName() string { return "usage_entries" }
