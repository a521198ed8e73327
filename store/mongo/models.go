package mongo

import (
	"time"

	"github.com/docustream/credits/account"
	"github.com/docustream/credits/id"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// accountDoc is the BSON document shape for a credit account.
type accountDoc struct {
	ID               string    `bson:"_id"`
	Tier             string    `bson:"tier"`
	CreditsUsedToday int64     `bson:"credits_used_today"`
	CreditsUsedMonth int64     `bson:"credits_used_month"`
	DayWindowStart   time.Time `bson:"day_window_start"`
	MonthWindowStart time.Time `bson:"month_window_start"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

// usageDoc is the BSON document shape for a usage log entry.
type usageDoc struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"user_id"`
	ToolType         string    `bson:"tool_type"`
	CreditsUsed      int64     `bson:"credits_used"`
	InputTokens      int64     `bson:"input_tokens"`
	OutputTokens     int64     `bson:"output_tokens"`
	ProcessingTimeMs int64     `bson:"processing_time_ms"`
	Success          bool      `bson:"success"`
	CreatedAt        time.Time `bson:"created_at"`
}

func toAccountDoc(a *account.Account) *accountDoc {
	return &accountDoc{
		ID:               a.ID.String(),
		Tier:             string(a.Tier),
		CreditsUsedToday: a.CreditsUsedToday,
		CreditsUsedMonth: a.CreditsUsedMonth,
		DayWindowStart:   a.DayWindowStart,
		MonthWindowStart: a.MonthWindowStart,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func fromAccountDoc(doc *accountDoc) (*account.Account, error) {
	userID, err := id.ParseUserID(doc.ID)
	if err != nil {
		return nil, err
	}
	a := &account.Account{
		ID:               userID,
		Tier:             tier.Tier(doc.Tier),
		CreditsUsedToday: doc.CreditsUsedToday,
		CreditsUsedMonth: doc.CreditsUsedMonth,
		DayWindowStart:   doc.DayWindowStart.UTC(),
		MonthWindowStart: doc.MonthWindowStart.UTC(),
	}
	a.CreatedAt = doc.CreatedAt
	a.UpdatedAt = doc.UpdatedAt
	return a, nil
}

func toUsageDoc(e *usage.Entry) *usageDoc {
	return &usageDoc{
		ID:               e.ID.String(),
		UserID:           e.UserID.String(),
		ToolType:         e.ToolType,
		CreditsUsed:      e.CreditsUsed,
		InputTokens:      e.InputTokens,
		OutputTokens:     e.OutputTokens,
		ProcessingTimeMs: e.ProcessingTimeMs,
		Success:          e.Success,
		CreatedAt:        e.CreatedAt,
	}
}

func fromUsageDoc(doc *usageDoc) (*usage.Entry, error) {
	entryID, err := id.ParseUsageEntryID(doc.ID)
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(doc.UserID)
	if err != nil {
		return nil, err
	}
	return &usage.Entry{
		ID:               entryID,
		UserID:           userID,
		ToolType:         doc.ToolType,
		CreditsUsed:      doc.CreditsUsed,
		InputTokens:      doc.InputTokens,
		OutputTokens:     doc.OutputTokens,
		ProcessingTimeMs: doc.ProcessingTimeMs,
		Success:          doc.Success,
		CreatedAt:        doc.CreatedAt,
	}, nil
}
