package credits_test

import (
	"context"
	"log"
	"log/slog"
	"testing"
	"time"

	"github.com/docustream/credits"
	"github.com/docustream/credits/id"
	"github.com/docustream/credits/store/memory"
	"github.com/docustream/credits/tier"
	"github.com/docustream/credits/usage"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize the engine
		engine := credits.New(store,
			credits.WithLogger(slog.Default()),
			credits.WithRecorderConfig(100, 5*time.Second),
		)

		// Start the engine
		ctx := context.Background()
		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop()

		// Create an account for a new user
		userID := id.NewUserID()
		if _, err := engine.CreateAccount(ctx, userID, tier.TierFree); err != nil {
			t.Fatal(err)
		}

		// Check and reserve before doing the chargeable work
		decision, err := engine.CheckAndReserve(ctx, userID, "ocr")
		if err != nil {
			t.Fatal(err)
		}

		if decision.Allowed {
			log.Printf("OCR allowed. Remaining today: %d\n", decision.RemainingToday)

			// ... perform the document processing ...

			// Record the outcome (non-blocking, batched)
			err = engine.Record(ctx, &usage.Entry{
				UserID:           userID,
				ToolType:         "ocr",
				CreditsUsed:      decision.Cost,
				ProcessingTimeMs: 840,
				Success:          true,
			})
			if err != nil {
				t.Fatal(err)
			}
		} else {
			// Map to HTTP 429 in the route handler
			log.Printf("OCR denied: %s\n", decision.Message)
		}

		// Report current consumption
		snap, err := engine.Snapshot(ctx, userID)
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Used %d/%d today\n", snap.DailyUsed, snap.DailyLimit)
	})

	// Test tier table examples
	t.Run("TierTableExamples", func(t *testing.T) {
		table, err := tier.NewTable(map[tier.Tier]tier.Policy{
			tier.TierFree:       {DailyLimit: 10, MonthlyLimit: 100},
			tier.TierPro:        {DailyLimit: 500, MonthlyLimit: 5000},
			tier.TierEnterprise: {DailyLimit: tier.Unlimited, MonthlyLimit: tier.Unlimited},
		})
		if err != nil {
			t.Fatal(err)
		}

		// Unknown tiers fall back to the free policy
		pol := table.PolicyFor(tier.Tier("legacy-gold"))
		if pol.DailyLimit != 10 {
			t.Fatalf("expected free fallback, got %+v", pol)
		}

		// Per-tool credit costs with a default for unknown tools
		costs, err := tier.NewCostTable(map[string]int64{
			"ocr":         2,
			"translate":   3,
			"summarize":   1,
			"format_conv": 0,
		})
		if err != nil {
			t.Fatal(err)
		}
		if c, _ := costs.CostOf("ocr"); c != 2 {
			t.Fatalf("expected cost 2, got %d", c)
		}
	})
}
