// Package credits provides a composable credit-metering and quota-enforcement
// engine for Go applications.
//
// Credits is designed as a library, not a service. Import it directly into
// your document-processing platform for maximum performance and flexibility.
// It provides:
//
//   - Atomic check-and-reserve admission for every chargeable tool call
//   - Independent daily and monthly rolling windows per user (UTC calendar)
//   - Tier policy tables with an explicit unlimited sentinel (-1)
//   - High-throughput usage logging with batched asynchronous flushes
//   - Pluggable storage (memory, PostgreSQL, SQLite, MongoDB, Redis)
//   - Lifecycle plugins for metrics and audit trails
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/docustream/credits"
//	    "github.com/docustream/credits/store/memory"
//	)
//
//	engine := credits.New(memory.New())
//
//	// Start the engine (begins background workers)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// Accounts track per-user consumption counters and window starts:
//
//	acct, err := engine.CreateAccount(ctx, userID, tier.TierFree)
//
// Every chargeable tool route performs exactly one reservation before doing
// the work:
//
//	decision, err := engine.CheckAndReserve(ctx, userID, "ocr")
//	if err != nil {
//	    // storage failure or unknown user, not a quota denial
//	}
//	if !decision.Allowed {
//	    // map to HTTP 429 with decision.Message
//	}
//
// After the work completes, record the outcome for the usage log:
//
//	engine.Record(ctx, &usage.Entry{
//	    UserID:      userID,
//	    ToolType:    "ocr",
//	    CreditsUsed: decision.Cost,
//	    Success:     true,
//	})
//
// Credits are consumed on admission and never refunded; attempting the
// operation is the thing being charged.
//
// # Reporting
//
// Snapshot returns the current consumption and remaining balance without
// writing anything:
//
//	snap, err := engine.Snapshot(ctx, userID)
//	fmt.Println(snap.RemainingToday)
//
// History pages through the usage log, newest first:
//
//	entries, err := engine.History(ctx, userID, usage.QueryOpts{Limit: 50})
package credits
