package cli

import (
	"context"
	"fmt"
	"time"
)

// Usage prints the current quota consumption for the active identity.
func (a *App) Usage(ctx context.Context) error {
	stats, err := a.session.Quota().Stats(ctx, a.session.Tier())
	if err != nil {
		fmt.Println("Could not read usage:", err)
		return err
	}

	fmt.Printf("Plan: %s\n", stats.TierName)
	if stats.Usage.Hourly != nil {
		fmt.Printf("This hour: %d/%d (%d left, window resets in %s)\n",
			stats.Usage.Hourly.Used, stats.Usage.Hourly.Limit, stats.Usage.Hourly.Remaining,
			stats.HourlyIn.Round(time.Second))
	}
	if stats.Usage.Daily != nil {
		fmt.Printf("Today: %d/%d (%d left, window resets in %s)\n",
			stats.Usage.Daily.Used, stats.Usage.Daily.Limit, stats.Usage.Daily.Remaining,
			stats.DailyIn.Round(time.Second))
	}
	return nil
}

// ResetQuota wipes the local tracker state. A support operation: the server
// keeps its own authoritative counters.
func (a *App) ResetQuota(ctx context.Context) error {
	if err := a.session.Quota().Reset(ctx); err != nil {
		fmt.Println("Reset failed:", err)
		return err
	}
	fmt.Println("Local quota counters cleared.")
	return nil
}
