package models

import "time"

// Deny reasons returned by quota checks.
const (
	ReasonHourlyLimit = "hourly_limit"
	ReasonDailyLimit  = "daily_limit"
)

// WindowUsage describes one rolling window of a quota check.
type WindowUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Usage pairs the two rolling windows. Hourly is nil for guests, whose
// quota is daily-only.
type Usage struct {
	Hourly *WindowUsage `json:"hourly,omitempty"`
	Daily  *WindowUsage `json:"daily,omitempty"`
}

// CheckResult is the outcome of a quota check. Reason is one of the Reason*
// tags when Allowed is false; Message carries the human wording including
// the reset ETA.
type CheckResult struct {
	Allowed bool
	Reason  string
	Message string
	Usage   Usage
}

// UsageStats is the display-oriented view of current consumption.
type UsageStats struct {
	Tier       Tier
	TierName   string
	Usage      Usage
	HourlyIn   time.Duration
	DailyIn    time.Duration
}

// NewWindowUsage clamps remaining at zero; counters may legitimately sit at
// the limit when the deny predicate fires.
func NewWindowUsage(used, limit int) *WindowUsage {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &WindowUsage{Used: used, Limit: limit, Remaining: remaining}
}
