package models

import "time"

// maxTrackedRequests bounds the diagnostic request-timestamp log. Oldest
// entries are evicted first. The log never participates in allow/deny
// decisions.
const maxTrackedRequests = 1000

// Tracker is the persisted rate-limit tracker state. Timestamps are unix
// milliseconds; the JSON shape is shared with earlier portal builds.
type Tracker struct {
	Tier            Tier    `json:"tier"`
	HourlyCount     int     `json:"hourly_count"`
	DailyCount      int     `json:"daily_count"`
	HourlyResetTime int64   `json:"hourly_reset_time"`
	DailyResetTime  int64   `json:"daily_reset_time"`
	Requests        []int64 `json:"requests"`
}

// NewTracker initializes a tracker with zero counts and reset boundaries one
// hour and one day from now.
func NewTracker(tier Tier, now time.Time) *Tracker {
	return &Tracker{
		Tier:            tier,
		HourlyResetTime: now.Add(time.Hour).UnixMilli(),
		DailyResetTime:  now.Add(24 * time.Hour).UnixMilli(),
		Requests:        []int64{},
	}
}

// ResetExpiredWindows applies the lazy-reset policy: any window whose
// boundary has passed gets a zero count and a fresh boundary anchored at
// now. Counters are therefore never stale by more than the time since the
// last call.
func (tr *Tracker) ResetExpiredWindows(now time.Time) {
	ms := now.UnixMilli()
	if ms >= tr.HourlyResetTime {
		tr.HourlyCount = 0
		tr.HourlyResetTime = now.Add(time.Hour).UnixMilli()
	}
	if ms >= tr.DailyResetTime {
		tr.DailyCount = 0
		tr.DailyResetTime = now.Add(24 * time.Hour).UnixMilli()
	}
}

// RecordRequest bumps both window counters and appends to the bounded
// diagnostic log.
func (tr *Tracker) RecordRequest(now time.Time) {
	tr.HourlyCount++
	tr.DailyCount++
	tr.Requests = append(tr.Requests, now.UnixMilli())
	if len(tr.Requests) > maxTrackedRequests {
		tr.Requests = tr.Requests[len(tr.Requests)-maxTrackedRequests:]
	}
}
