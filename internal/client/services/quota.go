package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/neodalsi/dalsi/internal/client/api"
	"github.com/neodalsi/dalsi/internal/client/models"
	"github.com/neodalsi/dalsi/internal/client/storage"
	"github.com/neodalsi/dalsi/internal/logging"
)

const guestDateLayout = "2006-01-02"

// QuotaTracker keeps the local rolling-window request counters and decides
// whether a new generation request should go out at all. It is optimistic
// bookkeeping for one client, not an authoritative limiter: the server may
// still reject a request the tracker allowed, and that rejection is
// surfaced, never retried.
//
// Authenticated tiers use hourly+daily windows persisted as one JSON blob;
// guests use a daily-only counter keyed by calendar date.
type QuotaTracker struct {
	store storage.Store
	api   api.Client
	log   logging.Logger
	now   func() time.Time

	mu         sync.Mutex
	limits     models.LimitsTable
	guestDaily int
}

// QuotaOption customizes a QuotaTracker.
type QuotaOption func(*QuotaTracker)

// WithClock overrides the time source. Tests use it to cross window
// boundaries without sleeping.
func WithClock(now func() time.Time) QuotaOption {
	return func(q *QuotaTracker) { q.now = now }
}

// NewQuotaTracker builds a tracker with the compiled-in limit table. Pass a
// nil client to skip remote limit refreshes entirely.
func NewQuotaTracker(store storage.Store, client api.Client, log logging.Logger, opts ...QuotaOption) *QuotaTracker {
	q := &QuotaTracker{
		store:      store,
		api:        client,
		log:        log.With("component", "quota_tracker"),
		now:        time.Now,
		limits:     models.DefaultLimits(),
		guestDaily: models.DefaultGuestDailyLimit,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RefreshLimits overlays the compiled-in limit table with values from the
// remote plans endpoint. Unreachable or unknown plans keep their defaults;
// the tracker must stay usable offline.
func (q *QuotaTracker) RefreshLimits(ctx context.Context) {
	if q.api == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, tier := range []models.Tier{models.TierFree, models.TierPro, models.TierEnterprise} {
		plan, err := q.api.Plan(ctx, string(tier))
		if err != nil {
			q.log.Debug(ctx, "plan fetch failed, keeping default limits", "tier", tier, "error", err)
			continue
		}
		q.limits[tier] = models.TierLimits{
			Hourly: plan.Limits.QueriesPerHour,
			Daily:  plan.Limits.QueriesPerDay,
			Name:   plan.Name,
		}
	}

	if plan, err := q.api.Plan(ctx, string(models.TierGuest)); err == nil && plan.Limits.QueriesPerDay > 0 {
		q.guestDaily = plan.Limits.QueriesPerDay
	}
}

// Check decides whether one more request is allowed for tier. Lazy reset is
// applied before evaluation, so a counter is never stale by more than the
// time since the last call. The result carries usage for both windows
// (daily only for guests) and a human message when denied.
func (q *QuotaTracker) Check(ctx context.Context, tier models.Tier) (*models.CheckResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if tier == models.TierGuest {
		return q.checkGuest(ctx)
	}

	now := q.now()
	tr, err := q.loadTracker(ctx, tier, now)
	if err != nil {
		return nil, err
	}
	tr.ResetExpiredWindows(now)
	if err := q.saveTracker(ctx, tr); err != nil {
		return nil, err
	}

	limits := q.limits.Get(tier)
	usage := models.Usage{
		Hourly: models.NewWindowUsage(tr.HourlyCount, limits.Hourly),
		Daily:  models.NewWindowUsage(tr.DailyCount, limits.Daily),
	}

	if tr.HourlyCount >= limits.Hourly {
		eta := time.UnixMilli(tr.HourlyResetTime).Sub(now)
		return &models.CheckResult{
			Reason:  models.ReasonHourlyLimit,
			Message: fmt.Sprintf("Hourly limit of %d messages reached. Resets in %s.", limits.Hourly, roundETA(eta)),
			Usage:   usage,
		}, nil
	}
	if tr.DailyCount >= limits.Daily {
		eta := time.UnixMilli(tr.DailyResetTime).Sub(now)
		return &models.CheckResult{
			Reason:  models.ReasonDailyLimit,
			Message: fmt.Sprintf("Daily limit of %d messages reached. Resets in %s.", limits.Daily, roundETA(eta)),
			Usage:   usage,
		}, nil
	}
	return &models.CheckResult{Allowed: true, Usage: usage}, nil
}

// Record bumps the counters for one request that actually succeeded.
// Recording a request the server later rejected would under-count the
// remaining quota, so callers record only after a 2xx.
func (q *QuotaTracker) Record(ctx context.Context, tier models.Tier) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	if tier == models.TierGuest {
		count, _, err := q.guestUsage(ctx, now)
		if err != nil {
			return err
		}
		return q.store.SetMany(ctx, map[string][]byte{
			storage.KeyGuestUsage:    []byte(strconv.Itoa(count + 1)),
			storage.KeyGuestLastUsed: []byte(now.Format(guestDateLayout)),
		})
	}

	tr, err := q.loadTracker(ctx, tier, now)
	if err != nil {
		return err
	}
	tr.ResetExpiredWindows(now)
	tr.RecordRequest(now)
	return q.saveTracker(ctx, tr)
}

// Reset wipes all tracker state, both windows and the guest counters. A
// support/testing operation: the next check starts from zero.
func (q *QuotaTracker) Reset(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.DeleteMany(ctx,
		storage.KeyRateLimitTracker,
		storage.KeyGuestUsage,
		storage.KeyGuestLastUsed,
	)
}

// Stats returns a display-oriented view of current consumption for tier,
// with lazy reset applied first.
func (q *QuotaTracker) Stats(ctx context.Context, tier models.Tier) (*models.UsageStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	if tier == models.TierGuest {
		count, _, err := q.guestUsage(ctx, now)
		if err != nil {
			return nil, err
		}
		return &models.UsageStats{
			Tier:     tier,
			TierName: "Guest",
			Usage:    models.Usage{Daily: models.NewWindowUsage(count, q.guestDaily)},
			DailyIn:  untilNextMidnight(now),
		}, nil
	}

	tr, err := q.loadTracker(ctx, tier, now)
	if err != nil {
		return nil, err
	}
	tr.ResetExpiredWindows(now)

	limits := q.limits.Get(tier)
	return &models.UsageStats{
		Tier:     tier,
		TierName: limits.Name,
		Usage: models.Usage{
			Hourly: models.NewWindowUsage(tr.HourlyCount, limits.Hourly),
			Daily:  models.NewWindowUsage(tr.DailyCount, limits.Daily),
		},
		HourlyIn: time.UnixMilli(tr.HourlyResetTime).Sub(now),
		DailyIn:  time.UnixMilli(tr.DailyResetTime).Sub(now),
	}, nil
}

func (q *QuotaTracker) checkGuest(ctx context.Context) (*models.CheckResult, error) {
	now := q.now()
	count, _, err := q.guestUsage(ctx, now)
	if err != nil {
		return nil, err
	}

	usage := models.Usage{Daily: models.NewWindowUsage(count, q.guestDaily)}
	if count >= q.guestDaily {
		return &models.CheckResult{
			Reason:  models.ReasonDailyLimit,
			Message: fmt.Sprintf("Guest limit of %d messages per day reached. Sign in for more, or try again in %s.", q.guestDaily, roundETA(untilNextMidnight(now))),
			Usage:   usage,
		}, nil
	}
	return &models.CheckResult{Allowed: true, Usage: usage}, nil
}

// guestUsage reads the guest daily counter; a counter last used on an
// earlier calendar date has expired and reads as zero.
func (q *QuotaTracker) guestUsage(ctx context.Context, now time.Time) (count int, lastUsed string, err error) {
	raw, err := q.store.Get(ctx, storage.KeyGuestLastUsed)
	if err != nil {
		return 0, "", err
	}
	lastUsed = string(raw)
	if lastUsed != now.Format(guestDateLayout) {
		return 0, lastUsed, nil
	}

	raw, err = q.store.Get(ctx, storage.KeyGuestUsage)
	if err != nil {
		return 0, "", err
	}
	if len(raw) == 0 {
		return 0, lastUsed, nil
	}
	n, perr := strconv.Atoi(string(raw))
	if perr != nil {
		q.log.Warn(ctx, "malformed guest usage counter, treating as zero", "value", string(raw))
		return 0, lastUsed, nil
	}
	return n, lastUsed, nil
}

// loadTracker reads the persisted tracker blob. Absent, malformed, or
// belonging to a different tier all mean the same thing: start fresh.
func (q *QuotaTracker) loadTracker(ctx context.Context, tier models.Tier, now time.Time) (*models.Tracker, error) {
	raw, err := q.store.Get(ctx, storage.KeyRateLimitTracker)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return models.NewTracker(tier, now), nil
	}

	var tr models.Tracker
	if err := json.Unmarshal(raw, &tr); err != nil {
		q.log.Warn(ctx, "malformed tracker state, starting fresh", "error", err)
		return models.NewTracker(tier, now), nil
	}
	if tr.Tier != tier {
		q.log.Debug(ctx, "tier changed, resetting tracker", "from", tr.Tier, "to", tier)
		return models.NewTracker(tier, now), nil
	}
	return &tr, nil
}

func (q *QuotaTracker) saveTracker(ctx context.Context, tr *models.Tracker) error {
	raw, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, storage.KeyRateLimitTracker, raw)
}

func untilNextMidnight(now time.Time) time.Duration {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	return midnight.Sub(now)
}

func roundETA(d time.Duration) time.Duration {
	if d < time.Minute {
		return d.Round(time.Second)
	}
	return d.Round(time.Minute)
}
