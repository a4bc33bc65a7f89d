package models

// Tier is a closed enumeration of subscription levels. Guest is a
// pseudo-tier used only for local quota attribution of anonymous visitors.
type Tier string

const (
	TierGuest      Tier = "guest"
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func (t Tier) IsValid() bool {
	switch t {
	case TierGuest, TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// TierLimits holds the request quota for one tier.
type TierLimits struct {
	Hourly int
	Daily  int
	Name   string
}

// LimitsTable maps tiers to their quotas. The table ships with compiled-in
// defaults and is overlaid with values fetched from the plans endpoint when
// it is reachable.
type LimitsTable map[Tier]TierLimits

// DefaultLimits mirrors the portal's published plan table.
func DefaultLimits() LimitsTable {
	return LimitsTable{
		TierFree:       {Hourly: 10, Daily: 100, Name: "Free"},
		TierPro:        {Hourly: 100, Daily: 1000, Name: "Pro"},
		TierEnterprise: {Hourly: 1000, Daily: 10000, Name: "Enterprise"},
	}
}

// DefaultGuestDailyLimit applies when the plans source is unreachable.
// Deliberately conservative: one message per day.
const DefaultGuestDailyLimit = 1

// Get returns the limits for tier, falling back to the free tier for
// unknown values the way older portal builds did.
func (lt LimitsTable) Get(t Tier) TierLimits {
	if l, ok := lt[t]; ok {
		return l
	}
	return lt[TierFree]
}
