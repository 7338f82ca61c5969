package ratelimit

import "time"

// AnonymousTier is the tier applied to requests without an API key.
const AnonymousTier = "anonymous"

// DefaultWindow is the counting window for the tier defaults.
const DefaultWindow = time.Minute

// Limits is the effective limit applied to one identifier. DailyMax is
// reported to clients but not enforced by the window counter.
type Limits struct {
	Max      int           `json:"max"`
	DailyMax int           `json:"daily_max"`
	Window   time.Duration `json:"window"`
}

// DefaultTierLimits holds the per-minute defaults for each tier.
var DefaultTierLimits = map[string]Limits{
	AnonymousTier: {Max: 10, DailyMax: 100, Window: DefaultWindow},
	"free":        {Max: 10, DailyMax: 100, Window: DefaultWindow},
	"starter":     {Max: 30, DailyMax: 1000, Window: DefaultWindow},
	"pro":         {Max: 60, DailyMax: 5000, Window: DefaultWindow},
	"enterprise":  {Max: 300, DailyMax: 50000, Window: DefaultWindow},
}

// LimitsForTier returns the defaults for tier, falling back to the free
// tier for names it does not know.
func LimitsForTier(tier string) Limits {
	if l, ok := DefaultTierLimits[tier]; ok {
		return l
	}
	return DefaultTierLimits["free"]
}

func (l Limits) withWindow(window time.Duration) Limits {
	if window > 0 {
		l.Window = window
	}
	return l
}
