package subscription

import "time"

// Counters is the metered part of a subscription record.
type Counters struct {
	Recipes int       `json:"recipes"`
	Audio   int       `json:"audio"`
	Anchor  time.Time `json:"period_anchor"`
}

// Used returns the counter backing a usage type.
func (c Counters) Used(u UsageType) int {
	switch u {
	case RecipeUsage:
		return c.Recipes
	case AudioUsage:
		return c.Audio
	}
	return 0
}

// Add returns a copy with one usage type advanced by n.
func (c Counters) Add(u UsageType, n int) Counters {
	switch u {
	case RecipeUsage:
		c.Recipes += n
	case AudioUsage:
		c.Audio += n
	}
	return c
}

// PeriodAnchor is the first instant of t's calendar month in UTC.
func PeriodAnchor(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Normalize zeroes the counters when now falls in a different calendar month
// than the stored anchor. A zero anchor always counts as stale.
func Normalize(c Counters, now time.Time) Counters {
	if !c.Anchor.IsZero() && samePeriod(c.Anchor, now) {
		return c
	}
	return Counters{Anchor: PeriodAnchor(now)}
}

func samePeriod(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}
