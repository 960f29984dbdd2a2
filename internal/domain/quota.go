package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Period is one of the two disjoint clock periods a quota window tracks
type Period string

const (
	PeriodDay   Period = "day"
	PeriodNight Period = "night"
)

// PeriodLimit holds the ceilings and consumption of one period
type PeriodLimit struct {
	PerTransaction decimal.Decimal
	Daily          decimal.Decimal
	ConsumedToday  decimal.Decimal
}

// QuotaPolicy defines the defaults applied to accounts without a stored window
// and the hour boundary between day and night.
type QuotaPolicy struct {
	DayStartHour        int // inclusive
	NightStartHour      int // inclusive, day ends here
	DayPerTransaction   decimal.Decimal
	DayDaily            decimal.Decimal
	NightPerTransaction decimal.Decimal
	NightDaily          decimal.Decimal
	Location            *time.Location
}

// DefaultQuotaPolicy models elevated night-time fraud risk with a lower ceiling
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		DayStartHour:        6,
		NightStartHour:      20,
		DayPerTransaction:   decimal.NewFromInt(5000),
		DayDaily:            decimal.NewFromInt(20000),
		NightPerTransaction: decimal.NewFromInt(1000),
		NightDaily:          decimal.NewFromInt(1000),
		Location:            time.UTC,
	}
}

// Validate ensures the policy boundaries and ceilings make sense
func (p QuotaPolicy) Validate() error {
	if p.DayStartHour < 0 || p.DayStartHour > 23 || p.NightStartHour < 0 || p.NightStartHour > 23 {
		return validationError("quota hours must be between 0 and 23")
	}
	if p.DayStartHour >= p.NightStartHour {
		return validationError("quota day must start before night")
	}
	for _, v := range []decimal.Decimal{p.DayPerTransaction, p.DayDaily, p.NightPerTransaction, p.NightDaily} {
		if v.LessThanOrEqual(decimal.Zero) {
			return validationError("quota ceilings must be positive")
		}
	}
	return nil
}

// QuotaWindow is the per-account record of transfer limits.
// Counters reset lazily on the first check or commit of a later calendar date.
type QuotaWindow struct {
	AccountID      string
	DayStartHour   int
	NightStartHour int
	Day            PeriodLimit
	Night          PeriodLimit
	LastReset      time.Time // calendar date, midnight in the policy location
	Location       *time.Location
	Version        int64
}

// NewQuotaWindow creates a window with the policy defaults
func NewQuotaWindow(accountID string, policy QuotaPolicy, now time.Time) *QuotaWindow {
	loc := policy.Location
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaWindow{
		AccountID:      accountID,
		DayStartHour:   policy.DayStartHour,
		NightStartHour: policy.NightStartHour,
		Day: PeriodLimit{
			PerTransaction: policy.DayPerTransaction,
			Daily:          policy.DayDaily,
			ConsumedToday:  decimal.Zero,
		},
		Night: PeriodLimit{
			PerTransaction: policy.NightPerTransaction,
			Daily:          policy.NightDaily,
			ConsumedToday:  decimal.Zero,
		},
		LastReset: calendarDate(now, loc),
		Location:  loc,
	}
}

// PeriodAt classifies now into day or night by hour of day
func (q *QuotaWindow) PeriodAt(now time.Time) Period {
	hour := now.In(q.location()).Hour()
	if hour >= q.DayStartHour && hour < q.NightStartHour {
		return PeriodDay
	}
	return PeriodNight
}

// Check reports whether amount may be transferred at now. It never mutates the window.
func (q *QuotaWindow) Check(amount decimal.Decimal, now time.Time) (bool, string) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return false, "amount must be positive"
	}

	period := q.PeriodAt(now)
	limit := *q.limit(period)
	if q.needsReset(now) {
		limit.ConsumedToday = decimal.Zero
	}

	if amount.GreaterThan(limit.PerTransaction) {
		return false, fmt.Sprintf("amount %s exceeds %s per-transaction limit of %s",
			amount.StringFixed(2), period, limit.PerTransaction.StringFixed(2))
	}

	if limit.ConsumedToday.Add(amount).GreaterThan(limit.Daily) {
		remaining := limit.Daily.Sub(limit.ConsumedToday)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		return false, fmt.Sprintf("amount %s exceeds %s daily limit of %s (remaining %s)",
			amount.StringFixed(2), period, limit.Daily.StringFixed(2), remaining.StringFixed(2))
	}

	return true, ""
}

// Commit adds amount to the active period counter.
// Call it only once the debit it accounts for is confirmed: there is no rollback.
func (q *QuotaWindow) Commit(amount decimal.Decimal, now time.Time) {
	if q.needsReset(now) {
		q.Day.ConsumedToday = decimal.Zero
		q.Night.ConsumedToday = decimal.Zero
		q.LastReset = calendarDate(now, q.location())
	}

	limit := q.limit(q.PeriodAt(now))
	limit.ConsumedToday = limit.ConsumedToday.Add(amount)
}

func (q *QuotaWindow) needsReset(now time.Time) bool {
	return calendarDate(now, q.location()).After(q.LastReset)
}

func (q *QuotaWindow) limit(p Period) *PeriodLimit {
	if p == PeriodDay {
		return &q.Day
	}
	return &q.Night
}

func (q *QuotaWindow) location() *time.Location {
	if q.Location == nil {
		return time.UTC
	}
	return q.Location
}

func calendarDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
