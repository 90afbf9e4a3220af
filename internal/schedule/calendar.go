// Package schedule decides when a new trading day begins.
package schedule

import "time"

// Calendar describes the trading day. Saturdays and Sundays are closed.
type Calendar struct {
	Location *time.Location
	// OpenAt is the open as an offset from local midnight.
	OpenAt time.Duration
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Calendar) IsTradingDay(t time.Time) bool {
	switch t.In(c.loc()).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// OpenOn returns the open of the local calendar day containing t.
func (c Calendar) OpenOn(t time.Time) time.Time {
	local := t.In(c.loc())
	h := int(c.OpenAt / time.Hour)
	m := int((c.OpenAt % time.Hour) / time.Minute)
	return time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, c.loc())
}

// ResetDue reports whether today's open has passed on a trading day without
// a reset since. A zero lastReset counts as never reset.
func (c Calendar) ResetDue(lastReset, now time.Time) bool {
	if !c.IsTradingDay(now) {
		return false
	}
	open := c.OpenOn(now)
	if now.Before(open) {
		return false
	}
	return lastReset.Before(open)
}

// NextOpen returns the first trading-day open strictly after now.
func (c Calendar) NextOpen(now time.Time) time.Time {
	open := c.OpenOn(now)
	for !open.After(now) || !c.IsTradingDay(open) {
		local := open.In(c.loc())
		open = c.OpenOn(time.Date(local.Year(), local.Month(), local.Day()+1, 12, 0, 0, 0, c.loc()))
	}
	return open
}
