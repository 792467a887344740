// Package market knows NSE trading hours in IST.
package market

import (
	"fmt"
	"time"

	"tradebot/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

const (
	preOpenMinute = 9 * 60     // 09:00
	openMinute    = 9*60 + 15  // 09:15
	closeMinute   = 15*60 + 30 // 15:30
)

// Calendar answers market-hours questions. The zero value is not usable;
// use NewCalendar.
type Calendar struct {
	holidays map[string]bool
	now      func() time.Time
}

// NewCalendar creates a calendar with the given holidays (YYYY-MM-DD, IST).
func NewCalendar(holidays []string) (*Calendar, error) {
	c := &Calendar{holidays: make(map[string]bool), now: time.Now}
	for _, h := range holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, IndiaLocation); err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[h] = true
	}
	return c, nil
}

// WithClock returns a copy of c that reads time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	cp := *c
	cp.now = now
	return &cp
}

// Now returns the current time in IST.
func (c *Calendar) Now() time.Time {
	return c.now().In(IndiaLocation)
}

// IsHoliday reports whether t falls on a configured holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.In(IndiaLocation).Format("2006-01-02")]
}

// StatusAt returns the market status at t.
func (c *Calendar) StatusAt(t time.Time) models.MarketStatus {
	t = t.In(IndiaLocation)
	if isWeekend(t) || c.IsHoliday(t) {
		return models.MarketClosed
	}

	m := t.Hour()*60 + t.Minute()
	switch {
	case m >= preOpenMinute && m < openMinute:
		return models.MarketPreOpen
	case m >= openMinute && m < closeMinute:
		return models.MarketOpen
	}
	return models.MarketClosed
}

// Status returns the current market status.
func (c *Calendar) Status() models.MarketStatus {
	return c.StatusAt(c.now())
}

// IsOpen reports whether the continuous session is running now.
func (c *Calendar) IsOpen() bool {
	return c.Status() == models.MarketOpen
}

// Message describes the market status at t for display.
func (c *Calendar) Message(t time.Time) string {
	t = t.In(IndiaLocation)
	switch {
	case isWeekend(t):
		return "Market is closed (weekend)"
	case c.IsHoliday(t):
		return "Market is closed (holiday)"
	}
	switch c.StatusAt(t) {
	case models.MarketOpen:
		return "Market is open"
	case models.MarketPreOpen:
		return "Market is in pre-open session (opens 09:15 IST)"
	}
	return "Market is closed (trading hours 09:15-15:30 IST)"
}

// NextOpen returns the next continuous-session open after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	t = t.In(IndiaLocation)
	next := time.Date(t.Year(), t.Month(), t.Day(), 9, 15, 0, 0, IndiaLocation)
	if !t.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for isWeekend(next) || c.IsHoliday(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// CloseAt returns the close time on t's trading day.
func CloseAt(t time.Time) time.Time {
	t = t.In(IndiaLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 15, 30, 0, 0, IndiaLocation)
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
