// Package clock is the regular US equity session calendar: 09:30 to 16:00
// America/New_York on weekdays, minus exchange holidays.
package clock

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

const (
	openSpec  = "CRON_TZ=America/New_York 30 9 * * 1-5"
	closeSpec = "CRON_TZ=America/New_York 0 16 * * 1-5"

	maxSkips = 30 // tope de festivos consecutivos a saltar
)

// NYSEHolidays2026 are the full-day closures of 2026.
var NYSEHolidays2026 = []string{
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
}

// Session implements ports.MarketClock without any network call.
type Session struct {
	open     cron.Schedule
	close    cron.Schedule
	loc      *time.Location
	holidays map[string]bool
	now      func() time.Time
}

// NewSession builds the calendar. holidays are "2006-01-02" dates in New York.
func NewSession(holidays []string, now func() time.Time) (*Session, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("clock.NewSession: load location: %w", err)
	}
	open, err := cron.ParseStandard(openSpec)
	if err != nil {
		return nil, fmt.Errorf("clock.NewSession: open schedule: %w", err)
	}
	closeSched, err := cron.ParseStandard(closeSpec)
	if err != nil {
		return nil, fmt.Errorf("clock.NewSession: close schedule: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	h := make(map[string]bool, len(holidays))
	for _, d := range holidays {
		h[d] = true
	}
	return &Session{open: open, close: closeSched, loc: loc, holidays: h, now: now}, nil
}

// Location is the session time zone.
func (s *Session) Location() *time.Location { return s.loc }

// Clock implements ports.MarketClock.
func (s *Session) Clock(context.Context) (domain.Clock, error) {
	return s.At(s.now()), nil
}

// At returns the session state at t.
func (s *Session) At(t time.Time) domain.Clock {
	nextOpen := s.next(s.open, t)
	nextClose := s.next(s.close, t)
	// abierto si el próximo cierre llega antes que la próxima apertura
	isOpen := !nextClose.IsZero() && (nextOpen.IsZero() || nextClose.Before(nextOpen)) &&
		!s.holidays[domain.TradingDay(t, s.loc)] && s.sessionStarted(t)
	return domain.Clock{IsOpen: isOpen, NextOpen: nextOpen, NextClose: nextClose, At: t}
}

// sessionStarted reports whether t is at or after today's 09:30.
func (s *Session) sessionStarted(t time.Time) bool {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 9, 30, 0, 0, s.loc)
	return !local.Before(start)
}

// next returns the first firing of sched after t on a non-holiday.
func (s *Session) next(sched cron.Schedule, t time.Time) time.Time {
	at := t
	for i := 0; i < maxSkips; i++ {
		at = sched.Next(at)
		if at.IsZero() || !s.holidays[domain.TradingDay(at, s.loc)] {
			return at
		}
	}
	return time.Time{}
}
