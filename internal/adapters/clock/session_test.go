package clock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/sentibot/internal/adapters/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) (*clock.Session, *time.Location) {
	t.Helper()
	s, err := clock.NewSession(clock.NYSEHolidays2026, nil)
	require.NoError(t, err)
	return s, s.Location()
}

func TestSession_RegularDay(t *testing.T) {
	s, ny := newSession(t)
	tue := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, ny) }

	before := s.At(tue(8, 0))
	assert.False(t, before.IsOpen)
	assert.True(t, before.NextOpen.Equal(tue(9, 30)))

	during := s.At(tue(10, 0))
	assert.True(t, during.IsOpen)
	assert.True(t, during.NextClose.Equal(tue(16, 0)))
	assert.True(t, during.NextOpen.Equal(time.Date(2026, 3, 11, 9, 30, 0, 0, ny)))

	assert.True(t, s.At(tue(9, 30)).IsOpen, "open at the bell")
	assert.False(t, s.At(tue(16, 0)).IsOpen, "closed at the bell")
}

func TestSession_Weekend(t *testing.T) {
	s, ny := newSession(t)

	sat := s.At(time.Date(2026, 3, 14, 12, 0, 0, 0, ny))
	assert.False(t, sat.IsOpen)
	assert.True(t, sat.NextOpen.Equal(time.Date(2026, 3, 16, 9, 30, 0, 0, ny)))
}

func TestSession_Holiday(t *testing.T) {
	s, ny := newSession(t)

	goodFriday := s.At(time.Date(2026, 4, 3, 11, 0, 0, 0, ny))
	assert.False(t, goodFriday.IsOpen)
	assert.True(t, goodFriday.NextOpen.Equal(time.Date(2026, 4, 6, 9, 30, 0, 0, ny)))

	thursday := s.At(time.Date(2026, 4, 2, 11, 0, 0, 0, ny))
	assert.True(t, thursday.IsOpen)
	assert.True(t, thursday.NextOpen.Equal(time.Date(2026, 4, 6, 9, 30, 0, 0, ny)), "skips the holiday")
}

func TestSession_ClockUsesNow(t *testing.T) {
	at := time.Date(2026, 3, 10, 14, 45, 0, 0, time.UTC) // 10:45 EDT
	s, err := clock.NewSession(nil, func() time.Time { return at })
	require.NoError(t, err)

	c, err := s.Clock(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsOpen)
	assert.Equal(t, at, c.At)
}
