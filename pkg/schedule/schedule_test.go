package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	s := Every(5 * time.Minute)
	now := time.Now()
	next := s.Next(now)

	assert.Equal(t, now.Add(5*time.Minute), next)
}

func TestEvery_MultipleNext(t *testing.T) {
	s := Every(time.Hour)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next1 := s.Next(start)
	next2 := s.Next(next1)

	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), next1)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next2)
}

func TestDaily(t *testing.T) {
	s := Daily(9, 30)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
		s.Next(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		s.Next(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestWeekly(t *testing.T) {
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), Weekly(time.Monday, 10, 0).Next(monday))
	assert.Equal(t, time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC), Weekly(time.Monday, 10, 0).Next(monday.Add(11*time.Hour)))
	assert.Equal(t, time.Date(2024, 1, 5, 17, 0, 0, 0, time.UTC), Weekly(time.Friday, 17, 0).Next(monday))
}

func TestParse_Cron(t *testing.T) {
	s, err := Parse("30 14 * * 1-5")
	require.NoError(t, err)
	next := s.Next(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)) // Saturday

	assert.Equal(t, time.Date(2024, 1, 8, 14, 30, 0, 0, time.UTC), next)
}

func TestParse_Descriptors(t *testing.T) {
	from := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) // Monday

	s, err := Parse("@every 15m")
	require.NoError(t, err)
	assert.IsType(t, &everySchedule{}, s)
	assert.Equal(t, from.Add(15*time.Minute), s.Next(from))

	s, err = Parse("@daily")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), s.Next(from))

	s, err = Parse("daily 03:30")
	require.NoError(t, err)
	assert.IsType(t, &dailySchedule{}, s)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 30, 0, 0, time.UTC), s.Next(from))

	s, err = Parse("Weekly Friday 17:00")
	require.NoError(t, err)
	assert.IsType(t, &weeklySchedule{}, s)
	assert.Equal(t, time.Date(2024, 1, 5, 17, 0, 0, 0, time.UTC), s.Next(from))
}

func TestParse_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"invalid cron",
		"@every",
		"@every soon",
		"@every 10ms",
		"daily 25:00",
		"daily",
		"weekly someday 10:00",
		"weekly mon",
	} {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestScheduler_RunDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(nil)
	s.SetClock(func() time.Time { return now })

	var sweeps, maintenance int
	require.NoError(t, s.Add("sweep", Every(15*time.Minute), func(context.Context) error {
		sweeps++
		return nil
	}))
	require.NoError(t, s.Add("maintenance", Daily(0, 0), func(context.Context) error {
		maintenance++
		return errors.New("db locked")
	}))
	assert.Error(t, s.Add("sweep", Every(time.Minute), nil))
	assert.Equal(t, []string{"maintenance", "sweep"}, s.Names())

	// Never-run tasks are due immediately.
	assert.Equal(t, 2, s.RunDue(ctx))

	now = now.Add(10 * time.Minute)
	assert.Equal(t, 0, s.RunDue(ctx))

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, s.RunDue(ctx))

	now = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, s.RunDue(ctx))

	assert.Equal(t, 3, sweeps)
	assert.Equal(t, 2, maintenance, "a failed run waits for its next slot")
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := NewScheduler(nil)
	require.NoError(t, s.Add("bad", Every(time.Hour), func(context.Context) error {
		panic("boom")
	}))
	assert.NotPanics(t, func() { s.RunDue(context.Background()) })
}

func TestScheduler_Start(t *testing.T) {
	s := NewScheduler(nil)
	s.SetTick(5 * time.Millisecond)

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", Every(time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
