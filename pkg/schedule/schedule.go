package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run time after from.
type Schedule interface {
	Next(from time.Time) time.Time
}

// everySchedule runs at fixed intervals.
type everySchedule struct {
	interval time.Duration
}

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	return from.Add(s.interval)
}

// dailySchedule runs at a specific time each day.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that runs at a specific UTC time each day.
func Daily(hour, minute int) Schedule {
	return &dailySchedule{hour: hour, minute: minute, loc: time.UTC}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// weeklySchedule runs at a specific day and time each week.
type weeklySchedule struct {
	day    time.Weekday
	hour   int
	minute int
	loc    *time.Location
}

// Weekly creates a schedule that runs at a specific UTC day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return &weeklySchedule{day: day, hour: hour, minute: minute, loc: time.UTC}
}

func (s *weeklySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)

	daysUntil := int(s.day - from.Weekday())
	if daysUntil < 0 {
		daysUntil += 7
	}

	next := time.Date(from.Year(), from.Month(), from.Day()+daysUntil, s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// cronSchedule wraps a parsed cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from.UTC())
}

// Parse turns a configured schedule string into a Schedule. It accepts
//
//	@every 15m          fixed interval
//	daily 03:30         once a day at a UTC time
//	weekly sun 03:30    once a week at a UTC day and time
//
// and otherwise any standard five-field cron expression or descriptor
// such as "@hourly". Cron expressions are evaluated in UTC.
func Parse(expr string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(expr))
	if len(fields) == 0 {
		return nil, fmt.Errorf("invalid schedule %q: empty", expr)
	}

	var (
		sched Schedule
		err   error
	)
	switch fields[0] {
	case "@every":
		sched, err = parseEvery(fields[1:])
	case "daily":
		sched, err = parseDaily(fields[1:])
	case "weekly":
		sched, err = parseWeekly(fields[1:])
	default:
		var c cron.Schedule
		c, err = cron.ParseStandard(expr)
		sched = &cronSchedule{schedule: c}
	}
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

func parseEvery(args []string) (Schedule, error) {
	if len(args) != 1 {
		return nil, errors.New("want @every <duration>")
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return nil, err
	}
	if d < time.Second {
		return nil, errors.New("interval must be at least 1s")
	}
	return Every(d), nil
}

func parseDaily(args []string) (Schedule, error) {
	if len(args) != 1 {
		return nil, errors.New("want daily HH:MM")
	}
	hour, minute, err := parseClock(args[0])
	if err != nil {
		return nil, err
	}
	return Daily(hour, minute), nil
}

func parseWeekly(args []string) (Schedule, error) {
	if len(args) != 2 {
		return nil, errors.New("want weekly <day> HH:MM")
	}
	day, err := parseWeekday(args[0])
	if err != nil {
		return nil, err
	}
	hour, minute, err := parseClock(args[1])
	if err != nil {
		return nil, err
	}
	return Weekly(day, hour, minute), nil
}

// parseWeekday accepts a full or three-letter lowercase day name.
func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("bad time of day %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
