package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTick is how often the scheduler checks for due tasks.
const DefaultTick = time.Second

// Task is a recurring unit of work.
type Task func(ctx context.Context) error

type entry struct {
	name     string
	schedule Schedule
	task     Task
	lastRun  time.Time
}

// Scheduler runs named tasks when their schedule comes due. A task that has
// never run is due immediately.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	tick    time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		tick:    DefaultTick,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetTick changes the polling interval.
func (s *Scheduler) SetTick(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Add registers a task. Adding a name twice is an error.
func (s *Scheduler) Add(name string, sched Schedule, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("task %q already scheduled", name)
	}
	s.entries[name] = &entry{name: name, schedule: sched, task: task}
	return nil
}

// Names lists the registered tasks in name order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs due tasks every tick until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.RunDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every task whose next run time has passed and returns how
// many ran. A failed run still counts as a run; the error is logged.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.lastRun.IsZero() || !now.Before(e.schedule.Next(e.lastRun)) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].name < due[j].name })

	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		err := s.run(ctx, e)
		if err != nil {
			s.logger.Error("scheduled task failed", "task", e.name, "error", err)
		} else {
			s.logger.Debug("scheduled task finished", "task", e.name, "duration", time.Since(start))
		}
		s.mu.Lock()
		e.lastRun = now
		s.mu.Unlock()
	}
	return len(due)
}

func (s *Scheduler) run(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.task(ctx)
}
