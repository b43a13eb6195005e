package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Runs a task once after a delay, detached from the caller. Tasks are never cancelled;
// they must tolerate running after their preconditions stopped holding.
type Scheduler interface {
	ScheduleAfter(d time.Duration, task func())
}

// Production scheduler on time.AfterFunc. Panics in tasks are recovered and logged.
type TimerScheduler struct {
	Logger *slog.Logger

	wg sync.WaitGroup
}

func NewTimerScheduler(logger *slog.Logger) *TimerScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerScheduler{Logger: logger}
}

func (s *TimerScheduler) ScheduleAfter(d time.Duration, task func()) {
	s.wg.Add(1)
	time.AfterFunc(d, func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.Logger.Error("scheduled task panic", "err", r, "delay", d)
			}
		}()
		task()
	})
}

// Blocks until every task scheduled so far has run. Long-delay tasks (eg, a 24h unban)
// make this block for that long, so callers should bound it with their own timeout.
func (s *TimerScheduler) Wait() {
	s.wg.Wait()
}

type manualTask struct {
	at   time.Time
	seq  int
	task func()
}

// Deterministic scheduler for tests: tasks run only when the clock is advanced past their
// due time, in due-time order (ties in scheduling order).
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []manualTask
}

func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (s *ManualScheduler) ScheduleAfter(d time.Duration, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.tasks = append(s.tasks, manualTask{at: s.now.Add(d), seq: s.seq, task: task})
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Moves the clock forward by d, running every task that comes due. Tasks scheduled by a
// running task are picked up if they also fall due within the window.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	for {
		s.mu.Lock()
		sort.SliceStable(s.tasks, func(i, j int) bool {
			if s.tasks[i].at.Equal(s.tasks[j].at) {
				return s.tasks[i].seq < s.tasks[j].seq
			}
			return s.tasks[i].at.Before(s.tasks[j].at)
		})
		if len(s.tasks) == 0 || s.tasks[0].at.After(target) {
			s.now = target
			s.mu.Unlock()
			return
		}
		next := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.now = next.at
		s.mu.Unlock()
		// run without the lock, the task may schedule more work
		next.task()
	}
}
