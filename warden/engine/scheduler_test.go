package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualScheduler(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s := NewManualScheduler(t0)
	var order []string
	s.ScheduleAfter(5*time.Second, func() { order = append(order, "b") })
	s.ScheduleAfter(2*time.Second, func() {
		order = append(order, "a")
		// chained task, due within the same advance
		s.ScheduleAfter(time.Second, func() { order = append(order, "a2") })
	})
	s.ScheduleAfter(5*time.Second, func() { order = append(order, "c") })
	assert.Equal(3, s.Pending())

	s.Advance(time.Second)
	assert.Empty(order)
	assert.Equal(t0.Add(time.Second), s.Now())

	s.Advance(10 * time.Second)
	assert.Equal([]string{"a", "a2", "b", "c"}, order)
	assert.Equal(0, s.Pending())
	assert.Equal(t0.Add(11*time.Second), s.Now())
}

func TestTimerScheduler(t *testing.T) {
	assert := assert.New(t)

	s := NewTimerScheduler(nil)
	var ran atomic.Int32
	s.ScheduleAfter(time.Millisecond, func() { ran.Add(1) })
	s.ScheduleAfter(time.Millisecond, func() { panic("boom") })
	s.Wait()
	assert.Equal(int32(1), ran.Load())
}
