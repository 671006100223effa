package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_CallbackSeesDeadlineAndCanReschedule(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var seen []time.Time
	var tick func()
	tick = func() {
		seen = append(seen, c.Now())
		if len(seen) < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	assert.Equal(t, []time.Time{start.Add(time.Second), start.Add(2 * time.Second), start.Add(3 * time.Second)}, seen)
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(time.Now())
	called := false
	tm := c.AfterFunc(time.Second, func() { called = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Minute)
	assert.False(t, called)
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestFake_SameDeadlineRunsInScheduleOrder(t *testing.T) {
	c := NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	var fired []string
	c.AfterFunc(time.Minute, func() { fired = append(fired, "countdown") })
	c.AfterFunc(time.Minute, func() { fired = append(fired, "deadline") })

	c.Advance(time.Minute)
	assert.Equal(t, []string{"countdown", "deadline"}, fired)
	assert.Zero(t, c.Pending())
}

func TestFake_ZeroDurationFiresOnNextAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	called := 0
	c.AfterFunc(0, func() { called++ })
	assert.Equal(t, 1, c.Pending())

	c.Advance(0)
	assert.Equal(t, 1, called)
	assert.Equal(t, start, c.Now())
}
