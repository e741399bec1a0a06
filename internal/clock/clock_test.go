package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockFiresInDeadlineOrder(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	var fired []string
	m.AfterFunc(30*time.Millisecond, func() { fired = append(fired, "c") })
	m.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	m.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "b") })

	m.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)

	m.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, m.Pending())
}

func TestMockStop(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	called := false
	timer := m.AfterFunc(time.Second, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	m.Advance(2 * time.Second)
	assert.False(t, called)
}

func TestMockNowDuringCallback(t *testing.T) {
	start := time.Unix(100, 0)
	m := NewMock(start)
	var seen time.Time
	m.AfterFunc(5*time.Second, func() { seen = m.Now() })

	m.Advance(time.Minute)
	assert.Equal(t, start.Add(5*time.Second), seen)
	assert.Equal(t, start.Add(time.Minute), m.Now())
}

func TestMockRescheduleFromCallback(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			m.AfterFunc(time.Second, tick)
		}
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}
