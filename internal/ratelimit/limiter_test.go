package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func TestAdmit_PerMinute(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := New(WithClock(clk.Now))
	l.Register("kakao_local", Budget{PerMinute: 3})

	assert.True(t, l.Admit("kakao_local"))
	assert.True(t, l.Admit("kakao_local"))
	assert.True(t, l.Admit("kakao_local"))
	assert.False(t, l.Admit("kakao_local"))
	assert.Equal(t, MinuteExhausted, l.Check("kakao_local"))
	assert.Equal(t, time.Minute, l.ResetIn("kakao_local"))

	clk.Advance(59 * time.Second)
	assert.False(t, l.Admit("kakao_local"))
	assert.Equal(t, time.Second, l.ResetIn("kakao_local"))

	clk.Advance(time.Second)
	assert.True(t, l.Admit("kakao_local"))
}

func TestAdmit_Unregistered(t *testing.T) {
	t.Parallel()

	l := New()
	for i := 0; i < 100; i++ {
		require.True(t, l.Admit("unknown"))
	}
	assert.Zero(t, l.ResetIn("unknown"))
}

func TestAdmit_PerDay(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := New(WithClock(clk.Now))
	l.Register("public_data", Budget{PerMinute: 10, PerDay: 2})

	assert.True(t, l.Admit("public_data"))
	assert.True(t, l.Admit("public_data"))
	assert.Equal(t, DayExhausted, l.Check("public_data"))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, DayExhausted, l.Check("public_data"))

	clk.Advance(24 * time.Hour)
	assert.Equal(t, Allowed, l.Check("public_data"))
}

func TestAdmit_DeniedCallsDoNotCharge(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := New(WithClock(clk.Now))
	l.Register("naver_local", Budget{PerMinute: 1, PerDay: 2})

	assert.True(t, l.Admit("naver_local"))
	assert.False(t, l.Admit("naver_local"))
	assert.False(t, l.Admit("naver_local"))

	clk.Advance(time.Minute)
	// The day window only counted the one admitted call.
	assert.True(t, l.Admit("naver_local"))
}

func TestAdmit_NeverExceedsBudgetInWindow(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := New(WithClock(clk.Now))
	l.Register("google_places", Budget{PerMinute: 5})

	admitted := 0
	for i := 0; i < 60; i++ {
		if l.Admit("google_places") {
			admitted++
		}
		clk.Advance(500 * time.Millisecond)
	}
	// 30 seconds of calls fit in one window.
	assert.Equal(t, 5, admitted)
}

func TestAdmit_Concurrent(t *testing.T) {
	t.Parallel()

	l := New()
	l.Register("web_search", Budget{PerMinute: 20})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("web_search") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, admitted, 20)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	clk := newClock()
	l := New(WithClock(clk.Now))
	l.Register("a", Budget{PerMinute: 5, PerDay: 100})
	l.Admit("a")
	l.Admit("a")

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, 2, snap[0].MinuteCount)
	assert.Equal(t, 2, snap[0].DayCount)

	l.Register("a", Budget{PerMinute: 1})
	assert.Equal(t, 2, l.Snapshot()[0].MinuteCount)
}
