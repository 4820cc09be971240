package board

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestCallbackList(t *testing.T) {
	callbacks := NewCallbackList[func() int]()
	a := callbacks.Add(func() int { return 1 })
	callbacks.Add(func() int { return 2 })
	callbacks.Add(func() int { return 3 })

	values := []int{}
	for _, callback := range callbacks.Get() {
		values = append(values, callback())
	}
	assert.Equal(t, values, []int{1, 2, 3})

	callbacks.Remove(a)
	callbacks.Remove(a)
	assert.Equal(t, len(callbacks.Get()), 2)
	assert.Equal(t, callbacks.Get()[0](), 2)
}

func TestThrottle(t *testing.T) {
	interval := 30 * time.Millisecond

	var stateLock sync.Mutex
	calls := []time.Time{}
	throttle := NewThrottle(interval, func() {
		stateLock.Lock()
		defer stateLock.Unlock()
		calls = append(calls, time.Now())
	})
	defer throttle.Close()

	start := time.Now()
	// 200 samples per second for one second
	for i := 0; i < 200; i += 1 {
		throttle.Call()
		time.Sleep(5 * time.Millisecond)
	}
	// trailing call
	time.Sleep(2 * interval)
	elapsed := time.Since(start)

	stateLock.Lock()
	defer stateLock.Unlock()

	assert.Equal(t, 0 < len(calls), true)
	// at most one call per interval, with slack for timer resolution
	assert.Equal(t, len(calls) <= 1+int(elapsed/interval), true)
	for i := 1; i < len(calls); i += 1 {
		gap := calls[i].Sub(calls[i-1])
		assert.Equal(t, interval-2*time.Millisecond <= gap, true)
	}
}

func TestThrottleTrailing(t *testing.T) {
	var stateLock sync.Mutex
	n := 0
	throttle := NewThrottle(50*time.Millisecond, func() {
		stateLock.Lock()
		defer stateLock.Unlock()
		n += 1
	})
	defer throttle.Close()

	throttle.Call()
	throttle.Call()
	throttle.Call()

	stateLock.Lock()
	assert.Equal(t, n, 1)
	stateLock.Unlock()

	time.Sleep(150 * time.Millisecond)

	stateLock.Lock()
	assert.Equal(t, n, 2)
	stateLock.Unlock()
}

func TestDebounce(t *testing.T) {
	var stateLock sync.Mutex
	n := 0
	debounce := NewDebounce(20*time.Millisecond, func() {
		stateLock.Lock()
		defer stateLock.Unlock()
		n += 1
	})

	for i := 0; i < 10; i += 1 {
		debounce.Call()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	stateLock.Lock()
	assert.Equal(t, n, 1)
	stateLock.Unlock()

	debounce.Call()
	debounce.Flush()
	debounce.Flush()

	stateLock.Lock()
	assert.Equal(t, n, 2)
	stateLock.Unlock()
}
