package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
	mocked  *time.Time
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// Cutoff returns the UTC instant that lies window before now.
func Cutoff(window time.Duration) time.Time {
	return UTC().Add(-window)
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	mocked = &t
	nowFunc = func() time.Time { return t }
}

// Advance moves a mocked clock forward. It is a no-op for the real clock.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if mocked == nil {
		return
	}
	next := mocked.Add(d)
	mocked = &next
	nowFunc = func() time.Time { return next }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	mocked = nil
	nowFunc = time.Now
}
