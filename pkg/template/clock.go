package template

import (
	"sync"
	"time"
)

// Clock returns wall-clock milliseconds since the unix epoch
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock
type ClockFunc func() int64

func (f ClockFunc) Now() int64 {
	return f()
}

// MonotonicClock never returns the same or a smaller value twice
type MonotonicClock struct {
	source func() time.Time
	last   int64
	mu     sync.Mutex
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{source: time.Now}
}

func (c *MonotonicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.source().UnixMilli()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}
