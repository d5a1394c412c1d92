// Package frequency implements the fixed-capacity ring-buffer event counter
// the frequency condition and risk assessor both read from.
package frequency

import (
	"sync"
	"time"

	"github.com/governed/governor/internal/domain/policy"
)

const defaultCapacity = 1000

// event is one recorded occurrence: the tool call's agent, session, tool
// name, and the wall-clock instant it happened at.
type event struct {
	agentID    string
	sessionKey string
	toolName   string
	at         time.Time
}

// Counter is a fixed-capacity ring buffer of recent events. Record is O(1);
// Count does a linear scan bounded by capacity, the same bound a fixed-capacity ring buffer
// recent-entries ring buffer uses for its cache scans.
type Counter struct {
	mu    sync.RWMutex
	buf   []event
	head  int
	count int
	now   func() time.Time
}

// New creates a Counter with the given ring capacity. A non-positive
// capacity falls back to the default.
func New(capacity int) *Counter {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Counter{
		buf: make([]event, capacity),
		now: time.Now,
	}
}

// Record appends one occurrence, overwriting the oldest entry once the
// ring is full.
func (c *Counter) Record(agentID, sessionKey, toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf[c.head] = event{agentID: agentID, sessionKey: sessionKey, toolName: toolName, at: c.now()}
	c.head = (c.head + 1) % len(c.buf)
	if c.count < len(c.buf) {
		c.count++
	}
}

// Clear zeroes the ring and head, discarding all recorded events.
func (c *Counter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.buf {
		c.buf[i] = event{}
	}
	c.head = 0
	c.count = 0
}

// Count returns the number of recorded events within the last windowSeconds
// that match scope against agentID/sessionKey. FrequencyScopeGlobal counts
// every retained event regardless of agent or session.
func (c *Counter) Count(windowSeconds int, scope policy.FrequencyScope, agentID, sessionKey string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.count == 0 {
		return 0
	}
	cutoff := c.now().Add(-time.Duration(windowSeconds) * time.Second)

	n := 0
	for i := 0; i < c.count; i++ {
		idx := (c.head - 1 - i + len(c.buf)) % len(c.buf)
		e := c.buf[idx]
		if e.at.Before(cutoff) {
			break // events are recorded in arrival order, so the rest are older still
		}
		switch scope {
		case policy.FrequencyScopeAgent:
			if e.agentID != agentID {
				continue
			}
		case policy.FrequencyScopeSession:
			if e.sessionKey != sessionKey {
				continue
			}
		case policy.FrequencyScopeGlobal:
			// no filter
		}
		n++
	}
	return n
}

// Len reports the number of events currently retained.
func (c *Counter) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
