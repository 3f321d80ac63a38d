package chat

import (
	"sync"
	"time"
)

// IDClock hands out millisecond timestamps, bumped by one whenever two
// messages land in the same millisecond so IDs keep increasing.
type IDClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewIDClock returns a clock backed by time.Now.
func NewIDClock() *IDClock {
	return &IDClock{now: time.Now}
}

// Next returns the next message identifier.
func (c *IDClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.now().UnixMilli()
	if id <= c.last {
		id = c.last + 1
	}
	c.last = id
	return id
}
