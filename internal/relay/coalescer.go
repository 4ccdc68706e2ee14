package relay

import "time"

// coalescer collapses any number of controller mutations into a single pending
// flush. Only the latest full state matters, so a boolean is enough.
type coalescer struct {
	dirty       bool
	lastFlushAt time.Time
}

func (c *coalescer) markDirty() {
	c.dirty = true
}

// takeFlush reports whether a flush is due and, if so, records it at now.
func (c *coalescer) takeFlush(now time.Time) bool {
	if !c.dirty {
		return false
	}
	c.dirty = false
	c.lastFlushAt = now
	return true
}

func (c *coalescer) idleFor(now time.Time) time.Duration {
	return now.Sub(c.lastFlushAt)
}
