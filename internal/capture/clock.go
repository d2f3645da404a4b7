package capture

import "time"

// wallClock reconciles the protocol's monotonic clock against wall time.
// Whenever an event carries both values the offset is cached for that
// logical id and globally; later monotonic-only events for the id convert
// through the cached offset. With no anchor at all, current wall time is
// the fallback.
type wallClock struct {
	perID     map[string]float64
	global    float64
	hasGlobal bool
	now       func() time.Time
}

func newWallClock(now func() time.Time) *wallClock {
	if now == nil {
		now = time.Now
	}
	return &wallClock{perID: make(map[string]float64), now: now}
}

// reconcile returns epoch milliseconds for an event carrying wall (seconds
// since epoch, 0 if absent) and mono (monotonic seconds, 0 if absent).
func (c *wallClock) reconcile(logicalID string, wall, mono float64) int64 {
	if wall > 0 && mono > 0 {
		offset := wall - mono
		c.perID[logicalID] = offset
		c.global = offset
		c.hasGlobal = true
		return int64((mono + offset) * 1000)
	}
	if mono > 0 {
		if offset, ok := c.perID[logicalID]; ok {
			return int64((mono + offset) * 1000)
		}
		if c.hasGlobal {
			return int64((mono + c.global) * 1000)
		}
	}
	if wall > 0 {
		return int64(wall * 1000)
	}
	return c.now().UnixMilli()
}

// adopt carries an id's cached offset over to a new logical id (redirect
// hops share the raw id's anchor).
func (c *wallClock) adopt(fromID, toID string) {
	if offset, ok := c.perID[fromID]; ok {
		c.perID[toID] = offset
	}
}
