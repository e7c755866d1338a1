package registry

import (
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rpilot/pilot/pkg/metrics"
)

// HeartbeatTable tracks the last beat time per component uid. TTL
// expiry without a renewed beat is the failure signal itself — the
// cache's eviction callback pushes it to the component manager through
// onMiss (§4.1: T_fail=10s, interval=1s by default).
type HeartbeatTable struct {
	cache *cache.Cache
}

// forgotten is the value Forget stores just before deleting an entry,
// so the eviction callback can tell a deliberate removal from expiry.
type forgotten struct{}

// NewHeartbeatTable creates a table where an entry not renewed within
// timeout is evicted and reported as missed via onMiss.
func NewHeartbeatTable(timeout time.Duration, onMiss func(componentUID string)) *HeartbeatTable {
	c := cache.New(timeout, timeout/2)
	if onMiss != nil {
		c.OnEvicted(func(uid string, v interface{}) {
			if _, ok := v.(forgotten); ok {
				return
			}
			metrics.HeartbeatMissesTotal.WithLabelValues(uid).Inc()
			onMiss(uid)
		})
	}
	return &HeartbeatTable{cache: c}
}

// Beat renews the TTL for componentUID.
func (h *HeartbeatTable) Beat(componentUID string) {
	h.cache.Set(componentUID, time.Now(), cache.DefaultExpiration)
	metrics.HeartbeatAgeSeconds.WithLabelValues(componentUID).Set(0)
}

// LastBeat returns the last beat time for componentUID, if still live.
func (h *HeartbeatTable) LastBeat(componentUID string) (time.Time, bool) {
	v, ok := h.cache.Get(componentUID)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// Forget stops tracking componentUID without reporting it as missed
// (for a component that shut down cleanly).
func (h *HeartbeatTable) Forget(componentUID string) {
	h.cache.Set(componentUID, forgotten{}, cache.NoExpiration)
	h.cache.Delete(componentUID)
}
