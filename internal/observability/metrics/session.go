// Package metrics emits session lifecycle metrics and keeps in-process
// counters for the /api/session/metrics endpoint.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	obserrors "github.com/driptech/admin-session/internal/observability/errors"
	"github.com/driptech/admin-session/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
	ResultError   = "error"
	ResultStale   = "stale"
	ResultNoop    = "noop"
)

// Lifecycle events.
const (
	EventBootstrap    = "bootstrap"
	EventLogin        = "login"
	EventLogout       = "logout"
	EventRefresh      = "refresh"
	EventWarning      = "idle_warning"
	EventExtend       = "extend"
	EventForcedLogout = "forced_logout"
	EventActivity     = "activity"
	EventBackend      = "backend_event"
)

// SessionMetric describes one lifecycle event.
type SessionMetric struct {
	Event    string
	Result   string
	Detail   string
	Duration time.Duration
	Err      error
}

// EmitSession records a lifecycle event as "session.<event>" with result tags.
func EmitSession(sink statsd.Sink, in SessionMetric) {
	if sink == nil || in.Event == "" {
		return
	}

	tags := map[string]string{"result": in.Result}
	if in.Detail != "" {
		tags["detail"] = in.Detail
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("session."+in.Event, 1, tags)
	if in.Duration > 0 {
		sink.Timing("session."+in.Event+".duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// Counters is an in-process statsd.Sink that sums counts by name and result tag.
type Counters struct {
	mu     sync.Mutex
	counts map[string]int64
	gauges map[string]float64
}

var _ statsd.Sink = (*Counters)(nil)

// NewCounters returns an empty counter set.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int64), gauges: make(map[string]float64)}
}

func (c *Counters) Count(name string, value int64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[counterKey(name, tags)] += value
}

func (c *Counters) Gauge(name string, value float64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

// Timing is not aggregated in-process.
func (c *Counters) Timing(string, time.Duration, map[string]string) {}

// Get returns the count recorded for name and result ("" matches untagged counts).
func (c *Counters) Get(name, result string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[counterKey(name, map[string]string{"result": result})]
}

// Snapshot returns a copy of every counter keyed "name" or "name{result}".
func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Keys returns the sorted counter keys.
func (c *Counters) Keys() []string {
	snap := c.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func counterKey(name string, tags map[string]string) string {
	name = strings.TrimSpace(name)
	if r := tags["result"]; r != "" {
		return name + "{" + r + "}"
	}
	return name
}

// Fanout forwards every metric to each non-nil sink.
type Fanout []statsd.Sink

var _ statsd.Sink = Fanout(nil)

func (f Fanout) Count(name string, value int64, tags map[string]string) {
	for _, s := range f {
		if s != nil {
			s.Count(name, value, CloneTags(tags))
		}
	}
}

func (f Fanout) Gauge(name string, value float64, tags map[string]string) {
	for _, s := range f {
		if s != nil {
			s.Gauge(name, value, CloneTags(tags))
		}
	}
}

func (f Fanout) Timing(name string, value time.Duration, tags map[string]string) {
	for _, s := range f {
		if s != nil {
			s.Timing(name, value, CloneTags(tags))
		}
	}
}
