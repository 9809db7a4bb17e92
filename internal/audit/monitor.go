package audit

import (
	"fmt"
	"sync"
	"time"
)

// Alert describes an anomaly that tripped a threshold.
type Alert struct {
	Event     Event         `json:"event"`
	Message   string        `json:"message"`
	Count     int           `json:"count"`
	Threshold int           `json:"threshold"`
	Window    time.Duration `json:"window"`
	Timestamp time.Time     `json:"timestamp"`
}

// AlertFunc is invoked when an anomaly is detected. It runs with the monitor
// lock held and must not log through the same Logger.
type AlertFunc func(Alert)

// Threshold fires an alert when Count events land within Window.
type Threshold struct {
	Count  int
	Window time.Duration
}

// DefaultThresholds watch for sustained guard rejections.
var DefaultThresholds = map[Event]Threshold{
	RateLimited:               {Count: 100, Window: time.Minute},
	CSRFRejected:              {Count: 50, Window: time.Minute},
	OriginRejected:            {Count: 50, Window: time.Minute},
	AccessCodeRejected:        {Count: 50, Window: 5 * time.Minute},
	RateLimitStoreUnavailable: {Count: 10, Window: time.Minute},
}

// Monitor tracks sliding windows of audit events and raises alerts on
// spikes. A nil *Monitor records nothing.
type Monitor struct {
	mu         sync.Mutex
	thresholds map[Event]Threshold
	seen       map[Event][]time.Time
	alertFn    AlertFunc
	now        func() time.Time
}

// NewMonitor returns a monitor using thresholds, or DefaultThresholds when
// nil.
func NewMonitor(alertFn AlertFunc, thresholds map[Event]Threshold) *Monitor {
	if thresholds == nil {
		thresholds = DefaultThresholds
	}
	return &Monitor{
		thresholds: thresholds,
		seen:       make(map[Event][]time.Time),
		alertFn:    alertFn,
		now:        time.Now,
	}
}

// Record counts one occurrence of event.
func (m *Monitor) Record(event Event) {
	if m == nil {
		return
	}
	m.RecordAt(event, m.now())
}

// RecordAt counts an occurrence of event observed at the given time. Calls
// must arrive in time order per event.
func (m *Monitor) RecordAt(event Event, now time.Time) {
	if m == nil || m.alertFn == nil {
		return
	}
	th, ok := m.thresholds[event]
	if !ok || th.Count <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	times := append(m.seen[event], now)
	times = trimWindow(times, now, th.Window)

	if len(times) >= th.Count {
		m.alertFn(Alert{
			Event:     event,
			Message:   fmt.Sprintf("%s rate exceeds threshold", event),
			Count:     len(times),
			Threshold: th.Count,
			Window:    th.Window,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		times = times[:0]
	}
	m.seen[event] = times
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
