package metrics

import (
	"sync"
	"time"
)

// Traffic summarises the HTTP requests observed since the previous snapshot.
type Traffic struct {
	Requests      int64   `json:"requests"`
	AvgResponseMs float64 `json:"avgResponseMs"`
	ErrorRate     float64 `json:"errorRate"`
}

type trafficWindow struct {
	mu       sync.Mutex
	requests int64
	errors   int64
	total    time.Duration
}

var traffic = &trafficWindow{}

func (t *trafficWindow) record(d time.Duration, failed bool) {
	t.mu.Lock()
	t.requests++
	t.total += d
	if failed {
		t.errors++
	}
	t.mu.Unlock()
}

// TakeTraffic returns the window accumulated so far and starts a new one.
// ErrorRate is a percentage.
func TakeTraffic() Traffic {
	traffic.mu.Lock()
	defer traffic.mu.Unlock()

	snap := Traffic{Requests: traffic.requests}
	if traffic.requests > 0 {
		snap.AvgResponseMs = float64(traffic.total.Milliseconds()) / float64(traffic.requests)
		snap.ErrorRate = float64(traffic.errors) / float64(traffic.requests) * 100
	}
	traffic.requests, traffic.errors, traffic.total = 0, 0, 0
	return snap
}
