package healthcheck

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	DefaultSampleInterval = 60 * time.Second
	DefaultHistoryLimit   = 1440
	alertInterval         = 15 * time.Minute
)

// Thresholds trigger performance alerts.
type Thresholds struct {
	CPU          float64 `json:"cpu"`
	Memory       float64 `json:"memory"`
	ResponseTime float64 `json:"responseTime"`
	ErrorRate    float64 `json:"errorRate"`
}

// DefaultThresholds returns the built-in alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 80, Memory: 85, ResponseTime: 1000, ErrorRate: 5}
}

type CPUStats struct {
	Usage float64 `json:"usage"`
	Load1 float64 `json:"load1"`
}

type MemoryStats struct {
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	Percentage float64 `json:"percentage"`
}

type PoolStats struct {
	OpenConnections int   `json:"openConnections"`
	InUse           int   `json:"inUse"`
	WaitCount       int64 `json:"waitCount"`
}

type HealthStats struct {
	OverallScore int `json:"overallScore"`
	Critical     int `json:"critical"`
}

// Sample is one performance snapshot.
type Sample struct {
	Timestamp    time.Time       `json:"timestamp"`
	CPU          CPUStats        `json:"cpu"`
	Memory       MemoryStats     `json:"memory"`
	Database     PoolStats       `json:"database"`
	API          metrics.Traffic `json:"api"`
	HealthChecks HealthStats     `json:"healthChecks"`
}

// Stat is an avg/max/min triple.
type Stat struct {
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
	Min float64 `json:"min"`
}

// Aggregate summarises the samples of a time window.
type Aggregate struct {
	Minutes      int  `json:"minutes"`
	Samples      int  `json:"samples"`
	CPU          Stat `json:"cpu"`
	Memory       Stat `json:"memory"`
	ResponseTime Stat `json:"responseTime"`
}

// HostSampler reads host CPU and memory.
type HostSampler interface {
	Sample(ctx context.Context) (CPUStats, MemoryStats, error)
}

// SystemSampler reads the host through gopsutil.
type SystemSampler struct{}

func (SystemSampler) Sample(ctx context.Context) (CPUStats, MemoryStats, error) {
	var c CPUStats
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return CPUStats{}, MemoryStats{}, fmt.Errorf("cpu: %w", err)
	}
	if len(pct) > 0 {
		c.Usage = round2(pct[0])
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		c.Load1 = round2(avg.Load1)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return c, MemoryStats{}, fmt.Errorf("memory: %w", err)
	}
	return c, MemoryStats{Total: vm.Total, Used: vm.Used, Free: vm.Free, Percentage: round2(vm.UsedPercent)}, nil
}

// SummarySource provides the latest health summary.
type SummarySource interface {
	Summary(ctx context.Context) (model.Summary, error)
}

// Monitor samples performance on an interval and alerts on breaches.
type Monitor struct {
	host       HostSampler
	pool       interface{ Stats() sql.DBStats }
	traffic    func() metrics.Traffic
	health     SummarySource
	notifier   AdminNotifier
	thresholds Thresholds
	interval   time.Duration
	limit      int
	log        *logger.Logger
	now        func() time.Time

	mu        sync.RWMutex
	history   []Sample
	lastAlert map[string]time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMonitor constructs a monitor with the default interval, history limit
// and thresholds.
func NewMonitor(host HostSampler, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault("performance")
	}
	if host == nil {
		host = SystemSampler{}
	}
	return &Monitor{
		host:       host,
		traffic:    metrics.TakeTraffic,
		thresholds: DefaultThresholds(),
		interval:   DefaultSampleInterval,
		limit:      DefaultHistoryLimit,
		log:        log,
		now:        time.Now,
		lastAlert:  map[string]time.Time{},
	}
}

// AttachDependencies wires optional sources. Any argument may be nil.
func (m *Monitor) AttachDependencies(pool interface{ Stats() sql.DBStats }, health SummarySource, notifier AdminNotifier) {
	m.pool = pool
	m.health = health
	m.notifier = notifier
}

// Thresholds returns the alert thresholds.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

func (m *Monitor) Name() string { return "performance-monitor" }

func (m *Monitor) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	m.log.WithField("interval", m.interval.String()).Info("performance monitor started")
	return nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Collect(ctx); err != nil {
				m.log.WithError(err).Warn("performance sample failed")
			}
		}
	}
}

// Collect takes a sample, stores it and checks thresholds.
func (m *Monitor) Collect(ctx context.Context) (Sample, error) {
	s := Sample{Timestamp: m.now().UTC()}
	cpuStats, memStats, err := m.host.Sample(ctx)
	if err != nil {
		return Sample{}, err
	}
	s.CPU, s.Memory = cpuStats, memStats
	if m.pool != nil {
		st := m.pool.Stats()
		s.Database = PoolStats{OpenConnections: st.OpenConnections, InUse: st.InUse, WaitCount: st.WaitCount}
	}
	if m.traffic != nil {
		s.API = m.traffic()
		s.API.AvgResponseMs = round2(s.API.AvgResponseMs)
		s.API.ErrorRate = round2(s.API.ErrorRate)
	}
	if m.health != nil {
		if sum, err := m.health.Summary(ctx); err == nil {
			s.HealthChecks = HealthStats{OverallScore: sum.OverallScore, Critical: sum.Critical}
		}
	}

	m.mu.Lock()
	m.history = append(m.history, s)
	if len(m.history) > m.limit {
		m.history = append([]Sample(nil), m.history[len(m.history)-m.limit:]...)
	}
	m.mu.Unlock()

	m.checkThresholds(ctx, s)
	return s, nil
}

// Breaches lists the metrics of s above t, keyed by metric name.
func Breaches(s Sample, t Thresholds) map[string]string {
	out := map[string]string{}
	if s.CPU.Usage > t.CPU {
		out["cpu"] = fmt.Sprintf("CPU usage high: %.1f%%", s.CPU.Usage)
	}
	if s.Memory.Percentage > t.Memory {
		out["memory"] = fmt.Sprintf("Memory usage high: %.1f%%", s.Memory.Percentage)
	}
	if s.API.AvgResponseMs > t.ResponseTime {
		out["responseTime"] = fmt.Sprintf("API response time slow: %.0fms", s.API.AvgResponseMs)
	}
	if s.API.ErrorRate > t.ErrorRate {
		out["errorRate"] = fmt.Sprintf("API error rate high: %.1f%%", s.API.ErrorRate)
	}
	return out
}

func (m *Monitor) checkThresholds(ctx context.Context, s Sample) {
	for metric, msg := range Breaches(s, m.thresholds) {
		m.mu.Lock()
		last, seen := m.lastAlert[metric]
		due := !seen || s.Timestamp.Sub(last) >= alertInterval
		if due {
			m.lastAlert[metric] = s.Timestamp
		}
		m.mu.Unlock()
		if !due {
			continue
		}
		m.log.WithField("metric", metric).Warn(msg)
		if m.notifier == nil {
			continue
		}
		if _, err := m.notifier.SendToAdmins(ctx, notification.Message{
			Type:     "PERFORMANCE_ALERT",
			Title:    "Avviso prestazioni",
			Content:  msg,
			Priority: notification.PriorityHigh,
			Data:     map[string]interface{}{"metric": metric},
		}); err != nil {
			m.log.WithError(err).Warn("performance alert delivery failed")
		}
	}
}

// GetCurrent returns the latest sample.
func (m *Monitor) GetCurrent() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return Sample{}, false
	}
	return m.history[len(m.history)-1], true
}

// GetHistory returns up to limit of the newest samples, oldest first.
func (m *Monitor) GetHistory(limit int) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Sample{}, h...)
}

// GetAggregateStats summarises the samples of the last minutes (default 60).
func (m *Monitor) GetAggregateStats(minutes int) Aggregate {
	if minutes <= 0 {
		minutes = 60
	}
	cutoff := m.now().UTC().Add(-time.Duration(minutes) * time.Minute)
	m.mu.RLock()
	var window []Sample
	for _, s := range m.history {
		if !s.Timestamp.Before(cutoff) {
			window = append(window, s)
		}
	}
	m.mu.RUnlock()
	return Aggregate{
		Minutes:      minutes,
		Samples:      len(window),
		CPU:          statOf(window, func(s Sample) float64 { return s.CPU.Usage }),
		Memory:       statOf(window, func(s Sample) float64 { return s.Memory.Percentage }),
		ResponseTime: statOf(window, func(s Sample) float64 { return s.API.AvgResponseMs }),
	}
}

func statOf(samples []Sample, pick func(Sample) float64) Stat {
	if len(samples) == 0 {
		return Stat{}
	}
	st := Stat{Max: math.Inf(-1), Min: math.Inf(1)}
	sum := 0.0
	for _, s := range samples {
		v := pick(s)
		sum += v
		st.Max = math.Max(st.Max, v)
		st.Min = math.Min(st.Min, v)
	}
	st.Avg = round2(sum / float64(len(samples)))
	return st
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
