package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const stopTimeout = 5 * time.Second

// AlertConfig controls score alerts.
type AlertConfig struct {
	Enabled    bool     `json:"enabled"`
	Channels   []string `json:"channels"`
	Thresholds struct {
		Critical int `json:"critical"`
		Warning  int `json:"warning"`
	} `json:"thresholds"`
}

// RetentionConfig controls history cleanup.
type RetentionConfig struct {
	Days     int  `json:"days"`
	Compress bool `json:"compress"`
}

// ScheduleConfig is the JSON scheduler configuration.
type ScheduleConfig struct {
	Enabled         bool              `json:"enabled"`
	Interval        string            `json:"interval"`
	Modules         map[string]string `json:"modules"`
	Alerts          AlertConfig       `json:"alerts"`
	Retention       RetentionConfig   `json:"retention"`
	CleanupSchedule string            `json:"cleanupSchedule"`
	ReportSchedule  string            `json:"reportSchedule"`
}

// DefaultScheduleConfig returns the built-in schedule.
func DefaultScheduleConfig() ScheduleConfig {
	cfg := ScheduleConfig{
		Enabled:  true,
		Interval: "*/30 * * * *",
		Modules: map[string]string{
			ModuleAuth:          "*/15 * * * *",
			ModuleDatabase:      "*/5 * * * *",
			ModuleNotifications: "*/30 * * * *",
			ModuleBackup:        "0 */6 * * *",
			ModuleChat:          "*/20 * * * *",
			ModulePayments:      "0 * * * *",
			ModuleAI:            "*/30 * * * *",
			ModuleRequests:      "*/15 * * * *",
		},
		Alerts:          AlertConfig{Enabled: true, Channels: []string{"email", "websocket"}},
		Retention:       RetentionConfig{Days: 30, Compress: true},
		CleanupSchedule: "0 2 * * *",
		ReportSchedule:  "0 8 * * 1",
	}
	cfg.Alerts.Thresholds.Critical = model.WarningScore
	cfg.Alerts.Thresholds.Warning = model.HealthyScore
	return cfg
}

// Validate checks every cron expression and threshold.
func (c ScheduleConfig) Validate() error {
	fields := map[string]string{}
	check := func(key, spec string) {
		if spec == "" {
			return
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			fields[key] = fmt.Sprintf("invalid cron expression %q: %v", spec, err)
		}
	}
	check("interval", c.Interval)
	check("cleanupSchedule", c.CleanupSchedule)
	check("reportSchedule", c.ReportSchedule)
	for module, spec := range c.Modules {
		check("modules."+module, spec)
	}
	if c.Alerts.Thresholds.Critical > c.Alerts.Thresholds.Warning {
		fields["alerts.thresholds"] = "critical threshold must not exceed warning threshold"
	}
	if c.Retention.Days < 0 {
		fields["retention.days"] = "retention cannot be negative"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

// LoadScheduleConfig reads path. A missing file yields the defaults and
// writes them out.
func LoadScheduleConfig(path string) (ScheduleConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultScheduleConfig()
		return cfg, SaveScheduleConfig(path, cfg)
	}
	if err != nil {
		return ScheduleConfig{}, fmt.Errorf("read schedule config: %w", err)
	}
	cfg := DefaultScheduleConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return ScheduleConfig{}, fmt.Errorf("parse schedule config: %w", err)
	}
	return cfg, cfg.Validate()
}

// SaveScheduleConfig writes cfg to path as indented JSON.
func SaveScheduleConfig(path string, cfg ScheduleConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ReportRunner produces the periodic report.
type ReportRunner interface {
	Generate(ctx context.Context, from, to time.Time) (model.ReportRecord, error)
}

// ResultProcessor reacts to a stored result.
type ResultProcessor interface {
	Process(ctx context.Context, result model.Result) ([]model.RemediationRecord, error)
}

// Scheduler runs checks on cron schedules, raises alerts and triggers
// remediation.
type Scheduler struct {
	svc         *Service
	remediation ResultProcessor
	reports     ReportRunner
	notifier    AdminNotifier
	path        string
	log         *logger.Logger

	mu      sync.Mutex
	cfg     ScheduleConfig
	cron    *cron.Cron
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler loads the configuration at path. An empty path keeps the
// defaults in memory.
func NewScheduler(svc *Service, path string, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault("health-scheduler")
	}
	cfg := DefaultScheduleConfig()
	if path != "" {
		loaded, err := LoadScheduleConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return &Scheduler{svc: svc, path: path, log: log, cfg: cfg}, nil
}

// AttachDependencies wires remediation, reports and alert delivery. Any
// argument may be nil.
func (s *Scheduler) AttachDependencies(remediation ResultProcessor, reports ReportRunner, notifier AdminNotifier) {
	s.remediation = remediation
	s.reports = reports
	s.notifier = notifier
}

func (s *Scheduler) Name() string { return "health-check-scheduler" }

// Start schedules the jobs and watches the configuration file.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if err := s.scheduleLocked(); err != nil {
		s.cancel()
		s.cancel = nil
		return err
	}
	if s.path != "" {
		if err := s.watchLocked(); err != nil {
			s.log.WithError(err).Warn("config watcher unavailable, hot reload disabled")
		}
	}
	return nil
}

// Stop cancels running jobs and waits for them up to ctx. The lock is not
// held while waiting, so jobs reading the configuration can finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.cancel = nil
	watcher := s.watcher
	s.watcher = nil
	done := s.haltCronLocked()
	s.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	waitJobs(ctx, done)
	return nil
}

// haltCronLocked stops scheduling new runs. The returned context is done once
// the jobs already running have returned.
func (s *Scheduler) haltCronLocked() context.Context {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	s.cron = nil
	return done
}

func waitJobs(ctx, done context.Context) {
	if done == nil {
		return
	}
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// scheduleLocked registers the jobs of the current configuration. Jobs work
// on a snapshot of it and never take s.mu themselves.
func (s *Scheduler) scheduleLocked() error {
	cfg := s.cfg
	if !cfg.Enabled {
		s.log.Info("health check scheduler disabled")
		return nil
	}
	runCtx := s.ctx
	c := cron.New()
	add := func(spec string, job func(ctx context.Context)) error {
		if spec == "" {
			return nil
		}
		_, err := c.AddFunc(spec, func() { job(runCtx) })
		return err
	}
	if err := add(cfg.Interval, func(ctx context.Context) { _, _ = s.runAllWith(ctx, cfg) }); err != nil {
		return err
	}
	registered := map[string]bool{}
	for _, m := range s.svc.Modules() {
		registered[m] = true
	}
	for module, spec := range cfg.Modules {
		if !registered[module] {
			continue
		}
		module := module
		if err := add(spec, func(ctx context.Context) { _, _ = s.runModuleWith(ctx, cfg, module) }); err != nil {
			return err
		}
	}
	if err := add(cfg.CleanupSchedule, func(ctx context.Context) {
		if _, err := s.svc.Cleanup(ctx, retentionDays(cfg)); err != nil {
			s.log.WithError(err).Warn("health history cleanup failed")
		}
	}); err != nil {
		return err
	}
	if s.reports != nil {
		if err := add(cfg.ReportSchedule, func(ctx context.Context) {
			if _, err := s.reports.Generate(ctx, time.Time{}, time.Time{}); err != nil {
				s.log.WithError(err).Warn("weekly health report failed")
			}
		}); err != nil {
			return err
		}
	}
	c.Start()
	s.cron = c
	s.log.WithField("jobs", len(c.Entries())).Info("health check scheduler started")
	return nil
}

func retentionDays(cfg ScheduleConfig) int {
	if cfg.Retention.Days <= 0 {
		return 30
	}
	return cfg.Retention.Days
}

func (s *Scheduler) watchLocked() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return err
	}
	s.watcher = w
	go func() {
		target := filepath.Clean(s.path)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}

func (s *Scheduler) reload() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	cfg := DefaultScheduleConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		s.log.WithError(err).Warn("ignoring unparsable schedule config")
		return
	}
	if err := cfg.Validate(); err != nil {
		s.log.WithError(err).Warn("ignoring invalid schedule config")
		return
	}
	s.mu.Lock()
	if reflect.DeepEqual(cfg, s.cfg) {
		s.mu.Unlock()
		return
	}
	s.cfg = cfg
	done, err := s.rescheduleLocked()
	s.mu.Unlock()
	if err != nil {
		s.log.WithError(err).Error("reschedule after config change failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	waitJobs(ctx, done)
	s.log.Info("health check schedule reloaded")
}

// rescheduleLocked swaps the cron for one built from s.cfg when running. The
// returned context tracks the jobs of the replaced cron.
func (s *Scheduler) rescheduleLocked() (context.Context, error) {
	if s.cancel == nil {
		return nil, nil
	}
	done := s.haltCronLocked()
	return done, s.scheduleLocked()
}

// Running reports whether the jobs are scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Config returns the active configuration.
func (s *Scheduler) Config() ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig validates, saves and applies cfg.
func (s *Scheduler) UpdateConfig(ctx context.Context, cfg ScheduleConfig) (ScheduleConfig, error) {
	if err := cfg.Validate(); err != nil {
		return ScheduleConfig{}, err
	}
	s.mu.Lock()
	if s.path != "" {
		if err := SaveScheduleConfig(s.path, cfg); err != nil {
			s.mu.Unlock()
			return ScheduleConfig{}, err
		}
	}
	s.cfg = cfg
	done, err := s.rescheduleLocked()
	s.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	waitJobs(waitCtx, done)
	if err != nil {
		return ScheduleConfig{}, err
	}
	s.log.Info("health check schedule updated")
	return cfg, nil
}

// RunManualCheck checks one module, or every module when module is empty.
func (s *Scheduler) RunManualCheck(ctx context.Context, module string) ([]model.Result, error) {
	cfg := s.Config()
	if module == "" {
		return s.runAllWith(ctx, cfg)
	}
	r, err := s.runModuleWith(ctx, cfg, module)
	if err != nil {
		return nil, err
	}
	return []model.Result{r}, nil
}

func (s *Scheduler) runModuleWith(ctx context.Context, cfg ScheduleConfig, module string) (model.Result, error) {
	r, err := s.svc.RunCheck(ctx, module)
	if err != nil {
		s.log.WithField("module", module).WithError(err).Warn("scheduled check failed")
		return r, err
	}
	s.afterCheck(ctx, cfg, r)
	return r, nil
}

func (s *Scheduler) runAllWith(ctx context.Context, cfg ScheduleConfig) ([]model.Result, error) {
	results, err := s.svc.RunAll(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduled checks failed")
		return results, err
	}
	total := 0
	for _, r := range results {
		s.afterCheck(ctx, cfg, r)
		total += r.Score
	}
	if len(results) == 0 {
		return results, nil
	}
	avg := int(math.Round(float64(total) / float64(len(results))))
	if cfg.Alerts.Enabled && avg < cfg.Alerts.Thresholds.Critical {
		s.sendAlert(ctx, cfg, notification.PriorityUrgent, "Sistema in stato critico",
			fmt.Sprintf("Health score globale: %d/100. Intervento immediato richiesto.", avg),
			map[string]interface{}{"score": avg, "severity": "critical"})
	}
	return results, nil
}

func (s *Scheduler) afterCheck(ctx context.Context, cfg ScheduleConfig, r model.Result) {
	s.checkAlerts(ctx, cfg, r)
	if s.remediation != nil && r.Status != model.StatusHealthy {
		if _, err := s.remediation.Process(ctx, r); err != nil {
			s.log.WithField("module", r.Module).WithError(err).Warn("remediation failed")
		}
	}
}

// AlertFor returns the severity and priority for a score, or ok=false when
// no alert is due.
func AlertFor(score int, cfg AlertConfig) (severity string, priority notification.Priority, ok bool) {
	switch {
	case score < cfg.Thresholds.Critical:
		return "critical", notification.PriorityUrgent, true
	case score < cfg.Thresholds.Warning:
		return "warning", notification.PriorityHigh, true
	default:
		return "", "", false
	}
}

func (s *Scheduler) checkAlerts(ctx context.Context, cfg ScheduleConfig, r model.Result) {
	if !cfg.Alerts.Enabled {
		return
	}
	severity, priority, ok := AlertFor(r.Score, cfg.Alerts)
	if !ok {
		return
	}
	title := fmt.Sprintf("Attenzione: %s", r.DisplayName)
	if severity == "critical" {
		title = fmt.Sprintf("Critico: %s", r.DisplayName)
	}
	content := fmt.Sprintf("Il modulo %s ha health score %d/100.", r.DisplayName, r.Score)
	if len(r.Errors) > 0 {
		content += " " + r.Errors[0]
	}
	s.sendAlert(ctx, cfg, priority, title, content, map[string]interface{}{
		"module": r.Module, "score": r.Score, "severity": severity,
	})
}

func (s *Scheduler) sendAlert(ctx context.Context, cfg ScheduleConfig, priority notification.Priority, title, content string, data map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	channels := make([]notification.Channel, 0, len(cfg.Alerts.Channels))
	for _, c := range cfg.Alerts.Channels {
		channels = append(channels, notification.Channel(c))
	}
	if _, err := s.notifier.SendToAdmins(ctx, notification.Message{
		Type:     "HEALTH_ALERT",
		Title:    title,
		Content:  content,
		Priority: priority,
		Data:     data,
		Channels: channels,
	}); err != nil {
		s.log.WithError(err).Warn("health alert delivery failed")
	}
}
