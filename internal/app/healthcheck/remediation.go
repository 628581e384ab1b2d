package healthcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dop251/goja"

	model "github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/notification"
	"github.com/richiesta-assistenza/service_layer/internal/app/metrics"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

// ScriptTimeout bounds run_script actions.
const ScriptTimeout = 2 * time.Second

// ActionType names a remediation step.
type ActionType string

const (
	ActionRestartService  ActionType = "restart_service"
	ActionClearCache      ActionType = "clear_cache"
	ActionRunScript       ActionType = "run_script"
	ActionDatabaseCleanup ActionType = "database_cleanup"
	ActionNotifyOnly      ActionType = "notify_only"
)

// Condition selects the results a rule applies to. Zero fields are ignored.
type Condition struct {
	ScoreBelow      int     `json:"scoreBelow,omitempty"`
	ErrorContains   string  `json:"errorContains,omitempty"`
	WarningContains string  `json:"warningContains,omitempty"`
	CheckFailed     string  `json:"checkFailed,omitempty"`
	MetricPath      string  `json:"metricPath,omitempty"`
	MetricAbove     float64 `json:"metricAbove,omitempty"`
}

// Action is one remediation step.
type Action struct {
	Type        ActionType `json:"type"`
	Target      string     `json:"target,omitempty"`
	Script      string     `json:"script,omitempty"`
	Description string     `json:"description"`
}

// Rule binds a condition on a module result to a list of actions.
type Rule struct {
	ID              string    `json:"id"`
	Module          string    `json:"module"`
	Condition       Condition `json:"condition"`
	Actions         []Action  `json:"actions"`
	Enabled         bool      `json:"enabled"`
	MaxAttempts     int       `json:"maxAttempts"`
	CooldownMinutes int       `json:"cooldownMinutes"`
	NotifyOnSuccess bool      `json:"notifyOnSuccess"`
	NotifyOnFailure bool      `json:"notifyOnFailure"`
}

// DefaultRules returns the built-in remediation rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        "auth-jwt-fix",
			Module:    ModuleAuth,
			Condition: Condition{ErrorContains: "JWT sign/verify failed"},
			Actions: []Action{
				{Type: ActionNotifyOnly, Description: "Alert administrators about token signing failures"},
			},
			Enabled: true, MaxAttempts: 3, CooldownMinutes: 15, NotifyOnSuccess: true, NotifyOnFailure: true,
		},
		{
			ID:        "database-connection-fix",
			Module:    ModuleDatabase,
			Condition: Condition{CheckFailed: "connection", ScoreBelow: 50},
			Actions: []Action{
				{Type: ActionRestartService, Target: "database-pool", Description: "Reset the database connection pool"},
			},
			Enabled: true, MaxAttempts: 2, CooldownMinutes: 30, NotifyOnSuccess: true, NotifyOnFailure: true,
		},
		{
			ID:        "notification-queue-fix",
			Module:    ModuleNotifications,
			Condition: Condition{ErrorContains: "notification queue disconnected"},
			Actions: []Action{
				{Type: ActionRestartService, Target: "notification-queue-consumer", Description: "Reconnect the notification queue consumer"},
			},
			Enabled: true, MaxAttempts: 5, CooldownMinutes: 10, NotifyOnFailure: true,
		},
		{
			ID:        "chat-websocket-fix",
			Module:    ModuleChat,
			Condition: Condition{ErrorContains: "websocket hub is not running"},
			Actions: []Action{
				{Type: ActionRestartService, Target: "websocket-hub", Description: "Restart the websocket hub"},
			},
			Enabled: true, MaxAttempts: 3, CooldownMinutes: 20, NotifyOnSuccess: true, NotifyOnFailure: true,
		},
		{
			ID:        "cache-cleanup",
			Module:    ModuleRedis,
			Condition: Condition{MetricPath: "$.metrics.memoryPercent", MetricAbove: 75},
			Actions: []Action{
				{Type: ActionClearCache, Target: "geocoding", Description: "Clear the geocoding cache"},
				{Type: ActionDatabaseCleanup, Target: "health_history", Description: "Delete expired health check history"},
			},
			Enabled: true, MaxAttempts: 2, CooldownMinutes: 60, NotifyOnFailure: true,
		},
		{
			ID:        "ai-token-limit",
			Module:    ModuleAI,
			Condition: Condition{ErrorContains: "AI assistant is not configured"},
			Actions: []Action{
				{Type: ActionNotifyOnly, Description: "Alert administrators that the AI assistant is offline"},
				{Type: ActionRunScript, Script: "result.checks.some(function (c) { return c.name === 'embedder' && c.status === 'pass' })", Description: "Confirm the knowledge base still answers"},
			},
			Enabled: true, MaxAttempts: 1, CooldownMinutes: 1440, NotifyOnSuccess: true,
		},
	}
}

// Restarter restarts a named background service.
type Restarter interface {
	Restart(ctx context.Context, name string) error
}

// CacheClearer drops a cache.
type CacheClearer interface {
	ClearCache(ctx context.Context) (int, error)
}

// CleanupFunc deletes stale data and returns how many rows went.
type CleanupFunc func(ctx context.Context) (int, error)

// AdminNotifier alerts administrators.
type AdminNotifier interface {
	SendToAdmins(ctx context.Context, msg notification.Message) (int, error)
}

// Rechecker re-runs a module check after remediation.
type Rechecker interface {
	RunCheck(ctx context.Context, module string) (model.Result, error)
}

// Remediation evaluates rules against check results and runs their actions.
type Remediation struct {
	store    storage.HealthCheckStore
	log      *logger.Logger
	now      func() time.Time
	path     string
	checker  Rechecker
	restart  Restarter
	notifier AdminNotifier
	caches   map[string]CacheClearer
	cleaners map[string]CleanupFunc

	mu    sync.RWMutex
	rules []Rule
}

// NewRemediation loads rules from path, or installs the defaults when the
// file is missing. An empty path keeps rules in memory only.
func NewRemediation(store storage.HealthCheckStore, path string, log *logger.Logger) (*Remediation, error) {
	if log == nil {
		log = logger.NewDefault("remediation")
	}
	r := &Remediation{
		store:    store,
		log:      log,
		now:      time.Now,
		path:     path,
		caches:   map[string]CacheClearer{},
		cleaners: map[string]CleanupFunc{},
	}
	if path == "" {
		r.rules = DefaultRules()
		return r, nil
	}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		r.rules = DefaultRules()
		if err := r.saveLocked(); err != nil {
			log.WithError(err).Warn("save default remediation rules failed")
		}
	case err != nil:
		return nil, fmt.Errorf("read remediation rules: %w", err)
	default:
		if err := json.Unmarshal(raw, &r.rules); err != nil {
			return nil, fmt.Errorf("parse remediation rules: %w", err)
		}
	}
	log.WithField("rules", len(r.rules)).Info("remediation rules loaded")
	return r, nil
}

// AttachDependencies wires the action targets. Any argument may be nil.
func (r *Remediation) AttachDependencies(checker Rechecker, restart Restarter, notifier AdminNotifier) {
	r.checker = checker
	r.restart = restart
	r.notifier = notifier
}

// RegisterCache exposes a cache to clear_cache actions.
func (r *Remediation) RegisterCache(target string, c CacheClearer) { r.caches[target] = c }

// RegisterCleanup exposes a cleanup to database_cleanup actions.
func (r *Remediation) RegisterCleanup(target string, fn CleanupFunc) { r.cleaners[target] = fn }

// Matches reports whether rule applies to result.
func Matches(rule Rule, result model.Result) bool {
	if !rule.Enabled || rule.Module != result.Module {
		return false
	}
	c := rule.Condition
	if c.ScoreBelow > 0 && result.Score >= c.ScoreBelow {
		return false
	}
	if c.ErrorContains != "" && !result.Mentions(c.ErrorContains, false) {
		return false
	}
	if c.WarningContains != "" && !result.Mentions(c.WarningContains, true) {
		return false
	}
	if c.CheckFailed != "" {
		check, ok := result.Check(c.CheckFailed)
		if !ok || check.Status != model.CheckFail {
			return false
		}
	}
	if c.MetricPath != "" {
		v, err := MetricValue(c.MetricPath, result)
		if err != nil || v <= c.MetricAbove {
			return false
		}
	}
	return true
}

// MetricValue reads a number from the JSON form of result.
func MetricValue(path string, result model.Result) (float64, error) {
	doc, err := resultDocument(result)
	if err != nil {
		return 0, err
	}
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("metric %s is %T, not a number", path, v)
	}
}

func resultDocument(result model.Result) (map[string]interface{}, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// RunScript evaluates script with the result bound to `result`. A truthy
// completion value is success.
func RunScript(script string, result model.Result, timeout time.Duration) (bool, error) {
	doc, err := resultDocument(result)
	if err != nil {
		return false, err
	}
	vm := goja.New()
	if err := vm.Set("result", doc); err != nil {
		return false, err
	}
	timer := time.AfterFunc(timeout, func() { vm.Interrupt("script timeout") })
	defer timer.Stop()

	v, err := vm.RunString(script)
	if err != nil {
		return false, fmt.Errorf("script: %w", err)
	}
	return v != nil && v.ToBoolean(), nil
}

// Process applies the first matching rule that succeeds. It returns the
// records of every attempted rule.
func (r *Remediation) Process(ctx context.Context, result model.Result) ([]model.RemediationRecord, error) {
	var records []model.RemediationRecord
	for _, rule := range r.Rules() {
		if !Matches(rule, result) {
			continue
		}
		allowed, err := r.canAttempt(ctx, rule)
		if err != nil {
			return records, err
		}
		if !allowed {
			r.log.WithField("rule_id", rule.ID).Info("remediation skipped during cooldown")
			continue
		}
		record := r.execute(ctx, rule, result)
		records = append(records, record)
		if record.Success {
			break
		}
	}
	return records, nil
}

func (r *Remediation) canAttempt(ctx context.Context, rule Rule) (bool, error) {
	since := r.now().UTC().Add(-time.Duration(rule.CooldownMinutes) * time.Minute)
	attempts, err := r.store.ListRemediations(ctx, rule.ID, since)
	if err != nil {
		return false, err
	}
	max := rule.MaxAttempts
	if max <= 0 {
		max = 1
	}
	return len(attempts) < max, nil
}

func (r *Remediation) execute(ctx context.Context, rule Rule, result model.Result) model.RemediationRecord {
	start := r.now()
	record := model.RemediationRecord{
		RuleID:      rule.ID,
		Module:      rule.Module,
		Actions:     []string{},
		ScoreBefore: result.Score,
		ExecutedAt:  start.UTC(),
	}
	var failure error
	for _, action := range rule.Actions {
		if err := r.runAction(ctx, action, result); err != nil {
			failure = fmt.Errorf("%s: %w", action.Type, err)
			break
		}
		record.Actions = append(record.Actions, action.Description)
	}

	if failure == nil {
		record.Success = true
		if r.checker != nil {
			after, err := r.checker.RunCheck(ctx, rule.Module)
			if err != nil {
				failure = fmt.Errorf("re-check: %w", err)
				record.Success = false
			} else {
				record.ScoreAfter = &after.Score
				record.Success = after.Score > result.Score
			}
		}
	}
	if failure != nil {
		record.Error = failure.Error()
	}
	record.DurationMs = r.now().Sub(start).Milliseconds()

	if saved, err := r.store.SaveRemediation(ctx, record); err != nil {
		r.log.WithField("rule_id", rule.ID).WithError(err).Warn("store remediation record failed")
	} else {
		record = saved
	}
	metrics.RecordRemediation(rule.ID, record.Success)

	entry := r.log.WithField("rule_id", rule.ID).WithField("module", rule.Module).WithField("success", record.Success)
	if record.Success {
		entry.Info("remediation applied")
	} else {
		entry.WithField("error", record.Error).Warn("remediation did not recover the module")
	}

	if (record.Success && rule.NotifyOnSuccess) || (!record.Success && rule.NotifyOnFailure) {
		r.notifyOutcome(ctx, rule, record)
	}
	return record
}

func (r *Remediation) runAction(ctx context.Context, action Action, result model.Result) error {
	switch action.Type {
	case ActionRestartService:
		if r.restart == nil {
			return fmt.Errorf("no service manager")
		}
		return r.restart.Restart(ctx, action.Target)
	case ActionClearCache:
		cache, ok := r.caches[action.Target]
		if !ok {
			return fmt.Errorf("unknown cache %q", action.Target)
		}
		_, err := cache.ClearCache(ctx)
		return err
	case ActionDatabaseCleanup:
		fn, ok := r.cleaners[action.Target]
		if !ok {
			return fmt.Errorf("unknown cleanup %q", action.Target)
		}
		_, err := fn(ctx)
		return err
	case ActionRunScript:
		ok, err := RunScript(action.Script, result, ScriptTimeout)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("script returned a falsy value")
		}
		return nil
	case ActionNotifyOnly:
		if r.notifier == nil {
			return nil
		}
		_, err := r.notifier.SendToAdmins(ctx, notification.Message{
			Type:     "HEALTH_REMEDIATION",
			Title:    fmt.Sprintf("Intervento richiesto: %s", result.DisplayName),
			Content:  action.Description,
			Priority: notification.PriorityHigh,
			Data:     map[string]interface{}{"module": result.Module, "score": result.Score},
		})
		return err
	default:
		return fmt.Errorf("unsupported action %q", action.Type)
	}
}

func (r *Remediation) notifyOutcome(ctx context.Context, rule Rule, record model.RemediationRecord) {
	if r.notifier == nil {
		return
	}
	title := "Auto-remediation riuscita"
	priority := notification.PriorityNormal
	content := fmt.Sprintf("La regola %s ha ripristinato il modulo %s.", rule.ID, rule.Module)
	if !record.Success {
		title = "Auto-remediation fallita"
		priority = notification.PriorityHigh
		content = fmt.Sprintf("La regola %s non ha ripristinato il modulo %s: %s", rule.ID, rule.Module, record.Error)
	}
	if _, err := r.notifier.SendToAdmins(ctx, notification.Message{
		Type:     "HEALTH_REMEDIATION",
		Title:    title,
		Content:  content,
		Priority: priority,
		Data:     map[string]interface{}{"ruleId": rule.ID, "module": rule.Module, "success": record.Success},
	}); err != nil {
		r.log.WithField("rule_id", rule.ID).WithError(err).Warn("remediation notification failed")
	}
}

// History lists remediation attempts, optionally for a single rule.
func (r *Remediation) History(ctx context.Context, ruleID string, since time.Time) ([]model.RemediationRecord, error) {
	records, err := r.store.ListRemediations(ctx, ruleID, since)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.RemediationRecord{}
	}
	return records, nil
}

// Rules returns a copy of the rules.
func (r *Remediation) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules...)
}

// Rule returns the rule with id.
func (r *Remediation) Rule(id string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.rules[i], nil
	}
	return Rule{}, errors.NotFound("remediation rule", id)
}

func validateRemediationRule(rule Rule) error {
	fields := map[string]string{}
	if strings.TrimSpace(rule.ID) == "" {
		fields["id"] = "id is required"
	}
	if strings.TrimSpace(rule.Module) == "" {
		fields["module"] = "module is required"
	}
	if len(rule.Actions) == 0 {
		fields["actions"] = "at least one action is required"
	}
	for _, a := range rule.Actions {
		switch a.Type {
		case ActionRestartService, ActionClearCache, ActionDatabaseCleanup:
			if a.Target == "" {
				fields["actions"] = fmt.Sprintf("%s requires a target", a.Type)
			}
		case ActionRunScript:
			if strings.TrimSpace(a.Script) == "" {
				fields["actions"] = "run_script requires a script"
			} else if _, err := goja.Compile("rule", a.Script, false); err != nil {
				fields["actions"] = "script does not compile: " + err.Error()
			}
		case ActionNotifyOnly:
		default:
			fields["actions"] = fmt.Sprintf("unsupported action %q", a.Type)
		}
	}
	if rule.MaxAttempts < 0 || rule.CooldownMinutes < 0 {
		fields["maxAttempts"] = "attempts and cooldown cannot be negative"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

// CreateRule adds a rule.
func (r *Remediation) CreateRule(rule Rule) (Rule, error) {
	if err := validateRemediationRule(rule); err != nil {
		return Rule{}, err
	}
	if rule.MaxAttempts == 0 {
		rule.MaxAttempts = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(rule.ID) >= 0 {
		return Rule{}, errors.Conflict("remediation rule %s already exists", rule.ID)
	}
	r.rules = append(r.rules, rule)
	return rule, r.saveLocked()
}

// UpdateRule replaces the rule with id.
func (r *Remediation) UpdateRule(id string, rule Rule) (Rule, error) {
	rule.ID = id
	if err := validateRemediationRule(rule); err != nil {
		return Rule{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return Rule{}, errors.NotFound("remediation rule", id)
	}
	r.rules[i] = rule
	return rule, r.saveLocked()
}

// SetEnabled toggles a rule.
func (r *Remediation) SetEnabled(id string, enabled bool) (Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return Rule{}, errors.NotFound("remediation rule", id)
	}
	r.rules[i].Enabled = enabled
	return r.rules[i], r.saveLocked()
}

// DeleteRule removes a rule.
func (r *Remediation) DeleteRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return errors.NotFound("remediation rule", id)
	}
	r.rules = append(r.rules[:i], r.rules[i+1:]...)
	return r.saveLocked()
}

func (r *Remediation) indexLocked(id string) int {
	for i, rule := range r.rules {
		if rule.ID == id {
			return i
		}
	}
	return -1
}

func (r *Remediation) saveLocked() error {
	if r.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(r.rules, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.path, raw, 0o644)
}
