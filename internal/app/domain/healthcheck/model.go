package healthcheck

import (
	"strings"
	"time"
)

// Score thresholds.
const (
	HealthyScore = 80
	WarningScore = 60
)

// Status is the aggregate health of a module.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// StatusForScore maps a score to a status.
func StatusForScore(score int) Status {
	switch {
	case score >= HealthyScore:
		return StatusHealthy
	case score >= WarningScore:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// CheckStatus is the outcome of a single probe.
type CheckStatus string

const (
	CheckPass  CheckStatus = "pass"
	CheckWarn  CheckStatus = "warn"
	CheckFail  CheckStatus = "fail"
	CheckError CheckStatus = "error"
)

// Severity ranks a probe's importance.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Check is a single probe inside a module result.
type Check struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      CheckStatus `json:"status"`
	Message     string      `json:"message,omitempty"`
	Severity    Severity    `json:"severity"`
}

// Result is the outcome of checking one module.
type Result struct {
	ID              string                 `json:"id,omitempty"`
	Module          string                 `json:"module"`
	DisplayName     string                 `json:"displayName"`
	Timestamp       time.Time              `json:"timestamp"`
	Status          Status                 `json:"status"`
	Score           int                    `json:"score"`
	Checks          []Check                `json:"checks"`
	Metrics         map[string]interface{} `json:"metrics,omitempty"`
	Warnings        []string               `json:"warnings"`
	Errors          []string               `json:"errors"`
	Recommendations []string               `json:"recommendations"`
	ExecutionTimeMs int64                  `json:"executionTime"`
}

// Check returns the named check.
func (r Result) Check(name string) (Check, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return Check{}, false
}

// Mentions reports whether any error (or warning when warnings is true)
// contains needle case-insensitively.
func (r Result) Mentions(needle string, warnings bool) bool {
	needle = strings.ToLower(needle)
	list := r.Errors
	if warnings {
		list = r.Warnings
	}
	for _, msg := range list {
		if strings.Contains(strings.ToLower(msg), needle) {
			return true
		}
	}
	return false
}

// Builder accumulates checks and deductions for a module.
type Builder struct {
	result    Result
	deduction int
}

// NewBuilder starts a result for module.
func NewBuilder(module, displayName string) *Builder {
	return &Builder{result: Result{
		Module:          module,
		DisplayName:     displayName,
		Checks:          []Check{},
		Metrics:         map[string]interface{}{},
		Warnings:        []string{},
		Errors:          []string{},
		Recommendations: []string{},
	}}
}

// Pass records a passing check.
func (b *Builder) Pass(name, description, message string) *Builder {
	b.result.Checks = append(b.result.Checks, Check{Name: name, Description: description, Status: CheckPass, Message: message, Severity: SeverityLow})
	return b
}

// Warn records a warning check and deducts points.
func (b *Builder) Warn(name, description, message string, deduction int) *Builder {
	b.result.Checks = append(b.result.Checks, Check{Name: name, Description: description, Status: CheckWarn, Message: message, Severity: SeverityMedium})
	b.result.Warnings = append(b.result.Warnings, message)
	b.deduction += deduction
	return b
}

// Fail records a failing check and deducts points.
func (b *Builder) Fail(name, description, message string, severity Severity, deduction int) *Builder {
	b.result.Checks = append(b.result.Checks, Check{Name: name, Description: description, Status: CheckFail, Message: message, Severity: severity})
	b.result.Errors = append(b.result.Errors, message)
	b.deduction += deduction
	return b
}

// Metric sets a metric value.
func (b *Builder) Metric(key string, value interface{}) *Builder {
	b.result.Metrics[key] = value
	return b
}

// Recommend appends a recommendation.
func (b *Builder) Recommend(text string) *Builder {
	b.result.Recommendations = append(b.result.Recommendations, text)
	return b
}

// Build finalises score and status.
func (b *Builder) Build() Result {
	score := 100 - b.deduction
	if score < 0 {
		score = 0
	}
	b.result.Score = score
	b.result.Status = StatusForScore(score)
	return b.result
}

// Unknown returns the result used when a checker itself failed.
func Unknown(module, displayName string, err error) Result {
	r := NewBuilder(module, displayName).Build()
	r.Score = 0
	r.Status = StatusUnknown
	r.Errors = append(r.Errors, err.Error())
	return r
}

// ModuleSummary is the latest status of one module.
type ModuleSummary struct {
	Module      string    `json:"module"`
	DisplayName string    `json:"displayName"`
	Status      Status    `json:"status"`
	Score       int       `json:"score"`
	LastCheck   time.Time `json:"lastCheck"`
}

// Summary aggregates the latest results.
type Summary struct {
	OverallScore  int             `json:"overallScore"`
	OverallStatus Status          `json:"overallStatus"`
	Modules       []ModuleSummary `json:"modules"`
	Healthy       int             `json:"healthy"`
	Warning       int             `json:"warning"`
	Critical      int             `json:"critical"`
	Unknown       int             `json:"unknown"`
	GeneratedAt   time.Time       `json:"generatedAt"`
}

// RemediationRecord is a stored remediation attempt.
type RemediationRecord struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"ruleId"`
	Module      string    `json:"module"`
	Actions     []string  `json:"actionsExecuted"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	ScoreBefore int       `json:"healthScoreBefore"`
	ScoreAfter  *int      `json:"healthScoreAfter,omitempty"`
	ExecutedAt  time.Time `json:"executedAt"`
	DurationMs  int64     `json:"durationMs"`
}

// ReportRecord is a generated PDF report.
type ReportRecord struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	CreatedAt   time.Time `json:"createdAt"`
}
