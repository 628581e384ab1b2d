package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/healthcheck"
)

const resultColumns = `id, module, display_name, status, score, checks, metrics, warnings, errors,
	recommendations, execution_time_ms, created_at`

type resultRow struct {
	ID              string    `db:"id"`
	Module          string    `db:"module"`
	DisplayName     string    `db:"display_name"`
	Status          string    `db:"status"`
	Score           int       `db:"score"`
	Checks          []byte    `db:"checks"`
	Metrics         []byte    `db:"metrics"`
	Warnings        []byte    `db:"warnings"`
	Errors          []byte    `db:"errors"`
	Recommendations []byte    `db:"recommendations"`
	ExecutionTimeMs int64     `db:"execution_time_ms"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r resultRow) toDomain() healthcheck.Result {
	res := healthcheck.Result{
		ID:              r.ID,
		Module:          r.Module,
		DisplayName:     r.DisplayName,
		Timestamp:       r.CreatedAt,
		Status:          healthcheck.Status(r.Status),
		Score:           r.Score,
		ExecutionTimeMs: r.ExecutionTimeMs,
	}
	fromJSON(r.Checks, &res.Checks)
	fromJSON(r.Metrics, &res.Metrics)
	fromJSON(r.Warnings, &res.Warnings)
	fromJSON(r.Errors, &res.Errors)
	fromJSON(r.Recommendations, &res.Recommendations)
	return res
}

func jsonList(v interface{}) ([]byte, error) {
	raw, err := toJSON(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return []byte("[]"), nil
	}
	return raw, nil
}

// --- HealthCheckStore -------------------------------------------------------

func (s *Store) SaveResult(ctx context.Context, r healthcheck.Result) (healthcheck.Result, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	checks, err := jsonList(r.Checks)
	if err != nil {
		return healthcheck.Result{}, err
	}
	metrics, err := toJSON(r.Metrics)
	if err != nil {
		return healthcheck.Result{}, err
	}
	warnings, _ := jsonList(r.Warnings)
	errs, _ := jsonList(r.Errors)
	recs, _ := jsonList(r.Recommendations)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO health_check_results (`+resultColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.Module, r.DisplayName, string(r.Status), r.Score, checks, metrics, warnings, errs, recs,
		r.ExecutionTimeMs, r.Timestamp)
	if err != nil {
		return healthcheck.Result{}, err
	}
	return r, nil
}

// LatestResults returns the newest result of every module.
func (s *Store) LatestResults(ctx context.Context) ([]healthcheck.Result, error) {
	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (module) `+resultColumns+`
		FROM health_check_results
		ORDER BY module, created_at DESC
	`); err != nil {
		return nil, err
	}
	return toResults(rows), nil
}

// ListResults returns results newest first. An empty module matches all; zero
// bounds are open.
func (s *Store) ListResults(ctx context.Context, module string, from, to time.Time, limit int) ([]healthcheck.Result, error) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if module != "" {
		add("module = $%d", module)
	}
	if !from.IsZero() {
		add("created_at >= $%d", from)
	}
	if !to.IsZero() {
		add("created_at < $%d", to)
	}
	query := `SELECT ` + resultColumns + ` FROM health_check_results`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return toResults(rows), nil
}

func toResults(rows []resultRow) []healthcheck.Result {
	result := make([]healthcheck.Result, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}

func (s *Store) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM health_check_results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (s *Store) SaveRemediation(ctx context.Context, r healthcheck.RemediationRecord) (healthcheck.RemediationRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = time.Now().UTC()
	}
	actions, err := jsonList(r.Actions)
	if err != nil {
		return healthcheck.RemediationRecord{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO remediation_history (id, rule_id, module, actions, success, error, score_before, score_after, executed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.RuleID, r.Module, actions, r.Success, r.Error, r.ScoreBefore, r.ScoreAfter, r.ExecutedAt, r.DurationMs)
	if err != nil {
		return healthcheck.RemediationRecord{}, err
	}
	return r, nil
}

// ListRemediations returns records newest first. An empty rule id matches all.
func (s *Store) ListRemediations(ctx context.Context, ruleID string, since time.Time) ([]healthcheck.RemediationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, module, actions, success, error, score_before, score_after, executed_at, duration_ms
		FROM remediation_history
		WHERE ($1 = '' OR rule_id = $1) AND executed_at >= $2
		ORDER BY executed_at DESC, id DESC
	`, ruleID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []healthcheck.RemediationRecord
	for rows.Next() {
		var (
			rec     healthcheck.RemediationRecord
			actions []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.Module, &actions, &rec.Success, &rec.Error,
			&rec.ScoreBefore, &rec.ScoreAfter, &rec.ExecutedAt, &rec.DurationMs); err != nil {
			return nil, err
		}
		fromJSON(actions, &rec.Actions)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) SaveReport(ctx context.Context, r healthcheck.ReportRecord) (healthcheck.ReportRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_check_reports (id, path, period_start, period_end, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.Path, r.PeriodStart, r.PeriodEnd, r.CreatedAt)
	if err != nil {
		return healthcheck.ReportRecord{}, err
	}
	return r, nil
}

type reportRow struct {
	ID          string    `db:"id"`
	Path        string    `db:"path"`
	PeriodStart time.Time `db:"period_start"`
	PeriodEnd   time.Time `db:"period_end"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) GetReport(ctx context.Context, id string) (healthcheck.ReportRecord, error) {
	var row reportRow
	if err := s.db.GetContext(ctx, &row, `SELECT id, path, period_start, period_end, created_at FROM health_check_reports WHERE id = $1`, id); err != nil {
		return healthcheck.ReportRecord{}, mapErr("report", id, err)
	}
	return healthcheck.ReportRecord(row), nil
}

func (s *Store) ListReports(ctx context.Context) ([]healthcheck.ReportRecord, error) {
	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, path, period_start, period_end, created_at FROM health_check_reports ORDER BY created_at DESC, id DESC
	`); err != nil {
		return nil, err
	}
	result := make([]healthcheck.ReportRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, healthcheck.ReportRecord(row))
	}
	return result, nil
}
