package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/payment"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
)

const quoteColumns = `id, request_id, professional_id, title, description, items, subtotal, tax_amount,
	discount_amount, total_amount, status, version, valid_until, deposit_required, deposit_amount, terms,
	notes, is_selected, accepted_at, rejected_at, rejection_reason, created_at, updated_at`

type quoteRow struct {
	ID              string     `db:"id"`
	RequestID       string     `db:"request_id"`
	ProfessionalID  string     `db:"professional_id"`
	Title           string     `db:"title"`
	Description     string     `db:"description"`
	Items           []byte     `db:"items"`
	Subtotal        int64      `db:"subtotal"`
	TaxAmount       int64      `db:"tax_amount"`
	DiscountAmount  int64      `db:"discount_amount"`
	TotalAmount     int64      `db:"total_amount"`
	Status          string     `db:"status"`
	Version         int        `db:"version"`
	ValidUntil      *time.Time `db:"valid_until"`
	DepositRequired bool       `db:"deposit_required"`
	DepositAmount   int64      `db:"deposit_amount"`
	Terms           string     `db:"terms"`
	Notes           string     `db:"notes"`
	IsSelected      bool       `db:"is_selected"`
	AcceptedAt      *time.Time `db:"accepted_at"`
	RejectedAt      *time.Time `db:"rejected_at"`
	RejectionReason string     `db:"rejection_reason"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r quoteRow) toDomain() quote.Quote {
	q := quote.Quote{
		ID:             r.ID,
		RequestID:      r.RequestID,
		ProfessionalID: r.ProfessionalID,
		Title:          r.Title,
		Description:    r.Description,
		Totals: quote.Totals{
			Subtotal:       r.Subtotal,
			TaxAmount:      r.TaxAmount,
			DiscountAmount: r.DiscountAmount,
			TotalAmount:    r.TotalAmount,
		},
		Status:          quote.Status(r.Status),
		Version:         r.Version,
		ValidUntil:      r.ValidUntil,
		DepositRequired: r.DepositRequired,
		DepositAmount:   r.DepositAmount,
		Terms:           r.Terms,
		Notes:           r.Notes,
		IsSelected:      r.IsSelected,
		AcceptedAt:      r.AcceptedAt,
		RejectedAt:      r.RejectedAt,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	fromJSON(r.Items, &q.Items)
	return q
}

func quoteArgs(q quote.Quote) ([]interface{}, error) {
	items, err := toJSON(q.Items)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		q.ID, q.RequestID, q.ProfessionalID, q.Title, q.Description, items, q.Subtotal, q.TaxAmount,
		q.DiscountAmount, q.TotalAmount, string(q.Status), q.Version, q.ValidUntil, q.DepositRequired, q.DepositAmount, q.Terms,
		q.Notes, q.IsSelected, q.AcceptedAt, q.RejectedAt, q.RejectionReason, q.CreatedAt, q.UpdatedAt,
	}, nil
}

// --- QuoteStore -------------------------------------------------------------

func (s *Store) CreateQuote(ctx context.Context, q quote.Quote) (quote.Quote, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	args, err := quoteArgs(q)
	if err != nil {
		return quote.Quote{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotes (`+quoteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23)
	`, args...)
	if err != nil {
		return quote.Quote{}, mapErr("quote", q.ID, err)
	}
	return q, nil
}

func (s *Store) UpdateQuote(ctx context.Context, q quote.Quote) (quote.Quote, error) {
	existing, err := s.GetQuote(ctx, q.ID)
	if err != nil {
		return quote.Quote{}, err
	}
	q.CreatedAt = existing.CreatedAt
	q.UpdatedAt = time.Now().UTC()

	args, err := quoteArgs(q)
	if err != nil {
		return quote.Quote{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE quotes
		SET request_id = $2, professional_id = $3, title = $4, description = $5, items = $6, subtotal = $7,
		    tax_amount = $8, discount_amount = $9, total_amount = $10, status = $11, version = $12,
		    valid_until = $13, deposit_required = $14, deposit_amount = $15, terms = $16, notes = $17,
		    is_selected = $18, accepted_at = $19, rejected_at = $20, rejection_reason = $21, updated_at = $22
		WHERE id = $1
	`, append(args[:21:21], q.UpdatedAt)...)
	if err != nil {
		return quote.Quote{}, err
	}
	if err := mustAffect(result, "quote", q.ID); err != nil {
		return quote.Quote{}, err
	}
	return q, nil
}

func (s *Store) GetQuote(ctx context.Context, id string) (quote.Quote, error) {
	var row quoteRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id); err != nil {
		return quote.Quote{}, mapErr("quote", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) selectQuotes(ctx context.Context, where string, arg interface{}) ([]quote.Quote, error) {
	var rows []quoteRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+quoteColumns+` FROM quotes WHERE `+where+` ORDER BY created_at`, arg); err != nil {
		return nil, err
	}
	result := make([]quote.Quote, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListQuotesByRequest(ctx context.Context, requestID string) ([]quote.Quote, error) {
	return s.selectQuotes(ctx, "request_id = $1", requestID)
}

func (s *Store) RejectPendingQuotes(ctx context.Context, requestID, reason string, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE quotes
		SET status = 'REJECTED', rejected_at = $3, rejection_reason = $2, updated_at = $3
		WHERE request_id = $1 AND status = 'PENDING'
	`, requestID, reason, at.UTC())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

func (s *Store) ListQuotesByStatus(ctx context.Context, status quote.Status) ([]quote.Quote, error) {
	return s.selectQuotes(ctx, "status = $1", string(status))
}

func (s *Store) CreateRevision(ctx context.Context, rev quote.Revision) (quote.Revision, error) {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	rev.CreatedAt = time.Now().UTC()
	items, err := toJSON(rev.Items)
	if err != nil {
		return quote.Revision{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quote_revisions (id, quote_id, version, user_id, reason, items, subtotal, tax_amount, discount_amount, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rev.ID, rev.QuoteID, rev.Version, rev.UserID, rev.Reason, items, rev.Subtotal, rev.TaxAmount, rev.DiscountAmount, rev.TotalAmount, rev.CreatedAt)
	if err != nil {
		return quote.Revision{}, err
	}
	return rev, nil
}

func (s *Store) ListRevisions(ctx context.Context, quoteID string) ([]quote.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quote_id, version, user_id, reason, items, subtotal, tax_amount, discount_amount, total_amount, created_at
		FROM quote_revisions
		WHERE quote_id = $1
		ORDER BY version DESC, created_at DESC
	`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []quote.Revision
	for rows.Next() {
		var (
			rev   quote.Revision
			items []byte
		)
		if err := rows.Scan(&rev.ID, &rev.QuoteID, &rev.Version, &rev.UserID, &rev.Reason, &items,
			&rev.Subtotal, &rev.TaxAmount, &rev.DiscountAmount, &rev.TotalAmount, &rev.CreatedAt); err != nil {
			return nil, err
		}
		fromJSON(items, &rev.Items)
		result = append(result, rev)
	}
	return result, rows.Err()
}

func (s *Store) CreateTemplate(ctx context.Context, tpl quote.Template) (quote.Template, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	tpl.CreatedAt = time.Now().UTC()
	items, err := toJSON(tpl.Items)
	if err != nil {
		return quote.Template{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quote_templates (id, professional_id, name, description, items, terms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tpl.ID, tpl.ProfessionalID, tpl.Name, tpl.Description, items, tpl.Terms, tpl.CreatedAt)
	if err != nil {
		return quote.Template{}, err
	}
	return tpl, nil
}

func scanTemplate(scan func(dest ...interface{}) error) (quote.Template, error) {
	var (
		tpl   quote.Template
		items []byte
	)
	if err := scan(&tpl.ID, &tpl.ProfessionalID, &tpl.Name, &tpl.Description, &items, &tpl.Terms, &tpl.CreatedAt); err != nil {
		return quote.Template{}, err
	}
	fromJSON(items, &tpl.Items)
	return tpl, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (quote.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, professional_id, name, description, items, terms, created_at
		FROM quote_templates
		WHERE id = $1
	`, id)
	tpl, err := scanTemplate(row.Scan)
	if err != nil {
		return quote.Template{}, mapErr("template", id, err)
	}
	return tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context, professionalID string) ([]quote.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, professional_id, name, description, items, terms, created_at
		FROM quote_templates
		WHERE professional_id = $1
		ORDER BY name
	`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []quote.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, tpl)
	}
	return result, rows.Err()
}

const depositRuleColumns = `id, name, category_id, subcategory_id, type, fixed_amount, percentage, ranges,
	min_quote_amount, max_quote_amount, priority, is_default, is_active, created_at, updated_at`

type depositRuleRow struct {
	ID             string    `db:"id"`
	Name           string    `db:"name"`
	CategoryID     string    `db:"category_id"`
	SubcategoryID  string    `db:"subcategory_id"`
	Type           string    `db:"type"`
	FixedAmount    int64     `db:"fixed_amount"`
	Percentage     float64   `db:"percentage"`
	Ranges         []byte    `db:"ranges"`
	MinQuoteAmount *int64    `db:"min_quote_amount"`
	MaxQuoteAmount *int64    `db:"max_quote_amount"`
	Priority       int       `db:"priority"`
	IsDefault      bool      `db:"is_default"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r depositRuleRow) toDomain() quote.DepositRule {
	rule := quote.DepositRule{
		ID:             r.ID,
		Name:           r.Name,
		CategoryID:     r.CategoryID,
		SubcategoryID:  r.SubcategoryID,
		Type:           quote.DepositType(r.Type),
		FixedAmount:    r.FixedAmount,
		Percentage:     r.Percentage,
		MinQuoteAmount: r.MinQuoteAmount,
		MaxQuoteAmount: r.MaxQuoteAmount,
		Priority:       r.Priority,
		IsDefault:      r.IsDefault,
		IsActive:       r.IsActive,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	fromJSON(r.Ranges, &rule.Ranges)
	return rule
}

func (s *Store) CreateDepositRule(ctx context.Context, rule quote.DepositRule) (quote.DepositRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	ranges, err := toJSON(rule.Ranges)
	if err != nil {
		return quote.DepositRule{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deposit_rules (`+depositRuleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, rule.ID, rule.Name, rule.CategoryID, rule.SubcategoryID, string(rule.Type), rule.FixedAmount, rule.Percentage, ranges,
		rule.MinQuoteAmount, rule.MaxQuoteAmount, rule.Priority, rule.IsDefault, rule.IsActive, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return quote.DepositRule{}, mapErr("deposit rule", rule.ID, err)
	}
	return rule, nil
}

func (s *Store) UpdateDepositRule(ctx context.Context, rule quote.DepositRule) (quote.DepositRule, error) {
	existing, err := s.GetDepositRule(ctx, rule.ID)
	if err != nil {
		return quote.DepositRule{}, err
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	ranges, err := toJSON(rule.Ranges)
	if err != nil {
		return quote.DepositRule{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE deposit_rules
		SET name = $2, category_id = $3, subcategory_id = $4, type = $5, fixed_amount = $6, percentage = $7,
		    ranges = $8, min_quote_amount = $9, max_quote_amount = $10, priority = $11, is_default = $12,
		    is_active = $13, updated_at = $14
		WHERE id = $1
	`, rule.ID, rule.Name, rule.CategoryID, rule.SubcategoryID, string(rule.Type), rule.FixedAmount, rule.Percentage, ranges,
		rule.MinQuoteAmount, rule.MaxQuoteAmount, rule.Priority, rule.IsDefault, rule.IsActive, rule.UpdatedAt)
	if err != nil {
		return quote.DepositRule{}, err
	}
	if err := mustAffect(result, "deposit rule", rule.ID); err != nil {
		return quote.DepositRule{}, err
	}
	return rule, nil
}

func (s *Store) GetDepositRule(ctx context.Context, id string) (quote.DepositRule, error) {
	var row depositRuleRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+depositRuleColumns+` FROM deposit_rules WHERE id = $1`, id); err != nil {
		return quote.DepositRule{}, mapErr("deposit rule", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListDepositRules(ctx context.Context) ([]quote.DepositRule, error) {
	var rows []depositRuleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+depositRuleColumns+` FROM deposit_rules ORDER BY priority DESC, created_at`); err != nil {
		return nil, err
	}
	result := make([]quote.DepositRule, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteDepositRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deposit_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(result, "deposit rule", id)
}

// --- PaymentStore -----------------------------------------------------------

const paymentColumns = `id, quote_id, request_id, client_id, professional_id, amount, currency, kind, status,
	charge_id, failure_reason, created_at, updated_at`

type paymentRow struct {
	ID             string    `db:"id"`
	QuoteID        string    `db:"quote_id"`
	RequestID      string    `db:"request_id"`
	ClientID       string    `db:"client_id"`
	ProfessionalID string    `db:"professional_id"`
	Amount         int64     `db:"amount"`
	Currency       string    `db:"currency"`
	Kind           string    `db:"kind"`
	Status         string    `db:"status"`
	ChargeID       string    `db:"charge_id"`
	FailureReason  string    `db:"failure_reason"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r paymentRow) toDomain() payment.Payment {
	return payment.Payment{
		ID:             r.ID,
		QuoteID:        r.QuoteID,
		RequestID:      r.RequestID,
		ClientID:       r.ClientID,
		ProfessionalID: r.ProfessionalID,
		Amount:         r.Amount,
		Currency:       r.Currency,
		Kind:           payment.Kind(r.Kind),
		Status:         payment.Status(r.Status),
		ChargeID:       r.ChargeID,
		FailureReason:  r.FailureReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.QuoteID, p.RequestID, p.ClientID, p.ProfessionalID, p.Amount, p.Currency, string(p.Kind), string(p.Status),
		p.ChargeID, p.FailureReason, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, mapErr("payment", p.ID, err)
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	existing, err := s.GetPayment(ctx, p.ID)
	if err != nil {
		return payment.Payment{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, charge_id = $3, failure_reason = $4, amount = $5, updated_at = $6
		WHERE id = $1
	`, p.ID, string(p.Status), p.ChargeID, p.FailureReason, p.Amount, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}
	if err := mustAffect(result, "payment", p.ID); err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	var row paymentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id); err != nil {
		return payment.Payment{}, mapErr("payment", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPaymentByCharge(ctx context.Context, chargeID string) (payment.Payment, error) {
	var row paymentRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE charge_id = $1 AND charge_id <> ''`, chargeID); err != nil {
		return payment.Payment{}, mapErr("payment with charge", chargeID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListPaymentsByRequest(ctx context.Context, requestID string) ([]payment.Payment, error) {
	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+paymentColumns+` FROM payments WHERE request_id = $1 ORDER BY created_at DESC`, requestID); err != nil {
		return nil, err
	}
	result := make([]payment.Payment, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) CountPayments(ctx context.Context, status payment.Status, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payments WHERE status = $1 AND created_at >= $2`, string(status), since)
	return count, err
}
