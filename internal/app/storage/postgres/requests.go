package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/request"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

const requestColumns = `id, title, description, category_id, subcategory_id, client_id, professional_id,
	status, priority, address, city, province, postal_code, latitude, longitude,
	requested_date, assigned_at, completed_date, public_notes, travel, created_at, updated_at`

type requestRow struct {
	ID             string     `db:"id"`
	Title          string     `db:"title"`
	Description    string     `db:"description"`
	CategoryID     string     `db:"category_id"`
	SubcategoryID  string     `db:"subcategory_id"`
	ClientID       string     `db:"client_id"`
	ProfessionalID string     `db:"professional_id"`
	Status         string     `db:"status"`
	Priority       string     `db:"priority"`
	Address        string     `db:"address"`
	City           string     `db:"city"`
	Province       string     `db:"province"`
	PostalCode     string     `db:"postal_code"`
	Latitude       *float64   `db:"latitude"`
	Longitude      *float64   `db:"longitude"`
	RequestedDate  *time.Time `db:"requested_date"`
	AssignedAt     *time.Time `db:"assigned_at"`
	CompletedDate  *time.Time `db:"completed_date"`
	PublicNotes    string     `db:"public_notes"`
	Travel         []byte     `db:"travel"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r requestRow) toDomain() request.Request {
	req := request.Request{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		CategoryID:     r.CategoryID,
		SubcategoryID:  r.SubcategoryID,
		ClientID:       r.ClientID,
		ProfessionalID: r.ProfessionalID,
		Status:         request.Status(r.Status),
		Priority:       request.Priority(r.Priority),
		Address:        r.Address,
		City:           r.City,
		Province:       r.Province,
		PostalCode:     r.PostalCode,
		Location:       toLocation(r.Latitude, r.Longitude),
		RequestedDate:  r.RequestedDate,
		AssignedAt:     r.AssignedAt,
		CompletedDate:  r.CompletedDate,
		PublicNotes:    r.PublicNotes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Travel) > 0 && string(r.Travel) != "null" {
		var travel request.TravelInfo
		fromJSON(r.Travel, &travel)
		req.Travel = &travel
	}
	return req
}

func requestArgs(req request.Request) ([]interface{}, error) {
	lat, lng := fromLocation(req.Location)
	var travel []byte
	if req.Travel != nil {
		raw, err := toJSON(req.Travel)
		if err != nil {
			return nil, err
		}
		travel = raw
	}
	return []interface{}{
		req.ID, req.Title, req.Description, req.CategoryID, req.SubcategoryID, req.ClientID, req.ProfessionalID,
		string(req.Status), string(req.Priority), req.Address, req.City, req.Province, req.PostalCode, lat, lng,
		req.RequestedDate, req.AssignedAt, req.CompletedDate, req.PublicNotes, travel, req.CreatedAt, req.UpdatedAt,
	}, nil
}

// --- RequestStore -----------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	req.DistanceKm = nil

	args, err := requestArgs(req)
	if err != nil {
		return request.Request{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assistance_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22)
	`, args...)
	if err != nil {
		return request.Request{}, mapErr("request", req.ID, err)
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	existing, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		return request.Request{}, err
	}
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()
	req.DistanceKm = nil

	args, err := requestArgs(req)
	if err != nil {
		return request.Request{}, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE assistance_requests
		SET title = $2, description = $3, category_id = $4, subcategory_id = $5, client_id = $6,
		    professional_id = $7, status = $8, priority = $9, address = $10, city = $11, province = $12,
		    postal_code = $13, latitude = $14, longitude = $15, requested_date = $16, assigned_at = $17,
		    completed_date = $18, public_notes = $19, travel = $20, updated_at = $21
		WHERE id = $1
	`, append(args[:20:20], req.UpdatedAt)...)
	if err != nil {
		return request.Request{}, err
	}
	if err := mustAffect(result, "request", req.ID); err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (request.Request, error) {
	var row requestRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+requestColumns+` FROM assistance_requests WHERE id = $1`, id); err != nil {
		return request.Request{}, mapErr("request", id, err)
	}
	return row.toDomain(), nil
}

func requestWhere(f request.Filter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Priority != "" {
		add("priority = $%d", string(f.Priority))
	}
	if f.CategoryID != "" {
		add("category_id = $%d", f.CategoryID)
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.ProfessionalID != "" {
		if f.IncludePending {
			add("(professional_id = $%d OR (status = 'PENDING' AND professional_id = ''))", f.ProfessionalID)
		} else {
			add("professional_id = $%d", f.ProfessionalID)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListRequests(ctx context.Context, filter request.Filter, page storage.Page) ([]request.Request, int, error) {
	where, args := requestWhere(filter)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM assistance_requests`+where, args...); err != nil {
		return nil, 0, err
	}

	var rows []requestRow
	query := `SELECT ` + requestColumns + ` FROM assistance_requests` + where + ` ORDER BY created_at DESC` + limitClause(page)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}
	result := make([]request.Request, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, total, nil
}

// DeleteRequest relies on ON DELETE CASCADE for quotes and revisions.
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM assistance_requests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(result, "request", id)
}

func (s *Store) CountRequestsByClient(ctx context.Context, clientID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM assistance_requests WHERE client_id = $1`, clientID)
	return count, err
}

func (s *Store) RequestStats(ctx context.Context) (request.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM assistance_requests GROUP BY status`)
	if err != nil {
		return request.Stats{}, err
	}
	defer rows.Close()

	var stats request.Stats
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return request.Stats{}, err
		}
		stats.Total += count
		switch request.Status(status) {
		case request.StatusPending:
			stats.Pending = count
		case request.StatusAssigned:
			stats.Assigned = count
		case request.StatusInProgress:
			stats.InProgress = count
		case request.StatusCompleted:
			stats.Completed = count
		case request.StatusCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// AcceptQuote locks the quote row, rejects competing pending quotes and
// assigns the request inside one transaction.
func (s *Store) AcceptQuote(ctx context.Context, quoteID string, at time.Time) (quote.Quote, request.Request, error) {
	at = at.UTC()
	var (
		accepted quote.Quote
		assigned request.Request
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row quoteRow
		if err := tx.GetContext(ctx, &row, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1 FOR UPDATE`, quoteID); err != nil {
			return mapErr("quote", quoteID, err)
		}
		if quote.Status(row.Status) != quote.StatusPending {
			return fmt.Errorf("quote %s is %s: %w", quoteID, row.Status, storage.ErrConflict)
		}
		var reqStatus string
		if err := tx.GetContext(ctx, &reqStatus, `SELECT status FROM assistance_requests WHERE id = $1 FOR UPDATE`, row.RequestID); err != nil {
			return mapErr("request", row.RequestID, err)
		}
		if !request.Status(reqStatus).AcceptsQuotes() {
			return fmt.Errorf("request %s is %s: %w", row.RequestID, reqStatus, storage.ErrConflict)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE quotes
			SET status = 'ACCEPTED', is_selected = TRUE, accepted_at = $2, updated_at = $2
			WHERE id = $1
		`, quoteID, at); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE quotes
			SET status = 'REJECTED', rejected_at = $3, rejection_reason = 'another quote was accepted', updated_at = $3
			WHERE request_id = $1 AND id <> $2 AND status = 'PENDING'
		`, row.RequestID, quoteID, at); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE assistance_requests
			SET status = 'ASSIGNED', professional_id = $2, assigned_at = $3, updated_at = $3
			WHERE id = $1 AND status IN ('PENDING', 'ASSIGNED')
		`, row.RequestID, row.ProfessionalID, at)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return fmt.Errorf("request %s changed status: %w", row.RequestID, storage.ErrConflict)
		}

		accepted = row.toDomain()
		accepted.Status = quote.StatusAccepted
		accepted.IsSelected = true
		accepted.AcceptedAt = &at
		accepted.UpdatedAt = at

		var reqRow requestRow
		if err := tx.GetContext(ctx, &reqRow, `SELECT `+requestColumns+` FROM assistance_requests WHERE id = $1`, row.RequestID); err != nil {
			return err
		}
		assigned = reqRow.toDomain()
		return nil
	})
	if err != nil {
		return quote.Quote{}, request.Request{}, err
	}
	return accepted, assigned, nil
}
