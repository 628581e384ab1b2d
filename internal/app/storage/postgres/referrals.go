package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/review"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
)

const referralColumns = `id, referrer_id, referee_id, code, email, status, clicked_at, registered_at, converted_at,
	expires_at, referrer_reward, referee_reward, created_at, updated_at`

type referralRow struct {
	ID             string     `db:"id"`
	ReferrerID     string     `db:"referrer_id"`
	RefereeID      string     `db:"referee_id"`
	Code           string     `db:"code"`
	Email          string     `db:"email"`
	Status         string     `db:"status"`
	ClickedAt      *time.Time `db:"clicked_at"`
	RegisteredAt   *time.Time `db:"registered_at"`
	ConvertedAt    *time.Time `db:"converted_at"`
	ExpiresAt      time.Time  `db:"expires_at"`
	ReferrerReward int        `db:"referrer_reward"`
	RefereeReward  int        `db:"referee_reward"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r referralRow) toDomain() referral.Referral {
	return referral.Referral{
		ID:             r.ID,
		ReferrerID:     r.ReferrerID,
		RefereeID:      r.RefereeID,
		Code:           r.Code,
		Email:          r.Email,
		Status:         referral.Status(r.Status),
		ClickedAt:      r.ClickedAt,
		RegisteredAt:   r.RegisteredAt,
		ConvertedAt:    r.ConvertedAt,
		ExpiresAt:      r.ExpiresAt,
		ReferrerReward: r.ReferrerReward,
		RefereeReward:  r.RefereeReward,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// --- ReferralStore ----------------------------------------------------------

func (s *Store) CreateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO referrals (`+referralColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, r.ID, r.ReferrerID, r.RefereeID, r.Code, r.Email, string(r.Status), r.ClickedAt, r.RegisteredAt, r.ConvertedAt,
		r.ExpiresAt, r.ReferrerReward, r.RefereeReward, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return referral.Referral{}, mapErr("referral", r.ID, err)
	}
	return r, nil
}

func (s *Store) UpdateReferral(ctx context.Context, r referral.Referral) (referral.Referral, error) {
	r.UpdatedAt = time.Now().UTC()
	var createdAt time.Time
	err := s.db.GetContext(ctx, &createdAt, `
		UPDATE referrals
		SET referee_id = $2, email = $3, status = $4, clicked_at = $5, registered_at = $6, converted_at = $7,
		    expires_at = $8, referrer_reward = $9, referee_reward = $10, updated_at = $11
		WHERE id = $1
		RETURNING created_at
	`, r.ID, r.RefereeID, r.Email, string(r.Status), r.ClickedAt, r.RegisteredAt, r.ConvertedAt,
		r.ExpiresAt, r.ReferrerReward, r.RefereeReward, r.UpdatedAt)
	if err != nil {
		return referral.Referral{}, mapErr("referral", r.ID, err)
	}
	r.CreatedAt = createdAt
	return r, nil
}

func (s *Store) selectReferrals(ctx context.Context, where string, args ...interface{}) ([]referral.Referral, error) {
	var rows []referralRow
	query := `SELECT ` + referralColumns + ` FROM referrals` + where + ` ORDER BY created_at DESC, id DESC`
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]referral.Referral, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) ListReferralsByReferrer(ctx context.Context, referrerID string) ([]referral.Referral, error) {
	return s.selectReferrals(ctx, ` WHERE referrer_id = $1`, referrerID)
}

func (s *Store) ListReferralsByCode(ctx context.Context, code string) ([]referral.Referral, error) {
	return s.selectReferrals(ctx, ` WHERE code = $1`, code)
}

func (s *Store) ListReferralsByReferee(ctx context.Context, refereeID string) ([]referral.Referral, error) {
	return s.selectReferrals(ctx, ` WHERE referee_id = $1`, refereeID)
}

func (s *Store) ListReferrals(ctx context.Context) ([]referral.Referral, error) {
	return s.selectReferrals(ctx, "")
}

func (s *Store) ExpireReferrals(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE referrals SET status = 'EXPIRED', updated_at = $2
		WHERE status = 'PENDING' AND created_at < $1
	`, cutoff, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// AddPoints applies a ledger entry and the balance change in one transaction.
func (s *Store) AddPoints(ctx context.Context, entry referral.PointTransaction) (referral.UserPoints, error) {
	if entry.Points <= 0 {
		return referral.UserPoints{}, fmt.Errorf("points must be positive")
	}
	if entry.Type != referral.TransactionSpent {
		entry.Type = referral.TransactionEarned
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now

	var balance referral.UserPoints
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_points (user_id, points, total_earned, total_spent, updated_at)
			VALUES ($1, 0, 0, 0, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, entry.UserID, now); err != nil {
			return err
		}
		var current int
		if err := tx.GetContext(ctx, &current, `SELECT points FROM user_points WHERE user_id = $1 FOR UPDATE`, entry.UserID); err != nil {
			return err
		}

		update := `UPDATE user_points SET points = points + $2, total_earned = total_earned + $2, updated_at = $3 WHERE user_id = $1`
		if entry.Type == referral.TransactionSpent {
			if current < entry.Points {
				return fmt.Errorf("insufficient points: have %d, need %d", current, entry.Points)
			}
			update = `UPDATE user_points SET points = points - $2, total_spent = total_spent + $2, updated_at = $3 WHERE user_id = $1`
		}
		if _, err := tx.ExecContext(ctx, update, entry.UserID, entry.Points, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO point_transactions (id, user_id, points, type, description, referral_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, entry.ID, entry.UserID, entry.Points, string(entry.Type), entry.Description, entry.ReferralID, entry.CreatedAt); err != nil {
			return err
		}
		return tx.QueryRowxContext(ctx, `
			SELECT user_id, points, total_earned, total_spent, updated_at FROM user_points WHERE user_id = $1
		`, entry.UserID).Scan(&balance.UserID, &balance.Points, &balance.TotalEarned, &balance.TotalSpent, &balance.UpdatedAt)
	})
	if err != nil {
		return referral.UserPoints{}, err
	}
	return balance, nil
}

func (s *Store) GetPoints(ctx context.Context, userID string) (referral.UserPoints, error) {
	balance := referral.UserPoints{UserID: userID}
	err := s.db.QueryRowxContext(ctx, `
		SELECT points, total_earned, total_spent, updated_at FROM user_points WHERE user_id = $1
	`, userID).Scan(&balance.Points, &balance.TotalEarned, &balance.TotalSpent, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return referral.UserPoints{UserID: userID}, nil
		}
		return referral.UserPoints{}, err
	}
	return balance, nil
}

func (s *Store) ListPointTransactions(ctx context.Context, userID string) ([]referral.PointTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, points, type, description, referral_id, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []referral.PointTransaction
	for rows.Next() {
		var (
			entry referral.PointTransaction
			kind  string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Points, &kind, &entry.Description, &entry.ReferralID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Type = referral.TransactionType(kind)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// --- ReviewStore ------------------------------------------------------------

const reviewColumns = `id, request_id, client_id, professional_id, rating, comment, created_at`

type reviewRow struct {
	ID             string    `db:"id"`
	RequestID      string    `db:"request_id"`
	ClientID       string    `db:"client_id"`
	ProfessionalID string    `db:"professional_id"`
	Rating         int       `db:"rating"`
	Comment        string    `db:"comment"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r reviewRow) toDomain() review.Review {
	return review.Review(r)
}

func (s *Store) CreateReview(ctx context.Context, r review.Review) (review.Review, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.RequestID, r.ClientID, r.ProfessionalID, r.Rating, r.Comment, r.CreatedAt)
	if err != nil {
		return review.Review{}, mapErr("review for request", r.RequestID, err)
	}
	return r, nil
}

func (s *Store) GetReviewByRequest(ctx context.Context, requestID string) (review.Review, error) {
	var row reviewRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+reviewColumns+` FROM reviews WHERE request_id = $1`, requestID); err != nil {
		return review.Review{}, mapErr("review for request", requestID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListReviewsByProfessional(ctx context.Context, professionalID string, page storage.Page) ([]review.Review, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM reviews WHERE professional_id = $1`, professionalID); err != nil {
		return nil, 0, err
	}
	var rows []reviewRow
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE professional_id = $1 ORDER BY created_at DESC, id DESC` + limitClause(page)
	if err := s.db.SelectContext(ctx, &rows, query, professionalID); err != nil {
		return nil, 0, err
	}
	result := make([]review.Review, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, total, nil
}

func (s *Store) ListRatings(ctx context.Context, professionalID string) ([]int, error) {
	var ratings []int
	err := s.db.SelectContext(ctx, &ratings, `SELECT rating FROM reviews WHERE professional_id = $1`, professionalID)
	return ratings, err
}
