package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
)

const userColumns = `id, email, password_hash, first_name, last_name, phone, role, profession, referral_code,
	address, city, province, postal_code, latitude, longitude,
	work_address, work_city, work_province, work_postal_code, work_latitude, work_longitude,
	use_residence_as_work_address, travel_rate_per_km, created_at, updated_at`

type userRow struct {
	ID              string    `db:"id"`
	Email           string    `db:"email"`
	PasswordHash    string    `db:"password_hash"`
	FirstName       string    `db:"first_name"`
	LastName        string    `db:"last_name"`
	Phone           string    `db:"phone"`
	Role            string    `db:"role"`
	Profession      string    `db:"profession"`
	ReferralCode    string    `db:"referral_code"`
	Address         string    `db:"address"`
	City            string    `db:"city"`
	Province        string    `db:"province"`
	PostalCode      string    `db:"postal_code"`
	Latitude        *float64  `db:"latitude"`
	Longitude       *float64  `db:"longitude"`
	WorkAddress     string    `db:"work_address"`
	WorkCity        string    `db:"work_city"`
	WorkProvince    string    `db:"work_province"`
	WorkPostalCode  string    `db:"work_postal_code"`
	WorkLatitude    *float64  `db:"work_latitude"`
	WorkLongitude   *float64  `db:"work_longitude"`
	UseResidence    bool      `db:"use_residence_as_work_address"`
	TravelRatePerKm int64     `db:"travel_rate_per_km"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func toLocation(lat, lng *float64) *user.Location {
	if lat == nil || lng == nil {
		return nil
	}
	return &user.Location{Latitude: *lat, Longitude: *lng}
}

func fromLocation(loc *user.Location) (*float64, *float64) {
	if loc == nil {
		return nil, nil
	}
	lat, lng := loc.Latitude, loc.Longitude
	return &lat, &lng
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:                        r.ID,
		Email:                     r.Email,
		PasswordHash:              r.PasswordHash,
		FirstName:                 r.FirstName,
		LastName:                  r.LastName,
		Phone:                     r.Phone,
		Role:                      user.Role(r.Role),
		Profession:                r.Profession,
		ReferralCode:              r.ReferralCode,
		Address:                   r.Address,
		City:                      r.City,
		Province:                  r.Province,
		PostalCode:                r.PostalCode,
		Location:                  toLocation(r.Latitude, r.Longitude),
		WorkAddress:               r.WorkAddress,
		WorkCity:                  r.WorkCity,
		WorkProvince:              r.WorkProvince,
		WorkPostalCode:            r.WorkPostalCode,
		WorkLocation:              toLocation(r.WorkLatitude, r.WorkLongitude),
		UseResidenceAsWorkAddress: r.UseResidence,
		TravelRatePerKm:           r.TravelRatePerKm,
		CreatedAt:                 r.CreatedAt,
		UpdatedAt:                 r.UpdatedAt,
	}
}

func userArgs(u user.User) []interface{} {
	lat, lng := fromLocation(u.Location)
	wlat, wlng := fromLocation(u.WorkLocation)
	return []interface{}{
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, string(u.Role), u.Profession, u.ReferralCode,
		u.Address, u.City, u.Province, u.PostalCode, lat, lng,
		u.WorkAddress, u.WorkCity, u.WorkProvince, u.WorkPostalCode, wlat, wlng,
		u.UseResidenceAsWorkAddress, u.TravelRatePerKm, u.CreatedAt, u.UpdatedAt,
	}
}

// userUpdateArgs drops created_at from userArgs so positions match UpdateUser.
func userUpdateArgs(u user.User) []interface{} {
	args := userArgs(u)
	return append(args[:23:23], u.UpdatedAt)
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, userArgs(u)...)
	if err != nil {
		return user.User{}, mapErr("user", u.Email, err)
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, password_hash = $3, first_name = $4, last_name = $5, phone = $6, role = $7,
		    profession = $8, referral_code = $9, address = $10, city = $11, province = $12,
		    postal_code = $13, latitude = $14, longitude = $15, work_address = $16, work_city = $17,
		    work_province = $18, work_postal_code = $19, work_latitude = $20, work_longitude = $21,
		    use_residence_as_work_address = $22, travel_rate_per_km = $23, updated_at = $24
		WHERE id = $1
	`, userUpdateArgs(u)...)
	if err != nil {
		return user.User{}, mapErr("user", u.ID, err)
	}
	if err := mustAffect(result, "user", u.ID); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) getUserWhere(ctx context.Context, kind, clause, arg string) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE `+clause, arg); err != nil {
		return user.User{}, mapErr(kind, arg, err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUserWhere(ctx, "user", "id = $1", id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.getUserWhere(ctx, "user", "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByReferralCode(ctx context.Context, code string) (user.User, error) {
	return s.getUserWhere(ctx, "user with referral code", "referral_code = $1 AND referral_code <> ''", code)
}

func (s *Store) ListUsers(ctx context.Context, roles ...user.Role) ([]user.User, error) {
	var (
		rows []userRow
		err  error
	)
	if len(roles) == 0 {
		err = s.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	} else {
		names := make([]string, len(roles))
		for i, r := range roles {
			names[i] = string(r)
		}
		err = s.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users WHERE role = ANY($1) ORDER BY created_at`, pq.Array(names))
	}
	if err != nil {
		return nil, err
	}
	result := make([]user.User, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count, err
}

func (s *Store) GetPreferences(ctx context.Context, userID string) (user.NotificationPreferences, error) {
	var prefs user.NotificationPreferences
	err := s.db.QueryRowxContext(ctx, `
		SELECT user_id, email, push, sms, websocket, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`, userID).Scan(&prefs.UserID, &prefs.Email, &prefs.Push, &prefs.SMS, &prefs.WebSocket, &prefs.UpdatedAt)
	if err != nil {
		return user.NotificationPreferences{}, mapErr("preferences", userID, err)
	}
	return prefs, nil
}

func (s *Store) SavePreferences(ctx context.Context, prefs user.NotificationPreferences) (user.NotificationPreferences, error) {
	prefs.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, email, push, sms, websocket, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET email = EXCLUDED.email, push = EXCLUDED.push, sms = EXCLUDED.sms,
		    websocket = EXCLUDED.websocket, updated_at = EXCLUDED.updated_at
	`, prefs.UserID, prefs.Email, prefs.Push, prefs.SMS, prefs.WebSocket, prefs.UpdatedAt)
	if err != nil {
		return user.NotificationPreferences{}, err
	}
	return prefs, nil
}
