// Package auth registers users, verifies credentials and issues the signed
// access and refresh tokens checked by the HTTP middleware.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/middleware"
	"github.com/richiesta-assistenza/service_layer/pkg/logger"
)

const (
	MinPasswordLength = 8
	DefaultAccessTTL  = 24 * time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

const invalidCredentials = "Invalid email or password"

// Referrals is the subset of the referral service used at signup.
type Referrals interface {
	GenerateCode(ctx context.Context, firstName string) (string, error)
	TrackSignup(ctx context.Context, code, newUserID, email string) (referral.Referral, error)
}

// Config configures token issuance.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// AdminUserIDs are promoted to SUPER_ADMIN in issued tokens.
	AdminUserIDs []string
}

// RegisterInput is the signup payload.
type RegisterInput struct {
	Email        string    `json:"email"`
	Password     string    `json:"password"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Phone        string    `json:"phone"`
	Role         user.Role `json:"role"`
	Profession   string    `json:"profession,omitempty"`
	ReferralCode string    `json:"referralCode,omitempty"`
}

// Tokens is an issued access/refresh pair.
type Tokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Session is returned by register, login and refresh.
type Session struct {
	User   user.User `json:"user"`
	Tokens Tokens    `json:"tokens"`
}

// Service authenticates users.
type Service struct {
	users     storage.UserStore
	cfg       Config
	admins    map[string]bool
	referrals Referrals
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the auth service.
func New(users storage.UserStore, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	admins := make(map[string]bool, len(cfg.AdminUserIDs))
	for _, id := range cfg.AdminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = true
		}
	}
	return &Service{users: users, cfg: cfg, admins: admins, log: log, now: time.Now}
}

// AttachReferrals wires referral code generation and signup tracking.
func (s *Service) AttachReferrals(referrals Referrals) {
	s.referrals = referrals
}

// Register creates a CLIENT or PROFESSIONAL account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.Role == "" {
		in.Role = user.RoleClient
	}

	fields := map[string]string{}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		fields["email"] = "a valid email is required"
	}
	if len(in.Password) < MinPasswordLength {
		fields["password"] = "password must be at least 8 characters"
	}
	if in.FirstName == "" {
		fields["firstName"] = "first name is required"
	}
	if in.LastName == "" {
		fields["lastName"] = "last name is required"
	}
	if in.Role != user.RoleClient && in.Role != user.RoleProfessional {
		fields["role"] = "role must be CLIENT or PROFESSIONAL"
	}
	if len(fields) > 0 {
		return Session{}, errors.Validation(fields)
	}

	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return Session{}, errors.Conflict("email %s is already registered", in.Email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, errors.Internal("failed to hash password", err)
	}

	u := user.User{
		Email:                     in.Email,
		PasswordHash:              string(hash),
		FirstName:                 in.FirstName,
		LastName:                  in.LastName,
		Phone:                     strings.TrimSpace(in.Phone),
		Role:                      in.Role,
		Profession:                strings.TrimSpace(in.Profession),
		UseResidenceAsWorkAddress: true,
	}
	if s.referrals != nil {
		code, err := s.referrals.GenerateCode(ctx, u.FirstName)
		if err != nil {
			s.log.WithError(err).Warn("referral code generation failed at signup")
		} else {
			u.ReferralCode = code
		}
	}

	created, err := s.users.CreateUser(ctx, u)
	if err != nil {
		return Session{}, err
	}

	if code := strings.TrimSpace(in.ReferralCode); code != "" && s.referrals != nil {
		if _, err := s.referrals.TrackSignup(ctx, code, created.ID, created.Email); err != nil {
			s.log.WithError(err).WithField("user_id", created.ID).Warn("referral signup tracking failed")
		}
	}

	s.log.WithField("user_id", created.ID).WithField("role", string(created.Role)).Info("user registered")
	return s.session(created)
}

// Login verifies credentials. Unknown emails and wrong passwords get the same
// error.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, errors.Unauthorized(invalidCredentials)
	}
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.log.WithField("user_id", u.ID).Warn("login with wrong password")
		return Session{}, errors.Unauthorized(invalidCredentials)
	}
	return s.session(u)
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := middleware.ParseToken(s.cfg.Secret, refreshToken, middleware.TokenTypeRefresh)
	if err != nil {
		return Session{}, err
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, errors.InvalidToken(nil).WithDetails("reason", "user no longer exists")
	}
	if err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// Me returns the authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (user.User, error) {
	return s.users.GetUser(ctx, userID)
}

func (s *Service) session(u user.User) (Session, error) {
	tokens, err := s.IssueTokens(u)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Tokens: tokens}, nil
}

func (s *Service) roleFor(u user.User) user.Role {
	if s.admins[u.ID] {
		return user.RoleSuperAdmin
	}
	return u.Role
}

// IssueTokens signs an access and a refresh token for u.
func (s *Service) IssueTokens(u user.User) (Tokens, error) {
	now := s.now().UTC()
	access, err := s.sign(u, middleware.TokenTypeAccess, now, s.cfg.AccessTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.sign(u, middleware.TokenTypeRefresh, now, s.cfg.RefreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: now.Add(s.cfg.AccessTTL)}, nil
}

// IssueAccessToken signs a single access token for u.
func (s *Service) IssueAccessToken(u user.User) (string, error) {
	return s.sign(u, middleware.TokenTypeAccess, s.now().UTC(), s.cfg.AccessTTL)
}

func (s *Service) sign(u user.User, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := middleware.Claims{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      string(s.roleFor(u)),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", errors.Internal("failed to sign token", err)
	}
	return signed, nil
}
