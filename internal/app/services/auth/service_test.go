package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/referral"
	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
	"github.com/richiesta-assistenza/service_layer/internal/middleware"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

type stubReferrals struct {
	tracked []string
	fail    bool
}

func (s *stubReferrals) GenerateCode(context.Context, string) (string, error) {
	return "MARI2026ABC123", nil
}

func (s *stubReferrals) TrackSignup(_ context.Context, code, newUserID, _ string) (referral.Referral, error) {
	s.tracked = append(s.tracked, code+":"+newUserID)
	if s.fail {
		return referral.Referral{}, errors.New("unknown code")
	}
	return referral.Referral{Code: code}, nil
}

func validInput() RegisterInput {
	return RegisterInput{
		Email:     "Mario.Rossi@Example.it",
		Password:  "segreta123",
		FirstName: "Mario",
		LastName:  "Rossi",
		Role:      user.RoleClient,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	store := memory.New()
	svc := New(store, Config{Secret: secret}, nil)
	refs := &stubReferrals{fail: true}
	svc.AttachReferrals(refs)
	ctx := context.Background()

	in := validInput()
	in.ReferralCode = "LUCA2026XYZ999"
	session, err := svc.Register(ctx, in)
	require.NoError(t, err, "referral failures must not block signup")
	assert.Equal(t, "mario.rossi@example.it", session.User.Email)
	assert.Equal(t, "MARI2026ABC123", session.User.ReferralCode)
	assert.NotEqual(t, "segreta123", session.User.PasswordHash)
	assert.Len(t, refs.tracked, 1)

	claims, err := middleware.ParseToken(secret, session.Tokens.AccessToken, middleware.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.UserID)
	assert.Equal(t, "CLIENT", claims.Role)
	assert.WithinDuration(t, time.Now().Add(DefaultAccessTTL), claims.ExpiresAt.Time, time.Minute)

	refresh, err := middleware.ParseToken(secret, session.Tokens.RefreshToken, middleware.TokenTypeRefresh)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultRefreshTTL), refresh.ExpiresAt.Time, time.Minute)

	_, err = svc.Register(ctx, validInput())
	assert.Equal(t, http.StatusConflict, errors.HTTPStatusFor(err))

	logged, err := svc.Login(ctx, "MARIO.rossi@example.it", "segreta123")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, logged.User.ID)
}

func TestLoginErrorsAreIndistinguishable(t *testing.T) {
	store := memory.New()
	svc := New(store, Config{Secret: secret}, nil)
	ctx := context.Background()
	_, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, wrongPassword := svc.Login(ctx, "mario.rossi@example.it", "sbagliata")
	_, unknownEmail := svc.Login(ctx, "nobody@example.it", "segreta123")
	require.Error(t, wrongPassword)
	require.Error(t, unknownEmail)
	assert.Equal(t, http.StatusUnauthorized, errors.HTTPStatusFor(wrongPassword))
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestRegisterValidation(t *testing.T) {
	svc := New(memory.New(), Config{Secret: secret}, nil)
	in := validInput()
	in.Password = "short"
	in.Role = user.RoleAdmin
	in.Email = "not-an-email"

	_, err := svc.Register(context.Background(), in)
	se := errors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Contains(t, se.Details, "password")
	assert.Contains(t, se.Details, "role")
	assert.Contains(t, se.Details, "email")
}

func TestRefresh(t *testing.T) {
	store := memory.New()
	svc := New(store, Config{Secret: secret}, nil)
	ctx := context.Background()
	session, err := svc.Register(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, session.Tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, errors.HTTPStatusFor(err), "access tokens cannot refresh")

	renewed, err := svc.Refresh(ctx, session.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, renewed.User.ID)
	assert.NotEmpty(t, renewed.Tokens.AccessToken)
}

func TestAdminPromotion(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	plain := New(store, Config{Secret: secret}, nil)
	session, err := plain.Register(ctx, validInput())
	require.NoError(t, err)

	promoting := New(store, Config{Secret: secret, AdminUserIDs: []string{" " + session.User.ID + " "}}, nil)
	tokens, err := promoting.IssueTokens(session.User)
	require.NoError(t, err)
	claims, err := middleware.ParseToken(secret, tokens.AccessToken, middleware.TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "SUPER_ADMIN", claims.Role)
}
