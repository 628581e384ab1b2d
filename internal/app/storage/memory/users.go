package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/user"
)

func cloneLocation(loc *user.Location) *user.Location {
	if loc == nil {
		return nil
	}
	cp := *loc
	return &cp
}

func cloneUser(u user.User) user.User {
	u.Location = cloneLocation(u.Location)
	u.WorkLocation = cloneLocation(u.WorkLocation)
	return u
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return user.User{}, conflict("user with email %s already exists", u.Email)
		}
		if u.ReferralCode != "" && existing.ReferralCode == u.ReferralCode {
			return user.User{}, conflict("referral code %s already exists", u.ReferralCode)
		}
	}
	if u.ID == "" {
		u.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, notFound("user", u.ID)
	}
	if u.ReferralCode != "" && u.ReferralCode != original.ReferralCode {
		for id, existing := range s.users {
			if id != u.ID && existing.ReferralCode == u.ReferralCode {
				return user.User{}, conflict("referral code %s already exists", u.ReferralCode)
			}
		}
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	s.users[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, notFound("user", id)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return user.User{}, notFound("user", email)
}

func (s *Store) GetUserByReferralCode(_ context.Context, code string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.ReferralCode != "" && u.ReferralCode == code {
			return cloneUser(u), nil
		}
	}
	return user.User{}, notFound("user with referral code", code)
}

func (s *Store) ListUsers(_ context.Context, roles ...user.Role) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		if len(roles) > 0 && !hasRole(roles, u.Role) {
			continue
		}
		result = append(result, cloneUser(u))
	}
	sort.Slice(result, func(i, j int) bool {
		return olderFirst(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *Store) GetPreferences(_ context.Context, userID string) (user.NotificationPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, ok := s.preferences[userID]
	if !ok {
		return user.NotificationPreferences{}, notFound("preferences", userID)
	}
	return prefs, nil
}

func (s *Store) SavePreferences(_ context.Context, prefs user.NotificationPreferences) (user.NotificationPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs.UpdatedAt = time.Now().UTC()
	s.preferences[prefs.UserID] = prefs
	return prefs, nil
}

func hasRole(roles []user.Role, role user.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
