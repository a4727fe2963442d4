package httpapi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/service"
	"carparts/backend/internal/store"
)

type userDirectoryStub struct {
	mu       sync.Mutex
	users    map[string]domain.User
	password string
}

func (s *userDirectoryStub) Authenticate(_ context.Context, username string, password string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username != username {
			continue
		}
		if password != s.password {
			return domain.User{}, service.ErrInvalidCredentials
		}
		if !u.Active {
			return domain.User{}, service.ErrAccountInactive
		}
		return u, nil
	}
	return domain.User{}, service.ErrInvalidCredentials
}

func (s *userDirectoryStub) CurrentUser(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	if !u.Active {
		return domain.User{}, service.ErrAccountInactive
	}
	return u, nil
}

func (s *userDirectoryStub) set(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func newDirectory() *userDirectoryStub {
	return &userDirectoryStub{
		password: "admin123",
		users: map[string]domain.User{
			"usr-1": {ID: "usr-1", Username: "admin", Role: domain.RoleAdmin, Active: true},
		},
	}
}

const testSecret = "test-secret-key-with-at-least-32-bytes"

func TestLoginIssuesTokenForUserID(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, newDirectory())

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, resp.Role)
	assert.Equal(t, "usr-1", resp.User.ID)
	assert.NotEmpty(t, resp.ExpiresAt)

	subject, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "usr-1", subject)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, newDirectory())

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "admin123"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestResolveReadsCurrentRoleAndActiveFlag(t *testing.T) {
	directory := newDirectory()
	manager := NewAuthManager(testSecret, time.Hour, directory)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	directory.set(domain.User{ID: "usr-1", Username: "admin", Role: domain.RoleGeneral, Active: true})
	actor, err := manager.Resolve(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleGeneral, actor.Role, "demotion must apply to existing tokens")

	directory.set(domain.User{ID: "usr-1", Username: "admin", Role: domain.RoleGeneral, Active: false})
	_, err = manager.Resolve(context.Background(), resp.AccessToken)
	assert.ErrorIs(t, err, service.ErrAccountInactive)
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	directory := newDirectory()
	manager := NewAuthManager(testSecret, time.Hour, directory)
	other := NewAuthManager("another-secret-key-with-32-bytes-or-more", time.Hour, directory)

	resp, err := other.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	_, err = manager.ParseToken(resp.AccessToken)
	assert.True(t, errors.Is(err, errInvalidToken))

	expired, err := manager.sign(domain.User{ID: "usr-1", Role: domain.RoleAdmin}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	assert.ErrorIs(t, err, errInvalidToken)

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "usr-1"})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = manager.ParseToken(raw)
	assert.ErrorIs(t, err, errInvalidToken)
}

func TestEmptySecretUsesRandomKey(t *testing.T) {
	directory := newDirectory()
	first := NewAuthManager("", time.Hour, directory)
	second := NewAuthManager("", time.Hour, directory)

	resp, err := first.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	_, err = second.ParseToken(resp.AccessToken)
	assert.ErrorIs(t, err, errInvalidToken)
	_, err = first.ParseToken(resp.AccessToken)
	assert.NoError(t, err)
}
