package httpapi

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"carparts/backend/internal/domain"
)

var errInvalidToken = errors.New("invalid or expired token")

// UserAuthenticator is the account lookup the auth manager relies on.
// *service.Service satisfies it.
type UserAuthenticator interface {
	Authenticate(ctx context.Context, username string, password string) (domain.User, error)
	CurrentUser(ctx context.Context, id string) (domain.User, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserAuthenticator
}

type carpartsClaims struct {
	jwtlib.RegisteredClaims
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// NewAuthManager signs tokens with secret. An empty secret is replaced by a
// random one, so tokens do not survive a restart.
func NewAuthManager(secret string, tokenTTL time.Duration, users UserAuthenticator) *AuthManager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			log.Fatalf("[auth] failed to generate signing key: %v", err)
		}
		log.Println("[auth] WARNING: AUTH_SECRET is empty; using a random per-process signing key")
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{secret: key, tokenTTL: tokenTTL, users: users}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.users.Authenticate(ctx, strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        user,
	}, nil
}

// ParseToken verifies the signature and expiry and returns the claimed user id.
func (a *AuthManager) ParseToken(tokenStr string) (string, error) {
	claims := &carpartsClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("invalid token subject")
	}
	return sub, nil
}

// Resolve turns a bearer token into the current actor. Role and active flag
// are read from the account, not the token, so changes apply immediately.
func (a *AuthManager) Resolve(ctx context.Context, tokenStr string) (domain.Actor, error) {
	userID, err := a.ParseToken(tokenStr)
	if err != nil {
		return domain.Actor{}, err
	}
	user, err := a.users.CurrentUser(ctx, userID)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

func (a *AuthManager) sign(user domain.User, expiresAt time.Time) (string, error) {
	claims := carpartsClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "carparts",
		},
		Username: user.Username,
		Role:     user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
