package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"carparts/backend/internal/access"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
)

// Authenticate checks a username and password. It needs no actor in ctx.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if !VerifyPassword(user.Password, password) {
		return domain.User{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.User{}, ErrAccountInactive
	}
	return *user, nil
}

// CurrentUser reloads a token's subject so that deactivation and role changes
// take effect on the next request.
func (s *Service) CurrentUser(ctx context.Context, id string) (domain.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !user.Active {
		return domain.User{}, ErrAccountInactive
	}
	return *user, nil
}

// UpgradeLegacyPasswords re-hashes any account still stored in plain text.
func (s *Service) UpgradeLegacyPasswords(ctx context.Context) error {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, user := range users {
		if user.Password == "" || IsPasswordHash(user.Password) {
			continue
		}
		hashed, err := HashPassword(user.Password)
		if err != nil {
			return err
		}
		user.Password = hashed
		if _, err := s.repo.UpdateUser(ctx, user); err != nil {
			return err
		}
		log.Printf("[service] upgraded legacy password for user=%s", user.Username)
	}
	return nil
}

// EnsureSuperadmin creates the first account when the user table is empty.
// It reports whether an account was created.
func (s *Service) EnsureSuperadmin(ctx context.Context, username string, password string) (bool, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	if err := validateCredentials(username, password); err != nil {
		return false, err
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}
	now := s.now()
	_, err = s.repo.CreateUser(ctx, domain.User{
		ID:        xid.New("usr"),
		Username:  strings.ToLower(strings.TrimSpace(username)),
		Password:  hashed,
		Role:      domain.RoleSuperadmin,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, err
	}
	if req.Role == "" {
		req.Role = domain.RoleGeneral
	}
	if !access.Valid(req.Role) {
		return domain.User{}, store.Invalid("role", "must be general, admin or superadmin")
	}
	if !access.CanAssignRole(actor.Role, req.Role) {
		return domain.User{}, fmt.Errorf("%w: cannot create a %s account", access.ErrPermission, req.Role)
	}
	if err := validateCredentials(req.Username, req.Password); err != nil {
		return domain.User{}, err
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}
	now := s.now()
	created, err := s.repo.CreateUser(ctx, domain.User{
		ID:        xid.New("usr"),
		Username:  strings.ToLower(strings.TrimSpace(req.Username)),
		Password:  hashed,
		Role:      req.Role,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, domain.ActionCreate, domain.TableUsers, created.ID, nil, created)
	return *created, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, req domain.UserUpdateRequest) (domain.User, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, err
	}
	existing, err := s.repo.GetUserByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.User{}, err
	}
	if !access.CanManageUser(actor.Role, existing.Role) {
		return domain.User{}, fmt.Errorf("%w: cannot modify a %s account", access.ErrPermission, existing.Role)
	}
	self := existing.ID == actor.UserID

	updated := *existing
	updated.Password = ""
	if req.Role != nil && *req.Role != existing.Role {
		if self {
			return domain.User{}, store.Invalid("role", "cannot change your own role")
		}
		if !access.Valid(*req.Role) {
			return domain.User{}, store.Invalid("role", "must be general, admin or superadmin")
		}
		if !access.CanAssignRole(actor.Role, *req.Role) {
			return domain.User{}, fmt.Errorf("%w: cannot assign the %s role", access.ErrPermission, *req.Role)
		}
		updated.Role = *req.Role
	}
	if req.Active != nil {
		if self && !*req.Active {
			return domain.User{}, store.Invalid("active", "cannot deactivate your own account")
		}
		updated.Active = *req.Active
	}
	if req.Password != nil {
		if len(*req.Password) < minPasswordLength {
			return domain.User{}, store.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
		}
		hashed, err := HashPassword(*req.Password)
		if err != nil {
			return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
		}
		updated.Password = hashed
	}

	saved, err := s.repo.UpdateUser(ctx, updated)
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, domain.ActionUpdate, domain.TableUsers, saved.ID, existing, struct {
		*domain.User
		PasswordChanged bool `json:"password_changed,omitempty"`
	}{saved, req.Password != nil})
	return *saved, nil
}

// DeleteUser removes an account that never did anything. Accounts with
// history stay and can only be deactivated.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return err
	}
	existing, err := s.repo.GetUserByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if existing.ID == actor.UserID {
		return store.Invalid("id", "cannot delete your own account")
	}
	if !access.CanManageUser(actor.Role, existing.Role) {
		return fmt.Errorf("%w: cannot delete a %s account", access.ErrPermission, existing.Role)
	}

	active, err := s.repo.UserHasActivity(ctx, existing.ID)
	if err != nil {
		return err
	}
	if active {
		return &store.InvalidStateError{
			Entity: "user",
			ID:     existing.ID,
			Status: "has_activity",
			Reason: "user has recorded activity; deactivate the account instead",
		}
	}
	if err := s.repo.DeleteUser(ctx, existing.ID); err != nil {
		return err
	}

	s.logAudit(ctx, domain.ActionDelete, domain.TableUsers, existing.ID, existing, nil)
	return nil
}

func validateCredentials(username string, password string) error {
	username = strings.TrimSpace(username)
	if len(username) < minUsernameLength {
		return store.Invalid("username", fmt.Sprintf("must be at least %d characters", minUsernameLength))
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return store.Invalid("username", "must not contain spaces")
	}
	if len(password) < minPasswordLength {
		return store.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	return nil
}
