package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

const userColumns = `id, username, password, role, active, created_at, updated_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.Invalid("username", "username and password are required")
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt

	_, err := s.conn().exec(ctx, `
		INSERT INTO users (id, username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Username, user.Password, string(user.Role), user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, s.classify(err)
	}
	return &user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(s.conn().queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	u, err := scanUser(s.conn().queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.conn().query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	res, err := s.conn().exec(ctx, `
		UPDATE users
		SET role = $2, active = $3, password = COALESCE($4, password), updated_at = $5
		WHERE id = $1
	`, user.ID, string(user.Role), user.Active, nullIfEmpty(user.Password), time.Now().UTC())
	if err != nil {
		return nil, s.classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetUserByID(ctx, user.ID)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.conn().exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return s.classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UserHasActivity(ctx context.Context, id string) (bool, error) {
	var found int
	err := s.conn().queryRow(ctx, `
		SELECT 1 WHERE
			EXISTS (SELECT 1 FROM audit_logs WHERE user_id = $1)
			OR EXISTS (SELECT 1 FROM bills WHERE created_by = $1)
			OR EXISTS (SELECT 1 FROM reservations WHERE created_by = $1)
			OR EXISTS (SELECT 1 FROM refunds WHERE refunded_by = $1)
	`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn().exec(ctx, `
		INSERT INTO audit_logs (id, user_id, username, action, table_name, record_id, old_values, new_values,
			ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, nullIfEmpty(entry.UserID), entry.Username, entry.Action, entry.TableName, entry.RecordID,
		nullJSON(entry.OldValues), nullJSON(entry.NewValues), nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.UserAgent),
		entry.CreatedAt)
	return s.classify(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, af domain.AuditFilter) ([]domain.AuditLog, error) {
	var f filter
	if af.TableName != "" {
		f.add(`table_name = $%d`, af.TableName)
	}
	if af.RecordID != "" {
		f.add(`record_id = $%d`, af.RecordID)
	}
	if af.From != nil {
		f.add(`created_at >= $%d`, af.From.UTC())
	}
	if af.To != nil {
		f.add(`created_at < $%d`, af.To.UTC())
	}
	query := `
		SELECT id, user_id, username, action, table_name, record_id, old_values, new_values, ip_address, user_agent, created_at
		FROM audit_logs` + f.where() + ` ORDER BY created_at DESC, id DESC`
	query += f.page(af.Limit, 0)

	rows, err := s.conn().query(ctx, query, f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		var userID, oldValues, newValues, ip, agent sql.NullString
		if err := rows.Scan(&entry.ID, &userID, &entry.Username, &entry.Action, &entry.TableName, &entry.RecordID,
			&oldValues, &newValues, &ip, &agent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.UserID = userID.String
		entry.IPAddress = ip.String
		entry.UserAgent = agent.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		if oldValues.Valid {
			entry.OldValues = []byte(oldValues.String)
		}
		if newValues.Valid {
			entry.NewValues = []byte(newValues.String)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
