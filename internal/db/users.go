package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const userColumns = `id, name, email, password_hash, role, account_status, status_reason, email_verified, balance::text, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var user User
	var balance string
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.AccountStatus,
		&user.StatusReason,
		&user.EmailVerified,
		&balance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	user.Balance = parseDecimal(balance)
	return user, err
}

type CreateUserParams struct {
	ID            string
	Name          string
	Email         string
	PasswordHash  string
	Role          string
	AccountStatus string
	EmailVerified bool
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, `
    INSERT INTO users (id, name, email, password_hash, role, account_status, email_verified)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    RETURNING `+userColumns,
		arg.ID, arg.Name, arg.Email, arg.PasswordHash, arg.Role, arg.AccountStatus, arg.EmailVerified)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetUserForUpdate locks the user row for balance changes.
func (q *Queries) GetUserForUpdate(ctx context.Context, id string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) UpdateUserName(ctx context.Context, id, name string) (User, error) {
	row := q.db.QueryRow(ctx, `
    UPDATE users SET name = $2, updated_at = now()
    WHERE id = $1
    RETURNING `+userColumns, id, name)
	return scanUser(row)
}

func (q *Queries) SetEmailVerified(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET email_verified = true, updated_at = now() WHERE id = $1`, id)
	return err
}

func (q *Queries) UpdatePassword(ctx context.Context, id, hash string) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	return err
}

func (q *Queries) SetAccountStatus(ctx context.Context, id, status string, reason *string) (User, error) {
	row := q.db.QueryRow(ctx, `
    UPDATE users SET account_status = $2, status_reason = $3, updated_at = now()
    WHERE id = $1
    RETURNING `+userColumns, id, status, reason)
	return scanUser(row)
}

func (q *Queries) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	_, err := q.db.Exec(ctx, `UPDATE users SET balance = $2::numeric, updated_at = now() WHERE id = $1`, id, balance.String())
	return err
}

type UserFilter struct {
	Role   string
	Status string
	Search string
}

func (f UserFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Role != "" {
		add("role = ?", f.Role)
	}
	if f.Status != "" {
		add("account_status = ?", f.Status)
	}
	if f.Search != "" {
		add("(name ILIKE ? OR email ILIKE ?)", "%"+f.Search+"%")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (q *Queries) ListUsers(ctx context.Context, filter UserFilter, limit, offset int) ([]User, int, error) {
	where, args := filter.where()

	var total int
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users`+where+
		` ORDER BY created_at DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// CountUsersByStatus returns counts keyed by role then account status.
func (q *Queries) CountUsersByStatus(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := q.db.Query(ctx, `SELECT role, account_status, count(*) FROM users GROUP BY role, account_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]map[string]int{}
	for rows.Next() {
		var role, status string
		var n int
		if err := rows.Scan(&role, &status, &n); err != nil {
			return nil, err
		}
		if counts[role] == nil {
			counts[role] = map[string]int{}
		}
		counts[role][status] = n
	}
	return counts, rows.Err()
}

func (q *Queries) CreateDocument(ctx context.Context, doc Document) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO user_documents (id, user_id, kind, storage_key, content_type, size_bytes, uploaded_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7)
  `, doc.ID, doc.UserID, doc.Kind, doc.StorageKey, doc.ContentType, doc.SizeBytes, doc.UploadedAt)
	return err
}

func (q *Queries) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	row := q.db.QueryRow(ctx, `
    SELECT id, user_id, kind, storage_key, content_type, size_bytes, uploaded_at
    FROM user_documents
    WHERE id = $1
  `, id)
	err := row.Scan(&doc.ID, &doc.UserID, &doc.Kind, &doc.StorageKey, &doc.ContentType, &doc.SizeBytes, &doc.UploadedAt)
	return doc, err
}

func (q *Queries) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := q.db.Query(ctx, `
    SELECT id, user_id, kind, storage_key, content_type, size_bytes, uploaded_at
    FROM user_documents
    WHERE user_id = $1
    ORDER BY uploaded_at
  `, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Kind, &doc.StorageKey, &doc.ContentType, &doc.SizeBytes, &doc.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (q *Queries) CreateRefreshSession(ctx context.Context, session RefreshSession) error {
	_, err := q.db.Exec(ctx, `
    INSERT INTO refresh_sessions (id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
  `, session.ID, session.UserID, session.TokenHash, session.CreatedAt, session.ExpiresAt, session.RevokedAt, session.UserAgent, session.IPAddress)
	return err
}

func (q *Queries) GetRefreshSession(ctx context.Context, tokenHash string) (RefreshSession, error) {
	var session RefreshSession
	row := q.db.QueryRow(ctx, `
    SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, user_agent, ip_address
    FROM refresh_sessions
    WHERE token_hash = $1
  `, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt, &session.RevokedAt, &session.UserAgent, &session.IPAddress)
	return session, err
}

func (q *Queries) RevokeRefreshSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE refresh_sessions SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, revokedAt, sessionID)
	return err
}

func (q *Queries) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE refresh_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`, revokedAt, userID)
	return err
}
