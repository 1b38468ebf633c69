// internal/store/sqlite/repository.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
)

const timeLayout = time.RFC3339Nano

var _ lifecycle.Repository = (*Repository)(nil)

// Repository is the SQLite implementation of lifecycle.Repository.
type Repository struct {
	db *DB
}

// Open opens the database at path, applies migrations and returns a repository
// that owns the connection.
func Open(path string) (*Repository, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewRepository(db), nil
}

// NewRepository wraps an already migrated DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) InsertAccount(ctx context.Context, acc schemas.Account) error {
	const query = `INSERT INTO accounts
		(id, owner_id, created_at, expires_at, service_email, service_username, active, notification_sent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		acc.ID, acc.OwnerID,
		formatTime(acc.CreatedAt), formatTime(acc.ExpiresAt),
		acc.ServiceEmail, acc.ServiceUsername,
		acc.Active, acc.NotificationSent,
	)
	if err != nil {
		return fmt.Errorf("insert account %s: %w", acc.ID, err)
	}
	return nil
}

const accountColumns = `id, owner_id, created_at, expires_at, service_email, service_username, active, notification_sent`

func (r *Repository) ListAccounts(ctx context.Context, ownerID string) ([]schemas.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = ? ORDER BY created_at, id`
	return r.queryAccounts(ctx, "list accounts", query, ownerID)
}

func (r *Repository) ListActiveAccounts(ctx context.Context) ([]schemas.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE active = 1 ORDER BY created_at, id`
	return r.queryAccounts(ctx, "list active accounts", query)
}

func (r *Repository) queryAccounts(ctx context.Context, op, query string, args ...any) ([]schemas.Account, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []schemas.Account
	for rows.Next() {
		var (
			acc                  schemas.Account
			createdAt, expiresAt string
		)
		if err := rows.Scan(&acc.ID, &acc.OwnerID, &createdAt, &expiresAt,
			&acc.ServiceEmail, &acc.ServiceUsername, &acc.Active, &acc.NotificationSent); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if acc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for account %s: %w", acc.ID, err)
		}
		if acc.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, fmt.Errorf("parse expires_at for account %s: %w", acc.ID, err)
		}
		result = append(result, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return result, nil
}

func (r *Repository) UpdateAccountState(ctx context.Context, id string, active, notificationSent bool) error {
	const query = `UPDATE accounts SET active = ?, notification_sent = ? WHERE id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, active, notificationSent, id)
	if err != nil {
		return fmt.Errorf("update account %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account %s: %w", id, err)
	}
	if n == 0 {
		return lifecycle.ErrAccountNotFound
	}
	return nil
}

func (r *Repository) GetQuota(ctx context.Context, ownerID string) (schemas.UserQuota, error) {
	const query = `SELECT last_created_at FROM user_quotas WHERE owner_id = ?`
	var raw string
	err := r.db.Reader.QueryRowContext(ctx, query, ownerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.UserQuota{}, lifecycle.ErrQuotaNotFound
	}
	if err != nil {
		return schemas.UserQuota{}, fmt.Errorf("get quota for %s: %w", ownerID, err)
	}
	last, err := parseTime(raw)
	if err != nil {
		return schemas.UserQuota{}, fmt.Errorf("parse last_created_at for %s: %w", ownerID, err)
	}
	return schemas.UserQuota{OwnerID: ownerID, LastCreatedAt: last}, nil
}

func (r *Repository) PutQuota(ctx context.Context, q schemas.UserQuota) error {
	const query = `INSERT INTO user_quotas (owner_id, last_created_at) VALUES (?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET last_created_at = excluded.last_created_at`
	if _, err := r.db.Writer.ExecContext(ctx, query, q.OwnerID, formatTime(q.LastCreatedAt)); err != nil {
		return fmt.Errorf("put quota for %s: %w", q.OwnerID, err)
	}
	return nil
}

func (r *Repository) AddBlock(ctx context.Context, entry schemas.BlockEntry) (bool, error) {
	const query = `INSERT INTO blocked_owners (owner_id, reason, blocked_by, blocked_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(owner_id) DO NOTHING`
	res, err := r.db.Writer.ExecContext(ctx, query, entry.OwnerID, entry.Reason, entry.BlockedBy, formatTime(entry.BlockedAt))
	if err != nil {
		return false, fmt.Errorf("block %s: %w", entry.OwnerID, err)
	}
	return affected(res, "block "+entry.OwnerID)
}

func (r *Repository) RemoveBlock(ctx context.Context, ownerID string) (bool, error) {
	res, err := r.db.Writer.ExecContext(ctx, `DELETE FROM blocked_owners WHERE owner_id = ?`, ownerID)
	if err != nil {
		return false, fmt.Errorf("unblock %s: %w", ownerID, err)
	}
	return affected(res, "unblock "+ownerID)
}

func (r *Repository) ListBlocks(ctx context.Context) ([]schemas.BlockEntry, error) {
	const query = `SELECT owner_id, reason, blocked_by, blocked_at FROM blocked_owners ORDER BY blocked_at, owner_id`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var result []schemas.BlockEntry
	for rows.Next() {
		var (
			b   schemas.BlockEntry
			raw string
		)
		if err := rows.Scan(&b.OwnerID, &b.Reason, &b.BlockedBy, &raw); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		if b.BlockedAt, err = parseTime(raw); err != nil {
			return nil, fmt.Errorf("parse blocked_at for %s: %w", b.OwnerID, err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return result, nil
}

func (r *Repository) AppendAttempt(ctx context.Context, a schemas.CreationAttempt) error {
	const query = `INSERT INTO creation_attempts (id, owner_id, status, detail, at) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.Writer.ExecContext(ctx, query, a.ID, a.OwnerID, string(a.Status), a.Detail, formatTime(a.At)); err != nil {
		return fmt.Errorf("append attempt %s: %w", a.ID, err)
	}
	return nil
}

func (r *Repository) ListAttempts(ctx context.Context, since time.Time) ([]schemas.CreationAttempt, error) {
	const query = `SELECT id, owner_id, status, detail, at FROM creation_attempts
		WHERE at >= ? ORDER BY at DESC, id DESC`
	rows, err := r.db.Reader.QueryContext(ctx, query, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var result []schemas.CreationAttempt
	for rows.Next() {
		var (
			a           schemas.CreationAttempt
			status, raw string
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &status, &a.Detail, &raw); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Status = schemas.AttemptStatus(status)
		if a.At, err = parseTime(raw); err != nil {
			return nil, fmt.Errorf("parse at for attempt %s: %w", a.ID, err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return result, nil
}

func (r *Repository) PutProgress(ctx context.Context, rec schemas.ProgressRecord) error {
	const query = `INSERT INTO provisioning_progress (owner_id, percent, message, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			percent = excluded.percent, message = excluded.message, updated_at = excluded.updated_at`
	if _, err := r.db.Writer.ExecContext(ctx, query, rec.OwnerID, rec.Percent, rec.Message, formatTime(rec.UpdatedAt)); err != nil {
		return fmt.Errorf("put progress for %s: %w", rec.OwnerID, err)
	}
	return nil
}

func (r *Repository) GetProgress(ctx context.Context, ownerID string) (schemas.ProgressRecord, error) {
	const query = `SELECT percent, message, updated_at FROM provisioning_progress WHERE owner_id = ?`
	rec := schemas.ProgressRecord{OwnerID: ownerID}
	var raw string
	err := r.db.Reader.QueryRowContext(ctx, query, ownerID).Scan(&rec.Percent, &rec.Message, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.ProgressRecord{}, lifecycle.ErrProgressNotFound
	}
	if err != nil {
		return schemas.ProgressRecord{}, fmt.Errorf("get progress for %s: %w", ownerID, err)
	}
	if rec.UpdatedAt, err = parseTime(raw); err != nil {
		return schemas.ProgressRecord{}, fmt.Errorf("parse updated_at for %s: %w", ownerID, err)
	}
	return rec, nil
}

func (r *Repository) DeleteProgress(ctx context.Context, ownerID string) error {
	if _, err := r.db.Writer.ExecContext(ctx, `DELETE FROM provisioning_progress WHERE owner_id = ?`, ownerID); err != nil {
		return fmt.Errorf("delete progress for %s: %w", ownerID, err)
	}
	return nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// formatTime stores UTC with fixed-width fractional seconds so that text
// ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
