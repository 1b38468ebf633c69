// internal/store/postgres/store.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
)

// DBPool abstracts pgxpool.Pool so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store is the PostgreSQL implementation of lifecycle.Repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ lifecycle.Repository = (*Store)(nil)

// New creates a store over pool and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// Open connects to databaseURL, applies migrations and returns a Store that
// owns the pool.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

const (
	sqlInsertAccount = `
        INSERT INTO accounts (id, owner_id, created_at, expires_at, service_email, service_username, active, notification_sent)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlSelectAccounts = `
        SELECT id, owner_id, created_at, expires_at, service_email, service_username, active, notification_sent
        FROM accounts
    `
	sqlUpdateAccountState = `
        UPDATE accounts
        SET active = $2, notification_sent = $3
        WHERE id = $1;
    `
	sqlSelectQuota = `SELECT last_created_at FROM user_quotas WHERE owner_id = $1;`
	sqlUpsertQuota = `
        INSERT INTO user_quotas (owner_id, last_created_at)
        VALUES ($1, $2)
        ON CONFLICT (owner_id) DO UPDATE SET last_created_at = EXCLUDED.last_created_at;
    `
)

func (s *Store) InsertAccount(ctx context.Context, acc schemas.Account) error {
	_, err := s.pool.Exec(ctx, sqlInsertAccount,
		acc.ID, acc.OwnerID,
		acc.CreatedAt.UTC(), acc.ExpiresAt.UTC(),
		acc.ServiceEmail, acc.ServiceUsername,
		acc.Active, acc.NotificationSent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account %s: %w", acc.ID, err)
	}
	return nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]schemas.Account, error) {
	return s.queryAccounts(ctx, sqlSelectAccounts+` WHERE owner_id = $1 ORDER BY created_at ASC, id ASC;`, ownerID)
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]schemas.Account, error) {
	return s.queryAccounts(ctx, sqlSelectAccounts+` WHERE active ORDER BY created_at ASC, id ASC;`)
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]schemas.Account, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []schemas.Account
	for rows.Next() {
		var a schemas.Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.CreatedAt, &a.ExpiresAt,
			&a.ServiceEmail, &a.ServiceUsername, &a.Active, &a.NotificationSent); err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		a.ExpiresAt = a.ExpiresAt.UTC()
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return accounts, nil
}

func (s *Store) UpdateAccountState(ctx context.Context, id string, active, notificationSent bool) error {
	tag, err := s.pool.Exec(ctx, sqlUpdateAccountState, id, active, notificationSent)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrAccountNotFound
	}
	return nil
}

func (s *Store) GetQuota(ctx context.Context, ownerID string) (schemas.UserQuota, error) {
	q := schemas.UserQuota{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx, sqlSelectQuota, ownerID).Scan(&q.LastCreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.UserQuota{}, lifecycle.ErrQuotaNotFound
	}
	if err != nil {
		return schemas.UserQuota{}, fmt.Errorf("failed to get quota for %s: %w", ownerID, err)
	}
	q.LastCreatedAt = q.LastCreatedAt.UTC()
	return q, nil
}

func (s *Store) PutQuota(ctx context.Context, q schemas.UserQuota) error {
	if _, err := s.pool.Exec(ctx, sqlUpsertQuota, q.OwnerID, q.LastCreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert quota for %s: %w", q.OwnerID, err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
