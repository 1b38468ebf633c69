// internal/store/postgres/owners.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
)

const (
	sqlInsertBlock = `
        INSERT INTO blocked_owners (owner_id, reason, blocked_by, blocked_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (owner_id) DO NOTHING;
    `
	sqlDeleteBlock  = `DELETE FROM blocked_owners WHERE owner_id = $1;`
	sqlSelectBlocks = `
        SELECT owner_id, reason, blocked_by, blocked_at
        FROM blocked_owners
        ORDER BY blocked_at ASC, owner_id ASC;
    `
	sqlInsertAttempt = `
        INSERT INTO creation_attempts (id, owner_id, status, detail, at)
        VALUES ($1, $2, $3, $4, $5);
    `
	sqlSelectAttempts = `
        SELECT id, owner_id, status, detail, at
        FROM creation_attempts
        WHERE at >= $1
        ORDER BY at DESC, id DESC;
    `
	sqlUpsertProgress = `
        INSERT INTO provisioning_progress (owner_id, percent, message, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (owner_id) DO UPDATE
        SET percent = EXCLUDED.percent, message = EXCLUDED.message, updated_at = EXCLUDED.updated_at;
    `
	sqlSelectProgress = `SELECT percent, message, updated_at FROM provisioning_progress WHERE owner_id = $1;`
	sqlDeleteProgress = `DELETE FROM provisioning_progress WHERE owner_id = $1;`
)

func (s *Store) AddBlock(ctx context.Context, entry schemas.BlockEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlInsertBlock, entry.OwnerID, entry.Reason, entry.BlockedBy, entry.BlockedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to block %s: %w", entry.OwnerID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RemoveBlock(ctx context.Context, ownerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, sqlDeleteBlock, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to unblock %s: %w", ownerID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListBlocks(ctx context.Context) ([]schemas.BlockEntry, error) {
	rows, err := s.pool.Query(ctx, sqlSelectBlocks)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []schemas.BlockEntry
	for rows.Next() {
		var b schemas.BlockEntry
		if err := rows.Scan(&b.OwnerID, &b.Reason, &b.BlockedBy, &b.BlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block row: %w", err)
		}
		b.BlockedAt = b.BlockedAt.UTC()
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return blocks, nil
}

func (s *Store) AppendAttempt(ctx context.Context, a schemas.CreationAttempt) error {
	if _, err := s.pool.Exec(ctx, sqlInsertAttempt, a.ID, a.OwnerID, string(a.Status), a.Detail, a.At.UTC()); err != nil {
		return fmt.Errorf("failed to append attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, since time.Time) ([]schemas.CreationAttempt, error) {
	rows, err := s.pool.Query(ctx, sqlSelectAttempts, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []schemas.CreationAttempt
	for rows.Next() {
		var (
			a      schemas.CreationAttempt
			status string
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &status, &a.Detail, &a.At); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		a.Status = schemas.AttemptStatus(status)
		a.At = a.At.UTC()
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return attempts, nil
}

func (s *Store) PutProgress(ctx context.Context, rec schemas.ProgressRecord) error {
	if _, err := s.pool.Exec(ctx, sqlUpsertProgress, rec.OwnerID, rec.Percent, rec.Message, rec.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to upsert progress for %s: %w", rec.OwnerID, err)
	}
	return nil
}

func (s *Store) GetProgress(ctx context.Context, ownerID string) (schemas.ProgressRecord, error) {
	rec := schemas.ProgressRecord{OwnerID: ownerID}
	err := s.pool.QueryRow(ctx, sqlSelectProgress, ownerID).Scan(&rec.Percent, &rec.Message, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.ProgressRecord{}, lifecycle.ErrProgressNotFound
	}
	if err != nil {
		return schemas.ProgressRecord{}, fmt.Errorf("failed to get progress for %s: %w", ownerID, err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (s *Store) DeleteProgress(ctx context.Context, ownerID string) error {
	if _, err := s.pool.Exec(ctx, sqlDeleteProgress, ownerID); err != nil {
		return fmt.Errorf("failed to delete progress for %s: %w", ownerID, err)
	}
	return nil
}
