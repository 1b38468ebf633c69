// internal/lifecycle/owners.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/api/schemas"
)

// BlockedMessage is the refusal text for blocked owners.
const BlockedMessage = "You are not allowed to create accounts."

// Admit decides whether owner may start a run: blocked owners are refused
// first, then CanCreate applies. Both checks run under one lock.
func (s *Service) Admit(ctx context.Context, ownerID string) (schemas.CreateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocked, err := s.blocked(ctx, ownerID)
	if err != nil {
		return schemas.CreateDecision{}, err
	}
	if blocked {
		return schemas.CreateDecision{Reason: schemas.DenyBlocked, Message: BlockedMessage}, nil
	}
	return s.canCreate(ctx, ownerID)
}

// Block bars owner from creating accounts. It reports false when the owner
// was already blocked; the existing entry is kept.
func (s *Service) Block(ctx context.Context, ownerID, reason, blockedBy string) (bool, error) {
	if strings.TrimSpace(ownerID) == "" {
		return false, errors.New("owner id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.repo.AddBlock(ctx, schemas.BlockEntry{
		OwnerID:   ownerID,
		Reason:    reason,
		BlockedBy: blockedBy,
		BlockedAt: s.now(),
	})
	if err != nil {
		return false, fmt.Errorf("add block: %w", err)
	}
	if added {
		s.logger.Info("Owner blocked.", zap.String("owner_id", ownerID), zap.String("reason", reason))
	}
	return added, nil
}

// Unblock lifts a block and reports whether one existed.
func (s *Service) Unblock(ctx context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.repo.RemoveBlock(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("remove block: %w", err)
	}
	if removed {
		s.logger.Info("Owner unblocked.", zap.String("owner_id", ownerID))
	}
	return removed, nil
}

// Blocked reports whether owner is on the block list.
func (s *Service) Blocked(ctx context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked(ctx, ownerID)
}

func (s *Service) blocked(ctx context.Context, ownerID string) (bool, error) {
	blocks, err := s.repo.ListBlocks(ctx)
	if err != nil {
		return false, fmt.Errorf("list blocks: %w", err)
	}
	for _, b := range blocks {
		if b.OwnerID == ownerID {
			return true, nil
		}
	}
	return false, nil
}

// ListBlocked returns the block list.
func (s *Service) ListBlocked(ctx context.Context) ([]schemas.BlockEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocks, err := s.repo.ListBlocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return blocks, nil
}

// RecordAttempt appends an entry to the creation log.
func (s *Service) RecordAttempt(ctx context.Context, ownerID string, status schemas.AttemptStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.repo.AppendAttempt(ctx, schemas.CreationAttempt{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Status:  status,
		Detail:  detail,
		At:      s.now(),
	})
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

// Attempts returns the creation log entries recorded at or after since,
// newest first. A zero since returns the whole log.
func (s *Service) Attempts(ctx context.Context, since time.Time) ([]schemas.CreationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempts, err := s.repo.ListAttempts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}

// Stats aggregates the creation log, the active accounts and the block list.
func (s *Service) Stats(ctx context.Context) (schemas.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts, err := s.repo.ListAttempts(ctx, time.Time{})
	if err != nil {
		return schemas.Stats{}, fmt.Errorf("list attempts: %w", err)
	}
	active, err := s.repo.ListActiveAccounts(ctx)
	if err != nil {
		return schemas.Stats{}, fmt.Errorf("list active accounts: %w", err)
	}
	blocks, err := s.repo.ListBlocks(ctx)
	if err != nil {
		return schemas.Stats{}, fmt.Errorf("list blocks: %w", err)
	}

	now := s.now()
	day, week := now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)
	owners := map[string]struct{}{}
	owners24h := map[string]struct{}{}
	owners7d := map[string]struct{}{}

	st := schemas.Stats{BlockedOwners: len(blocks)}
	for _, a := range attempts {
		owners[a.OwnerID] = struct{}{}
		inDay, inWeek := !a.At.Before(day), !a.At.Before(week)
		if inDay {
			owners24h[a.OwnerID] = struct{}{}
		}
		if inWeek {
			owners7d[a.OwnerID] = struct{}{}
		}
		switch a.Status {
		case schemas.AttemptSuccess:
			st.TotalCreated++
			if inDay {
				st.Created24h++
			}
			if inWeek {
				st.Created7d++
			}
		case schemas.AttemptFailed:
			st.TotalFailed++
		}
	}
	st.TotalOwners, st.Owners24h, st.Owners7d = len(owners), len(owners24h), len(owners7d)
	if finished := st.TotalCreated + st.TotalFailed; finished > 0 {
		st.SuccessRate = math.Round(1000*float64(st.TotalCreated)/float64(finished)) / 10
	}
	for _, acc := range active {
		if acc.Active && !acc.Expired(now) {
			st.ActiveAccounts++
		}
	}
	return st, nil
}

// SetProgress stores ev as owner's current progress.
func (s *Service) SetProgress(ctx context.Context, ownerID string, ev schemas.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := ev.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	rec := schemas.ProgressRecord{OwnerID: ownerID, Percent: ev.Percent, Message: ev.Message, UpdatedAt: at.UTC()}
	if err := s.repo.PutProgress(ctx, rec); err != nil {
		return fmt.Errorf("put progress: %w", err)
	}
	return nil
}

// Progress returns owner's current progress, or ErrProgressNotFound.
func (s *Service) Progress(ctx context.Context, ownerID string) (schemas.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.repo.GetProgress(ctx, ownerID)
	if err != nil {
		return schemas.ProgressRecord{}, fmt.Errorf("get progress: %w", err)
	}
	return rec, nil
}

// ClearProgress removes owner's progress record.
func (s *Service) ClearProgress(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.DeleteProgress(ctx, ownerID); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}
