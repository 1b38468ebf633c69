// internal/lifecycle/service.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/config"
)

// Policy holds the quota and expiry rules.
type Policy struct {
	MaxActive    int
	Cooldown     time.Duration
	Lifetime     time.Duration
	NotifyWindow time.Duration
}

// DefaultPolicy returns three active accounts, a five minute cooldown, a
// 72 hour lifetime and a 24 hour notification window.
func DefaultPolicy() Policy {
	return Policy{
		MaxActive:    schemas.DefaultMaxActiveAccounts,
		Cooldown:     schemas.DefaultCooldown,
		Lifetime:     schemas.DefaultAccountLifetime,
		NotifyWindow: schemas.DefaultNotifyWindow,
	}
}

// PolicyFromConfig converts the lifecycle configuration block.
func PolicyFromConfig(cfg config.LifecycleConfig) Policy {
	return Policy{
		MaxActive:    cfg.MaxActive,
		Cooldown:     cfg.Cooldown,
		Lifetime:     cfg.Lifetime,
		NotifyWindow: cfg.NotifyWindow,
	}
}

// Clock returns the current time.
type Clock func() time.Time

// Service owns account and quota state. Every operation runs under one lock,
// so a sweep never interleaves with a creation or a notification update.
type Service struct {
	repo   Repository
	policy Policy
	now    Clock
	logger *zap.Logger

	mu sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces the wall clock.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.now = c
		}
	}
}

// NewService creates a Service over repo.
func NewService(repo Repository, policy Policy, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named("lifecycle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the rules the service enforces.
func (s *Service) Policy() Policy { return s.policy }

// AddAccount records a newly provisioned account for owner. It does not touch
// the cooldown; callers follow up with RecordCreation.
func (s *Service) AddAccount(ctx context.Context, ownerID string, res schemas.ProvisioningResult) (schemas.Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return schemas.Account{}, errors.New("owner id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	acc := schemas.Account{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.policy.Lifetime),
		ServiceEmail:     res.AccountEmail,
		ServiceUsername:  res.PlayerUsername,
		Active:           true,
		NotificationSent: false,
	}
	if err := s.repo.InsertAccount(ctx, acc); err != nil {
		return schemas.Account{}, fmt.Errorf("insert account: %w", err)
	}
	s.logger.Info("Account recorded.",
		zap.String("owner_id", ownerID),
		zap.String("account_id", acc.ID),
		zap.Time("expires_at", acc.ExpiresAt))
	return acc, nil
}

// ListAccounts returns every account of owner, active or not.
func (s *Service) ListAccounts(ctx context.Context, ownerID string) ([]schemas.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.repo.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// CountActive returns the number of active accounts of owner.
func (s *Service) CountActive(ctx context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActive(ctx, ownerID)
}

func (s *Service) countActive(ctx context.Context, ownerID string) (int, error) {
	accounts, err := s.repo.ListAccounts(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	n := 0
	for _, a := range accounts {
		if a.Active {
			n++
		}
	}
	return n, nil
}

// CanCreate decides whether owner may create an account now. The account
// limit is checked before the cooldown.
func (s *Service) CanCreate(ctx context.Context, ownerID string) (schemas.CreateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canCreate(ctx, ownerID)
}

func (s *Service) canCreate(ctx context.Context, ownerID string) (schemas.CreateDecision, error) {
	active, err := s.countActive(ctx, ownerID)
	if err != nil {
		return schemas.CreateDecision{}, err
	}
	if active >= s.policy.MaxActive {
		return schemas.CreateDecision{
			Reason:  schemas.DenyMaxAccounts,
			Message: fmt.Sprintf("You have reached the limit of %d accounts. Please wait for an existing account to expire.", s.policy.MaxActive),
		}, nil
	}

	quota, err := s.repo.GetQuota(ctx, ownerID)
	switch {
	case errors.Is(err, ErrQuotaNotFound):
		return schemas.CreateDecision{Allowed: true}, nil
	case err != nil:
		return schemas.CreateDecision{}, fmt.Errorf("get quota: %w", err)
	}

	if quota.LastCreatedAt.IsZero() {
		return schemas.CreateDecision{Allowed: true}, nil
	}
	elapsed := s.now().Sub(quota.LastCreatedAt)
	if elapsed < s.policy.Cooldown {
		remaining := s.policy.Cooldown - elapsed
		minutes := int(math.Ceil(remaining.Minutes()))
		return schemas.CreateDecision{
			Reason:     schemas.DenyCooldown,
			Message:    fmt.Sprintf("Please wait %d minutes before creating another account.", minutes),
			RetryAfter: remaining,
		}, nil
	}
	return schemas.CreateDecision{Allowed: true}, nil
}

// RecordCreation stamps owner's last creation time with now.
func (s *Service) RecordCreation(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.PutQuota(ctx, schemas.UserQuota{OwnerID: ownerID, LastCreatedAt: s.now()}); err != nil {
		return fmt.Errorf("put quota: %w", err)
	}
	return nil
}

// SweepExpiring deactivates expired accounts and returns the active accounts
// that expire within the notification window and were not notified yet.
func (s *Service) SweepExpiring(ctx context.Context) ([]schemas.ExpiringAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.repo.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}

	now := s.now()
	var expiring []schemas.ExpiringAccount
	deactivated := 0
	for _, acc := range accounts {
		if !acc.Active {
			continue
		}
		if acc.Expired(now) {
			if err := s.repo.UpdateAccountState(ctx, acc.ID, false, acc.NotificationSent); err != nil {
				return nil, fmt.Errorf("deactivate account %s: %w", acc.ID, err)
			}
			deactivated++
			continue
		}
		if acc.NotificationSent || acc.ExpiresAt.Sub(now) > s.policy.NotifyWindow {
			continue
		}
		expiring = append(expiring, schemas.ExpiringAccount{
			OwnerID:        acc.OwnerID,
			Account:        acc,
			HoursRemaining: acc.HoursRemaining(now),
		})
	}

	s.logger.Debug("Sweep finished.",
		zap.Int("active_scanned", len(accounts)),
		zap.Int("deactivated", deactivated),
		zap.Int("expiring", len(expiring)))
	return expiring, nil
}

// MarkNotified records that owner was told about the account's expiry.
// Repeated calls are no-ops.
func (s *Service) MarkNotified(ctx context.Context, ownerID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.repo.ListAccounts(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acc := range accounts {
		if acc.ID != accountID {
			continue
		}
		if acc.NotificationSent {
			return nil
		}
		if err := s.repo.UpdateAccountState(ctx, acc.ID, acc.Active, true); err != nil {
			return fmt.Errorf("mark notified: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s for owner %s", ErrAccountNotFound, accountID, ownerID)
}

// Close releases the repository.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Close()
}
