// internal/lifecycle/repository.go
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/trialctl/api/schemas"
)

var (
	// ErrAccountNotFound is returned when no account has the given ID (for the given owner).
	ErrAccountNotFound = errors.New("account not found")
	// ErrQuotaNotFound is returned when an owner never created an account.
	ErrQuotaNotFound = errors.New("quota record not found")
	// ErrProgressNotFound is returned when an owner has no attempt in progress.
	ErrProgressNotFound = errors.New("no provisioning in progress")
)

// Repository persists accounts, quota records and the owner records around
// them. Implementations need not serialize callers themselves; Service holds a
// single writer lock around every read-modify-write cycle.
type Repository interface {
	InsertAccount(ctx context.Context, acc schemas.Account) error
	// ListAccounts returns the owner's accounts ordered by creation time.
	ListAccounts(ctx context.Context, ownerID string) ([]schemas.Account, error)
	// ListActiveAccounts returns every active account of every owner.
	ListActiveAccounts(ctx context.Context) ([]schemas.Account, error)
	// UpdateAccountState writes only the mutable flags of an account.
	UpdateAccountState(ctx context.Context, id string, active, notificationSent bool) error

	GetQuota(ctx context.Context, ownerID string) (schemas.UserQuota, error)
	PutQuota(ctx context.Context, q schemas.UserQuota) error

	// AddBlock stores entry unless the owner is already blocked, reporting
	// whether it was added.
	AddBlock(ctx context.Context, entry schemas.BlockEntry) (bool, error)
	// RemoveBlock reports whether a block existed.
	RemoveBlock(ctx context.Context, ownerID string) (bool, error)
	// ListBlocks returns every block ordered by BlockedAt.
	ListBlocks(ctx context.Context) ([]schemas.BlockEntry, error)

	AppendAttempt(ctx context.Context, a schemas.CreationAttempt) error
	// ListAttempts returns the attempts recorded at or after since, newest first.
	ListAttempts(ctx context.Context, since time.Time) ([]schemas.CreationAttempt, error)

	PutProgress(ctx context.Context, rec schemas.ProgressRecord) error
	GetProgress(ctx context.Context, ownerID string) (schemas.ProgressRecord, error)
	// DeleteProgress is a no-op when no record exists.
	DeleteProgress(ctx context.Context, ownerID string) error

	Close() error
}
