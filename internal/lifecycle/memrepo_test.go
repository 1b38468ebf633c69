// internal/lifecycle/memrepo_test.go
package lifecycle_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
)

// memRepo is an in-memory Repository that records whether two calls ever
// overlapped.
type memRepo struct {
	mu       sync.Mutex
	accounts []schemas.Account
	quotas   map[string]schemas.UserQuota
	blocks   []schemas.BlockEntry
	attempts []schemas.CreationAttempt
	progress map[string]schemas.ProgressRecord

	// delay widens the window in which overlapping calls would be seen.
	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	closed      bool
}

var _ lifecycle.Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		quotas:   map[string]schemas.UserQuota{},
		progress: map[string]schemas.ProgressRecord{},
	}
}

func (r *memRepo) enter() func() {
	n := r.inFlight.Add(1)
	for {
		m := r.maxInFlight.Load()
		if n <= m || r.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return func() { r.inFlight.Add(-1) }
}

func (r *memRepo) InsertAccount(_ context.Context, acc schemas.Account) error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, acc)
	return nil
}

func (r *memRepo) ListAccounts(_ context.Context, ownerID string) ([]schemas.Account, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.Account
	for _, a := range r.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) ListActiveAccounts(_ context.Context) ([]schemas.Account, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.Account
	for _, a := range r.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateAccountState(_ context.Context, id string, active, notificationSent bool) error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.accounts {
		if r.accounts[i].ID == id {
			r.accounts[i].Active = active
			r.accounts[i].NotificationSent = notificationSent
			return nil
		}
	}
	return lifecycle.ErrAccountNotFound
}

func (r *memRepo) GetQuota(_ context.Context, ownerID string) (schemas.UserQuota, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[ownerID]
	if !ok {
		return schemas.UserQuota{}, lifecycle.ErrQuotaNotFound
	}
	return q, nil
}

func (r *memRepo) PutQuota(_ context.Context, q schemas.UserQuota) error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas[q.OwnerID] = q
	return nil
}

func (r *memRepo) AddBlock(_ context.Context, entry schemas.BlockEntry) (bool, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.blocks {
		if b.OwnerID == entry.OwnerID {
			return false, nil
		}
	}
	r.blocks = append(r.blocks, entry)
	return true, nil
}

func (r *memRepo) RemoveBlock(_ context.Context, ownerID string) (bool, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.blocks {
		if b.OwnerID == ownerID {
			r.blocks = append(r.blocks[:i], r.blocks[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListBlocks(_ context.Context) ([]schemas.BlockEntry, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]schemas.BlockEntry(nil), r.blocks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].BlockedAt.Before(out[j].BlockedAt) })
	return out, nil
}

func (r *memRepo) AppendAttempt(_ context.Context, a schemas.CreationAttempt) error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *memRepo) ListAttempts(_ context.Context, since time.Time) ([]schemas.CreationAttempt, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.CreationAttempt
	for _, a := range r.attempts {
		if !a.At.Before(since) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out, nil
}

func (r *memRepo) PutProgress(_ context.Context, rec schemas.ProgressRecord) error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[rec.OwnerID] = rec
	return nil
}

func (r *memRepo) GetProgress(_ context.Context, ownerID string) (schemas.ProgressRecord, error) {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.progress[ownerID]
	if !ok {
		return schemas.ProgressRecord{}, lifecycle.ErrProgressNotFound
	}
	return rec, nil
}

func (r *memRepo) DeleteProgress(_ context.Context, ownerID string) error {
	defer r.enter()()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.progress, ownerID)
	return nil
}

func (r *memRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
