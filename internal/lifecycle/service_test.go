// internal/lifecycle/service_test.go
package lifecycle_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/config"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*lifecycle.Service, *memRepo, *fakeClock) {
	t.Helper()
	repo := newMemRepo()
	clock := &fakeClock{now: t0}
	svc := lifecycle.NewService(repo, lifecycle.DefaultPolicy(), zaptest.NewLogger(t), lifecycle.WithClock(clock.Now))
	return svc, repo, clock
}

func result(n int) schemas.ProvisioningResult {
	return schemas.ProvisioningResult{
		AccountEmail:    fmt.Sprintf("user%d@tinyhost.test", n),
		AccountPassword: "Secret!12345",
		PlayerUsername:  fmt.Sprintf("10000%d", n),
		PlayerPassword:  "1234",
	}
}

func TestAddAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	acc, err := svc.AddAccount(ctx, "owner-1", result(1))
	require.NoError(t, err)

	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, "owner-1", acc.OwnerID)
	assert.Equal(t, t0, acc.CreatedAt)
	assert.Equal(t, acc.CreatedAt.Add(72*time.Hour), acc.ExpiresAt)
	assert.True(t, acc.Active)
	assert.False(t, acc.NotificationSent)
	assert.Equal(t, "user1@tinyhost.test", acc.ServiceEmail)
	assert.Equal(t, "100001", acc.ServiceUsername)

	_, err = svc.AddAccount(ctx, " ", result(2))
	assert.Error(t, err)
}

func TestCanCreate_QuotaScenario(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	const owner = "owner-1"

	d, err := svc.CanCreate(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, schemas.CreateDecision{Allowed: true}, d)

	for i := 0; i < 3; i++ {
		_, err := svc.AddAccount(ctx, owner, result(i))
		require.NoError(t, err)
		require.NoError(t, svc.RecordCreation(ctx, owner))
		clock.Advance(6 * time.Minute)
	}

	n, err := svc.CountActive(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	d, err = svc.CanCreate(ctx, owner)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, schemas.DenyMaxAccounts, d.Reason)
	assert.NotEmpty(t, d.Message)

	// Another owner is unaffected.
	d, err = svc.CanCreate(ctx, "owner-2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCanCreate_MaxAccountsBeatsCooldown(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.AddAccount(ctx, "o", result(i))
		require.NoError(t, err)
	}
	require.NoError(t, svc.RecordCreation(ctx, "o"))

	d, err := svc.CanCreate(ctx, "o")
	require.NoError(t, err)
	assert.Equal(t, schemas.DenyMaxAccounts, d.Reason)
}

func TestCanCreate_Cooldown(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddAccount(ctx, "o", result(1))
	require.NoError(t, err)
	require.NoError(t, svc.RecordCreation(ctx, "o"))

	tests := []struct {
		elapsed     time.Duration
		allowed     bool
		wantMinutes int
	}{
		{0, false, 5},
		{30 * time.Second, false, 5},
		{time.Minute, false, 4},
		{4*time.Minute + 59*time.Second, false, 1},
		{5 * time.Minute, true, 0},
		{time.Hour, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			clock.Set(t0.Add(tt.elapsed))
			d, err := svc.CanCreate(ctx, "o")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			if tt.allowed {
				assert.Empty(t, d.Reason)
				return
			}
			assert.Equal(t, schemas.DenyCooldown, d.Reason)
			assert.Contains(t, d.Message, fmt.Sprintf("%d minutes", tt.wantMinutes))
			assert.Equal(t, 5*time.Minute-tt.elapsed, d.RetryAfter)
		})
	}
}

func TestSweepExpiring_Scenario(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	acc, err := svc.AddAccount(ctx, "o", result(1))
	require.NoError(t, err)

	// Outside the window.
	clock.Set(t0.Add(47 * time.Hour))
	items, err := svc.SweepExpiring(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	clock.Set(t0.Add(49 * time.Hour))
	items, err = svc.SweepExpiring(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "o", items[0].OwnerID)
	assert.Equal(t, acc.ID, items[0].Account.ID)
	assert.GreaterOrEqual(t, items[0].HoursRemaining, 22)
	assert.LessOrEqual(t, items[0].HoursRemaining, 23)

	// Still listed until notified.
	items, err = svc.SweepExpiring(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, svc.MarkNotified(ctx, "o", acc.ID))
	require.NoError(t, svc.MarkNotified(ctx, "o", acc.ID), "idempotent")

	clock.Set(t0.Add(50 * time.Hour))
	items, err = svc.SweepExpiring(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	clock.Set(t0.Add(73 * time.Hour))
	items, err = svc.SweepExpiring(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	accounts, err := svc.ListAccounts(ctx, "o")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.False(t, accounts[0].Active)
	assert.True(t, accounts[0].NotificationSent)
	assert.Equal(t, acc.ExpiresAt, accounts[0].ExpiresAt, "expiry never rewritten")

	n, err := svc.CountActive(ctx, "o")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepExpiring_DeactivatesExactlyAtExpiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddAccount(ctx, "o", result(1))
	require.NoError(t, err)

	clock.Set(t0.Add(72*time.Hour - time.Nanosecond))
	_, err = svc.SweepExpiring(ctx)
	require.NoError(t, err)
	n, _ := svc.CountActive(ctx, "o")
	assert.Equal(t, 1, n, "still active a moment before expiry")

	clock.Set(t0.Add(72 * time.Hour))
	_, err = svc.SweepExpiring(ctx)
	require.NoError(t, err)
	n, _ = svc.CountActive(ctx, "o")
	assert.Zero(t, n)

	// An expired slot frees the quota.
	for i := 0; i < 2; i++ {
		_, err := svc.AddAccount(ctx, "o", result(i))
		require.NoError(t, err)
	}
	d, err := svc.CanCreate(ctx, "o")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSweepExpiring_UnnotifiedExpiredAccountIsNotListed(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddAccount(ctx, "o", result(1))
	require.NoError(t, err)

	// Never swept inside the window.
	clock.Set(t0.Add(80 * time.Hour))
	items, err := svc.SweepExpiring(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMarkNotified_UnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	acc, err := svc.AddAccount(ctx, "o", result(1))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.MarkNotified(ctx, "o", "missing"), lifecycle.ErrAccountNotFound)
	assert.ErrorIs(t, svc.MarkNotified(ctx, "someone-else", acc.ID), lifecycle.ErrAccountNotFound)
}

func TestService_SerializesRepositoryAccess(t *testing.T) {
	svc, repo, clock := newTestService(t)
	repo.delay = time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("owner-%d", i%3)
			_, err := svc.AddAccount(ctx, owner, result(i))
			assert.NoError(t, err)
			assert.NoError(t, svc.RecordCreation(ctx, owner))
			_, err = svc.CanCreate(ctx, owner)
			assert.NoError(t, err)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 4; i++ {
			clock.Advance(20 * time.Hour)
			_, err := svc.SweepExpiring(ctx)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	assert.EqualValues(t, 1, repo.maxInFlight.Load(), "repository calls never overlap")
	assert.Len(t, repo.accounts, 8, "no lost inserts")
}

func TestPolicyFromConfig(t *testing.T) {
	p := lifecycle.PolicyFromConfig(config.LifecycleConfig{MaxActive: 5, Cooldown: time.Minute, Lifetime: 24 * time.Hour, NotifyWindow: time.Hour})
	assert.Equal(t, lifecycle.Policy{MaxActive: 5, Cooldown: time.Minute, Lifetime: 24 * time.Hour, NotifyWindow: time.Hour}, p)
	assert.Equal(t, 3, lifecycle.DefaultPolicy().MaxActive)
}

func TestService_Close(t *testing.T) {
	svc, repo, _ := newTestService(t)
	require.NoError(t, svc.Close())
	assert.True(t, repo.closed)
}
