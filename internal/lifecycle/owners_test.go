// internal/lifecycle/owners_test.go
package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
)

func TestAdmit_BlockedOwnerIsRefusedFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	added, err := svc.Block(ctx, "owner-1", "abuse", "admin")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.Block(ctx, "owner-1", "again", "admin")
	require.NoError(t, err)
	assert.False(t, added, "second block keeps the first entry")

	d, err := svc.Admit(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, schemas.DenyBlocked, d.Reason)
	assert.Equal(t, lifecycle.BlockedMessage, d.Message)

	// CanCreate alone ignores the block list.
	d, err = svc.CanCreate(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	blocks, err := svc.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, schemas.BlockEntry{OwnerID: "owner-1", Reason: "abuse", BlockedBy: "admin", BlockedAt: t0}, blocks[0])

	removed, err := svc.Unblock(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = svc.Unblock(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, removed)

	d, err = svc.Admit(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	_, err = svc.Block(ctx, "  ", "", "")
	assert.Error(t, err)
}

func TestAdmit_FallsThroughToQuota(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Block(ctx, "someone-else", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.RecordCreation(ctx, "owner-1"))
	d, err := svc.Admit(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.DenyCooldown, d.Reason)
	assert.Equal(t, 5*time.Minute, d.RetryAfter)
}

func TestStats(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	// Eight days ago: one success, one failure for owner-old.
	clock.Set(t0.Add(-8 * 24 * time.Hour))
	require.NoError(t, svc.RecordAttempt(ctx, "owner-old", schemas.AttemptPending, ""))
	require.NoError(t, svc.RecordAttempt(ctx, "owner-old", schemas.AttemptSuccess, "acc-old"))
	require.NoError(t, svc.RecordAttempt(ctx, "owner-old", schemas.AttemptFailed, "timeout"))

	// Three days ago: owner-a succeeds.
	clock.Set(t0.Add(-3 * 24 * time.Hour))
	require.NoError(t, svc.RecordAttempt(ctx, "owner-a", schemas.AttemptSuccess, "acc-a"))

	// Within the last day: owner-b succeeds once, owner-c only starts.
	clock.Set(t0.Add(-time.Hour))
	_, err := svc.AddAccount(ctx, "owner-b", result(1))
	require.NoError(t, err)
	require.NoError(t, svc.RecordAttempt(ctx, "owner-b", schemas.AttemptSuccess, "acc-b"))
	require.NoError(t, svc.RecordAttempt(ctx, "owner-c", schemas.AttemptPending, ""))
	_, err = svc.Block(ctx, "owner-x", "", "")
	require.NoError(t, err)

	clock.Set(t0)
	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemas.Stats{
		TotalOwners:    4,
		TotalCreated:   3,
		TotalFailed:    1,
		ActiveAccounts: 1,
		SuccessRate:    75,
		Owners24h:      2,
		Created24h:     1,
		Owners7d:       3,
		Created7d:      2,
		BlockedOwners:  1,
	}, st)

	attempts, err := svc.Attempts(ctx, t0.Add(-2*time.Hour))
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, t0.Add(-time.Hour), a.At)
	}
}

func TestStats_EmptyLogHasZeroRate(t *testing.T) {
	svc, _, _ := newTestService(t)
	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.SuccessRate)
	assert.Zero(t, st.TotalOwners)
}

func TestStats_ExpiredAccountIsNotActive(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	_, err := svc.AddAccount(ctx, "o", result(1))
	require.NoError(t, err)

	clock.Advance(73 * time.Hour)
	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.ActiveAccounts, "expired but not yet swept")
}

func TestProgressRecord(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.Progress(ctx, "owner-1")
	assert.True(t, errors.Is(err, lifecycle.ErrProgressNotFound))

	require.NoError(t, svc.SetProgress(ctx, "owner-1", schemas.ProgressEvent{Percent: 10, Message: "Generating email..."}))
	stamp := t0.Add(time.Minute)
	clock.Set(stamp.Add(time.Hour))
	require.NoError(t, svc.SetProgress(ctx, "owner-1", schemas.ProgressEvent{Percent: 40, Message: "Submitting form...", Timestamp: stamp}))

	rec, err := svc.Progress(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, schemas.ProgressRecord{OwnerID: "owner-1", Percent: 40, Message: "Submitting form...", UpdatedAt: stamp}, rec)

	require.NoError(t, svc.ClearProgress(ctx, "owner-1"))
	require.NoError(t, svc.ClearProgress(ctx, "owner-1"), "clearing twice is fine")
	_, err = svc.Progress(ctx, "owner-1")
	assert.ErrorIs(t, err, lifecycle.ErrProgressNotFound)
}
