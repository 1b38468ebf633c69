// internal/service/provisioner_test.go
package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
	"github.com/xkilldash9x/trialctl/internal/progress"
	"github.com/xkilldash9x/trialctl/internal/store/filestore"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, sink progress.Sink) (*schemas.ProvisioningResult, error) {
	args := m.Called(ctx, sink)
	res, _ := args.Get(0).(*schemas.ProvisioningResult)
	return res, args.Error(1)
}

type recordingCounters struct {
	mu      sync.Mutex
	created int
	denied  []string
}

func (c *recordingCounters) IncrementAccountsCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
}

func (c *recordingCounters) IncrementDenied(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = append(c.denied, reason)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testResult = &schemas.ProvisioningResult{
	AccountEmail:    "abcde@mail.test",
	AccountPassword: "Aa1!Aa1!Aa1!",
	PlayerUsername:  "123456",
	PlayerPassword:  "1234",
}

type provisionerFixture struct {
	provisioner *Provisioner
	lifecycle   *lifecycle.Service
	runner      *MockRunner
	counters    *recordingCounters
	clock       *fakeClock
}

func newProvisionerFixture(t *testing.T) *provisionerFixture {
	t.Helper()
	repo, err := filestore.New(filepath.Join(t.TempDir(), "accounts.toml"))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := lifecycle.NewService(repo, lifecycle.DefaultPolicy(), zaptest.NewLogger(t), lifecycle.WithClock(clock.Now))
	t.Cleanup(func() { _ = svc.Close() })

	runner := new(MockRunner)
	counters := &recordingCounters{}
	return &provisionerFixture{
		provisioner: NewProvisioner(svc, runner, counters, zaptest.NewLogger(t)),
		lifecycle:   svc,
		runner:      runner,
		counters:    counters,
		clock:       clock,
	}
}

func TestProvision_RecordsAccount(t *testing.T) {
	f := newProvisionerFixture(t)
	f.runner.On("Run", mock.Anything, mock.Anything).Return(testResult, nil).Once()

	out, err := f.provisioner.Provision(context.Background(), "owner-1", progress.Discard)
	require.NoError(t, err)
	require.NotNil(t, out.Account)
	assert.True(t, out.Decision.Allowed)
	assert.Equal(t, testResult, out.Result)
	assert.Equal(t, "abcde@mail.test", out.Account.ServiceEmail)
	assert.Equal(t, "123456", out.Account.ServiceUsername)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), out.Account.ExpiresAt)

	accounts, err := f.lifecycle.ListAccounts(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	assert.Equal(t, 1, f.counters.created)
	f.runner.AssertExpectations(t)
}

func TestProvision_RefusalsSkipTheRun(t *testing.T) {
	f := newProvisionerFixture(t)
	ctx := context.Background()
	f.runner.On("Run", mock.Anything, mock.Anything).Return(testResult, nil)

	_, err := f.provisioner.Provision(ctx, "owner-1", progress.Discard)
	require.NoError(t, err)

	t.Run("cooldown", func(t *testing.T) {
		f.clock.Advance(2 * time.Minute)
		out, err := f.provisioner.Provision(ctx, "owner-1", progress.Discard)
		require.NoError(t, err)
		assert.False(t, out.Decision.Allowed)
		assert.Equal(t, schemas.DenyCooldown, out.Decision.Reason)
		assert.Equal(t, "Please wait 3 minutes before creating another account.", out.Decision.Message)
		assert.Nil(t, out.Account)
		assert.Nil(t, out.Result)
	})

	t.Run("max accounts", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			f.clock.Advance(6 * time.Minute)
			_, err := f.provisioner.Provision(ctx, "owner-1", progress.Discard)
			require.NoError(t, err)
		}
		f.clock.Advance(6 * time.Minute)
		out, err := f.provisioner.Provision(ctx, "owner-1", progress.Discard)
		require.NoError(t, err)
		assert.False(t, out.Decision.Allowed)
		assert.Equal(t, schemas.DenyMaxAccounts, out.Decision.Reason)
	})

	f.runner.AssertNumberOfCalls(t, "Run", 3)
	assert.Equal(t, 3, f.counters.created)
	assert.Equal(t, []string{"cooldown", "max_accounts"}, f.counters.denied)
}

func TestProvision_RunFailureRecordsNoAccount(t *testing.T) {
	f := newProvisionerFixture(t)
	runErr := errors.New("provisioning failed after 3 attempts: boom")
	f.runner.On("Run", mock.Anything, mock.Anything).Return(nil, runErr).Once()

	out, err := f.provisioner.Provision(context.Background(), "owner-1", progress.Discard)
	assert.ErrorIs(t, err, runErr)
	assert.Nil(t, out)

	accounts, err := f.lifecycle.ListAccounts(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	decision, err := f.lifecycle.CanCreate(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "a failed run must not start the cooldown")
	assert.Zero(t, f.counters.created)

	attempts, err := f.lifecycle.Attempts(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []schemas.AttemptStatus{schemas.AttemptPending, schemas.AttemptFailed}, statuses(attempts))
	for _, a := range attempts {
		if a.Status == schemas.AttemptFailed {
			assert.Equal(t, runErr.Error(), a.Detail)
		}
	}
}

func TestProvision_RequiresOwner(t *testing.T) {
	f := newProvisionerFixture(t)
	_, err := f.provisioner.Provision(context.Background(), "  ", progress.Discard)
	assert.ErrorIs(t, err, ErrOwnerRequired)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestProvision_SameOwnerRequestsAreSerialized(t *testing.T) {
	f := newProvisionerFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.runner.On("Run", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(testResult, nil).Once()

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[0], errs[0] = f.provisioner.Provision(context.Background(), "owner-1", progress.Discard)
	}()
	<-started

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[1], errs[1] = f.provisioner.Provision(context.Background(), "owner-1", progress.Discard)
	}()

	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, outcomes[0].Decision.Allowed)
	assert.False(t, outcomes[1].Decision.Allowed)
	assert.Equal(t, schemas.DenyCooldown, outcomes[1].Decision.Reason)
	f.runner.AssertNumberOfCalls(t, "Run", 1)
}

func TestProvision_CanceledWhileWaitingForOwner(t *testing.T) {
	f := newProvisionerFixture(t)
	release, err := f.provisioner.acquire(context.Background(), "owner-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.provisioner.Provision(ctx, "owner-1", progress.Discard)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

// openGates returns how many owners currently hold or wait on a gate.
func openGates(p *Provisioner) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.gates)
}

func statuses(attempts []schemas.CreationAttempt) []schemas.AttemptStatus {
	out := make([]schemas.AttemptStatus, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Status)
	}
	return out
}

func TestProvision_BlockedOwnerIsRefusedBeforeQuota(t *testing.T) {
	f := newProvisionerFixture(t)
	ctx := context.Background()
	_, err := f.lifecycle.Block(ctx, "owner-1", "abuse", "admin")
	require.NoError(t, err)

	out, err := f.provisioner.Provision(ctx, "owner-1", progress.Discard)
	require.NoError(t, err)
	assert.False(t, out.Decision.Allowed)
	assert.Equal(t, schemas.DenyBlocked, out.Decision.Reason)
	assert.Equal(t, lifecycle.BlockedMessage, out.Decision.Message)
	assert.Equal(t, []string{"blocked"}, f.counters.denied)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)

	attempts, err := f.lifecycle.Attempts(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, attempts, "refusals are not logged as attempts")
}

func TestProvision_LogsAttemptsAndStoresProgress(t *testing.T) {
	f := newProvisionerFixture(t)
	ctx := context.Background()

	var seen []schemas.ProgressEvent
	var midRun schemas.ProgressRecord
	f.runner.On("Run", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sink := args.Get(1).(progress.Sink)
			sink.Report(schemas.ProgressEvent{Percent: 10, Message: "Generating email..."})
			sink.Report(schemas.ProgressEvent{Percent: 60, Message: "Waiting for verification email..."})
			rec, err := f.lifecycle.Progress(ctx, "owner-1")
			assert.NoError(t, err)
			midRun = rec
		}).
		Return(testResult, nil).Once()

	sink := progress.SinkFunc(func(ev schemas.ProgressEvent) { seen = append(seen, ev) })
	out, err := f.provisioner.Provision(ctx, "owner-1", sink)
	require.NoError(t, err)

	require.Len(t, seen, 2, "caller's sink still receives every event")
	assert.Equal(t, 60, midRun.Percent)
	assert.Equal(t, "Waiting for verification email...", midRun.Message)

	_, err = f.lifecycle.Progress(ctx, "owner-1")
	assert.ErrorIs(t, err, lifecycle.ErrProgressNotFound, "progress is cleared when the run ends")

	attempts, err := f.lifecycle.Attempts(ctx, time.Time{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []schemas.AttemptStatus{schemas.AttemptPending, schemas.AttemptSuccess}, statuses(attempts))
	for _, a := range attempts {
		if a.Status == schemas.AttemptSuccess {
			assert.Equal(t, out.Account.ID, a.Detail)
		}
	}

	st, err := f.lifecycle.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalCreated)
	assert.Equal(t, 1, st.ActiveAccounts)
	assert.EqualValues(t, 100, st.SuccessRate)
}

func TestProvision_GatesAreReleased(t *testing.T) {
	f := newProvisionerFixture(t)
	f.runner.On("Run", mock.Anything, mock.Anything).Return(testResult, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := "owner-" + string(rune('a'+i%5))
			_, err := f.provisioner.Provision(context.Background(), owner, progress.Discard)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, openGates(f.provisioner), "no gate outlives its requests")

	t.Run("canceled waiter drops its reference", func(t *testing.T) {
		release, err := f.provisioner.acquire(context.Background(), "owner-z")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = f.provisioner.acquire(ctx, "owner-z")
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, openGates(f.provisioner), "holder keeps the gate")

		release()
		assert.Zero(t, openGates(f.provisioner))
	})
}
