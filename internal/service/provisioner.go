// internal/service/provisioner.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
	"github.com/xkilldash9x/trialctl/internal/progress"
	"github.com/xkilldash9x/trialctl/internal/provision"
)

// ErrOwnerRequired is returned when a request carries no owner identifier.
var ErrOwnerRequired = errors.New("owner id is required")

// Counters receives creation outcomes.
type Counters interface {
	IncrementAccountsCreated()
	IncrementDenied(reason string)
}

type noopCounters struct{}

func (noopCounters) IncrementAccountsCreated() {}
func (noopCounters) IncrementDenied(string)    {}

// Outcome is the result of one Provision request. When Decision.Allowed is
// false nothing was launched and Account and Result are nil.
type Outcome struct {
	Decision schemas.CreateDecision      `json:"decision"`
	Account  *schemas.Account            `json:"account,omitempty"`
	Result   *schemas.ProvisioningResult `json:"result,omitempty"`
}

// Provisioner gates provisioning runs on the block list and the owner's
// quota, and records every run in the lifecycle store.
type Provisioner struct {
	lifecycle *lifecycle.Service
	runner    provision.Runner
	counters  Counters
	logger    *zap.Logger

	mu    sync.Mutex
	gates map[string]*ownerGate
}

// ownerGate serializes one owner's requests. refs counts holders and waiters;
// the gate is dropped from the map when it reaches zero.
type ownerGate struct {
	ch   chan struct{}
	refs int
}

// NewProvisioner creates a Provisioner. counters may be nil.
func NewProvisioner(svc *lifecycle.Service, runner provision.Runner, counters Counters, logger *zap.Logger) *Provisioner {
	if counters == nil {
		counters = noopCounters{}
	}
	return &Provisioner{
		lifecycle: svc,
		runner:    runner,
		counters:  counters,
		logger:    logger.Named("provisioner"),
		gates:     make(map[string]*ownerGate),
	}
}

// Provision admits the owner, runs the workflow and records the new account.
// Requests for the same owner run one at a time, so a second request sees the
// first one's account and cooldown. Each admitted run leaves a pending and a
// final entry in the creation log; its progress is stored until it ends.
func (p *Provisioner) Provision(ctx context.Context, ownerID string, sink progress.Sink) (*Outcome, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrOwnerRequired
	}
	if sink == nil {
		sink = progress.Discard
	}
	log := p.logger.With(zap.String("owner_id", ownerID))

	release, err := p.acquire(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer release()

	decision, err := p.lifecycle.Admit(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check creation quota: %w", err)
	}
	if !decision.Allowed {
		log.Info("Creation refused.", zap.String("reason", string(decision.Reason)))
		p.counters.IncrementDenied(string(decision.Reason))
		return &Outcome{Decision: decision}, nil
	}

	// Bookkeeping outlives a canceled request.
	bg := context.WithoutCancel(ctx)
	p.recordAttempt(bg, log, ownerID, schemas.AttemptPending, "")
	defer func() {
		if err := p.lifecycle.ClearProgress(bg, ownerID); err != nil {
			log.Warn("Failed to clear progress record.", zap.Error(err))
		}
	}()

	log.Info("Starting provisioning run.")
	res, err := p.runner.Run(ctx, p.persistingSink(bg, log, ownerID, sink))
	if err != nil {
		p.recordAttempt(bg, log, ownerID, schemas.AttemptFailed, err.Error())
		return nil, err
	}

	out := &Outcome{Decision: decision, Result: res}
	acc, err := p.lifecycle.AddAccount(bg, ownerID, *res)
	if err != nil {
		p.recordAttempt(bg, log, ownerID, schemas.AttemptFailed, err.Error())
		// The credentials exist upstream; hand them back even though tracking failed.
		return out, fmt.Errorf("account created but not recorded: %w", err)
	}
	out.Account = &acc
	p.recordAttempt(bg, log, ownerID, schemas.AttemptSuccess, acc.ID)
	if err := p.lifecycle.RecordCreation(bg, ownerID); err != nil {
		return out, fmt.Errorf("account recorded but cooldown not updated: %w", err)
	}
	p.counters.IncrementAccountsCreated()
	log.Info("Account provisioned.", zap.String("account_id", acc.ID), zap.Time("expires_at", acc.ExpiresAt))
	return out, nil
}

// recordAttempt appends to the creation log. A failed write is logged and
// does not fail the run.
func (p *Provisioner) recordAttempt(ctx context.Context, log *zap.Logger, ownerID string, status schemas.AttemptStatus, detail string) {
	if err := p.lifecycle.RecordAttempt(ctx, ownerID, status, detail); err != nil {
		log.Warn("Failed to record creation attempt.", zap.String("status", string(status)), zap.Error(err))
	}
}

// persistingSink forwards events to sink and stores each as the owner's
// current progress.
func (p *Provisioner) persistingSink(ctx context.Context, log *zap.Logger, ownerID string, sink progress.Sink) progress.Sink {
	return progress.SinkFunc(func(ev schemas.ProgressEvent) {
		sink.Report(ev)
		if err := p.lifecycle.SetProgress(ctx, ownerID, ev); err != nil {
			log.Debug("Failed to store progress.", zap.Error(err))
		}
	})
}

// acquire takes the per-owner gate, giving up when ctx is done.
func (p *Provisioner) acquire(ctx context.Context, ownerID string) (func(), error) {
	p.mu.Lock()
	gate, ok := p.gates[ownerID]
	if !ok {
		gate = &ownerGate{ch: make(chan struct{}, 1)}
		p.gates[ownerID] = gate
	}
	gate.refs++
	p.mu.Unlock()

	select {
	case gate.ch <- struct{}{}:
		return func() {
			<-gate.ch
			p.unref(ownerID, gate)
		}, nil
	case <-ctx.Done():
		p.unref(ownerID, gate)
		return nil, ctx.Err()
	}
}

func (p *Provisioner) unref(ownerID string, gate *ownerGate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	gate.refs--
	if gate.refs == 0 {
		delete(p.gates, ownerID)
	}
}

