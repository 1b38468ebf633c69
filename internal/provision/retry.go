// internal/provision/retry.go
package provision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/api/schemas"
	"github.com/xkilldash9x/trialctl/internal/config"
	"github.com/xkilldash9x/trialctl/internal/progress"
)

// RetryPolicy bounds how often a whole run is attempted.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// PolicyFromConfig converts the retry configuration block.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, Delay: cfg.Delay}
}

// Retrier re-runs a failed Runner from scratch. Every attempt gets its own
// browser session; nothing carries over between attempts.
type Retrier struct {
	runner Runner
	policy RetryPolicy
	logger *zap.Logger
}

var _ Runner = (*Retrier)(nil)

// NewRetrier wraps runner. A policy with fewer than one attempt runs once.
func NewRetrier(runner Runner, policy RetryPolicy, logger *zap.Logger) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrier{runner: runner, policy: policy, logger: logger.Named("retry")}
}

// Run attempts the runner until it succeeds, the attempts are used up or ctx
// is done. The last attempt's error is returned.
func (r *Retrier) Run(ctx context.Context, sink progress.Sink) (*schemas.ProvisioningResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		res, err := r.runner.Run(ctx, sink)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		r.logger.Warn("Provisioning attempt failed. Retrying.",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("delay", r.policy.Delay),
			zap.Error(err))
		if err := sleep(ctx, r.policy.Delay); err != nil {
			return nil, lastErr
		}
	}
	if r.policy.MaxAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("provisioning failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}
