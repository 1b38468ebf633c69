// internal/lifecycle/sweeper.go
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/api/schemas"
)

// Notifier delivers an expiry warning to an account owner.
type Notifier interface {
	NotifyExpiring(ctx context.Context, item schemas.ExpiringAccount) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, item schemas.ExpiringAccount) error

// NotifyExpiring calls f.
func (f NotifierFunc) NotifyExpiring(ctx context.Context, item schemas.ExpiringAccount) error {
	return f(ctx, item)
}

// LogNotifier writes expiry warnings to the log. Delivery to users belongs to
// whatever front end consumes the log or the sweep output.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) NotifyExpiring(_ context.Context, item schemas.ExpiringAccount) error {
	n.logger.Info("Account expires soon.",
		zap.String("owner_id", item.OwnerID),
		zap.String("account_id", item.Account.ID),
		zap.String("service_email", item.Account.ServiceEmail),
		zap.Int("hours_remaining", item.HoursRemaining))
	return nil
}

// SweepObserver receives the outcome of each sweep.
type SweepObserver interface {
	ObserveSweep(expiring, notified int, err error)
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Expiring []schemas.ExpiringAccount `json:"expiring"`
	Notified int                       `json:"notified"`
	Failed   int                       `json:"failed"`
}

// Sweeper runs SweepExpiring on a fixed interval and notifies owners. An
// account is marked notified only after its notification succeeded, so a
// failed delivery is retried on the next sweep.
type Sweeper struct {
	svc      *Service
	notifier Notifier
	interval time.Duration
	observer SweepObserver
	logger   *zap.Logger
}

// NewSweeper creates a sweeper. observer may be nil.
func NewSweeper(svc *Service, notifier Notifier, interval time.Duration, observer SweepObserver, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		notifier: notifier,
		interval: interval,
		observer: observer,
		logger:   logger.Named("sweeper"),
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	expiring, err := s.svc.SweepExpiring(ctx)
	if err != nil {
		s.observe(0, 0, err)
		return SweepReport{}, err
	}

	report := SweepReport{Expiring: expiring}
	var errs []error
	for _, item := range expiring {
		if err := s.notifier.NotifyExpiring(ctx, item); err != nil {
			s.logger.Warn("Expiry notification failed.", zap.String("account_id", item.Account.ID), zap.Error(err))
			report.Failed++
			continue
		}
		if err := s.svc.MarkNotified(ctx, item.OwnerID, item.Account.ID); err != nil {
			errs = append(errs, err)
			report.Failed++
			continue
		}
		report.Notified++
	}
	err = errors.Join(errs...)
	s.observe(len(expiring), report.Notified, err)
	return report, err
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	s.logger.Info("Expiry sweeper started.", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if report, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Expiry sweep failed.", zap.Error(err))
		} else if len(report.Expiring) > 0 {
			s.logger.Info("Expiry sweep completed.", zap.Int("expiring", len(report.Expiring)), zap.Int("notified", report.Notified))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped.")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) observe(expiring, notified int, err error) {
	if s.observer != nil {
		s.observer.ObserveSweep(expiring, notified, err)
	}
}
