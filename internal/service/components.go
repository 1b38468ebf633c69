// internal/service/components.go
package service

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/internal/config"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
	"github.com/xkilldash9x/trialctl/internal/metrics"
)

// Components holds the initialized services a command needs and owns their
// shutdown order.
type Components struct {
	Config    *config.Config
	Lifecycle *lifecycle.Service
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry

	// Provisioner is nil unless the factory was asked for provisioning.
	Provisioner *Provisioner

	logger       *zap.Logger
	shutdownOnce sync.Once
}

// Sweeper builds the periodic expiry sweeper over the lifecycle service.
func (c *Components) Sweeper(notifier lifecycle.Notifier) *lifecycle.Sweeper {
	if notifier == nil {
		notifier = lifecycle.NewLogNotifier(c.logger)
	}
	return lifecycle.NewSweeper(c.Lifecycle, notifier, c.Config.Lifecycle.SweepInterval, c.Metrics, c.logger)
}

// Shutdown releases every component. It is safe to call more than once and on
// a partially initialized value.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger := c.logger
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Debug("Beginning components shutdown sequence.")

		if c.Lifecycle != nil {
			if err := c.Lifecycle.Close(); err != nil {
				logger.Warn("Error closing account store.", zap.Error(err))
			} else {
				logger.Debug("Account store closed.")
			}
		}
		logger.Debug("All components shut down.")
	})
}
