// internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trialctl/internal/browser"
	"github.com/xkilldash9x/trialctl/internal/config"
	"github.com/xkilldash9x/trialctl/internal/lifecycle"
	"github.com/xkilldash9x/trialctl/internal/mailbox"
	"github.com/xkilldash9x/trialctl/internal/metrics"
	"github.com/xkilldash9x/trialctl/internal/network"
	"github.com/xkilldash9x/trialctl/internal/provision"
	"github.com/xkilldash9x/trialctl/internal/store/filestore"
	"github.com/xkilldash9x/trialctl/internal/store/postgres"
	"github.com/xkilldash9x/trialctl/internal/store/sqlite"
)

// ComponentFactory creates the components a command needs. Commands depend on
// the interface so tests can substitute fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger, withProvisioning bool) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// OpenRepository opens the account repository selected by cfg.Driver.
func OpenRepository(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (lifecycle.Repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.StoreDriverFile:
		return filestore.New(cfg.Path)
	case config.StoreDriverSQLite:
		return sqlite.Open(cfg.Path)
	case config.StoreDriverPostgres:
		return postgres.Open(ctx, cfg.URL, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Create wires the store, lifecycle service and metrics, plus the browser,
// mailbox and orchestrator when withProvisioning is set.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger, withProvisioning bool) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if withProvisioning {
		// Checked before the store is opened so a bad target costs nothing.
		if err := cfg.Provisioner.Validate(); err != nil {
			return nil, fmt.Errorf("invalid provisioner configuration: %w", err)
		}
	}

	components := &Components{Config: cfg, logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Metrics
	components.Registry = prometheus.NewRegistry()
	components.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	components.Metrics = metrics.New(components.Registry)

	// 2. Store
	repo, err := OpenRepository(ctx, cfg.Store, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
		return nil, initializationErr
	}
	components.Lifecycle = lifecycle.NewService(repo, lifecycle.PolicyFromConfig(cfg.Lifecycle), logger)
	logger.Debug("Account store initialized.", zap.String("driver", cfg.Store.Driver))

	if !withProvisioning {
		return components, nil
	}

	// 3. Mailbox client over the shared transport
	proxyURL, err := network.ParseProxyURL(cfg.Mailbox.ProxyURL)
	if err != nil {
		initializationErr = fmt.Errorf("invalid mailbox.proxy_url: %w", err)
		return nil, initializationErr
	}
	httpCfg := network.NewDefaultClientConfig(cfg.Mailbox.HTTPTimeout, logger)
	httpCfg.ProxyURL = proxyURL
	mail := mailbox.NewClient(cfg.Mailbox, logger, mailbox.WithHTTPClient(network.NewClient(httpCfg)))

	// 4. Browser launcher
	launcher := browser.NewChromeLauncher(cfg.Browser, logger)

	// 5. Orchestrator wrapped in the retry policy
	orch, err := provision.NewOrchestrator(cfg.Provisioner, cfg.Mailbox, launcher, mail, logger,
		provision.WithRecorder(components.Metrics),
	)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	runner := provision.NewRetrier(orch, provision.PolicyFromConfig(cfg.Provisioner.Retry), logger)

	components.Provisioner = NewProvisioner(components.Lifecycle, runner, components.Metrics, logger)
	logger.Debug("Provisioning components initialized.")
	return components, nil
}
