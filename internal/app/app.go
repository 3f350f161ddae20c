package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"rudder/internal/admin"
	"rudder/internal/alert"
	"rudder/internal/automaton"
	"rudder/internal/cloud"
	"rudder/internal/config"
	"rudder/internal/dispatch"
	"rudder/internal/event"
	"rudder/internal/metrics"
	"rudder/internal/source"
	"rudder/pkg/logging"
)

// Options are the command-line level settings for one run.
type Options struct {
	// ConfigPath is the configuration directory. Empty means the
	// per-user default.
	ConfigPath string

	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// Silent suppresses all log output.
	Silent bool

	// Dev runs against in-memory backends instead of a real cloud, with
	// the filesystem source unless one is configured. For local
	// development and integration testing.
	Dev bool
}

// Backends bundles the external collaborators the machines drive. Real
// deployments plug their cloud drivers in here; dev mode uses the in-memory
// fake for all four.
type Backends struct {
	Config      cloud.ConfigSource
	Applier     cloud.Applier
	Provisioner cloud.Provisioner
	Inventory   cloud.Inventory
}

// Application is the composed orchestrator: scheduler, sources, poller and
// admin surface, built from one Config. All wiring is explicit; nothing
// global beyond the logging facade.
type Application struct {
	cfg      config.Config
	backends Backends

	scheduler *dispatch.Scheduler
	poller    *dispatch.Poller
	adminSrv  *admin.Server
	sources   []source.Source
}

// New builds an application from configuration. The backends must be
// non-nil; Run does the rest.
func New(opts Options, backends Backends) (*Application, error) {
	level := logging.LevelInfo
	if opts.Debug {
		level = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stdout
	if opts.Silent {
		logOutput = io.Discard
	}
	logging.Init(level, logOutput)

	configPath := opts.ConfigPath
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if !opts.Debug {
		logging.Init(parseLevel(cfg.LogLevel), logOutput)
	}

	if backends.Config == nil || backends.Applier == nil || backends.Provisioner == nil || backends.Inventory == nil {
		return nil, fmt.Errorf("all four cloud backends are required")
	}

	a := &Application{cfg: cfg, backends: backends}
	if err := a.build(opts); err != nil {
		return nil, err
	}
	return a, nil
}

// NewDev builds an application wired to in-memory backends. The returned
// fake is pre-seeded by the caller.
func NewDev(opts Options) (*Application, *cloud.Fake, error) {
	opts.Dev = true
	fake := cloud.NewFake()
	a, err := New(opts, Backends{
		Config:      fake,
		Applier:     fake,
		Provisioner: fake,
		Inventory:   fake,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, fake, nil
}

func (a *Application) build(opts Options) error {
	a.scheduler = dispatch.New(dispatch.Config{
		Slots:         a.cfg.Dispatch.Slots,
		TombstoneSize: a.cfg.Dispatch.TombstoneSize,
		Policy: automaton.Policy{
			FailureThreshold:     a.cfg.Policy.FailureThreshold,
			InitialBackoff:       a.cfg.Policy.InitialBackoff.Std(),
			MaxBackoff:           a.cfg.Policy.MaxBackoff.Std(),
			BackoffMultiplier:    a.cfg.Policy.BackoffMultiplier,
			ApplyTimeout:         a.cfg.Policy.ApplyTimeout.Std(),
			ProvisionTimeout:     a.cfg.Policy.ProvisionTimeout.Std(),
			BootTimeout:          a.cfg.Policy.BootTimeout.Std(),
			ReachabilityInterval: a.cfg.Policy.ReachabilityInterval.Std(),
		},
	}, dispatch.Deps{
		Config:      a.backends.Config,
		Applier:     a.backends.Applier,
		Provisioner: a.backends.Provisioner,
		Alerts:      alert.LogSink{},
	})

	if interval := a.cfg.Poller.Interval.Std(); interval > 0 {
		a.poller = dispatch.NewPoller(a.backends.Inventory, a.scheduler, interval)
	}

	a.adminSrv = admin.NewServer(a.scheduler, a.backends.Inventory, admin.Options{
		Listen:         a.cfg.Admin.Listen,
		CommandTimeout: a.cfg.Admin.CommandTimeout.Std(),
	})

	normalizer := event.NewNormalizer(
		&tenantResolver{inventory: a.backends.Inventory},
		metrics.DropRecorder{},
	)

	src, err := a.buildSource(opts, normalizer)
	if err != nil {
		return err
	}
	if src != nil {
		a.sources = append(a.sources, src)
	}
	return nil
}

func (a *Application) buildSource(opts Options, normalizer *event.Normalizer) (source.Source, error) {
	kind := a.cfg.Source.Kind
	if opts.Dev && kind == "nats" && a.cfg.Source.SpoolDir != "" {
		kind = "filesystem"
	}
	switch kind {
	case "nats":
		if opts.Dev {
			logging.Info("Bootstrap", "dev mode without spool_dir, running without a source")
			return nil, nil
		}
		return source.NewNATSSource(source.NATSConfig{
			URL:     a.cfg.Source.NATS.URL,
			Subject: a.cfg.Source.NATS.Subject,
			Durable: a.cfg.Source.NATS.Durable,
			Queue:   a.cfg.Source.NATS.Queue,
			AckWait: a.cfg.Source.NATS.AckWait.Std(),
		}, normalizer), nil
	case "filesystem":
		return source.NewFilesystemSource(a.cfg.Source.SpoolDir, normalizer), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", a.cfg.Source.Kind)
	}
}

// Scheduler exposes the dispatcher for embedders and tests.
func (a *Application) Scheduler() *dispatch.Scheduler { return a.scheduler }

// Run starts every component and blocks until a signal arrives or a
// component fails. Shutdown errors are aggregated.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.scheduler.Start(ctx)
	})
	g.Go(func() error {
		return a.adminSrv.Run(ctx)
	})
	if a.poller != nil {
		g.Go(func() error {
			err := a.poller.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	for _, src := range a.sources {
		if err := src.Start(ctx, a.scheduler); err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("starting %s source: %w", src.Name(), err)
		}
		logging.Info("Bootstrap", "%s source running", src.Name())
	}

	logging.Info("Bootstrap", "orchestrator up")
	<-ctx.Done()
	logging.Info("Bootstrap", "shutting down")

	var result *multierror.Error
	for _, src := range a.sources {
		if err := src.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping %s source: %w", src.Name(), err))
		}
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func parseLevel(raw string) logging.LogLevel {
	switch raw {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// tenantResolver maps tenant-only notifications to the tenant's single
// router, mirroring how the inventory models default resources.
type tenantResolver struct {
	inventory cloud.Inventory
}

func (r *tenantResolver) DefaultResource(ctx context.Context, tenantID string) (string, error) {
	resources, err := r.inventory.ListTenantResources(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if len(resources) == 0 {
		return "", fmt.Errorf("tenant %q has no resources", tenantID)
	}
	// With several resources the first is the tenant's default router.
	return resources[0].ID, nil
}
