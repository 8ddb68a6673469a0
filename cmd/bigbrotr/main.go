// Command bigbrotr runs one pipeline stage (seeder, finder, validator,
// monitor, synchronizer) against a shared Postgres-backed ServiceState
// store, per spec.md's CLI surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/bigbrotr/bigbrotr/internal/config"
	"github.com/bigbrotr/bigbrotr/internal/finder"
	"github.com/bigbrotr/bigbrotr/internal/logging"
	"github.com/bigbrotr/bigbrotr/internal/monitor"
	"github.com/bigbrotr/bigbrotr/internal/netsem"
	"github.com/bigbrotr/bigbrotr/internal/pool"
	"github.com/bigbrotr/bigbrotr/internal/seeder"
	"github.com/bigbrotr/bigbrotr/internal/service"
	"github.com/bigbrotr/bigbrotr/internal/store"
	"github.com/bigbrotr/bigbrotr/internal/synchronizer"
	"github.com/bigbrotr/bigbrotr/internal/validator"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "bigbrotr",
		Usage:   "Nostr relay discovery, validation, monitoring and archival pipeline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to brotr.yaml", Value: "brotr.yaml"},
			&cli.StringFlag{Name: "service-config", Usage: "path to the service-specific YAML config (defaults to <service>.yaml)"},
			&cli.BoolFlag{Name: "once", Usage: "run a single cycle and exit instead of looping"},
			&cli.StringFlag{Name: "log-level", Usage: "override logging.level from brotr.yaml"},
		},
		Commands: []*cli.Command{
			serviceCommand("seeder", runSeeder),
			serviceCommand("finder", runFinder),
			serviceCommand("validator", runValidator),
			serviceCommand("monitor", runMonitor),
			serviceCommand("synchronizer", runSynchronizer),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bigbrotr:", err)
		var maxFail *service.MaxFailuresExceeded
		if asMaxFailuresExceeded(err, &maxFail) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func asMaxFailuresExceeded(err error, target **service.MaxFailuresExceeded) bool {
	for err != nil {
		if mf, ok := err.(*service.MaxFailuresExceeded); ok {
			*target = mf
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func serviceCommand(name string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:   name,
		Usage:  fmt.Sprintf("run the %s service", name),
		Action: action,
	}
}

// bootstrap loads brotr.yaml, connects the pool, builds the store and
// network semaphores, and builds a logger — the shared setup every service
// subcommand performs before constructing its own type.
type bootstrap struct {
	brotr  *config.BrotrConfig
	pool   *pool.Pool
	store  *store.Store
	netsem *netsem.Manager
	log    *zap.Logger
}

func newBootstrap(c *cli.Context) (*bootstrap, error) {
	brotrCfg, err := config.LoadBrotrConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	level := logging.Level(brotrCfg.Logging.Level)
	if override := c.String("log-level"); override != "" {
		level = logging.Level(override)
	}
	log, err := logging.New(level, brotrCfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	p := pool.New(brotrCfg.Pool)
	if err := p.Connect(c.Context, os.Getenv("DB_PASSWORD")); err != nil {
		return nil, fmt.Errorf("connect database pool: %w", err)
	}

	st := store.New(p, brotrCfg.Store.MaxBatchSize)
	sem := netsem.NewManager(networkLimits(brotrCfg.Network))

	return &bootstrap{brotr: brotrCfg, pool: p, store: st, netsem: sem, log: log}, nil
}

func (b *bootstrap) close() {
	_ = b.log.Sync()
	b.pool.Close()
}

func networkLimits(n config.NetworkConfig) netsem.Limits {
	return netsem.Limits{
		Clearnet: netsem.NetworkLimit{
			MaxConcurrent: int64(n.ClearnetMaxConcurrent),
			Timeout:       time.Duration(n.ClearnetTimeoutMs) * time.Millisecond,
			AllowInsecure: n.AllowInsecureTLS,
		},
		Tor: netsem.NetworkLimit{
			MaxConcurrent: int64(n.TorMaxConcurrent),
			Timeout:       time.Duration(n.TorTimeoutMs) * time.Millisecond,
			ProxyURL:      n.TorProxyURL,
		},
		I2P: netsem.NetworkLimit{
			MaxConcurrent: int64(n.I2PMaxConcurrent),
			Timeout:       time.Duration(n.I2PTimeoutMs) * time.Millisecond,
			ProxyURL:      n.I2PProxyURL,
		},
		Loki: netsem.NetworkLimit{
			MaxConcurrent: int64(n.LokiMaxConcurrent),
			Timeout:       time.Duration(n.LokiTimeoutMs) * time.Millisecond,
			ProxyURL:      n.LokiProxyURL,
		},
	}
}

func serviceConfigPath(c *cli.Context, name string) string {
	if p := c.String("service-config"); p != "" {
		return p
	}
	return name + ".yaml"
}

func withShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func runSeeder(c *cli.Context) error {
	b, err := newBootstrap(c)
	if err != nil {
		return err
	}
	defer b.close()

	cfg, err := config.LoadSeederConfig(serviceConfigPath(c, "seeder"))
	if err != nil {
		return err
	}
	s := seeder.New(b.store, *cfg, b.log)

	svc := service.New(service.Options{Name: "seeder", Once: true, Logger: b.log}, func(ctx context.Context) (int, error) {
		result, err := s.Run(ctx)
		return result.Inserted, err
	})

	ctx, cancel := withShutdown(c.Context)
	defer cancel()
	return svc.RunForever(ctx)
}

func runFinder(c *cli.Context) error {
	b, err := newBootstrap(c)
	if err != nil {
		return err
	}
	defer b.close()

	cfg, err := config.LoadFinderConfig(serviceConfigPath(c, "finder"))
	if err != nil {
		return err
	}
	f := finder.New(b.store, b.pool, *cfg, b.log)

	svc := service.New(service.Options{
		Name:     "finder",
		Interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		Once:     c.Bool("once"),
		Logger:   b.log,
	}, func(ctx context.Context) (int, error) {
		result, err := f.Run(ctx)
		return result.Inserted, err
	})

	ctx, cancel := withShutdown(c.Context)
	defer cancel()
	return svc.RunForever(ctx)
}

func runValidator(c *cli.Context) error {
	b, err := newBootstrap(c)
	if err != nil {
		return err
	}
	defer b.close()

	cfg, err := config.LoadValidatorConfig(serviceConfigPath(c, "validator"))
	if err != nil {
		return err
	}
	v := validator.New(b.store, b.netsem, *cfg, b.log)

	svc := service.New(service.Options{
		Name:     "validator",
		Interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		Once:     c.Bool("once"),
		Logger:   b.log,
	}, func(ctx context.Context) (int, error) {
		result, err := v.Run(ctx)
		return result.Checked, err
	})

	ctx, cancel := withShutdown(c.Context)
	defer cancel()
	return svc.RunForever(ctx)
}

func runMonitor(c *cli.Context) error {
	b, err := newBootstrap(c)
	if err != nil {
		return err
	}
	defer b.close()

	cfg, err := config.LoadMonitorConfig(serviceConfigPath(c, "monitor"))
	if err != nil {
		return err
	}
	m, err := monitor.New(b.store, b.pool, b.netsem, *cfg, b.log)
	if err != nil {
		return err
	}

	svc := service.New(service.Options{
		Name:     "monitor",
		Interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		Once:     c.Bool("once"),
		Logger:   b.log,
	}, func(ctx context.Context) (int, error) {
		result, err := m.Run(ctx)
		return result.Checked, err
	})

	ctx, cancel := withShutdown(c.Context)
	defer cancel()
	return svc.RunForever(ctx)
}

func runSynchronizer(c *cli.Context) error {
	b, err := newBootstrap(c)
	if err != nil {
		return err
	}
	defer b.close()

	cfg, err := config.LoadSynchronizerConfig(serviceConfigPath(c, "synchronizer"))
	if err != nil {
		return err
	}
	s := synchronizer.New(b.store, b.pool, b.netsem, *cfg, b.log)

	svc := service.New(service.Options{
		Name:     "synchronizer",
		Interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		Once:     c.Bool("once"),
		Logger:   b.log,
	}, func(ctx context.Context) (int, error) {
		result, err := s.Run(ctx)
		return result.TotalInserted, err
	})

	ctx, cancel := withShutdown(c.Context)
	defer cancel()
	return svc.RunForever(ctx)
}
