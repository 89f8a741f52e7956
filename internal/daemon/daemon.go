package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fundx/internal/broker"
	"fundx/internal/config"
	"fundx/internal/executor"
	"fundx/internal/lock"
	"fundx/internal/logging"
	"fundx/internal/portfolio"
	"fundx/internal/report"
	"fundx/internal/session"
	"fundx/internal/state"
	"fundx/internal/stoploss"
	"fundx/internal/store"
	"fundx/internal/taskpool"
)

// DefaultShutdownGrace is how long shutdown waits for in-flight work before
// closing the ledger.
const DefaultShutdownGrace = 30 * time.Second

// riskWorkers serve stop-loss and sync only.
const riskWorkers = 2

// Daemon owns the long-lived resources of a running scheduler.
type Daemon struct {
	cfg       *config.Config
	logger    zerolog.Logger
	lock      *lock.InstanceLock
	ledger    store.Ledger
	pool      *taskpool.Pool
	risk      *taskpool.Pool
	scheduler *Scheduler

	ShutdownGrace time.Duration
}

// New wires the daemon from configuration. Nothing runs until Run.
func New(cfg *config.Config, logger zerolog.Logger) (*Daemon, error) {
	ledger, err := store.NewSQLiteStore(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	docs := state.New(cfg.Home)
	brokers := broker.NewRegistryFromConfig(cfg, logger)

	exec, err := executor.New(cfg, executor.NewFundTools(docs, ledger))
	if err != nil {
		ledger.Close()
		return nil, err
	}

	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	runner := session.NewRunner(exec, docs, ledger, session.Options{
		DefaultTimeout: time.Duration(cfg.Executor.DefaultTimeoutMinutes) * time.Minute,
		SubTaskTimeout: time.Duration(cfg.Executor.SubTaskTimeoutMinutes) * time.Minute,
		DefaultModel:   cfg.Executor.DefaultModel,
	}, logger)
	runner.Now = now

	guard := stoploss.New(docs, ledger, brokers, logger)
	guard.Now = now

	syncer := portfolio.NewSyncer(docs, brokers, logger)
	syncer.Now = now

	pool := taskpool.New(cfg.Daemon.Workers, cfg.Daemon.QueueSize, logger)
	risk := taskpool.New(riskWorkers, cfg.Daemon.QueueSize, logger.With().Str("lane", "risk").Logger())

	scheduler, err := NewScheduler(cfg, SchedulerDeps{
		Funds:    docs,
		Sessions: runner,
		Guard:    guard,
		Syncer:   syncer,
		Reports:  report.NewGenerator(docs, ledger, logger),
		Pool:     pool,
		Risk:     risk,
	}, logger)
	if err != nil {
		ledger.Close()
		return nil, err
	}

	return &Daemon{
		cfg:           cfg,
		logger:        logging.ForComponent(logger, "daemon"),
		lock:          lock.New(cfg.PIDPath()),
		ledger:        ledger,
		pool:          pool,
		risk:          risk,
		scheduler:     scheduler,
		ShutdownGrace: DefaultShutdownGrace,
	}, nil
}

// Run holds the instance lock and ticks at the top of every minute until ctx
// is cancelled or SIGINT/SIGTERM arrives.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.lock.Acquire(); err != nil {
		d.ledger.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d.pool.Start()
	d.risk.Start()
	d.logger.Info().
		Int("pid", os.Getpid()).
		Str("home", d.cfg.Home).
		Str("timezone", d.cfg.Daemon.Timezone).
		Int("workers", d.pool.Stats().Workers).
		Msg("Daemon started")

	for {
		next := time.Now().Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return d.shutdown()
		case <-timer.C:
			d.scheduler.Tick(ctx, next)
		}
	}
}

// shutdown stops intake, gives in-flight work a grace period, then closes
// the ledger and releases the lock.
func (d *Daemon) shutdown() error {
	d.logger.Info().Msg("Shutting down")
	d.pool.Stop()
	d.risk.Stop()

	waitCtx, cancel := context.WithTimeout(context.Background(), d.ShutdownGrace)
	defer cancel()
	for _, p := range []*taskpool.Pool{d.risk, d.pool} {
		if err := p.Wait(waitCtx); err != nil {
			stats := p.Stats()
			d.logger.Warn().
				Int("running", stats.Running).
				Int("queued", stats.Queued).
				Msg("In-flight tasks still running at shutdown")
		}
	}

	var errs []error
	if err := d.ledger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}
	if err := d.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	stats, riskStats := d.pool.Stats(), d.risk.Stats()
	d.logger.Info().
		Uint64("completed", stats.Completed+riskStats.Completed).
		Uint64("failed", stats.Failed+riskStats.Failed).
		Uint64("panicked", stats.Panicked+riskStats.Panicked).
		Uint64("rejected", stats.Rejected+riskStats.Rejected).
		Msg("Daemon stopped")
	return errors.Join(errs...)
}

// Status describes the daemon owning a home directory.
type Status struct {
	Running bool
	PID     int
	PIDFile string
}

// CurrentStatus reads the pid file under cfg's home.
func CurrentStatus(cfg *config.Config) (Status, error) {
	pid, alive, err := lock.Owner(cfg.PIDPath())
	if err != nil {
		return Status{PIDFile: cfg.PIDPath()}, err
	}
	return Status{Running: alive, PID: pid, PIDFile: cfg.PIDPath()}, nil
}

// Signal asks the running daemon to shut down.
func Signal(cfg *config.Config) (int, error) {
	st, err := CurrentStatus(cfg)
	if err != nil {
		return 0, err
	}
	if !st.Running {
		return 0, fmt.Errorf("no daemon running for %s", cfg.Home)
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return st.PID, err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return st.PID, fmt.Errorf("signal pid %d: %w", st.PID, err)
	}
	return st.PID, nil
}
