// Package app assembles the daemon: config, logging, the queue, and the
// services around it. The queue itself never runs goroutines; app owns
// the single polling loop that drives it.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickq/internal/config"
	"tickq/internal/eventbus"
	"tickq/internal/history"
	"tickq/internal/observability/stats"
	"tickq/internal/task/queue"
	"tickq/internal/task/trigger"
	"tickq/pkg/clock"
	"tickq/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	queue *queue.Queue

	archive *history.Archive
	trig    *trigger.Service
	stats   *stats.Service

	tickEvery time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, _ := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := logSvc.Logger()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	tickEvery, err := config.ParseDurationOrDefault("tick_interval", cfg.TickInterval, 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	defaultTimeout, err := config.ParseDurationField("queue.default_timeout", cfg.Queue.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	stallWarn, err := config.ParseDurationField("queue.stall_warn_every", cfg.Queue.StallWarnEvery)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	q := queue.New(queue.Config{
		DefaultTimeout: defaultTimeout,
		HistorySize:    cfg.Queue.HistorySize,
		StallWarnEvery: stallWarn,
	}, clock.System(), log.With(logx.String("comp", "queue")), bus)

	a := &App{
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log.With(logx.String("comp", "app")),
		bus:       bus,
		queue:     q,
		tickEvery: tickEvery,
	}

	if cfg.History.Enabled {
		path := cfg.History.Path
		if path == "" {
			path = "./tickq-history.db"
		}
		arch, err := history.Open(history.Config{
			Path: path,
			Keep: cfg.History.Keep,
		}, log.With(logx.String("comp", "history")))
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.archive = arch
		q.SetRecorder(arch)
	}

	a.trig = trigger.New(q, log.With(logx.String("comp", "trigger")))
	if err := a.trig.Apply(cfg.Triggers); err != nil {
		return nil, err
	}

	if cfg.Stats.Enabled {
		a.stats = stats.New(stats.Config{Listen: cfg.Stats.Listen, Pprof: cfg.Stats.Pprof},
			q, a.archive, log.With(logx.String("comp", "stats")))
	}

	return a, nil
}

// Queue exposes the queue for command registration and direct admissions.
func (a *App) Queue() *queue.Queue { return a.queue }

// Triggers exposes the trigger service so callers can register commands
// before Start.
func (a *App) Triggers() *trigger.Service { return a.trig }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Start launches the polling loop, the trigger runner, the stats server,
// and the config watcher. Idempotent.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}

	if err := a.trig.Start(ctx); err != nil {
		return err
	}
	if a.stats != nil {
		if err := a.stats.Start(ctx); err != nil {
			a.trig.Stop(ctx)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.run(runCtx)

	a.log.Info("started", logx.Duration("tick_every", a.tickEvery))
	return nil
}

// run drives the queue and applies config changes until ctx is done.
func (a *App) run(ctx context.Context) {
	defer close(a.done)

	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	ticker := time.NewTicker(a.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-watchDone
			return
		case <-ticker.C:
			a.queue.Tick()
		case cfg, ok := <-sub:
			if !ok {
				continue
			}
			a.applyConfig(cfg)
		}
	}
}

// applyConfig handles the reloadable subset: log settings and trigger
// definitions. Queue and listener settings need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err := a.trig.Apply(cfg.Triggers); err != nil {
		a.log.Warn("trigger reload rejected", logx.Err(err))
		return
	}
	a.log.Info("config applied")
}

// Stop shuts everything down in reverse order of Start.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	a.trig.Stop(ctx)
	if a.stats != nil {
		a.stats.Stop(ctx)
	}
	a.queue.Stop()
	if a.archive != nil {
		_ = a.archive.Close()
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
