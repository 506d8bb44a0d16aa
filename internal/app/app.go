package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bosstracker/internal/config"
	"bosstracker/internal/digest"
	"bosstracker/internal/observability/metrics"
	rtsup "bosstracker/internal/runtime/supervisor"
	"bosstracker/internal/storage"
	"bosstracker/internal/tracker"
	kit "bosstracker/internal/transport"
	"bosstracker/internal/transport/channel"
	telegram "bosstracker/internal/transport/telegram/adapter"
	"bosstracker/internal/transport/telegram/router"
	logx "bosstracker/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	sups *rtsup.Registry

	log   logx.Logger
	root  logx.Logger
	logs  *logx.Service
	store storage.Store

	adapter kit.Adapter
	tracker *tracker.Tracker
	tick    time.Duration
	cmdm    *router.CommandManager
	metrics *metrics.Metrics
	server  *metrics.Server
	digest  *digest.Service
	sd      *sdNotifier

	updates chan kit.Update
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
	store   storage.Store
	clock   func() time.Time
	notify  func(state string) (bool, error)
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithStore replaces the store configured under storage.
func WithStore(s storage.Store) Option { return func(o *options) { o.store = s } }

// WithClock replaces the tracker clock.
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

func withNotify(fn func(state string) (bool, error)) Option {
	return func(o *options) { o.notify = fn }
}

// New loads the config at cfgm.Path() and wires every component. Nothing runs
// until Start.
func New(cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	trackerCfg, tick, err := cfg.Tracker.Resolve()
	if err != nil {
		return nil, err
	}

	// The chat sink stays off until the adapter exists and the target is set,
	// so Apply never warns about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, nil)

	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
			API:         strings.TrimSpace(cfg.Telegram.API),
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		ad = tg
	}
	logSvc.SetSender(ad)
	applyLogTarget(logSvc, cfg)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	store := o.store
	if store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			return nil, err
		}
		if store, err = storage.Open(sc, root.With(logx.String("comp", "storage"))); err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		log.Info("storage opened", logx.String("driver", sc.Driver))
	}

	m := metrics.New()
	target := kit.ChatTarget{ChatID: cfg.Telegram.ChannelID, ThreadID: cfg.Telegram.ThreadID}
	trOpts := []tracker.Option{tracker.WithObserver(m)}
	if o.clock != nil {
		trOpts = append(trOpts, tracker.WithClock(o.clock))
	}
	tr := tracker.New(trackerCfg,
		strconv.FormatInt(cfg.Telegram.ChannelID, 10),
		store,
		channel.New(ad, target),
		root,
		trOpts...,
	)
	m.WatchTracker(tr.Snapshot)

	sups := rtsup.NewRegistry()
	cmdm := router.NewCommandManager(root, ad, router.Options{
		ChatID:      cfg.Telegram.ChannelID,
		Prefixes:    cfg.Telegram.Prefixes,
		Owners:      cfg.Telegram.OwnerUserIDs,
		Observer:    m,
		Supervisors: sups,
	})

	a := &App{
		cfgm:    cfgm,
		sups:    sups,
		log:     log,
		root:    root,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		tracker: tr,
		tick:    tick,
		cmdm:    cmdm,
		metrics: m,
		sd:      newSDNotifier(root.With(logx.String("comp", "systemd"))),
		updates: make(chan kit.Update, 256),
	}
	if o.notify != nil {
		a.sd.notify = o.notify
	}

	if cfg.Metrics.Enabled {
		readTimeout, _ := config.ParseDurationOrDefault("metrics.read_timeout", cfg.Metrics.ReadTimeout, 10*time.Second)
		idleTimeout, _ := config.ParseDurationOrDefault("metrics.idle_timeout", cfg.Metrics.IdleTimeout, 60*time.Second)
		a.server = metrics.NewServer(metrics.ServerConfig{
			Addr:        cfg.Metrics.Addr,
			Pprof:       cfg.Metrics.Pprof,
			ReadTimeout: readTimeout,
			IdleTimeout: idleTimeout,
		}, m, sups, tr.Snapshot, root)
	}
	if strings.TrimSpace(cfg.Digest.Schedule) != "" {
		if a.digest, err = digest.New(digest.Config{
			Schedule: cfg.Digest.Schedule,
			Timezone: cfg.Digest.Timezone,
			Timeout:  trackerCfg.SendTimeout,
		}, tr, root); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) Tracker() *tracker.Tracker { return a.tracker }

// Done is closed once the app stops running, after Stop or a fatal loop error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the error that ended the run, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
		rtsup.WithRestartHook(a.metrics.LoopRestarted),
	)
	a.sups.Set("app", a.sup)

	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return cfg.Validate() })

	if err := a.tracker.Initialize(a.sup.Context()); err != nil {
		return fmt.Errorf("initialize tracker: %w", err)
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		a.sups.Set("telegram.adapter", sp.Supervisor())
	}

	a.cmdm.SetRegistry(router.BossCommands(a.tracker))
	a.sup.GoRestart("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	// The tick loop must outlive any single failure: errors are logged and
	// panics restart it.
	a.sup.GoRestart("tracker.tick", a.tickLoop,
		rtsup.WithRestartBackoff(a.tick, 10*time.Second),
	)

	if a.server != nil {
		a.server.Start(a.sup.Context())
		a.sups.Set("metrics", a.server.Supervisor())
	}
	if a.digest != nil {
		a.digest.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.Ready()
	a.log.Info("app started", logx.Duration("tick", a.tick))
	return nil
}

func (a *App) tickLoop(ctx context.Context) error {
	t := time.NewTicker(a.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if err := a.tracker.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				// messaging failures are already logged by the tracker
				if !errors.Is(err, tracker.ErrMessaging) {
					a.log.Warn("tick failed", logx.Err(err))
				}
			}
			a.sd.Ping(now)
		}
	}
}

// reloadLoop applies hot-reloaded config. Only logging and the owner list
// apply live; other sections are logged as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Only the newest of a burst of reloads is applied.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	// Target first, so Apply does not warn about a missing chat.
	applyLogTarget(a.logs, newCfg)
	a.logs.Apply(mapLogConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if restart {
		a.log.Warn("config changed; restart required for some changes to take effect", fields...)
		return
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Loops start unwinding now; the steps below wait on them.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn keeps running in the background; shutdown moves on.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("digest", 2*time.Second, func(c context.Context) error {
		if a.digest != nil {
			a.digest.Stop(c)
		}
		return nil
	})
	step("metrics", 1*time.Second, func(c context.Context) error {
		if a.server != nil {
			a.server.Stop(c)
		}
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Wait for supervised loops before closing storage so no tick writes a closed store.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// History renders the kill history for the configured channel straight from
// storage, without connecting to Telegram.
func History(ctx context.Context, cfg *config.Config, log logx.Logger) (string, error) {
	trackerCfg, _, err := cfg.Tracker.Resolve()
	if err != nil {
		return "", err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return "", err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return "", fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	channelID := strconv.FormatInt(cfg.Telegram.ChannelID, 10)
	clan, err := store.FetchOrCreateClan(ctx, channelID)
	if err != nil {
		return "", err
	}
	recs, err := tracker.NewKillHistory(store, channelID).Last(ctx, trackerCfg.HistorySize+1)
	if err != nil {
		return "", err
	}
	text, ok := tracker.RenderHistory(recs, clan.Level, trackerCfg.FixedDelay)
	if !ok {
		return "No history recorded", nil
	}
	return text, nil
}
