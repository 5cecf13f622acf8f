package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GladstoneOG/wabot/internal/activity"
	"github.com/GladstoneOG/wabot/internal/api"
	"github.com/GladstoneOG/wabot/internal/broadcast"
	"github.com/GladstoneOG/wabot/internal/campaign"
	"github.com/GladstoneOG/wabot/internal/config"
	"github.com/GladstoneOG/wabot/internal/eventbus"
	"github.com/GladstoneOG/wabot/internal/linkpreview"
	"github.com/GladstoneOG/wabot/internal/manager"
	"github.com/GladstoneOG/wabot/internal/opsnotify"
	"github.com/GladstoneOG/wabot/internal/runtime/supervisor"
	"github.com/GladstoneOG/wabot/internal/schedule"
	"github.com/GladstoneOG/wabot/internal/session"
	"github.com/GladstoneOG/wabot/internal/storage"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	ops   *opsnotify.Swap
	notif *opsnotify.Notifier

	session *session.Session
	sched   *schedule.Controller
	mgr     *manager.Manager
	http    *api.Server
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Bootstrap with ops forwarding off so Apply does not complain before the
	// sender is installed.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Ops.Enabled = false
	logSvc, log := logx.New(bootCfg)

	ops := &opsnotify.Swap{}
	tg, err := newTelegram(cfg)
	if err != nil {
		return nil, err
	}
	ops.Set(tg)
	logSvc.SetSender(ops)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dialer, err := newDialer(dctx, cfg, log)
	cancel()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sess := session.New(dialer, session.Options{
		LoginTimeout:   cfg.WhatsApp.LoginTimeoutDuration(),
		ReconnectDelay: cfg.WhatsApp.ReconnectDelayDuration(),
		ResumeOnStart:  true,
		Bus:            bus,
		Log:            log,
	})
	holder := campaign.NewHolder(store, cfg.WhatsApp.CountryCode, log)
	acts := activity.New(store, log)

	opts := broadcast.Options{
		PreviewTimeout: cfg.LinkPreview.TimeoutDuration(),
		Bus:            bus,
		Log:            log,
	}
	if cfg.LinkPreview.Enabled {
		opts.Preview = linkpreview.NewFetcher(cfg.LinkPreview.TimeoutDuration(), cfg.LinkPreview.UserAgent)
	}
	disp := broadcast.NewDispatcher(sess, holder, acts, opts)
	sched := schedule.New(disp, bus, log)

	mgr := manager.New(manager.Deps{
		Session:    sess,
		Dispatcher: disp,
		Schedule:   sched,
		Campaign:   holder,
		Logs:       acts,
		Log:        log,
	})

	srv := api.NewServer(api.ServerConfig{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}, api.NewRouter(mgr, log, api.WithProfiler(cfg.Server.Pprof)), log)

	notif := opsnotify.New(ops, bus, opsnotify.Options{RetryMax: 2, Log: log})
	notif.SetEnabled(cfg.Telegram.NotifyBroadcasts)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		ops:     ops,
		notif:   notif,
		session: sess,
		sched:   sched,
		mgr:     mgr,
		http:    srv,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if err := a.mgr.Load(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// reject reloads whose telegram target cannot be built
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := newTelegram(cfg)
		return err
	})

	a.sup.Go("session", a.session.Run)
	a.sup.Go("http", a.http.Run)
	a.sup.GoRestart("opsnotify", a.notif.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
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
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig applies the live parts of a reloaded config: logging and the
// telegram target. Everything else is reported as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	// update the target first so Apply sees the sender state it will use
	tg, err := newTelegram(newCfg)
	if err != nil {
		a.log.Warn("invalid telegram config; keeping previous target", logx.Err(err))
	} else {
		a.ops.Set(tg)
	}
	a.notif.SetEnabled(newCfg.Telegram.NotifyBroadcasts)
	a.logs.Apply(mapLogConfig(newCfg))

	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that only apply after restart", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// each step gets an upper bound so one component can't stall the whole stop
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("manager", time.Second, func(context.Context) error { a.mgr.Close(); return nil })
	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Close(c); return nil })
	// http drain, session teardown, config watcher
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
