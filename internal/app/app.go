// Package app wires the daemon: config, logging, contact store, delivery
// session, dispatch, task engine, scheduler and the Telegram bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatsched/internal/bot"
	"whatsched/internal/config"
	"whatsched/internal/delivery"
	"whatsched/internal/dispatch"
	"whatsched/internal/domain"
	"whatsched/internal/eventbus"
	"whatsched/internal/message"
	"whatsched/internal/observability/debughttp"
	"whatsched/internal/runtime/supervisor"
	"whatsched/internal/storage"
	"whatsched/internal/task/engine"
	"whatsched/internal/task/scheduler"
	kit "whatsched/internal/transport"
	telegram "whatsched/internal/transport/telegram/adapter"
	"whatsched/internal/transport/telegram/router"
	logx "whatsched/pkg/logx"
)

type Options struct {
	ConfigPath string
	// Bot starts the Telegram presentation layer when a token is configured.
	Bot bool
	// Watch enables config hot reload.
	Watch bool
}

type App struct {
	opts Options
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	selector *message.Selector
	session  *delivery.Session
	action   *dispatch.Action
	engine   *engine.Service
	sched    *scheduler.Service

	adapter *telegram.Adapter // nil without a bot
	router  *router.Manager
	updates chan kit.Update

	debug *debughttp.Server // nil unless debug.addr is set
}

// New builds every component. Nothing runs until Start. Goroutines started
// later are children of ctx.
func New(ctx context.Context, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The Telegram sink is enabled only after the adapter and its target
	// exist, so Apply does not warn about a missing chat.
	logCfg := mapLogging(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logs, log := logx.New(logCfg, nil)
	durations, _ := cfg.Durations()

	var ad *telegram.Adapter
	if opts.Bot || cfg.Delivery.Driver == config.DriverTelegram {
		if strings.TrimSpace(cfg.Telegram.Token) != "" {
			ad, err = telegram.New(telegram.Config{
				Token:       cfg.Telegram.Token,
				PollTimeout: config.Or(durations.PollTimeout, 10*time.Second),
			}, log.With(logx.String("comp", "telegram")))
			if err != nil {
				logs.Close()
				return nil, fmt.Errorf("telegram: %w", err)
			}
			logs.SetSender(ad)
		}
	}
	logs.SetTelegramTarget(logChat(cfg), cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled && ad != nil
	logs.Apply(logCfg)

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	sup := supervisor.New(ctx, supervisor.Options{Log: log.With(logx.String("comp", "supervisor")), FailFast: true})
	bus := eventbus.New()

	store, err := OpenStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		sup.Cancel()
		logs.Close()
		return nil, err
	}

	dcfg := mapDriver(cfg, log.With(logx.String("comp", "delivery")))
	dcfg.Bridge.Sup = sup
	if ad != nil {
		dcfg.Telegram = ad
	}
	driver, err := delivery.NewDriver(dcfg)
	if err != nil {
		_ = store.Close()
		sup.Cancel()
		logs.Close()
		return nil, err
	}
	minInterval, connectTimeout := mapPacing(cfg)
	session := delivery.NewSession(driver, delivery.Options{
		MinInterval:    minInterval,
		ConnectTimeout: connectTimeout,
		Bus:            bus,
		Log:            log.With(logx.String("comp", "session")),
	})

	selector := message.NewSelector(store, mapSelector(cfg))
	action := dispatch.New(selector, session, store, log.With(logx.String("comp", "dispatch")))
	eng := engine.New(mapEngine(cfg), log.With(logx.String("comp", "taskengine")), bus)
	sched, err := scheduler.New(mapScheduler(cfg), eng, action, log, bus)
	if err != nil {
		_ = store.Close()
		sup.Cancel()
		logs.Close()
		return nil, err
	}

	a := &App{
		opts:     opts,
		cfgm:     cfgm,
		sup:      sup,
		log:      log.With(logx.String("comp", "app")),
		logs:     logs,
		bus:      bus,
		store:    store,
		selector: selector,
		session:  session,
		action:   action,
		engine:   eng,
		sched:    sched,
	}
	if ad != nil {
		a.adapter = ad
		if opts.Bot {
			a.updates = make(chan kit.Update, 64)
			a.router = router.NewManager(log, ad, router.Options{Owners: cfg.Telegram.OwnerUserIDs})
			a.router.SetCommands(bot.New(store, sched, session, connectTimeout).Commands())
		}
	} else if opts.Bot {
		a.log.Warn("telegram.token not set; running without the bot")
	}
	if opts.Watch && strings.TrimSpace(cfg.Debug.Addr) != "" {
		a.debug = debughttp.New(mapDebug(cfg), log.With(logx.String("comp", "debug")), a.statusSnapshot)
	}
	return a, nil
}

func (a *App) Log() logx.Logger              { return a.log }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Session() *delivery.Session    { return a.session }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }

// Done is closed when the app stops, by Stop or on a fatal error.
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

// Err returns the first fatal error, if any.
func (a *App) Err() error { return a.sup.Err() }

// Start launches the engine, the scheduler loop, the bot and the config
// watcher.
func (a *App) Start() error {
	ctx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.engine.Start(ctx)
	a.sup.Go("scheduler", a.sched.Run)
	a.startEventLog()

	if a.adapter != nil {
		var out chan kit.Update
		if a.router != nil {
			out = a.updates
		}
		if err := a.adapter.Start(ctx, out); err != nil {
			return err
		}
	}
	if a.router != nil {
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.adapter.UpdateMenuCommands(mctx, a.router.Menu()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	if a.opts.Watch {
		a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
			if next.Delivery.Driver == config.DriverTelegram && a.adapter == nil {
				return errors.New("delivery.driver telegram needs telegram.token at startup")
			}
			return nil
		})
		a.startReload()
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if a.debug != nil {
		if err := a.debug.Check(); err != nil {
			a.log.Error("debug server disabled", logx.Err(err))
		} else {
			a.sup.GoRestart("debug.http", a.debug.Serve, supervisor.Restart{MinBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second})
		}
	}

	if cfg.Delivery.ConnectOnStart {
		a.sup.Go0("session.connect", func(c context.Context) {
			if err := a.session.Establish(c); err != nil {
				a.log.Warn("session not established at startup; use /session connect", logx.Err(err))
			}
		})
	}

	a.log.Info("app started",
		logx.String("driver", a.session.Status().Driver),
		logx.Bool("bot", a.router != nil),
		logx.String("tz", a.sched.Location().String()),
	)
	return nil
}

func (a *App) startEventLog() {
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})
}

// startReload applies hot-reloadable sections: logging, owners, greetings
// and categories, and delivery pacing. Other changes are logged as needing
// a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config change needs a restart", logx.Strings("sections", restart))
	}

	logCfg := mapLogging(next)
	logCfg.Telegram.Enabled = logCfg.Telegram.Enabled && a.adapter != nil
	a.logs.SetTelegramTarget(logChat(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(logCfg)

	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	a.selector.Apply(mapSelector(next))
	a.session.SetPacing(mapPacing(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// SendNow connects the session if needed, fires a one-shot job for
// recipients and waits for it to finish.
func (a *App) SendNow(ctx context.Context, recipients []domain.Recipient, category string) (scheduler.JobStatus, error) {
	if err := a.session.Establish(ctx); err != nil {
		return scheduler.JobStatus{}, err
	}
	events, unsub := a.bus.Subscribe(16)
	defer unsub()

	id, err := a.sched.Submit(ctx, scheduler.Request{
		Recipients: recipients,
		Recurrence: string(scheduler.KindNow),
		Category:   category,
		Label:      "cli send",
	})
	if err != nil {
		return scheduler.JobStatus{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return scheduler.JobStatus{}, ctx.Err()
		case <-a.Done():
			return scheduler.JobStatus{}, errors.New("app stopped")
		case e := <-events:
			st, ok := e.Data.(scheduler.JobStatus)
			if e.Type != eventbus.JobCompleted || !ok || st.ID != id {
				continue
			}
			return st, nil
		}
	}
}

// statusSnapshot backs the debug server's /status endpoint.
func (a *App) statusSnapshot(ctx context.Context) any {
	out := struct {
		Session delivery.Status       `json:"session"`
		Engine  engine.Snapshot       `json:"engine"`
		Jobs    []scheduler.JobStatus `json:"jobs"`
		Error   string                `json:"error,omitempty"`
	}{Session: a.session.Status(), Engine: a.engine.Snapshot()}
	jobs, err := a.sched.List(ctx)
	if err != nil {
		out.Error = err.Error()
	}
	out.Jobs = jobs
	return out
}

// Stop shuts components down in dependency order, each step bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(sctx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-sctx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.adapter != nil {
		step("adapter", 3*time.Second, a.adapter.Stop)
	}
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("session", time.Second, func(context.Context) error { return a.session.Close() })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
