// Package app wires the daemon: config, logging, gateway, dispatch engines,
// the Telegram bot, the scheduler and the optional observability surfaces.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"wasender/internal/bot"
	"wasender/internal/compose"
	"wasender/internal/config"
	"wasender/internal/devices"
	"wasender/internal/dispatch"
	"wasender/internal/eventbus"
	"wasender/internal/events/amqpfwd"
	"wasender/internal/gateway"
	"wasender/internal/notifier"
	"wasender/internal/observability/debugsrv"
	"wasender/internal/observability/metrics"
	rtsup "wasender/internal/runtime/supervisor"
	"wasender/internal/schedule"
	"wasender/internal/storage"
	kit "wasender/internal/transport"
	telegram "wasender/internal/transport/telegram"
	logx "wasender/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	gw       *gateway.Client
	registry *devices.Registry

	botEngine   *dispatch.Engine
	schedEngine *dispatch.Engine

	notif   *notifier.Service
	bot     *bot.Bot
	sched   *schedule.Service
	metrics *metrics.Metrics
	debug   *debugsrv.Service
	fwd     *amqpfwd.Forwarder

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg), ad)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	gw, err := gateway.New(mapGatewayConfig(cfg), gateway.WithLogger(root.With(logx.String("comp", "gateway"))))
	if err != nil {
		return nil, err
	}
	registry := devices.NewRegistry(gw)

	engineFor := func(name string) *dispatch.Engine {
		return dispatch.New(gw,
			dispatch.WithBus(bus),
			dispatch.WithLogger(root.With(logx.String("comp", "dispatch"), logx.String("surface", name))),
		)
	}
	botEngine := engineFor("bot")
	schedEngine := engineFor("schedule")

	composerFor := func(engine *dispatch.Engine, source string) *compose.Service {
		opts := []compose.Option{
			compose.WithSource(source),
			compose.WithLogger(root.With(logx.String("comp", "compose"), logx.String("source", source))),
		}
		if store != nil {
			opts = append(opts, compose.WithRecorder(store))
		}
		return compose.NewService(engine, registry, opts...)
	}

	notif := notifier.New(mapNotifierConfig(cfg), ad, root.With(logx.String("comp", "notifier")), bus)

	schedOpts := []schedule.Option{schedule.WithLogger(root.With(logx.String("comp", "scheduler")))}
	if target, ok := logTarget(cfg); ok {
		schedOpts = append(schedOpts, schedule.WithReport(notif, target))
	}
	sched := schedule.New(composerFor(schedEngine, "schedule"), schedOpts...)

	deps := bot.Deps{
		Sender:         ad,
		Notifier:       notif,
		Composer:       composerFor(botEngine, "bot"),
		Devices:        registry,
		Sessions:       botEngine,
		Schedules:      sched,
		Owners:         cfg.Telegram.OwnerUserIDs,
		CommandTimeout: config.DurationOr(cfg.Telegram.CommandTimeout, defaultCommandTimeout),
		Logger:         root.With(logx.String("comp", "bot")),
	}
	if store != nil {
		deps.History = store
	}
	b, err := bot.New(deps)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		adapter:     ad,
		gw:          gw,
		registry:    registry,
		botEngine:   botEngine,
		schedEngine: schedEngine,
		notif:       notif,
		bot:         b,
		sched:       sched,
		metrics:     metrics.New(bus),
		updates:     make(chan kit.Update, 256),
	}
	a.debug = debugsrv.New(root.With(logx.String("comp", "debugsrv")), a.metrics.Handler(), a.health)
	a.fwd = amqpfwd.New(mapEventsConfig(cfg), amqpfwd.WithLogger(root.With(logx.String("comp", "events"))))
	return a, nil
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())

	sc, err := schedule.FromConfig(cfg.Scheduler, cfg.Schedules)
	if err != nil {
		return err
	}
	if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("some schedules were skipped", logx.Err(err))
	}
	a.sched.Start(a.sup.Context())

	if err := a.debug.Reconfigure(a.sup.Context(), mapDebugConfig(cfg)); err != nil {
		// operator surface only; the daemon keeps running without it
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	if cfg.Events.Enabled {
		a.sup.GoRestart("events.forward", func(c context.Context) error {
			return a.fwd.Run(c, a.bus)
		}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}

	a.sup.Go("bot.commands", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

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
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("owners", len(cfg.Telegram.OwnerUserIDs)),
		logx.Bool("storage", a.store != nil),
		logx.Bool("scheduler", cfg.Scheduler.Enabled),
		logx.Bool("events", cfg.Events.Enabled),
	)
	return nil
}

// health feeds /healthz: the gateway must answer a device listing.
func (a *App) health(ctx context.Context) (map[string]any, error) {
	out := map[string]any{
		"bot_dispatch_in_flight":      a.botEngine.InProgress(),
		"schedule_dispatch_in_flight": a.schedEngine.InProgress(),
		"eventbus_dropped":            eventbus.Dropped(a.bus),
	}
	list, err := a.registry.List(ctx)
	if err != nil {
		return out, fmt.Errorf("gateway: %w", err)
	}
	online := 0
	for _, d := range list {
		if d.LoggedIn() {
			online++
		}
	}
	out["devices"] = len(list)
	out["devices_logged_in"] = online
	return out, nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("debugsrv", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
