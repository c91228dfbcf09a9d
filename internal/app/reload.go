package app

import (
	"context"
	"slices"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"

	"wasender/internal/config"
	"wasender/internal/schedule"
	logx "wasender/pkg/logx"
)

// Sections that are only read at startup.
var restartOnly = []string{"gateway", "storage", "events"}

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
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sdNotify(a.log, daemon.SdNotifyReloading)
	defer sdNotify(a.log, daemon.SdNotifyReady)

	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.bot.Apply(newCfg.Telegram.OwnerUserIDs, config.DurationOr(newCfg.Telegram.CommandTimeout, defaultCommandTimeout))
	a.notif.Apply(mapNotifierConfig(newCfg))

	if sc, err := schedule.FromConfig(newCfg.Scheduler, newCfg.Schedules); err != nil {
		a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
	} else if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("some schedules were skipped", logx.Err(err))
	}

	if err := a.debug.Reconfigure(ctx, mapDebugConfig(newCfg)); err != nil {
		a.log.Warn("debug server reconfigure failed", logx.Err(err))
	}

	if len(sections) > 0 {
		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}
