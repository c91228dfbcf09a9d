package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"
)

func (b *Bot) cmdSchedules(ctx context.Context, req *Request) error {
	if b.sched == nil {
		b.router.reply(ctx, req.Chat, "Scheduler is disabled.")
		return nil
	}
	items := b.sched.Snapshot()
	if len(items) == 0 {
		b.router.reply(ctx, req.Chat, "No schedules configured.")
		return nil
	}
	lines := []string{fmt.Sprintf("⏰ <b>Schedules</b> (%d)", len(items))}
	for _, it := range items {
		mark := "🟢"
		if it.Disabled {
			mark = "⏸"
		}
		line := fmt.Sprintf("%s <b>%s</b> <code>%s</code> next %s ✅%d ❌%d",
			mark, html.EscapeString(it.Name), html.EscapeString(it.Spec), fmtTime(it.Next), it.Success, it.Failure)
		if it.LastErr != "" {
			line += "\n   last error: " + html.EscapeString(preview(it.LastErr, 80))
		}
		lines = append(lines, line)
	}
	b.router.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}

func (b *Bot) cmdRunSchedule(ctx context.Context, req *Request) error {
	if b.sched == nil {
		b.router.reply(ctx, req.Chat, "Scheduler is disabled.")
		return nil
	}
	if len(req.Args.Pos) != 1 {
		return usageError("/runschedule <name>")
	}
	res, err := b.sched.RunNow(ctx, req.Args.Pos[0])
	if err != nil {
		return err
	}
	b.router.reply(ctx, req.Chat, strings.Join(res.Summary(), "\n"))
	return nil
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("01-02 15:04")
}
