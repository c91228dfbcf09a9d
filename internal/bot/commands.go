package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"wasender/internal/devices"
	"wasender/internal/message"
	logx "wasender/pkg/logx"
)

func (b *Bot) commands() []Command {
	return []Command{
		{
			Name:        "send",
			Description: "send a message to a user, group or newsletter",
			Usage:       "/send <user|group|newsletter> <recipient> <text...> [--forward] [--reply=ID] [--duration=N] [--everyone]",
			BoolFlags:   []string{"forward", "everyone"},
			Handle:      b.cmdSend,
		},
		{
			Name:        "status",
			Description: "post a status update, optionally on several devices",
			Usage:       "/status <text...> [--all | --devices=a,b] [--duration=N] [--forward]",
			BoolFlags:   []string{"all", "forward"},
			Handle:      b.cmdStatus,
		},
		{
			Name:        "devices",
			Aliases:     []string{"dev"},
			Description: "list gateway devices",
			Usage:       "/devices",
			Timeout:     30 * time.Second,
			Handle:      b.cmdDevices,
		},
		{
			Name:        "select",
			Description: "choose the devices a status goes to",
			Usage:       "/select <id...|all|none>",
			Timeout:     30 * time.Second,
			Handle:      b.cmdSelect,
		},
		{
			Name:        "draft",
			Description: "show the current draft",
			Usage:       "/draft",
			Handle:      b.cmdDraft,
		},
		{
			Name:        "cancel",
			Description: "discard the current draft",
			Usage:       "/cancel",
			Handle:      b.cmdCancel,
		},
		{
			Name:        "audit",
			Description: "show recent dispatches",
			Usage:       "/audit [count]",
			Timeout:     15 * time.Second,
			Handle:      b.cmdAudit,
		},
		{
			Name:        "schedules",
			Aliases:     []string{"sched"},
			Description: "list scheduled sends",
			Usage:       "/schedules",
			Handle:      b.cmdSchedules,
		},
		{
			Name:        "runschedule",
			Description: "run a scheduled send now",
			Usage:       "/runschedule <name>",
			Timeout:     2 * time.Minute,
			Handle:      b.cmdRunSchedule,
		},
		{
			Name:        "help",
			Aliases:     []string{"h", "start"},
			Description: "show help",
			Usage:       "/help [cmd]",
			Public:      true,
			Handle:      b.cmdHelp,
		},
	}
}

func usageError(usage string) error {
	return errors.New("usage: " + usage)
}

// applyOptions copies the shared send flags onto f.
func applyOptions(args Args, f *message.Fields) error {
	if args.Has("forward") {
		f.IsForwarded = true
	}
	if args.Has("everyone") {
		f.MentionEveryone = true
	}
	if v := args.Flag("reply"); v != "" {
		f.ReplyMessageID = v
	}
	if v, ok := args.Flags["duration"]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return fmt.Errorf("invalid --duration %q: want seconds >= 0", v)
		}
		f.DurationSeconds = n
	}
	return nil
}

// cmdSend replaces the draft with a message and submits it. Without
// arguments it resubmits the kept draft.
func (b *Bot) cmdSend(ctx context.Context, req *Request) error {
	form := b.Form(req.Chat)
	pos := req.Args.Pos
	if len(pos) == 0 {
		if form.Fields().Text == "" {
			return usageError("/send <user|group|newsletter> <recipient> <text...>")
		}
		return b.submit(ctx, req, form)
	}
	if len(pos) < 3 {
		return usageError("/send <user|group|newsletter> <recipient> <text...>")
	}
	typ, err := message.ParseRecipientType(pos[0])
	if err != nil {
		return err
	}
	if typ == message.Status {
		return errors.New("use /status for status updates")
	}
	fields := message.Fields{
		Type:      typ,
		Recipient: pos[1],
		Text:      strings.Join(pos[2:], " "),
	}
	if err := applyOptions(req.Args, &fields); err != nil {
		return err
	}
	form.Update(func(f *message.Fields) { *f = fields })
	return b.submit(ctx, req, form)
}

// cmdStatus drafts a status update. The device selection comes from
// --all or --devices, else from /select. Without text it resubmits a kept
// status draft.
func (b *Bot) cmdStatus(ctx context.Context, req *Request) error {
	form := b.Form(req.Chat)
	text := strings.Join(req.Args.Pos, " ")
	if text == "" {
		if f := form.Fields(); f.Type != message.Status || f.Text == "" {
			return usageError("/status <text...> [--all | --devices=a,b]")
		}
	}

	var optErr error
	form.Update(func(f *message.Fields) {
		if text != "" {
			*f = message.Fields{Type: message.Status, Text: text}
		}
		optErr = applyOptions(req.Args, f)
	})
	if optErr != nil {
		return optErr
	}

	switch {
	case req.Args.Has("all"):
		form.Select(devices.SelectAll())
	case req.Args.Flag("devices") != "":
		form.Select(devices.SelectIDs(splitIDs([]string{req.Args.Flag("devices")})...))
	}
	return b.submit(ctx, req, form)
}

func (b *Bot) cmdDevices(ctx context.Context, req *Request) error {
	list, err := b.devices.List(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(list) == 0 {
		b.router.reply(ctx, req.Chat, "No devices connected. Please connect a device first.")
		return nil
	}
	sel := b.Form(req.Chat).Selection()
	chosen := lo.SliceToMap(sel.IDs, func(id string) (string, struct{}) { return strings.TrimSpace(id), struct{}{} })

	lines := []string{fmt.Sprintf("📱 <b>Devices</b> (%d)", len(list))}
	for _, d := range list {
		id := devices.TargetID(d)
		mark := "▫️"
		if _, ok := chosen[id]; ok || sel.All {
			mark = "☑️"
		}
		dot := "⚪"
		if d.LoggedIn() {
			dot = "🟢"
		}
		state := d.State
		if state == "" {
			state = "unknown"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s <code>%s</code> <i>%s</i>",
			mark, dot, html.EscapeString(devices.DisplayName(d)), html.EscapeString(id), html.EscapeString(state)))
	}
	lines = append(lines, "", "Use <code>/select &lt;id...|all|none&gt;</code> to choose status targets.")
	b.router.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}

func (b *Bot) cmdSelect(ctx context.Context, req *Request) error {
	form := b.Form(req.Chat)
	ids := splitIDs(req.Args.Pos)
	if len(ids) == 0 {
		b.router.reply(ctx, req.Chat, "Selected: "+describeSelection(form.Selection()))
		return nil
	}

	var sel devices.Selection
	switch strings.ToLower(ids[0]) {
	case "all":
		sel = devices.SelectAll()
	case "none", "clear":
	default:
		sel = devices.SelectIDs(ids...)
	}
	form.Select(sel)

	text := "Selected: " + describeSelection(sel)
	if !sel.All && len(sel.IDs) > 0 {
		unknown, err := b.devices.Unknown(ctx, sel)
		if err != nil {
			req.Logger.Warn("device lookup failed", logx.Err(err))
		} else if len(unknown) > 0 {
			text += "\nUnknown devices (ignored on send): " + strings.Join(unknown, ", ")
		}
	}
	b.router.reply(ctx, req.Chat, text)
	return nil
}

func (b *Bot) cmdDraft(ctx context.Context, req *Request) error {
	f, sel := b.Form(req.Chat).Snapshot()
	lines := []string{
		"📝 <b>Draft</b>",
		"Type: <code>" + html.EscapeString(string(f.Type)) + "</code>",
	}
	if f.Type != message.Status {
		lines = append(lines, "Recipient: <code>"+html.EscapeString(orDash(f.Recipient))+"</code>")
	}
	lines = append(lines, "Text: "+html.EscapeString(orDash(preview(f.Text, 200))))
	if f.IsForwarded {
		lines = append(lines, "Forwarded: yes")
	}
	if f.MentionEveryone {
		lines = append(lines, "Mention everyone: yes")
	}
	if f.ReplyMessageID != "" {
		lines = append(lines, "Reply to: <code>"+html.EscapeString(f.ReplyMessageID)+"</code>")
	}
	if f.DurationSeconds > 0 {
		lines = append(lines, fmt.Sprintf("Disappears after: %ds", f.DurationSeconds))
	}
	if f.Type == message.Status {
		lines = append(lines, "Devices: "+html.EscapeString(describeSelection(sel)))
	}
	if b.sessions != nil {
		if s, ok := b.sessions.Session(); ok {
			lines = append(lines, "", fmt.Sprintf("⏳ %s dispatch in progress (%d targets, %s)",
				s.Mode, len(s.Targets), time.Since(s.StartedAt).Round(time.Second)))
		}
	}
	b.router.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}

func (b *Bot) cmdCancel(ctx context.Context, req *Request) error {
	b.Form(req.Chat).Reset()
	b.router.reply(ctx, req.Chat, "Draft cleared.")
	return nil
}

func (b *Bot) cmdAudit(ctx context.Context, req *Request) error {
	if b.history == nil {
		b.router.reply(ctx, req.Chat, "Audit log is disabled.")
		return nil
	}
	limit := 10
	if len(req.Args.Pos) > 0 {
		n, err := strconv.Atoi(req.Args.Pos[0])
		if err != nil || n <= 0 {
			return usageError("/audit [count]")
		}
		limit = min(n, 50)
	}
	recs, err := b.history.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	if len(recs) == 0 {
		b.router.reply(ctx, req.Chat, "No dispatches recorded yet.")
		return nil
	}
	lines := []string{fmt.Sprintf("🧾 <b>Recent dispatches</b> (%d)", len(recs))}
	for _, r := range recs {
		line := fmt.Sprintf("%s %s/%s <code>%s</code> ✅%d ❌%d",
			r.At.Local().Format("01-02 15:04:05"), html.EscapeString(r.Source), html.EscapeString(r.Mode),
			html.EscapeString(r.Recipient), r.Success, r.Failure)
		if r.Error != "" {
			line += " - " + html.EscapeString(preview(r.Error, 80))
		}
		lines = append(lines, line)
	}
	b.router.replyHTML(ctx, req.Chat, strings.Join(lines, "\n"))
	return nil
}

func (b *Bot) cmdHelp(ctx context.Context, req *Request) error {
	name := ""
	if len(req.Args.Pos) > 0 {
		name = req.Args.Pos[0]
	}
	b.router.replyHTML(ctx, req.Chat, b.router.helpText(name, b.router.isOwner(req.FromID)))
	return nil
}

// splitIDs flattens space and comma separated device IDs.
func splitIDs(args []string) []string {
	var out []string
	for _, a := range args {
		for _, id := range strings.Split(a, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return lo.Uniq(out)
}

func describeSelection(sel devices.Selection) string {
	switch {
	case sel.All:
		return "all devices"
	case sel.Empty():
		return "none"
	default:
		return strings.Join(sel.IDs, ", ")
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
