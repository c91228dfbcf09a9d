package bot

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "wasender/internal/runtime/supervisor"
	kit "wasender/internal/transport"
	logx "wasender/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Public commands skip the owner check.
	Public bool
	// BoolFlags never take the next token as their value.
	BoolFlags []string
	Timeout   time.Duration
	Handle    HandlerFunc
}

type Request struct {
	Chat      kit.ChatTarget
	FromID    int64
	MessageID int
	Command   string
	Args      Args
	ReqID     string
	Logger    logx.Logger
}

// Router maps slash commands to handlers and runs them on a bounded worker
// pool.
type Router struct {
	mu      sync.RWMutex
	cmds    []Command
	byName  map[string]int
	owners  []int64
	timeout time.Duration

	log     logx.Logger
	sender  kit.Sender
	workers int
	jobs    chan func()
}

func NewRouter(sender kit.Sender, log logx.Logger, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		byName:  map[string]int{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		sender:  sender,
		workers: 2,
		jobs:    make(chan func(), 64),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetDefaultTimeout applies to commands without their own Timeout.
func (r *Router) SetDefaultTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Register adds cmds. A later command with the same name or alias replaces
// the earlier one.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		idx, ok := r.byName[name]
		if ok {
			r.cmds[idx] = c
		} else {
			idx = len(r.cmds)
			r.cmds = append(r.cmds, c)
		}
		r.byName[name] = idx
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				r.byName[a] = idx
			}
		}
	}
}

// Commands returns the registered commands in registration order.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Command(nil), r.cmds...)
}

func (r *Router) lookup(word string) (Command, time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[word]
	if !ok {
		return Command{}, 0, false
	}
	return r.cmds[idx], r.timeout, true
}

// PublishMenu pushes the command list to the platform menu when the sender
// supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	var menu []kit.BotCommand
	for _, c := range r.Commands() {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menu)
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log.With(logx.String("comp", "bot.router"))))
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	req, h, ok := r.prepare(ctx, up)
	if !ok {
		return
	}
	select {
	case r.jobs <- func() { _ = h(ctx, req) }:
	default:
		r.reply(ctx, req.Chat, "busy, try again")
	}
}

// prepare resolves an update into a request and its wrapped handler. It
// answers unknown and unauthorized commands itself.
func (r *Router) prepare(ctx context.Context, up kit.Update) (*Request, HandlerFunc, bool) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return nil, nil, false
	}
	msg := up.Message
	parts := tokenize(msg.Text)
	if len(parts) == 0 {
		return nil, nil, false
	}
	word := commandWord(parts[0])
	if word == "" {
		return nil, nil, false
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, defTimeout, ok := r.lookup(word)
	if !ok {
		if r.isOwner(msg.FromID) {
			r.reply(ctx, chat, "unknown command, try /help")
		}
		return nil, nil, false
	}
	if !cmd.Public && !r.isOwner(msg.FromID) {
		r.log.Warn("unauthorized command", logx.Int64("from_id", msg.FromID), logx.String("cmd", cmd.Name))
		r.reply(ctx, chat, "unauthorized")
		return nil, nil, false
	}

	rid := newReqID()
	req := &Request{
		Chat:      chat,
		FromID:    msg.FromID,
		MessageID: msg.ID,
		Command:   cmd.Name,
		Args:      parseArgs(parts[1:], cmd.BoolFlags...),
		ReqID:     rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defTimeout
	}
	h := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWReplyError(func(ctx context.Context, req *Request, text string) { r.reply(ctx, req.Chat, text) }),
		MWTimeout(timeout),
	)
	return req, h, true
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := r.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (r *Router) replyHTML(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := r.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"}); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
