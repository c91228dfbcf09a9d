// Package bot is the Telegram operator surface: owner-only slash commands
// that edit a per-chat draft and submit it through the compose service.
package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"wasender/internal/compose"
	"wasender/internal/devices"
	"wasender/internal/dispatch"
	"wasender/internal/message"
	"wasender/internal/notifier"
	"wasender/internal/schedule"
	"wasender/internal/storage"
	kit "wasender/internal/transport"
	logx "wasender/pkg/logx"
)

// Submitter is implemented by compose.Service.
type Submitter interface {
	Submit(ctx context.Context, form *compose.Form, actor compose.Actor, sink compose.Sink) (dispatch.Result, error)
}

// DeviceLister is implemented by devices.Registry.
type DeviceLister interface {
	List(ctx context.Context) ([]devices.Device, error)
	Unknown(ctx context.Context, sel devices.Selection) ([]string, error)
}

// History is implemented by storage.Store.
type History interface {
	Recent(ctx context.Context, limit int) ([]storage.DispatchRecord, error)
}

// SessionReader is implemented by dispatch.Engine.
type SessionReader interface {
	Session() (dispatch.Session, bool)
}

// Schedules is implemented by schedule.Service.
type Schedules interface {
	Snapshot() []schedule.Info
	RunNow(ctx context.Context, name string) (dispatch.Result, error)
}

type Deps struct {
	Sender   kit.Sender
	Notifier notifier.Notifier
	Composer Submitter
	Devices  DeviceLister
	// History, Sessions and Schedules are optional.
	History        History
	Sessions       SessionReader
	Schedules      Schedules
	Owners         []int64
	CommandTimeout time.Duration
	Logger         logx.Logger
}

type Bot struct {
	router   *Router
	notify   notifier.Notifier
	composer Submitter
	devices  DeviceLister
	history  History
	sessions SessionReader
	sched    Schedules
	log      logx.Logger

	mu    sync.Mutex
	forms map[kit.ChatTarget]*compose.Form
}

func New(d Deps) (*Bot, error) {
	if d.Sender == nil || d.Notifier == nil || d.Composer == nil || d.Devices == nil {
		return nil, errors.New("bot: sender, notifier, composer and devices are required")
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		router:   NewRouter(d.Sender, log, d.Owners),
		notify:   d.Notifier,
		composer: d.Composer,
		devices:  d.Devices,
		history:  d.History,
		sessions: d.Sessions,
		sched:    d.Schedules,
		log:      log,
		forms:    map[kit.ChatTarget]*compose.Form{},
	}
	b.router.SetDefaultTimeout(d.CommandTimeout)
	b.router.Register(b.commands()...)
	return b, nil
}

// Router exposes the command router, mostly for tests.
func (b *Bot) Router() *Router { return b.router }

// Apply updates reloadable settings.
func (b *Bot) Apply(owners []int64, commandTimeout time.Duration) {
	b.router.SetOwners(owners)
	b.router.SetDefaultTimeout(commandTimeout)
}

// Run routes updates until ctx is done or updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	if err := b.router.PublishMenu(ctx); err != nil {
		b.log.Warn("menu update failed", logx.Err(err))
	}
	return b.router.Run(ctx, updates)
}

// Form returns the draft of a chat, creating it on first use.
func (b *Bot) Form(chat kit.ChatTarget) *compose.Form {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.forms[chat]
	if !ok {
		f = compose.NewForm()
		b.forms[chat] = f
	}
	return f
}

// submit runs the chat's draft and posts the outcome lines as one message.
// Validation errors are returned so the middleware replies with them.
func (b *Bot) submit(ctx context.Context, req *Request, form *compose.Form) error {
	sink := notifier.NewChatSink(b.notify, req.Chat)
	_, err := b.composer.Submit(ctx, form, compose.Actor{ID: req.FromID}, sink)
	if ferr := sink.Flush(context.WithoutCancel(ctx)); ferr != nil {
		req.Logger.Warn("outcome notification dropped", logx.Err(ferr))
	}
	if err == nil {
		return nil
	}
	var verr *message.ValidationError
	if errors.As(err, &verr) {
		return err
	}
	// already reported through the sink
	return nil
}
