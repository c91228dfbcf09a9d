// Package schedule submits configured messages on cron triggers. Each entry
// is a full draft (recipient, text, device selection) run through the
// compose service, so scheduled sends follow the same single and broadcast
// rules as operator sends.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wasender/internal/compose"
	"wasender/internal/config"
	"wasender/internal/devices"
	"wasender/internal/dispatch"
	"wasender/internal/message"
	"wasender/internal/notifier"
	kit "wasender/internal/transport"
	logx "wasender/pkg/logx"
)

// Submitter is implemented by compose.Service.
type Submitter interface {
	Submit(ctx context.Context, form *compose.Form, actor compose.Actor, sink compose.Sink) (dispatch.Result, error)
}

// Entry is one scheduled send.
type Entry struct {
	Name      string
	Spec      string
	Fields    message.Fields
	Selection devices.Selection
	Disabled  bool
}

type Config struct {
	Enabled  bool
	Timezone string
	Entries  []Entry
}

// FromConfig maps the file configuration. Devices ["all"] selects every
// device.
func FromConfig(sc config.SchedulerConfig, items []config.ScheduleConfig) (Config, error) {
	out := Config{Enabled: sc.Enabled, Timezone: strings.TrimSpace(sc.Timezone)}
	var errs []error
	for _, it := range items {
		typ, err := message.ParseRecipientType(it.Type)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", it.Name, err))
			continue
		}
		e := Entry{
			Name: strings.TrimSpace(it.Name),
			Spec: it.Spec,
			Fields: message.Fields{
				Type:            typ,
				Recipient:       it.Recipient,
				Text:            it.Text,
				IsForwarded:     it.Forwarded,
				MentionEveryone: it.MentionEveryone,
				DurationSeconds: it.Duration,
			},
			Disabled: it.Disabled,
		}
		switch {
		case len(it.Devices) == 1 && strings.EqualFold(strings.TrimSpace(it.Devices[0]), "all"):
			e.Selection = devices.SelectAll()
		case len(it.Devices) > 0:
			e.Selection = devices.SelectIDs(it.Devices...)
		}
		out.Entries = append(out.Entries, e)
	}
	return out, errors.Join(errs...)
}

// Validate checks every entry's spec and draft without registering them.
func Validate(cfg Config) error {
	var errs []error
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", cfg.Timezone, err))
		}
	}
	for _, e := range cfg.Entries {
		if _, err := NormalizeSpec(e.Spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", e.Name, err))
		}
		if err := message.Validate(e.Fields); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", e.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Info is the runtime view of one entry.
type Info struct {
	Name     string
	Spec     string
	Disabled bool
	Next     time.Time
	Prev     time.Time
	LastRun  time.Time
	LastErr  string
	Success  int
	Failure  int
}

type Option func(*Service)

func WithLogger(l logx.Logger) Option { return func(s *Service) { s.log = l } }

// WithReport posts each run's outcome lines to a chat.
func WithReport(n notifier.Notifier, target kit.ChatTarget) Option {
	return func(s *Service) {
		s.notify = n
		s.target = target
	}
}

type entryState struct {
	Entry
	spec    string
	id      cron.EntryID
	lastRun time.Time
	lastErr string
	success int
	failure int
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	entries []*entryState
	c       *cron.Cron
	loc     *time.Location
	started bool
	baseCtx context.Context

	composer Submitter
	log      logx.Logger
	notify   notifier.Notifier
	target   kit.ChatTarget
}

func New(composer Submitter, opts ...Option) *Service {
	s := &Service{composer: composer, log: logx.Nop(), baseCtx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply replaces the configuration. Invalid entries are skipped and
// reported in the returned error; a running scheduler is restarted with the
// valid ones.
func (s *Service) Apply(cfg Config) error {
	entries, err := buildEntries(cfg.Entries)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.entries = entries
	if s.started {
		s.restartLocked()
	}
	return err
}

func buildEntries(in []Entry) ([]*entryState, error) {
	var (
		out  []*entryState
		errs []error
	)
	for _, e := range in {
		spec, err := NormalizeSpec(e.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", e.Name, err))
			continue
		}
		out = append(out, &entryState{Entry: e, spec: spec})
	}
	return out, errors.Join(errs...)
}

// Start begins triggering. Runs use ctx as their parent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.baseCtx = ctx
	s.restartLocked()
}

// Stop halts triggering and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) restartLocked() {
	if s.c != nil {
		// running jobs finish on their own; waiting here would block on s.mu
		s.c.Stop()
		s.c = nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}
	s.loc = loc

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	active := 0
	for _, e := range s.entries {
		e.id = 0
		if e.Disabled {
			continue
		}
		name := e.Name
		id, err := c.AddFunc(e.spec, func() { _, _ = s.run(s.baseCtx, name) })
		if err != nil {
			s.log.Warn("schedule rejected", logx.String("name", name), logx.Err(err))
			continue
		}
		e.id = id
		active++
	}
	c.Start()
	s.c = c
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("schedules", active))
}

// RunNow submits the named entry immediately, bypassing its trigger.
func (s *Service) RunNow(ctx context.Context, name string) (dispatch.Result, error) {
	return s.run(ctx, name)
}

func (s *Service) lookup(name string) (*entryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

func (s *Service) run(ctx context.Context, name string) (dispatch.Result, error) {
	e, ok := s.lookup(name)
	if !ok {
		return dispatch.Result{}, fmt.Errorf("unknown schedule %q", name)
	}
	form := compose.NewForm()
	form.Update(func(f *message.Fields) { *f = e.Fields })
	form.Select(e.Selection)

	log := s.log.With(logx.String("schedule", name))
	sink := &runSink{name: name, log: log}
	if s.notify != nil {
		sink.chat = notifier.NewChatSink(s.notify, s.target)
	}

	start := time.Now()
	res, err := s.composer.Submit(ctx, form, compose.Actor{}, sink)
	if sink.chat != nil {
		if ferr := sink.chat.Flush(context.WithoutCancel(ctx)); ferr != nil {
			log.Warn("schedule report dropped", logx.Err(ferr))
		}
	}

	s.mu.Lock()
	e.lastRun = start
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	e.success += res.SuccessCount
	e.failure += res.FailureCount
	s.mu.Unlock()

	if err != nil {
		log.Warn("scheduled send failed", logx.Err(err))
	} else {
		log.Info("scheduled send done",
			logx.String("dispatch", res.ID),
			logx.Int("success", res.SuccessCount),
			logx.Int("failure", res.FailureCount),
			logx.Duration("took", res.Took),
		)
	}
	return res, err
}

// Snapshot lists the configured entries in config order.
func (s *Service) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		it := Info{
			Name:     e.Name,
			Spec:     e.spec,
			Disabled: e.Disabled,
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
			Success:  e.success,
			Failure:  e.failure,
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		out = append(out, it)
	}
	return out
}

// runSink logs outcome lines and mirrors them to the report chat.
type runSink struct {
	name string
	log  logx.Logger
	chat *notifier.ChatSink
}

func (r *runSink) Success(ctx context.Context, text string) {
	r.log.Debug("schedule outcome", logx.String("line", text))
	if r.chat != nil {
		r.chat.Success(ctx, "["+r.name+"] "+text)
	}
}

func (r *runSink) Failure(ctx context.Context, text string) {
	r.log.Debug("schedule outcome", logx.String("line", text))
	if r.chat != nil {
		r.chat.Failure(ctx, "["+r.name+"] "+text)
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
