package amqpfwd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"wasender/internal/eventbus"
	logx "wasender/pkg/logx"
)

// ErrConnectionClosed is returned from Run when the broker drops the
// connection, so a restarting supervisor redials.
var ErrConnectionClosed = errors.New("amqp connection closed")

type Config struct {
	URL          string
	Exchange     string
	ExchangeKind string
	// RoutingKey overrides the per-event key, which defaults to the event type.
	RoutingKey string
	Producer   string
}

func (c Config) withDefaults() Config {
	if c.ExchangeKind == "" {
		c.ExchangeKind = "topic"
	}
	if c.Producer == "" {
		c.Producer = "wasender"
	}
	return c
}

// Publisher sends one JSON body and waits for the broker confirm.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env Envelope, body []byte) error
	// Closed is closed when the underlying connection is gone.
	Closed() <-chan struct{}
	Close() error
}

// Dialer opens a Publisher for cfg.
type Dialer func(ctx context.Context, cfg Config) (Publisher, error)

type Option func(*Forwarder)

func WithLogger(log logx.Logger) Option { return func(f *Forwarder) { f.log = log } }

func WithDialer(d Dialer) Option { return func(f *Forwarder) { f.dial = d } }

// Forwarder mirrors dispatch outcomes from the bus to the broker.
type Forwarder struct {
	cfg  Config
	log  logx.Logger
	dial Dialer

	mu        sync.Mutex
	published uint64
	failed    uint64
}

func New(cfg Config, opts ...Option) *Forwarder {
	f := &Forwarder{cfg: cfg.withDefaults(), log: logx.Nop(), dial: DialWithRetry}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Stats reports published and failed envelope counts.
func (f *Forwarder) Stats() (published, failed uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published, f.failed
}

// Run dials, then forwards events until ctx is done or the connection drops.
func (f *Forwarder) Run(ctx context.Context, bus eventbus.Bus) error {
	pub, err := f.dial(ctx, f.cfg)
	if err != nil {
		return err
	}
	defer pub.Close()
	f.log.Info("event forwarder connected", logx.String("exchange", f.cfg.Exchange), logx.String("kind", f.cfg.ExchangeKind))

	ch, unsub := eventbus.SubscribePrefix(bus, 128, "dispatch.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pub.Closed():
			return ErrConnectionClosed
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			f.forward(ctx, pub, e)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, pub Publisher, e eventbus.Event) {
	env, ok := BuildEnvelope(e, f.cfg.Producer, uuid.NewString)
	if !ok {
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		f.log.Warn("event marshal failed", logx.Err(err))
		return
	}
	key := f.cfg.RoutingKey
	if key == "" {
		key = env.Meta.Type
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = pub.Publish(pctx, key, env, body)
	cancel()

	f.mu.Lock()
	if err != nil {
		f.failed++
	} else {
		f.published++
	}
	f.mu.Unlock()
	if err != nil {
		f.log.Warn("event publish failed",
			logx.String("type", env.Meta.Type),
			logx.String("dispatch_id", env.Meta.CorrelationID),
			logx.Err(err),
		)
		return
	}
	f.log.Debug("event published", logx.String("type", env.Meta.Type), logx.String("routing_key", key))
}

// DialWithRetry connects with exponential backoff until it succeeds or ctx
// is done, then declares the exchange and enables publisher confirms.
func DialWithRetry(ctx context.Context, cfg Config) (Publisher, error) {
	delay := 500 * time.Millisecond
	const maxDelay = 30 * time.Second
	for {
		p, err := dial(cfg.withDefaults())
		if err == nil {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("amqp dial: %w", errors.Join(err, ctx.Err()))
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

type amqpPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	confirms chan amqp.Confirmation
	closed   chan struct{}
}

func dial(cfg Config) (*amqpPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url is empty")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeKind, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	p := &amqpPublisher{
		conn:     conn,
		ch:       ch,
		exchange: cfg.Exchange,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		closed:   make(chan struct{}),
	}
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		<-notify
		close(p.closed)
	}()
	return p, nil
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, env Envelope, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		AppId:         env.Meta.Producer,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
	if err != nil {
		return err
	}
	select {
	case c, ok := <-p.confirms:
		if !ok {
			return ErrConnectionClosed
		}
		if !c.Ack {
			return fmt.Errorf("broker nacked delivery %d", c.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *amqpPublisher) Closed() <-chan struct{} { return p.closed }

func (p *amqpPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
