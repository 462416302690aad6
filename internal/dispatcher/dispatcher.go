package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/copterviz/internal/dispatcher"

var (
	// ErrClosed is returned when dispatching to a buffered handler after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrSkip, returned from a Precheck, drops the event and replies "ignored".
	ErrSkip = errors.New("event skipped")
)

// Event represents an incoming feed command such as :POSE: or :SHAPE:.
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	queue      string
	blocking   bool
	logged     bool
	precheck   func(Event) error
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Queue names the queue a buffered handler consumes from. Handlers sharing a
// name are served by one goroutine in dispatch order. The first registration
// on a queue fixes its size. Without Queue each command gets its own queue.
func Queue(name string) Option {
	return func(c *config) {
		c.queue = name
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Precheck runs fn synchronously before the event is queued, so malformed
// events are rejected to the caller instead of failing on the consumer.
func Precheck(fn func(Event) error) Option {
	return func(c *config) {
		c.precheck = fn
	}
}

// queue is one ordered consumer shared by the commands registered on it.
type queue struct {
	events chan Event

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func (q *queue) handler(command string) HandlerFunc {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[command]
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter

	// Track queues for gauge callback and Close
	mu     sync.RWMutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		queues:   make(map[string]*queue),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for name, q := range d.queues {
				o.ObserveInt64(d.queueSize, int64(len(q.events)),
					metric.WithAttributes(attribute.String("queue", name)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.events.failed",
		metric.WithDescription("Total buffered events whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.bufferSize > 0 {
		name := cfg.queue
		if name == "" {
			name = command
		}
		handler = d.withQueue(name, command, cfg.bufferSize, cfg.blocking, handler)
	}

	if cfg.precheck != nil {
		handler = withPrecheck(cfg.precheck, handler)
	}

	if cfg.logged {
		handler = d.withLogging(command, handler)
	}

	d.handlers[command] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[e.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	return h(e)
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	_, ok := d.handlers[command]
	return ok
}

// queueFor returns the named queue, starting its consumer on first use.
func (d *Dispatcher) queueFor(name string, size int) *queue {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[name]; ok {
		return q
	}

	q := &queue{
		events:   make(chan Event, size),
		handlers: make(map[string]HandlerFunc),
	}
	d.queues[name] = q

	d.wg.Add(1)
	go d.consume(name, q)

	return q
}

func (d *Dispatcher) consume(name string, q *queue) {
	defer d.wg.Done()
	for e := range q.events {
		cmdAttr := metric.WithAttributes(attribute.String("command", e.Command))
		h := q.handler(e.Command)
		if h == nil {
			d.logger.Error("no consumer for queued event", "queue", name, "command", e.Command)
			continue
		}
		if _, err := h(e); err != nil {
			d.failed.Add(context.Background(), 1, cmdAttr)
			d.logger.Error("buffered event failed", "command", e.Command, "queue", name, "error", err)
		}
		d.processed.Add(context.Background(), 1, cmdAttr)
	}
}

func (d *Dispatcher) withQueue(name, command string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	q := d.queueFor(name, size)

	q.mu.Lock()
	q.handlers[command] = h
	q.mu.Unlock()

	cmdAttr := attribute.String("command", command)

	// The read lock is held across the send so Close cannot close the
	// channel underneath a sender.
	if blocking {
		return func(e Event) (any, error) {
			d.mu.RLock()
			defer d.mu.RUnlock()
			if d.closed {
				return nil, ErrClosed
			}
			q.events <- e
			return "queued", nil
		}
	}

	return func(e Event) (any, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return nil, ErrClosed
		}
		select {
		case q.events <- e:
			return "queued", nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(cmdAttr))
			return nil, fmt.Errorf("queue full: %s", command)
		}
	}
}

func withPrecheck(check func(Event) error, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		if err := check(e); err != nil {
			if errors.Is(err, ErrSkip) {
				return "ignored", nil
			}
			return nil, err
		}
		return h(e)
	}
}

// Close stops accepting buffered events and waits until every queued event
// has been handled. Synchronous handlers keep working.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q.events)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "args", len(e.Args))

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
