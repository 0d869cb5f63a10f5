// Package coordinator implements the relay's coordination core.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrStopped is returned by queries made after the event loop has exited.
var ErrStopped = errors.New("coordinator stopped")

// Config holds the coordinator's tunables.
type Config struct {
	HeartbeatInterval time.Duration // Liveness probe period
	RetryBackoff      time.Duration // Delay before retrying a failed item
	EventBuffer       int           // Capacity of the event channel
}

// DefaultConfig returns the reference timings: 10s heartbeat, 5s retry backoff.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		RetryBackoff:      5 * time.Second,
		EventBuffer:       256,
	}
}

// Coordinator serializes every state transition of a Relay onto one
// goroutine.
//
// Transport goroutines call Connect, Deliver, Pong and Disconnect, which
// post events and return without waiting. The heartbeat ticker and the
// retry backoff timer post onto the same channel, so registry and queue
// mutations never interleave and need no locks.
//
//	transport ──┐
//	ticker    ──┼──▶ events ──▶ Run loop ──▶ Relay ──▶ Peer.Send
//	backoff   ──┘
//
// Messages from one connection are handled in arrival order.
type Coordinator struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	relay   *Relay
	monitor *HeartbeatMonitor
	events  chan func()
	done    chan struct{}
	newID   func() ConnectionID
}

// New creates a coordinator. Call Run to start processing events.
//
// Parameters:
//   - cfg: Timings and buffer sizes
//   - clock: Time source; clockwork.NewRealClock() in production
//   - logger: Structured logger shared with the relay
//
// Example:
//
//	coord := coordinator.New(coordinator.DefaultConfig(), clockwork.NewRealClock(), logger)
//	go coord.Run(ctx)
//	id := coord.Connect(peer)
func New(cfg Config, clock clockwork.Clock, logger *slog.Logger) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	c := &Coordinator{
		clock:  clock,
		logger: logger,
		events: make(chan func(), cfg.EventBuffer),
		done:   make(chan struct{}),
		newID:  func() ConnectionID { return ConnectionID(uuid.NewString()) },
	}
	c.relay = NewRelay(RelayOptions{
		Clock:        clock,
		Scheduler:    c,
		Logger:       logger,
		RetryBackoff: cfg.RetryBackoff,
	})
	c.monitor = NewHeartbeatMonitor(clock, cfg.HeartbeatInterval, func() {
		c.post(c.relay.Sweep)
	}, logger)
	return c
}

// Run processes events until ctx is canceled. It starts the heartbeat
// monitor and stops it on return.
func (c *Coordinator) Run(ctx context.Context) {
	c.monitor.Start(ctx)
	defer c.monitor.Stop()
	defer close(c.done)

	c.logger.Info("coordinator started")
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-ctx.Done():
			c.logger.Info("coordinator stopped")
			return
		}
	}
}

// AfterFunc schedules fn on the event loop after d.
func (c *Coordinator) AfterFunc(d time.Duration, fn func()) {
	c.clock.AfterFunc(d, func() { c.post(fn) })
}

func (c *Coordinator) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done:
	}
}

// Connect registers a newly accepted transport session and returns its id.
func (c *Coordinator) Connect(peer Peer) ConnectionID {
	id := c.newID()
	c.post(func() { c.relay.Register(id, peer) })
	return id
}

// Deliver hands one inbound text frame to the router.
func (c *Coordinator) Deliver(id ConnectionID, data []byte) {
	c.post(func() { c.relay.Handle(id, data) })
}

// Pong records a liveness probe response.
func (c *Coordinator) Pong(id ConnectionID) {
	c.post(func() { c.relay.MarkAlive(id) })
}

// Disconnect unregisters a session whose transport has closed.
func (c *Coordinator) Disconnect(id ConnectionID, reason string) {
	c.post(func() { c.relay.Unregister(id, reason) })
}

// Status returns a snapshot taken on the event loop. Because events are
// processed in order, the snapshot reflects every event posted before the
// call.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	fn := func() { reply <- c.relay.Status() }

	select {
	case c.events <- fn:
	case <-c.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	select {
	case st := <-reply:
		return st, nil
	case <-c.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}
