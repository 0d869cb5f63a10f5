// Package coordinator implements the relay's coordination core.
// This file implements liveness monitoring for connected clients.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// HeartbeatMonitor fires a liveness round every interval.
// It owns only the ticker; the round itself (Relay.Sweep) runs on the
// coordinator's event loop, which onTick is expected to post to.
type HeartbeatMonitor struct {
	clock    clockwork.Clock    // Time source, fake in tests
	onTick   func()             // Called once per interval
	logger   *slog.Logger       // Lifecycle logging
	ctx      context.Context    // Context for cancellation
	cancel   context.CancelFunc // Cancel function for shutdown
	wg       sync.WaitGroup     // Wait group for graceful shutdown
	interval time.Duration      // Probe period
}

// NewHeartbeatMonitor creates a monitor that calls onTick every interval.
//
// Parameters:
//   - clock: Time source for the ticker
//   - interval: Probe period (reference: 10s)
//   - onTick: Callback run from the monitor goroutine on every tick
//   - logger: Logger for start and stop events
//
// Example:
//
//	monitor := NewHeartbeatMonitor(clock, 10*time.Second, func() {
//	    coordinator.post(relay.Sweep)
//	}, logger)
//	monitor.Start(ctx)
//	defer monitor.Stop()
func NewHeartbeatMonitor(clock clockwork.Clock, interval time.Duration, onTick func(), logger *slog.Logger) *HeartbeatMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatMonitor{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the ticker goroutine, which runs until ctx is canceled or
// Stop is called. Unlike a health check loop there is no round at start-up:
// a fresh connection is alive by definition.
func (h *HeartbeatMonitor) Start(ctx context.Context) {
	if ctx == nil {
		ctx = h.ctx
	}
	h.wg.Add(1)
	go h.run(ctx)
}

func (h *HeartbeatMonitor) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("heartbeat monitor started", slog.Duration("interval", h.interval))

	for {
		select {
		case <-ticker.Chan():
			h.onTick()
		case <-ctx.Done():
			h.logger.Info("heartbeat monitor stopping")
			return
		case <-h.ctx.Done():
			h.logger.Info("heartbeat monitor stopping")
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HeartbeatMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// Sweep performs one liveness round.
//
// A connection whose flag is still false did not answer the previous probe
// and is closed and unregistered. Every other connection has its flag
// cleared and is probed again. There is no grace period beyond one interval.
func (r *Relay) Sweep() {
	for _, conn := range r.registry.All() {
		if !conn.Alive {
			r.logger.Warn("client unresponsive, terminating",
				slog.String("conn_id", string(conn.ID)),
				slog.String("client", conn.DisplayName()),
			)
			r.evict(conn, reasonHeartbeat)
			continue
		}
		conn.Alive = false
		if err := conn.peer.Ping(); err != nil {
			r.logger.Warn("ping failed", slog.String("conn_id", string(conn.ID)), slog.Any("error", err))
		}
	}
}
