// Package coordinator implements the relay's coordination core.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dreamware/chapterrelay/internal/protocol"
)

const (
	workerOfflineQueued = "Browser extension is offline. Request queued."
	workerOfflineText   = "Browser extension is offline."

	reasonNormalClosure  = "Normal closure"
	reasonReplacedWorker = "replaced by a newer worker"
	reasonHeartbeat      = "heartbeat timeout"
	reasonTaskUndeliver  = "task could not be delivered"
)

// Scheduler runs fn once after d. Implementations must run fn on the same
// goroutine that owns the Relay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// RelayOptions configures a Relay.
type RelayOptions struct {
	Clock        clockwork.Clock // Time source for timestamps
	Scheduler    Scheduler       // Runs the delayed retry after a failure
	Logger       *slog.Logger
	RetryBackoff time.Duration // Delay before re-dispatching a failed item
}

// Relay is the coordination state machine: connection registry, work queue,
// role resolution and message routing.
//
// Every method runs to completion before the next one starts; the Relay is
// driven by a single goroutine (see Coordinator) and holds no locks. Side
// effects are envelopes sent to peers.
type Relay struct {
	clock        clockwork.Clock
	sched        Scheduler
	logger       *slog.Logger
	registry     *Registry
	queue        *WorkQueue
	retryBackoff time.Duration
	retryPending bool // A failed item is waiting out its backoff
}

// NewRelay creates a relay with an empty registry and queue.
func NewRelay(opts RelayOptions) *Relay {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		clock:        opts.Clock,
		sched:        opts.Scheduler,
		logger:       opts.Logger,
		registry:     NewRegistry(),
		queue:        NewWorkQueue(),
		retryBackoff: opts.RetryBackoff,
	}
}

// Register adds a new unidentified connection, announces it to every client
// and sends the updated roster to the control app.
func (r *Relay) Register(id ConnectionID, peer Peer) {
	if _, err := r.registry.Add(id, peer, r.clock.Now()); err != nil {
		r.logger.Warn("register connection", slog.String("conn_id", string(id)), slog.Any("error", err))
		return
	}
	r.logger.Info("client connected", slog.String("conn_id", string(id)))

	r.broadcast(protocol.TypeClientConnected, protocol.ClientConnected{ClientID: string(id)})
	r.sendRoster()
}

// Unregister removes a connection whose transport has closed. Unknown ids
// are ignored, which covers connections the relay already evicted.
func (r *Relay) Unregister(id ConnectionID, reason string) {
	conn, ok := r.registry.Remove(id)
	if !ok {
		r.logger.Debug("unregister unknown connection", slog.String("conn_id", string(id)))
		return
	}
	r.removed(conn, reason)
}

// evict closes the connection's transport and unregisters it.
func (r *Relay) evict(conn *Connection, reason string) {
	conn.peer.Close(reason)
	if _, ok := r.registry.Remove(conn.ID); ok {
		r.removed(conn, reason)
	}
}

// removed finishes the removal of a connection that is already out of the
// registry: requeues its in-flight item and announces the disconnect.
func (r *Relay) removed(conn *Connection, reason string) {
	if reason == "" {
		reason = reasonNormalClosure
	}
	r.logger.Info("client disconnected",
		slog.String("conn_id", string(conn.ID)),
		slog.String("client", conn.DisplayName()),
		slog.String("reason", reason),
	)

	released, requeued := r.queue.Release(conn.ID)
	if requeued {
		r.logger.Warn("worker left mid-task, requeued",
			slog.String("work_key", released.Key),
			slog.String("title", released.Title),
		)
	}

	r.broadcast(protocol.TypeClientDisconnected, protocol.ClientDisconnected{
		ClientID:   string(conn.ID),
		ClientName: conn.DisplayName(),
		Reason:     reason,
	})
	r.sendRoster()

	if requeued {
		r.Dispatch()
	}
}

// Handle routes one inbound frame from connection id.
func (r *Relay) Handle(id ConnectionID, data []byte) {
	conn, ok := r.registry.Get(id)
	if !ok {
		r.logger.Warn("message from unknown connection dropped", slog.String("conn_id", string(id)))
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		r.logger.Warn("frame dropped", slog.String("conn_id", string(id)), slog.Any("error", err))
		return
	}
	r.logger.Debug("received message",
		slog.String("conn_id", string(id)),
		slog.String("type", msg.Envelope().Type),
	)

	switch m := msg.(type) {
	case *protocol.Identify:
		r.identify(conn, m)
	case *protocol.StartTranslation:
		r.requestWork(conn, m)
	case *protocol.StartBulkScrape:
		r.forwardToWorker(conn, m.Envelope())
	case *protocol.TranslationComplete:
		r.complete(conn, m)
	case *protocol.TranslationFailed:
		r.fail(conn, m)
	case *protocol.SyncPendingChapters:
		r.syncPending(conn, m)
	case *protocol.DirectMessage:
		r.forwardTo(conn, ConnectionID(m.TargetClientID), m.Envelope())
	case *protocol.CancelTask:
		r.forwardTo(conn, ConnectionID(m.TargetClientID), m.Envelope())
	case *protocol.Pong:
		r.MarkAlive(id)
	case *protocol.Unknown:
		r.relay(m.Envelope())
	default:
		r.logger.Error("unhandled message variant", slog.String("type", msg.Envelope().Type))
	}
}

func (r *Relay) identify(conn *Connection, m *protocol.Identify) {
	role := RoleForClientType(m.ClientType)
	evicted, err := r.registry.Identify(conn.ID, role, m.ClientType, m.ClientName)
	if err != nil {
		r.logger.Warn("identify", slog.String("conn_id", string(conn.ID)), slog.Any("error", err))
		return
	}
	for _, old := range evicted {
		r.logger.Info("removing previous worker", slog.String("conn_id", string(old.ID)))
		old.peer.Close(reasonReplacedWorker)
		r.removed(old, reasonReplacedWorker)
	}

	r.logger.Info("client identified",
		slog.String("conn_id", string(conn.ID)),
		slog.String("client", m.ClientName),
		slog.String("client_type", m.ClientType),
		slog.String("role", string(role)),
	)
	r.sendRoster()

	if role == RoleWorker {
		r.Dispatch()
	}
}

func (r *Relay) requestWork(conn *Connection, m *protocol.StartTranslation) {
	item := &WorkItem{
		Key:        m.SourceURL,
		Title:      m.Title,
		BookKey:    m.BookKey,
		Task:       m.Envelope(),
		EnqueuedAt: r.clock.Now(),
	}
	err := r.queue.Enqueue(item)
	switch {
	case errors.Is(err, ErrDuplicateWork):
		r.logger.Info("duplicate translation request rejected",
			slog.String("work_key", item.Key),
			slog.String("title", item.Title),
		)
		r.send(conn, protocol.TypeDuplicateRequest, protocol.DuplicateRequest{Title: m.Title, SourceURL: m.SourceURL})
		return
	case err != nil:
		r.logger.Warn("translation request dropped", slog.String("title", item.Title), slog.Any("error", err))
		return
	}

	r.logger.Info("queued translation",
		slog.String("work_key", item.Key),
		slog.String("title", item.Title),
		slog.Int("queue_len", r.queue.Len()),
	)
	r.Dispatch()
}

// Dispatch is the admission-control step. It starts the front of the queue
// when nothing is in flight, the queue is not empty, a worker is connected,
// and no failed item is waiting out its backoff. While the worker is absent
// every call tells the control app the task stays queued.
func (r *Relay) Dispatch() {
	if r.retryPending {
		r.logger.Debug("dispatch deferred until retry backoff elapses")
		return
	}
	if !r.queue.Ready() {
		return
	}

	worker, ok := r.registry.Find(RoleWorker)
	if !ok {
		r.logger.Info("worker offline, task remains queued", slog.Int("queue_len", r.queue.Len()))
		r.sendControl(protocol.TypeTaskQueued, protocol.TaskQueued{Text: workerOfflineQueued})
		return
	}

	item, _ := r.queue.Start(worker.ID)
	if err := r.sendEnvelope(worker, item.Task); err != nil {
		// A worker that cannot take the task would hold the slot forever.
		// Evicting it releases the item back to the front of the queue.
		r.evict(worker, reasonTaskUndeliver)
		return
	}
	r.sendControl(protocol.TypeTranslationStarted, protocol.TranslationStarted{SourceURL: item.Key})
	r.logger.Info("dispatched translation",
		slog.String("work_key", item.Key),
		slog.String("title", item.Title),
		slog.String("worker", worker.DisplayName()),
		slog.Int("attempt", item.Attempts),
	)
}

func (r *Relay) complete(conn *Connection, m *protocol.TranslationComplete) {
	item, err := r.queue.Complete(m.WorkKey(), conn.ID)
	if err != nil {
		r.logger.Warn("completion ignored",
			slog.String("conn_id", string(conn.ID)),
			slog.String("work_key", m.WorkKey()),
			slog.Any("error", err),
		)
		return
	}
	r.logger.Info("translation complete",
		slog.String("work_key", item.Key),
		slog.String("title", m.NewChapter.Title),
	)
	r.relay(m.Envelope())
	r.Dispatch()
}

func (r *Relay) fail(conn *Connection, m *protocol.TranslationFailed) {
	item, err := r.queue.Fail(m.SourceURL, conn.ID)
	if err != nil {
		r.logger.Warn("failure ignored",
			slog.String("conn_id", string(conn.ID)),
			slog.String("work_key", m.SourceURL),
			slog.Any("error", err),
		)
		return
	}
	r.logger.Warn("translation failed, requeued",
		slog.String("work_key", item.Key),
		slog.String("title", item.Title),
		slog.Duration("retry_in", r.retryBackoff),
	)
	r.sendControlEnvelope(m.Envelope())

	r.retryPending = true
	r.sched.AfterFunc(r.retryBackoff, func() {
		r.retryPending = false
		r.Dispatch()
	})
}

func (r *Relay) syncPending(conn *Connection, m *protocol.SyncPendingChapters) {
	keys := make([]string, 0, len(m.PendingChapters))
	for _, ch := range m.PendingChapters {
		keys = append(keys, ch.SourceURL)
	}
	reset := r.queue.Untracked(keys)
	if len(reset) == 0 {
		return
	}
	r.logger.Info("resetting stale pending chapters", slog.Int("count", len(reset)))
	r.send(conn, protocol.TypeResetPendingStatus, protocol.ResetPendingStatus{SourceURLs: reset})
}

// forwardToWorker passes a command straight to the worker, or tells the
// requester the worker is offline. Commands are never queued.
func (r *Relay) forwardToWorker(conn *Connection, env protocol.Envelope) {
	worker, ok := r.registry.Find(RoleWorker)
	if !ok {
		r.logger.Info("command rejected, worker offline", slog.String("type", env.Type))
		r.send(conn, protocol.TypeWorkerOffline, protocol.WorkerOffline{Text: workerOfflineText, Command: env.Type})
		return
	}
	r.sendEnvelope(worker, env)
}

// forwardTo delivers env to one connection with the sender stamped on it.
// Unknown targets drop the message.
func (r *Relay) forwardTo(from *Connection, target ConnectionID, env protocol.Envelope) {
	conn, ok := r.registry.Get(target)
	if !ok {
		r.logger.Debug("targeted message dropped, no such client",
			slog.String("type", env.Type),
			slog.String("target", string(target)),
		)
		return
	}
	r.sendEnvelope(conn, env.WithSender(string(from.ID)))
}

// MarkAlive records a liveness probe response.
func (r *Relay) MarkAlive(id ConnectionID) {
	if conn, ok := r.registry.Get(id); ok {
		conn.Alive = true
	}
}

func (r *Relay) sendRoster() {
	r.sendControl(protocol.TypeClientListUpdate, protocol.ClientListUpdate{ConnectedClients: r.registry.Roster()})
}

func (r *Relay) broadcast(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		r.logger.Error("encode broadcast", slog.Any("error", err))
		return
	}
	r.relay(env)
}

// relay sends env unchanged to every connection.
func (r *Relay) relay(env protocol.Envelope) {
	for _, conn := range r.registry.All() {
		r.sendEnvelope(conn, env)
	}
}

func (r *Relay) sendControl(msgType string, payload any) {
	if app, ok := r.registry.Find(RoleControlApp); ok {
		r.send(app, msgType, payload)
	}
}

func (r *Relay) sendControlEnvelope(env protocol.Envelope) {
	if app, ok := r.registry.Find(RoleControlApp); ok {
		r.sendEnvelope(app, env)
	}
}

func (r *Relay) send(conn *Connection, msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		r.logger.Error("encode message", slog.String("type", msgType), slog.Any("error", err))
		return
	}
	r.sendEnvelope(conn, env)
}

func (r *Relay) sendEnvelope(conn *Connection, env protocol.Envelope) error {
	err := conn.peer.Send(env)
	if err != nil {
		r.logger.Warn("send failed",
			slog.String("conn_id", string(conn.ID)),
			slog.String("type", env.Type),
			slog.Any("error", err),
		)
	}
	return err
}
