// Package coordinator implements the relay's coordination core.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/chapterrelay/internal/protocol"
)

var (
	// ErrUnknownConnection is returned when an operation names a connection
	// that is not registered.
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrDuplicateConnection is returned when a connection id is registered twice.
	ErrDuplicateConnection = errors.New("connection already registered")
)

// ConnectionID identifies one transport session. Ids are assigned at accept
// time and never reused.
type ConnectionID string

// Role is the part a connection plays once it has announced itself.
type Role string

const (
	RoleUnidentified Role = "unidentified"
	RoleControlApp   Role = "control-app"
	RoleWorker       Role = "worker"
)

// RoleForClientType maps the clientType of an identify message to a Role.
// Unrecognized client types stay unidentified.
func RoleForClientType(clientType string) Role {
	switch clientType {
	case protocol.ClientTypeControlApp:
		return RoleControlApp
	case protocol.ClientTypeWorker:
		return RoleWorker
	default:
		return RoleUnidentified
	}
}

// Peer is the transport handle for one connection. Implementations must not
// block: Send queues the envelope and Ping queues a liveness probe.
type Peer interface {
	Send(env protocol.Envelope) error
	Ping() error
	Close(reason string)
}

// Connection is the registry entry for one live transport session.
//
// Lifecycle:
//   - created unidentified when the transport accepts the session
//   - Role and Name are set by an identify message
//   - removed on transport close, heartbeat timeout, or replacement by a
//     newer worker
type Connection struct {
	ConnectedAt time.Time    // Accept time
	peer        Peer         // Transport handle, owned by the registry
	ID          ConnectionID // Unique connection identifier
	Role        Role         // Declared role
	ClientType  string       // Raw clientType from the identify message
	Name        string       // Client supplied display name
	Alive       bool         // Cleared before each probe, set by the probe response
}

// DisplayName returns the client supplied name, or the id when the client
// has not identified itself.
func (c *Connection) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.ID)
}

// Registry tracks every live connection and the two role slots.
//
// The worker and control-app slots are direct lookups kept current by
// Identify and Remove, so role resolution never scans the connection set.
// At most one connection holds RoleWorker at any time: identifying a new
// worker removes every other worker first.
//
// Concurrency Model:
// The registry is not safe for concurrent use. It is owned by the
// coordinator's event loop and only mutated from there.
type Registry struct {
	conns      map[ConnectionID]*Connection
	order      []ConnectionID // Accept order, used for stable broadcasts and rosters
	worker     ConnectionID
	controlApp ConnectionID
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnectionID]*Connection),
	}
}

// Add stores a new unidentified connection.
//
// Parameters:
//   - id: Identifier assigned by the transport at accept time
//   - peer: Transport handle used to reach the client
//   - now: Accept time
//
// Returns:
//   - *Connection: The new entry
//   - error: ErrDuplicateConnection if id is already registered
func (r *Registry) Add(id ConnectionID, peer Peer, now time.Time) (*Connection, error) {
	if _, exists := r.conns[id]; exists {
		return nil, ErrDuplicateConnection
	}
	conn := &Connection{
		ID:          id,
		Role:        RoleUnidentified,
		Alive:       true,
		ConnectedAt: now,
		peer:        peer,
	}
	r.conns[id] = conn
	r.order = append(r.order, id)
	return conn, nil
}

// Get returns the connection registered under id.
func (r *Registry) Get(id ConnectionID) (*Connection, bool) {
	conn, ok := r.conns[id]
	return conn, ok
}

// Identify records the role and display name a connection announced.
//
// When role is RoleWorker every other worker connection is removed from the
// registry before the new one takes the slot. The removed entries are
// returned so the caller can close their transports and announce the
// disconnect; Identify itself performs no I/O.
//
// A connection that re-announces with a different role gives up the slot it
// held before.
//
// Parameters:
//   - id: Connection that sent the identify message
//   - role: Role derived from the announced client type
//   - clientType: Raw client type string, kept for status reporting
//   - name: Display name
//
// Returns:
//   - []*Connection: Worker connections displaced by this announcement
//   - error: ErrUnknownConnection if id is not registered
//
// Example:
//
//	evicted, err := registry.Identify(id, RoleWorker, "chrome-extension", "ext")
//	for _, old := range evicted {
//	    old.peer.Close("replaced by a newer worker")
//	}
func (r *Registry) Identify(id ConnectionID, role Role, clientType, name string) ([]*Connection, error) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, ErrUnknownConnection
	}

	var evicted []*Connection
	if role == RoleWorker {
		for _, otherID := range slices.Clone(r.order) {
			other := r.conns[otherID]
			if otherID != id && other.Role == RoleWorker {
				r.remove(otherID)
				evicted = append(evicted, other)
			}
		}
	}

	if conn.Role != role {
		r.clearSlot(conn)
	}
	conn.Role = role
	conn.ClientType = clientType
	conn.Name = name

	switch role {
	case RoleWorker:
		r.worker = id
	case RoleControlApp:
		r.controlApp = id
	}
	return evicted, nil
}

// Remove deletes the connection and clears any role slot it held. If the
// control-app slot is vacated, the most recently accepted remaining
// control-app connection takes it.
func (r *Registry) Remove(id ConnectionID) (*Connection, bool) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	r.remove(id)
	return conn, true
}

func (r *Registry) remove(id ConnectionID) {
	conn := r.conns[id]
	delete(r.conns, id)
	r.order = slices.DeleteFunc(r.order, func(other ConnectionID) bool { return other == id })
	r.clearSlot(conn)
}

func (r *Registry) clearSlot(conn *Connection) {
	switch conn.ID {
	case r.worker:
		r.worker = ""
	case r.controlApp:
		r.controlApp = ""
		for i := len(r.order) - 1; i >= 0; i-- {
			other := r.conns[r.order[i]]
			if other.ID != conn.ID && other.Role == RoleControlApp {
				r.controlApp = other.ID
				break
			}
		}
	}
}

// Find returns the connection currently holding role. Only RoleWorker and
// RoleControlApp have slots; RoleUnidentified never matches.
func (r *Registry) Find(role Role) (*Connection, bool) {
	var id ConnectionID
	switch role {
	case RoleWorker:
		id = r.worker
	case RoleControlApp:
		id = r.controlApp
	default:
		return nil, false
	}
	if id == "" {
		return nil, false
	}
	return r.Get(id)
}

// All returns every connection in accept order. The slice is a copy and may
// be iterated while the registry is modified.
func (r *Registry) All() []*Connection {
	out := make([]*Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conns[id])
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// Roster returns the client list sent to the control app.
func (r *Registry) Roster() []protocol.ClientSummary {
	out := make([]protocol.ClientSummary, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, protocol.ClientSummary{ID: string(id), Name: r.conns[id].Name})
	}
	return out
}
