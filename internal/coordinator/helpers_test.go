package coordinator

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/chapterrelay/internal/protocol"
)

var (
	errPeerClosed   = errors.New("peer closed")
	errSendRejected = errors.New("send rejected")
)

// fakePeer records everything the relay sends to one connection.
type fakePeer struct {
	mu     sync.Mutex
	sent   []protocol.Envelope
	pings  int
	closed bool
	reason string

	// reject makes Send fail for envelopes of this type.
	reject string
}

func (p *fakePeer) Send(env protocol.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPeerClosed
	}
	if p.reject != "" && env.Type == p.reject {
		return errSendRejected
	}
	p.sent = append(p.sent, env)
	return nil
}

func (p *fakePeer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	return nil
}

func (p *fakePeer) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reason = reason
}

func (p *fakePeer) messages() []protocol.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Envelope(nil), p.sent...)
}

func (p *fakePeer) ofType(msgType string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range p.messages() {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) pingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

// fakeScheduler keeps delayed callbacks until advance moves virtual time
// past their deadline, then runs them synchronously in deadline order.
type fakeScheduler struct {
	clock  *clockwork.FakeClock
	timers []fakeTimer
}

type fakeTimer struct {
	at time.Time
	fn func()
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) {
	s.timers = append(s.timers, fakeTimer{at: s.clock.Now().Add(d), fn: fn})
}

func (s *fakeScheduler) advance(d time.Duration) {
	s.clock.Advance(d)
	now := s.clock.Now()

	sort.SliceStable(s.timers, func(i, j int) bool { return s.timers[i].at.Before(s.timers[j].at) })
	var due []fakeTimer
	var keep []fakeTimer
	for _, t := range s.timers {
		if t.at.After(now) {
			keep = append(keep, t)
		} else {
			due = append(due, t)
		}
	}
	s.timers = keep
	for _, t := range due {
		t.fn()
	}
}

type relayFixture struct {
	relay *Relay
	sched *fakeScheduler
}

const testBackoff = 5 * time.Second

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sched := &fakeScheduler{clock: clock}
	relay := NewRelay(RelayOptions{
		Clock:        clock,
		Scheduler:    sched,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RetryBackoff: testBackoff,
	})
	return &relayFixture{relay: relay, sched: sched}
}

// connect registers a peer and returns it.
func (f *relayFixture) connect(id ConnectionID) *fakePeer {
	peer := &fakePeer{}
	f.relay.Register(id, peer)
	return peer
}

// send delivers a typed message from id.
func (f *relayFixture) send(t *testing.T, id ConnectionID, msgType string, payload any) {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	f.relay.Handle(id, data)
}

func (f *relayFixture) controlApp(t *testing.T, id ConnectionID) *fakePeer {
	t.Helper()
	peer := f.connect(id)
	f.send(t, id, protocol.TypeIdentify, map[string]string{"clientName": "electron-app", "clientType": protocol.ClientTypeControlApp})
	return peer
}

func (f *relayFixture) worker(t *testing.T, id ConnectionID) *fakePeer {
	t.Helper()
	peer := f.connect(id)
	f.send(t, id, protocol.TypeIdentify, map[string]string{"clientName": "extension", "clientType": protocol.ClientTypeWorker})
	return peer
}

func (f *relayFixture) requestChapter(t *testing.T, from ConnectionID, sourceURL, title string) {
	t.Helper()
	f.send(t, from, protocol.TypeStartTranslation, map[string]string{
		"bookKey":   "book",
		"prompt":    "translate",
		"title":     title,
		"sourceUrl": sourceURL,
	})
}

func (f *relayFixture) completeChapter(t *testing.T, from ConnectionID, sourceURL string) {
	t.Helper()
	f.send(t, from, protocol.TypeTranslationComplete, map[string]any{
		"bookKey":    "book",
		"newChapter": map[string]string{"title": sourceURL, "sourceUrl": sourceURL, "content": "done"},
	})
}

func (f *relayFixture) failChapter(t *testing.T, from ConnectionID, sourceURL string) {
	t.Helper()
	f.send(t, from, protocol.TypeTranslationFailed, map[string]string{
		"bookKey":   "book",
		"title":     sourceURL,
		"sourceUrl": sourceURL,
	})
}

// sourceURLs extracts payload.sourceUrl from each envelope.
func sourceURLs(t *testing.T, envs []protocol.Envelope) []string {
	t.Helper()
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		var p struct {
			SourceURL string `json:"sourceUrl"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		out = append(out, p.SourceURL)
	}
	return out
}

func decodePayload[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}
