package transport

import (
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/dreamware/chapterrelay/internal/protocol"
)

var (
	// ErrSendBufferFull is returned when a slow client has not drained its
	// outbound queue.
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrPeerClosed is returned by Send and Ping after Close.
	ErrPeerClosed = errors.New("peer closed")
)

// maxCloseReason is the room left in a close frame after the status code.
const maxCloseReason = 123

const reasonSlowClient = "client too slow to receive"

// Peer is one WebSocket session. Writes are owned by a single write pump
// goroutine; Send and Ping only queue work for it and never block.
type Peer struct {
	conn         *websocket.Conn
	send         chan []byte
	ping         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	closeReason  string
	writeTimeout time.Duration
}

func newPeer(conn *websocket.Conn, buffer int, writeTimeout time.Duration) *Peer {
	return &Peer{
		conn:         conn,
		send:         make(chan []byte, buffer),
		ping:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Send queues env as a text frame. A peer whose queue is full is closed:
// it is too slow to keep up and the hub sees it disconnect.
func (p *Peer) Send(env protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		p.Close(reasonSlowClient)
		return ErrSendBufferFull
	}
}

// Ping queues a ping control frame. A ping already waiting is not
// duplicated.
func (p *Peer) Ping() error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.ping <- struct{}{}:
	default:
	}
	return nil
}

// Close sends a close frame carrying reason and shuts the connection down.
// It is safe to call more than once; only the first reason is used.
func (p *Peer) Close(reason string) {
	p.closeOnce.Do(func() {
		p.closeReason = truncateReason(reason)
		close(p.done)
	})
}

// truncateReason cuts reason to fit a close frame without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// writePump drains the send queue until the peer is closed or a write fails.
// Frames still queued when Close is called are flushed before the close frame.
func (p *Peer) writePump() {
	defer p.conn.Close()

	for {
		select {
		case data := <-p.send:
			if err := p.write(websocket.TextMessage, data); err != nil {
				p.Close("")
				return
			}
		case <-p.ping:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, p.deadline()); err != nil {
				p.Close("")
				return
			}
		case <-p.done:
			p.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, p.closeReason)
			if p.closeReason == "" {
				msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}
			_ = p.conn.WriteControl(websocket.CloseMessage, msg, p.deadline())
			return
		}
	}
}

func (p *Peer) flush() {
	for {
		select {
		case data := <-p.send:
			if err := p.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *Peer) write(messageType int, data []byte) error {
	if err := p.conn.SetWriteDeadline(p.deadline()); err != nil {
		return err
	}
	return p.conn.WriteMessage(messageType, data)
}

func (p *Peer) deadline() time.Time {
	return time.Now().Add(p.writeTimeout)
}
