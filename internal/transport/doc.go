// Package transport carries relay envelopes over WebSocket using
// gorilla/websocket.
//
// Each accepted session becomes a Peer registered with a Hub (the
// coordinator). The request goroutine reads frames and delivers them; a
// write pump goroutine owns every write to the socket, so Send and Ping
// never block the coordinator's event loop.
//
// Liveness probes are WebSocket ping control frames. A pong control frame
// is reported to the hub with Pong.
//
// Closing:
//
//	relay evicts   → Peer.Close(reason) → close frame 1001 with reason
//	client closes  → read loop ends     → Hub.Disconnect(id, reason)
//	server stops   → Server.Shutdown    → every peer closed, sessions drained
package transport
