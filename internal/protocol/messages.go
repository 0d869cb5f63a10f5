package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the closed set of inbound messages understood by the relay.
// Every variant keeps the envelope it was decoded from so it can be relayed
// verbatim.
type Message interface {
	Envelope() Envelope
	isMessage()
}

type frame struct{ env Envelope }

func (f frame) Envelope() Envelope { return f.env }
func (frame) isMessage() {}

// Identify announces a client's name and role.
type Identify struct {
	frame
	ClientName string `json:"clientName"`
	ClientType string `json:"clientType"`
}

// StartTranslation asks for one chapter to be queued for translation.
type StartTranslation struct {
	frame
	BookKey   string `json:"bookKey"`
	Prompt    string `json:"prompt"`
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
}

// StartBulkScrape is a pass-through command for the worker. It is never queued.
type StartBulkScrape struct {
	frame
	BookKey  string          `json:"bookKey"`
	Settings json.RawMessage `json:"settings,omitempty"`
	StartURL string          `json:"startUrl"`
}

// Chapter is a translated chapter as reported by the worker.
type Chapter struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
	Content   string `json:"content"`
}

// TranslationComplete reports a finished chapter.
type TranslationComplete struct {
	frame
	BookKey            string          `json:"bookKey"`
	NewChapter         Chapter         `json:"newChapter"`
	NewGlossaryEntries json.RawMessage `json:"newGlossaryEntries,omitempty"`
	SourceURL          string          `json:"sourceUrl,omitempty"`
}

// WorkKey returns the source URL the completion refers to.
func (m TranslationComplete) WorkKey() string {
	if m.SourceURL != "" {
		return m.SourceURL
	}
	return m.NewChapter.SourceURL
}

// TranslationFailed reports that the worker gave up on a chapter.
type TranslationFailed struct {
	frame
	BookKey   string `json:"bookKey"`
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
	Error     string `json:"error,omitempty"`
}

// PendingChapter is one chapter the control app believes is still pending.
type PendingChapter struct {
	SourceURL string `json:"sourceUrl"`
	Title     string `json:"title"`
}

// SyncPendingChapters reconciles the control app's pending set with the queue.
type SyncPendingChapters struct {
	frame
	PendingChapters []PendingChapter `json:"pendingChapters"`
}

// DirectMessage is forwarded to a single target connection.
type DirectMessage struct {
	frame
	TargetClientID string          `json:"targetClientId"`
	Message        json.RawMessage `json:"message,omitempty"`
}

// CancelTask is an advisory cancellation forwarded to a single target.
type CancelTask struct {
	frame
	TargetClientID string `json:"targetClientId"`
}

// Pong answers a liveness probe for clients that cannot send control frames.
type Pong struct {
	frame
}

// Unknown is any message type the relay does not interpret.
type Unknown struct {
	frame
}

// Decode parses a text frame from a client into its typed message. Any
// senderClientId in the frame is discarded; only the relay stamps senders.
func Decode(data []byte) (Message, error) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	env.Sender = ""
	f := frame{env: env}

	var msg Message
	switch env.Type {
	case TypeIdentify:
		msg = &Identify{frame: f}
	case TypeStartTranslation:
		msg = &StartTranslation{frame: f}
	case TypeStartBulkScrape:
		msg = &StartBulkScrape{frame: f}
	case TypeTranslationComplete:
		msg = &TranslationComplete{frame: f}
	case TypeTranslationFailed:
		msg = &TranslationFailed{frame: f}
	case TypeSyncPending:
		msg = &SyncPendingChapters{frame: f}
	case TypeDirectMessage:
		msg = &DirectMessage{frame: f}
	case TypeCancelTask:
		msg = &CancelTask{frame: f}
	case TypePong:
		return &Pong{frame: f}, nil
	default:
		return &Unknown{frame: f}, nil
	}
	if err := decodePayload(env, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodePayload(env Envelope, out any) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, env.Type, err)
	}
	return nil
}

// ClientSummary is one roster entry.
type ClientSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ClientConnected struct {
	ClientID string `json:"clientId"`
}

type ClientDisconnected struct {
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
	Reason     string `json:"reason"`
}

type ClientListUpdate struct {
	ConnectedClients []ClientSummary `json:"connectedClients"`
}

type TaskQueued struct {
	Text string `json:"text"`
}

type TranslationStarted struct {
	SourceURL string `json:"sourceUrl"`
}

type DuplicateRequest struct {
	Title     string `json:"title"`
	SourceURL string `json:"sourceUrl"`
}

type ResetPendingStatus struct {
	SourceURLs []string `json:"sourceUrls"`
}

type WorkerOffline struct {
	Text    string `json:"text"`
	Command string `json:"command"`
}
