package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when a frame is not a JSON envelope.
var ErrMalformedFrame = errors.New("malformed frame")

// Inbound message types.
const (
	TypeIdentify            = "identify"
	TypeStartTranslation    = "start_translation"
	TypeStartBulkScrape     = "start_bulk_scrape"
	TypeTranslationComplete = "translation_complete"
	TypeTranslationFailed   = "translation_failed"
	TypeSyncPending         = "sync_pending_chapters"
	TypeDirectMessage       = "direct-message"
	TypeCancelTask          = "cancel-task"
	TypePong                = "pong"
)

// Outbound message types.
const (
	TypeClientConnected    = "client-connected"
	TypeClientDisconnected = "client-disconnected"
	TypeClientListUpdate   = "client-list-update"
	TypeTaskQueued         = "task_queued"
	TypeTranslationStarted = "translation_started"
	TypeDuplicateRequest   = "duplicate_translation_request"
	TypeResetPendingStatus = "reset_pending_status"
	TypeWorkerOffline      = "worker_offline"
)

// Client types announced in identify messages.
const (
	ClientTypeControlApp = "electron-app"
	ClientTypeWorker     = "chrome-extension"
)

var emptyPayload = json.RawMessage(`{}`)

// Envelope is the frame exchanged with every client.
// Sender is set only on messages the relay forwards point-to-point.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Sender  string          `json:"senderClientId,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType, Payload: emptyPayload}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// ParseEnvelope decodes a text frame. A missing or null payload becomes {}.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	if len(env.Payload) == 0 || bytes.Equal(env.Payload, []byte("null")) {
		env.Payload = emptyPayload
	}
	return env, nil
}

// Encode returns the wire form of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	if len(e.Payload) == 0 {
		e.Payload = emptyPayload
	}
	return json.Marshal(e)
}

// WithSender returns a copy of the envelope stamped with the sender id.
func (e Envelope) WithSender(id string) Envelope {
	e.Sender = id
	return e
}
