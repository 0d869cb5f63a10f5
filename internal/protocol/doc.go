// Package protocol defines the wire format shared by the relay and its
// clients: JSON text frames of the form
//
//	{"type": "start_translation", "payload": {...}}
//
// # Message taxonomy
//
// Inbound frames are decoded once, at the transport boundary, into the closed
// Message union (Identify, StartTranslation, StartBulkScrape,
// TranslationComplete, TranslationFailed, SyncPendingChapters, DirectMessage,
// CancelTask, Pong, Unknown). Types the relay does not interpret decode as
// Unknown and are relayed to every client unchanged, so newer clients can
// talk to each other through an older relay.
//
// Outbound payloads (ClientConnected, ClientListUpdate, TaskQueued, ...) are
// plain structs wrapped with NewEnvelope.
//
// # Roles
//
// A client announces itself with an identify frame. The clientType
// "electron-app" marks the control application and "chrome-extension" marks
// the worker. Any other value leaves the connection without a role.
//
// # Errors
//
// Frames that are not JSON, lack a type, or carry a payload of the wrong
// shape yield ErrMalformedFrame. Callers log and drop them; the connection
// stays up.
package protocol
