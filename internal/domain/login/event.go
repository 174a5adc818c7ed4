package login

import "encoding/json"

// EventType discriminates the QR login callback events emitted by the Zalo
// client while a login handshake is in flight. The numeric values follow the
// wire enum of the login transport.
type EventType int

const (
	EventQRGenerated  EventType = 0
	EventQRExpired    EventType = 1
	EventQRScanned    EventType = 2
	EventQRDeclined   EventType = 3
	EventGotLoginInfo EventType = 4
)

// SessionSecrets are the durable artifacts of a completed QR login. They are
// only ever round-tripped into a stored credential payload, never persisted
// raw by this service.
type SessionSecrets struct {
	Cookie    json.RawMessage
	IMEI      string
	UserAgent string
}

// Empty reports whether no usable secret was captured.
func (s SessionSecrets) Empty() bool {
	return len(s.Cookie) == 0 && s.IMEI == "" && s.UserAgent == ""
}

// Event is one occurrence on the login event stream. Only the fields matching
// Type are populated.
type Event struct {
	Type EventType

	// EventQRGenerated
	Image []byte

	// EventQRScanned
	DisplayName string
	HasAvatar   bool

	// EventQRDeclined
	DeclineCode int

	// EventGotLoginInfo
	Secrets SessionSecrets

	// Unrecognized types keep the raw value for logging.
	RawType int
}

// Known reports whether the event type is one the processor understands.
func (e Event) Known() bool {
	switch e.Type {
	case EventQRGenerated, EventQRExpired, EventQRScanned, EventQRDeclined, EventGotLoginInfo:
		return true
	}
	return false
}
