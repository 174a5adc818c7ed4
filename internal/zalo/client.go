// Package zalo declares the messaging-client capability the connector builds
// on. The QR handshake, transport encryption and account-server protocol are
// provided by an external client implementation; the connector only consumes
// these interfaces.
package zalo

import (
	"context"

	"zalo-connector-go/internal/domain/login"
)

// Options configure a client instance.
type Options struct {
	SelfListen bool
	Proxy      string
}

// ThreadType distinguishes direct and group conversations.
type ThreadType int

const (
	ThreadUser  ThreadType = 0
	ThreadGroup ThreadType = 1
)

// Quote references a message being replied to.
type Quote struct {
	MsgID    string `json:"msgId"`
	SenderID string `json:"senderId"`
	Content  string `json:"content"`
}

// Mention marks a user reference inside the message text.
type Mention struct {
	Pos int    `json:"pos"`
	UID string `json:"uid"`
	Len int    `json:"len"`
}

// MessageContent is the composed payload handed to SendMessage. Attachments
// are local file paths staged by the caller.
type MessageContent struct {
	Msg         string    `json:"msg"`
	Urgency     int       `json:"urgency,omitempty"`
	Quote       *Quote    `json:"quote,omitempty"`
	Mentions    []Mention `json:"mentions,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// SendResult is the acknowledgement returned by the account server.
type SendResult struct {
	MsgID string `json:"msgId"`
}

// RawProfile is one profile record as returned by the identity endpoint.
type RawProfile struct {
	DisplayName string `json:"displayName"`
	ZaloName    string `json:"zaloName"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
	Avatar      string `json:"avatar"`
}

// UserInfoResponse partitions profile records by whether they changed since
// the last sync. Callers must check the changed bucket first.
type UserInfoResponse struct {
	ChangedProfiles   map[string]RawProfile `json:"changed_profiles"`
	UnchangedProfiles map[string]RawProfile `json:"unchanged_profiles"`
}

// EventHandler receives login events in the order the handshake produced
// them.
type EventHandler func(login.Event)

// Listener is the long-lived event subscription of an authenticated API
// handle. Start must be called before any event, including QRGenerated, is
// guaranteed delivered.
type Listener interface {
	Start()
	Stop()
	OnConnected(func())
	OnError(func(error))
}

// API is an authenticated session handle.
type API interface {
	GetOwnID() string
	GetUserInfo(ctx context.Context, userID string) (UserInfoResponse, error)
	SendMessage(ctx context.Context, content MessageContent, threadID string, threadType ThreadType) (SendResult, error)
	SendTypingEvent(ctx context.Context, threadID string, threadType ThreadType) error
	Listener() Listener
}

// Client creates login sessions.
type Client interface {
	// LoginQR starts a QR handshake and streams its events to handler. The
	// returned handle's listener must be started by the caller.
	LoginQR(ctx context.Context, handler EventHandler) (API, error)

	// Login re-authenticates with previously captured session secrets.
	Login(ctx context.Context, secrets login.SessionSecrets) (API, error)
}

// Factory builds a client for a set of options. Each login attempt gets a
// fresh client so a configured proxy applies to the whole handshake.
type Factory func(opts Options) Client
