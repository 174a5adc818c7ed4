package login

import (
	"fmt"
	"sync"

	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
)

// State of the login event processor.
type State string

const (
	StateIdle         State = "idle"
	StateAwaitingScan State = "awaiting_scan"
	StateScanned      State = "scanned"
	StateCompleted    State = "completed"
)

// Processor classifies login events and drives the session state machine.
// QR resolution (the session) and reconciliation dispatch are decoupled: once
// the session settled, terminal login-info events still trigger dispatch.
type Processor struct {
	session  *Session
	logger   *logging.Logger
	dispatch func(SessionSecrets)

	mu    sync.Mutex
	state State
}

// NewProcessor wires a processor to the session resolving the QR outcome and
// a dispatch callback invoked for every captured set of session secrets. The
// dispatch target must be idempotent: transports may re-send login info.
func NewProcessor(session *Session, logger *logging.Logger, dispatch func(SessionSecrets)) *Processor {
	return &Processor{
		session:  session,
		logger:   logger,
		dispatch: dispatch,
		state:    StateIdle,
	}
}

// State returns the current machine state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Handle consumes one event from the login stream. Events are expected in
// stream order and are never re-delivered by the transport.
func (p *Processor) Handle(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !ev.Known() {
		p.logger.WarnTag("login", "unknown QR event type %d ignored", ev.RawType)
		return
	}

	switch ev.Type {
	case EventQRGenerated:
		if p.state != StateIdle {
			p.logger.DebugTag("login", "QR re-generated in state %s, ignored", p.state)
			return
		}
		if len(ev.Image) == 0 {
			p.session.Fail(errors.New(errors.KindLogin, "qr.generate", "could not get QR code from login stream"))
			return
		}
		p.state = StateAwaitingScan
		p.logger.InfoTag("login", "QR code generated (%d bytes)", len(ev.Image))
		p.session.Deliver(ev.Image)

	case EventQRScanned:
		if p.state != StateAwaitingScan {
			return
		}
		p.state = StateScanned
		p.logger.InfoTag("login", "QR code scanned by %q (avatar: %v)", ev.DisplayName, ev.HasAvatar)

	case EventQRExpired:
		if p.state != StateAwaitingScan && p.state != StateScanned {
			return
		}
		p.state = StateIdle
		p.logger.WarnTag("login", "QR code expired before approval")
		p.session.Fail(ErrQRExpired)

	case EventQRDeclined:
		if p.state != StateAwaitingScan && p.state != StateScanned {
			return
		}
		p.state = StateIdle
		p.logger.WarnTag("login", "QR login declined, code=%d", ev.DeclineCode)
		p.session.Fail(errors.New(errors.KindLogin, "qr.declined",
			fmt.Sprintf("login declined on the device, code=%d", ev.DeclineCode)))

	case EventGotLoginInfo:
		if p.state != StateAwaitingScan && p.state != StateScanned && p.state != StateCompleted {
			return
		}
		if ev.Secrets.Empty() {
			p.logger.WarnTag("login", "login info event carried no secrets, nothing to reconcile")
			return
		}
		p.state = StateCompleted
		p.logger.InfoTag("login", "login info received (cookie: %v, imei: %v, user agent: %v)",
			len(ev.Secrets.Cookie) > 0, ev.Secrets.IMEI != "", ev.Secrets.UserAgent != "")
		if p.dispatch != nil {
			p.dispatch(ev.Secrets)
		}
	}
}
