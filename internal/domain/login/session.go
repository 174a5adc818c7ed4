package login

import (
	"context"
	"sync"
	"time"

	"zalo-connector-go/internal/platform/errors"
)

var (
	// ErrQRTimeout is returned when no QR code arrives before the deadline.
	ErrQRTimeout = errors.New(errors.KindLogin, "qr.wait",
		"timeout generating QR code, please try again or check the Zalo connection")
	// ErrQRExpired is returned when the code expired before being approved.
	ErrQRExpired = errors.New(errors.KindLogin, "qr.expired",
		"QR code expired, start a new login attempt")
)

// Session owns one QR login attempt. It settles exactly once: either with the
// image bytes of the first QRGenerated event, or with a failure. Later
// deliveries and failures are ignored, so the login stream can keep flowing to
// the processor after the QR outcome is already decided.
type Session struct {
	timeout time.Duration

	once  sync.Once
	done  chan struct{}
	image []byte
	err   error
}

// NewSession creates a session guarded by the given timeout.
func NewSession(timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Session{
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Deliver settles the session with QR image bytes. Only the first settlement
// wins.
func (s *Session) Deliver(image []byte) {
	s.once.Do(func() {
		s.image = image
		close(s.done)
	})
}

// Fail settles the session with a failure reason.
func (s *Session) Fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Settled reports whether the session outcome has been decided.
func (s *Session) Settled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the session settles, the timeout fires, or ctx is
// cancelled. The countdown timer is cancelled on first settlement. A timeout
// or cancellation settles the session permanently, so concurrent waiters
// observe the same failure and a fresh attempt needs a new session.
func (s *Session) Wait(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return s.image, s.err
	case <-timer.C:
		// Settle so a late QRGenerated cannot re-resolve the attempt.
		s.Fail(ErrQRTimeout)
		<-s.done
		return s.image, s.err
	case <-ctx.Done():
		s.Fail(errors.Wrap(errors.KindLogin, "qr.wait", "login attempt cancelled", ctx.Err()))
		<-s.done
		return s.image, s.err
	}
}
