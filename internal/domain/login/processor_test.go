package login

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	platformtesting "zalo-connector-go/internal/platform/testing"
)

func testSecrets() SessionSecrets {
	return SessionSecrets{
		Cookie:    json.RawMessage(`[{"name":"zpsid","value":"abc"}]`),
		IMEI:      "imei-1",
		UserAgent: "Mozilla/5.0",
	}
}

func newTestProcessor(t *testing.T, session *Session) (*Processor, *[]SessionSecrets) {
	t.Helper()
	logger := platformtesting.SetupTestLogger(t)
	dispatched := &[]SessionSecrets{}
	processor := NewProcessor(session, logger, func(s SessionSecrets) {
		*dispatched = append(*dispatched, s)
	})
	return processor, dispatched
}

func TestProcessor_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		events   []Event
		want     State
		dispatch int
	}{
		{
			name:   "QR generated moves to awaiting scan",
			events: []Event{{Type: EventQRGenerated, Image: []byte("img")}},
			want:   StateAwaitingScan,
		},
		{
			name: "scan moves to scanned",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventQRScanned, DisplayName: "Alice"},
			},
			want: StateScanned,
		},
		{
			name: "expiry returns to idle",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventQRExpired},
			},
			want: StateIdle,
		},
		{
			name: "decline after scan returns to idle",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventQRScanned, DisplayName: "Alice"},
				{Type: EventQRDeclined, DeclineCode: 4},
			},
			want: StateIdle,
		},
		{
			name: "login info from scanned completes and dispatches",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventQRScanned, DisplayName: "Alice"},
				{Type: EventGotLoginInfo, Secrets: testSecrets()},
			},
			want:     StateCompleted,
			dispatch: 1,
		},
		{
			name: "login info straight from awaiting scan completes",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventGotLoginInfo, Secrets: testSecrets()},
			},
			want:     StateCompleted,
			dispatch: 1,
		},
		{
			name: "repeated login info re-dispatches",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventGotLoginInfo, Secrets: testSecrets()},
				{Type: EventGotLoginInfo, Secrets: testSecrets()},
			},
			want:     StateCompleted,
			dispatch: 2,
		},
		{
			name: "unknown event leaves state unchanged",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventType(99), RawType: 99},
			},
			want: StateAwaitingScan,
		},
		{
			name:   "scan without QR is ignored",
			events: []Event{{Type: EventQRScanned, DisplayName: "Alice"}},
			want:   StateIdle,
		},
		{
			name: "login info without secrets does not complete",
			events: []Event{
				{Type: EventQRGenerated, Image: []byte("img")},
				{Type: EventGotLoginInfo},
			},
			want: StateAwaitingScan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewSession(time.Second)
			processor, dispatched := newTestProcessor(t, session)

			for _, ev := range tt.events {
				processor.Handle(ev)
			}

			if processor.State() != tt.want {
				t.Errorf("state = %s, expected %s", processor.State(), tt.want)
			}
			if len(*dispatched) != tt.dispatch {
				t.Errorf("dispatch count = %d, expected %d", len(*dispatched), tt.dispatch)
			}
		})
	}
}

func TestProcessor_QRDeliveredToSession(t *testing.T) {
	session := NewSession(time.Second)
	processor, _ := newTestProcessor(t, session)

	processor.Handle(Event{Type: EventQRGenerated, Image: []byte("the-qr")})

	img, err := session.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(img) != "the-qr" {
		t.Errorf("image = %q", img)
	}
}

func TestProcessor_EventsAfterSettlementDoNotDisturbQR(t *testing.T) {
	session := NewSession(time.Second)
	processor, dispatched := newTestProcessor(t, session)

	processor.Handle(Event{Type: EventQRGenerated, Image: []byte("imgA")})
	img, err := session.Wait(context.Background())
	if err != nil || string(img) != "imgA" {
		t.Fatalf("session did not resolve with imgA: %q %v", img, err)
	}

	// Login info arriving long after the QR resolved still reconciles.
	processor.Handle(Event{Type: EventGotLoginInfo, Secrets: testSecrets()})
	if len(*dispatched) != 1 {
		t.Fatalf("dispatch count = %d, expected 1", len(*dispatched))
	}
	if (*dispatched)[0].IMEI != "imei-1" {
		t.Errorf("dispatched secrets = %+v", (*dispatched)[0])
	}
}

func TestProcessor_DeclineFailsSession(t *testing.T) {
	session := NewSession(time.Second)
	processor, _ := newTestProcessor(t, session)

	processor.Handle(Event{Type: EventQRGenerated, Image: []byte("img")})
	// Session already resolved with the image; decline afterwards returns the
	// machine to idle without touching the settled QR outcome.
	processor.Handle(Event{Type: EventQRDeclined, DeclineCode: 2})

	img, err := session.Wait(context.Background())
	if err != nil {
		t.Fatalf("decline retroactively failed a resolved session: %v", err)
	}
	if string(img) != "img" {
		t.Errorf("image = %q", img)
	}
	if processor.State() != StateIdle {
		t.Errorf("state = %s, expected idle", processor.State())
	}
}
