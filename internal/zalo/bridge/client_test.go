package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zalo-connector-go/internal/domain/login"
	platformtesting "zalo-connector-go/internal/platform/testing"
	"zalo-connector-go/internal/zalo"
)

func gatewayForTest(t *testing.T, frames []eventFrame) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()

	mux.HandleFunc("/sessions/qr-login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sessionResponse{SessionID: "s1"})
	})
	mux.HandleFunc("/sessions/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["imei"] != "imei-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(sessionResponse{SessionID: "s2", UserID: "u1"})
	})
	mux.HandleFunc("/sessions/s1/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, frame := range frames {
			payload, _ := json.Marshal(frame)
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
		// Hold the stream open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/sessions/s1/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"userId":"u1"}`))
	})
	mux.HandleFunc("/sessions/s1/users/u1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(zalo.UserInfoResponse{
			ChangedProfiles: map[string]zalo.RawProfile{
				"u1": {DisplayName: "Alice", PhoneNumber: "0901"},
			},
		})
	})
	mux.HandleFunc("/sessions/s1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(zalo.SendResult{MsgID: "m1"})
	})
	mux.HandleFunc("/sessions/s1/typing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestLoginQR_StreamsEventsInOrder(t *testing.T) {
	frames := []eventFrame{
		{Type: 0, Image: base64.StdEncoding.EncodeToString([]byte("qr-png"))},
		{Type: 2, DisplayName: "Alice", HasAvatar: true},
		{Type: 4, Cookie: json.RawMessage(`{"k":"v"}`), IMEI: "imei-1", UserAgent: "ua-1"},
	}
	server := gatewayForTest(t, frames)

	events := make(chan login.Event, 8)
	client := New(server.URL, zalo.Options{}, platformtesting.SetupTestLogger(t))

	api, err := client.LoginQR(context.Background(), func(ev login.Event) {
		events <- ev
	})
	if err != nil {
		t.Fatalf("login qr: %v", err)
	}
	api.Listener().Start()
	defer api.Listener().Stop()

	var got []login.Event
	for len(got) < 3 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d events received", len(got))
		}
	}

	if got[0].Type != login.EventQRGenerated || string(got[0].Image) != "qr-png" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Type != login.EventQRScanned || got[1].DisplayName != "Alice" {
		t.Errorf("second event = %+v", got[1])
	}
	if got[2].Type != login.EventGotLoginInfo || got[2].Secrets.IMEI != "imei-1" {
		t.Errorf("third event = %+v", got[2])
	}
}

func TestAPI_SessionCalls(t *testing.T) {
	server := gatewayForTest(t, nil)
	client := New(server.URL, zalo.Options{}, platformtesting.SetupTestLogger(t))

	api, err := client.LoginQR(context.Background(), func(login.Event) {})
	if err != nil {
		t.Fatalf("login qr: %v", err)
	}

	if id := api.GetOwnID(); id != "u1" {
		t.Errorf("own id = %q", id)
	}

	info, err := api.GetUserInfo(context.Background(), "u1")
	if err != nil {
		t.Fatalf("user info: %v", err)
	}
	if info.ChangedProfiles["u1"].DisplayName != "Alice" {
		t.Errorf("info = %+v", info)
	}

	result, err := api.SendMessage(context.Background(), zalo.MessageContent{Msg: "hi"}, "t1", zalo.ThreadUser)
	if err != nil || result.MsgID != "m1" {
		t.Errorf("send = %+v, %v", result, err)
	}

	if err := api.SendTypingEvent(context.Background(), "t1", zalo.ThreadUser); err != nil {
		t.Errorf("typing: %v", err)
	}
}

func TestLogin_ReusesSecrets(t *testing.T) {
	server := gatewayForTest(t, nil)
	client := New(server.URL, zalo.Options{}, platformtesting.SetupTestLogger(t))

	api, err := client.Login(context.Background(), login.SessionSecrets{
		Cookie:    json.RawMessage(`{"k":"v"}`),
		IMEI:      "imei-1",
		UserAgent: "ua-1",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if id := api.GetOwnID(); id != "u1" {
		t.Errorf("own id = %q, want cached id from login response", id)
	}

	if _, err := client.Login(context.Background(), login.SessionSecrets{IMEI: "wrong"}); err == nil {
		t.Fatal("expected error for rejected secrets")
	}
}
