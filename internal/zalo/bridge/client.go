// Package bridge implements the zalo client capability against a gateway
// process that owns the Zalo wire protocol. Session calls go over REST; the
// login event stream arrives on a websocket per session.
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zalo-connector-go/internal/domain/login"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
	"zalo-connector-go/internal/zalo"
)

// Client implements zalo.Client.
type Client struct {
	baseURL string
	opts    zalo.Options
	http    *http.Client
	logger  *logging.Logger
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts zalo.Options, logger *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Factory returns a zalo.Factory backed by the gateway at baseURL.
func Factory(baseURL string, logger *logging.Logger) zalo.Factory {
	return func(opts zalo.Options) zalo.Client {
		return New(baseURL, opts, logger)
	}
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
}

// LoginQR opens a QR login session on the gateway and subscribes its event
// stream. Events only flow after the returned handle's listener is started.
func (c *Client) LoginQR(ctx context.Context, handler zalo.EventHandler) (zalo.API, error) {
	var session sessionResponse
	err := c.do(ctx, http.MethodPost, "/sessions/qr-login", map[string]any{
		"selfListen": c.opts.SelfListen,
		"proxy":      c.opts.Proxy,
	}, &session)
	if err != nil {
		return nil, err
	}

	return &api{
		client:    c,
		sessionID: session.SessionID,
		listener:  c.newListener(session.SessionID, handler),
	}, nil
}

// Login re-authenticates with captured session secrets.
func (c *Client) Login(ctx context.Context, secrets login.SessionSecrets) (zalo.API, error) {
	var session sessionResponse
	err := c.do(ctx, http.MethodPost, "/sessions/login", map[string]any{
		"cookie":     secrets.Cookie,
		"imei":       secrets.IMEI,
		"userAgent":  secrets.UserAgent,
		"proxy":      c.opts.Proxy,
		"selfListen": c.opts.SelfListen,
	}, &session)
	if err != nil {
		return nil, err
	}

	return &api{
		client:    c,
		sessionID: session.SessionID,
		ownID:     session.UserID,
		listener:  c.newListener(session.SessionID, nil),
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := "gateway." + strings.ToLower(method)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.KindTransport, op, "encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(errors.KindTransport, op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.KindTransport, op, "gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.New(errors.KindTransport, op,
			fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(errors.KindTransport, op, "decode response", err)
		}
	}
	return nil
}

// eventFrame is the wire form of one login stream event.
type eventFrame struct {
	Type        int             `json:"type"`
	Image       string          `json:"image,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	HasAvatar   bool            `json:"hasAvatar,omitempty"`
	Code        int             `json:"code,omitempty"`
	Cookie      json.RawMessage `json:"cookie,omitempty"`
	IMEI        string          `json:"imei,omitempty"`
	UserAgent   string          `json:"userAgent,omitempty"`
}

func (f eventFrame) toEvent() login.Event {
	ev := login.Event{
		Type:        login.EventType(f.Type),
		DisplayName: f.DisplayName,
		HasAvatar:   f.HasAvatar,
		DeclineCode: f.Code,
		RawType:     f.Type,
	}
	if f.Image != "" {
		if raw, err := base64.StdEncoding.DecodeString(f.Image); err == nil {
			ev.Image = raw
		}
	}
	if len(f.Cookie) > 0 || f.IMEI != "" || f.UserAgent != "" {
		ev.Secrets = login.SessionSecrets{
			Cookie:    f.Cookie,
			IMEI:      f.IMEI,
			UserAgent: f.UserAgent,
		}
	}
	return ev
}

// wsListener subscribes the session's event websocket and forwards decoded
// events to the handler in stream order.
type wsListener struct {
	url     string
	handler zalo.EventHandler
	logger  *logging.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	stopped     bool
	onConnected func()
	onError     func(error)
	done        chan struct{}
}

func (c *Client) newListener(sessionID string, handler zalo.EventHandler) *wsListener {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	return &wsListener{
		url:     wsURL + "/sessions/" + sessionID + "/events",
		handler: handler,
		logger:  c.logger,
	}
}

func (l *wsListener) Start() {
	l.mu.Lock()
	if l.conn != nil || l.stopped {
		l.mu.Unlock()
		return
	}

	conn, _, err := websocket.DefaultDialer.Dial(l.url, nil)
	if err != nil {
		onError := l.onError
		l.mu.Unlock()
		l.logger.ErrorTag("bridge", "event stream dial failed: %v", err)
		if onError != nil {
			onError(err)
		}
		return
	}
	l.conn = conn
	l.done = make(chan struct{})
	onConnected := l.onConnected
	l.mu.Unlock()

	if onConnected != nil {
		onConnected()
	}
	go l.readLoop(conn)
}

func (l *wsListener) readLoop(conn *websocket.Conn) {
	defer close(l.done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			stopped := l.stopped
			onError := l.onError
			l.mu.Unlock()
			if !stopped {
				l.logger.WarnTag("bridge", "event stream closed: %v", err)
				if onError != nil {
					onError(err)
				}
			}
			return
		}

		var frame eventFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			l.logger.WarnTag("bridge", "undecodable event frame skipped: %v", err)
			continue
		}
		if l.handler != nil {
			l.handler(frame.toEvent())
		}
	}
}

func (l *wsListener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	conn := l.conn
	done := l.done
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
		<-done
	}
}

func (l *wsListener) OnConnected(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnected = fn
}

func (l *wsListener) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

// api implements zalo.API over the gateway's session endpoints.
type api struct {
	client    *Client
	sessionID string
	listener  *wsListener

	mu    sync.Mutex
	ownID string
}

func (a *api) GetOwnID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ownID != "" {
		return a.ownID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out struct {
		UserID string `json:"userId"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/sessions/"+a.sessionID+"/me", nil, &out); err != nil {
		a.client.logger.WarnTag("bridge", "own id lookup failed: %v", err)
		return ""
	}
	a.ownID = out.UserID
	return a.ownID
}

func (a *api) GetUserInfo(ctx context.Context, userID string) (zalo.UserInfoResponse, error) {
	var out zalo.UserInfoResponse
	err := a.client.do(ctx, http.MethodGet, "/sessions/"+a.sessionID+"/users/"+userID, nil, &out)
	if err != nil {
		return zalo.UserInfoResponse{}, err
	}
	return out, nil
}

func (a *api) SendMessage(ctx context.Context, content zalo.MessageContent, threadID string, threadType zalo.ThreadType) (zalo.SendResult, error) {
	var out zalo.SendResult
	err := a.client.do(ctx, http.MethodPost, "/sessions/"+a.sessionID+"/messages", map[string]any{
		"content":    content,
		"threadId":   threadID,
		"threadType": threadType,
	}, &out)
	if err != nil {
		return zalo.SendResult{}, err
	}
	return out, nil
}

func (a *api) SendTypingEvent(ctx context.Context, threadID string, threadType zalo.ThreadType) error {
	return a.client.do(ctx, http.MethodPost, "/sessions/"+a.sessionID+"/typing", map[string]any{
		"threadId":   threadID,
		"threadType": threadType,
	}, nil)
}

func (a *api) Listener() zalo.Listener {
	return a.listener
}
