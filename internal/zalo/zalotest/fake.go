// Package zalotest provides in-memory fakes of the zalo client capability
// for tests.
package zalotest

import (
	"context"
	"sync"

	"zalo-connector-go/internal/domain/login"
	"zalo-connector-go/internal/zalo"
)

// FakeListener records lifecycle calls.
type FakeListener struct {
	mu          sync.Mutex
	started     bool
	stopped     bool
	onConnected func()
	onStart     func()
}

func (l *FakeListener) Start() {
	l.mu.Lock()
	l.started = true
	cb := l.onConnected
	hook := l.onStart
	l.onStart = nil
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
	if hook != nil {
		hook()
	}
}

func (l *FakeListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
}

func (l *FakeListener) OnConnected(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnected = fn
}

func (l *FakeListener) OnError(func(error)) {}

func (l *FakeListener) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// FakeAPI implements zalo.API with canned responses.
type FakeAPI struct {
	OwnID        string
	UserInfo     zalo.UserInfoResponse
	UserInfoErr  error
	SendErr      error
	TypingErr    error
	listener     FakeListener
	mu           sync.Mutex
	SentMessages []zalo.MessageContent
	SentThreads  []string
	TypingSent   int
}

func (a *FakeAPI) GetOwnID() string { return a.OwnID }

func (a *FakeAPI) GetUserInfo(context.Context, string) (zalo.UserInfoResponse, error) {
	if a.UserInfoErr != nil {
		return zalo.UserInfoResponse{}, a.UserInfoErr
	}
	return a.UserInfo, nil
}

func (a *FakeAPI) SendMessage(_ context.Context, content zalo.MessageContent, threadID string, _ zalo.ThreadType) (zalo.SendResult, error) {
	if a.SendErr != nil {
		return zalo.SendResult{}, a.SendErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SentMessages = append(a.SentMessages, content)
	a.SentThreads = append(a.SentThreads, threadID)
	return zalo.SendResult{MsgID: "msg-1"}, nil
}

func (a *FakeAPI) SendTypingEvent(context.Context, string, zalo.ThreadType) error {
	if a.TypingErr != nil {
		return a.TypingErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.TypingSent++
	return nil
}

func (a *FakeAPI) Listener() zalo.Listener { return &a.listener }

// FakeClient implements zalo.Client. The Script function, when set, is run on
// its own goroutine with the registered event handler once the returned
// handle's listener is started, simulating the login event stream.
type FakeClient struct {
	API      *FakeAPI
	LoginErr error
	QRErr    error
	Script   func(emit func(login.Event))

	mu          sync.Mutex
	LoginCalls  []login.SessionSecrets
	qrinflight  sync.WaitGroup
}

func (c *FakeClient) LoginQR(_ context.Context, handler zalo.EventHandler) (zalo.API, error) {
	if c.QRErr != nil {
		return nil, c.QRErr
	}
	if c.Script != nil {
		c.qrinflight.Add(1)
		c.API.listener.mu.Lock()
		c.API.listener.onStart = func() {
			go func() {
				defer c.qrinflight.Done()
				c.Script(func(ev login.Event) { handler(ev) })
			}()
		}
		c.API.listener.mu.Unlock()
	}
	return c.API, nil
}

func (c *FakeClient) Login(_ context.Context, secrets login.SessionSecrets) (zalo.API, error) {
	c.mu.Lock()
	c.LoginCalls = append(c.LoginCalls, secrets)
	c.mu.Unlock()
	if c.LoginErr != nil {
		return nil, c.LoginErr
	}
	return c.API, nil
}

// WaitScript blocks until the scripted event stream has finished emitting.
func (c *FakeClient) WaitScript() {
	c.qrinflight.Wait()
}

// Factory returns a zalo.Factory that always hands out this client.
func (c *FakeClient) Factory() zalo.Factory {
	return func(zalo.Options) zalo.Client { return c }
}
