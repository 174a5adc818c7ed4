package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"zalo-connector-go/internal/domain/account"
	"zalo-connector-go/internal/domain/credential"
	"zalo-connector-go/internal/domain/eventbus"
	"zalo-connector-go/internal/domain/login"
	"zalo-connector-go/internal/domain/task"
	"zalo-connector-go/internal/platform/config"
	"zalo-connector-go/internal/platform/errors"
	"zalo-connector-go/internal/platform/logging"
	"zalo-connector-go/internal/platform/storage"
	"zalo-connector-go/internal/zalo"
)

// ReloginRequest is the operator's relogin call.
type ReloginRequest struct {
	Proxy string `json:"proxy,omitempty"`
}

// ReloginResult carries the QR artifact back to the operator. Reconciliation
// continues in the background after this is returned.
type ReloginResult struct {
	AttemptID    string
	Image        []byte
	ArtifactPath string
}

// completedLogin travels over the bus from the login stream to the
// reconciliation pipeline.
type completedLogin struct {
	attemptID string
	secrets   login.SessionSecrets
	proxy     string
	api       zalo.API
}

// sessionHandle passes the attempt's API handle to the dispatch closure. The
// handle is assigned on the relogin goroutine while login events arrive on
// the client's stream goroutine, so access goes through a lock.
type sessionHandle struct {
	mu  sync.Mutex
	api zalo.API
}

func (h *sessionHandle) set(api zalo.API) {
	h.mu.Lock()
	h.api = api
	h.mu.Unlock()
}

func (h *sessionHandle) get() zalo.API {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.api
}

// ReloginService runs QR login attempts. The HTTP caller gets the QR code as
// soon as it is generated; identity resolution and credential reconciliation
// happen on the dispatcher after the device approves the login.
type ReloginService struct {
	cfg        *config.Config
	factory    zalo.Factory
	reconciler *credential.Reconciler
	dispatcher *task.Dispatcher
	bus        *eventbus.AsyncEventBus
	attempts   *storage.AttemptRepo
	registry   *Registry
	logger     *logging.Logger

	group singleflight.Group

	mu        sync.Mutex
	qrHandler func(login.Event)
}

// NewReloginService wires the service and subscribes the completion handler
// on the async bus. attempts may be nil to disable the audit trail.
func NewReloginService(
	cfg *config.Config,
	factory zalo.Factory,
	reconciler *credential.Reconciler,
	dispatcher *task.Dispatcher,
	bus *eventbus.AsyncEventBus,
	attempts *storage.AttemptRepo,
	registry *Registry,
	logger *logging.Logger,
) (*ReloginService, error) {
	s := &ReloginService{
		cfg:        cfg,
		factory:    factory,
		reconciler: reconciler,
		dispatcher: dispatcher,
		bus:        bus,
		attempts:   attempts,
		registry:   registry,
		logger:     logger,
	}
	if err := bus.Subscribe(eventbus.TopicLoginCompleted, s.onLoginCompleted); err != nil {
		return nil, errors.Wrap(errors.KindBootstrap, "relogin.new", "subscribe completion topic", err)
	}
	return s, nil
}

// Relogin starts a QR login attempt and blocks until the QR code is
// generated or the attempt fails. Concurrent calls share one attempt.
func (s *ReloginService) Relogin(ctx context.Context, req ReloginRequest) (ReloginResult, error) {
	res, err, shared := s.group.Do("relogin", func() (any, error) {
		return s.relogin(ctx, req)
	})
	if err != nil {
		return ReloginResult{}, err
	}
	if shared {
		s.logger.DebugTag("relogin", "request joined an in-flight attempt")
		if req.Proxy != "" {
			s.logger.WarnTag("relogin", "supplied proxy ignored, attempt already in flight")
		}
	}
	return res.(ReloginResult), nil
}

func (s *ReloginService) relogin(ctx context.Context, req ReloginRequest) (ReloginResult, error) {
	attemptID := uuid.NewString()
	s.audit(func(actx context.Context) error { return s.attempts.Create(actx, attemptID) })

	proxy := req.Proxy
	if proxy == "" {
		proxy = s.cfg.Zalo.Proxy
	}

	// A previous session's listener keeps running until a new attempt starts.
	if old, _, ok := s.registry.Current(); ok {
		old.Listener().Stop()
		s.registry.Clear()
	}

	client := s.factory(zalo.Options{SelfListen: s.cfg.Zalo.SelfListen, Proxy: proxy})
	session := login.NewSession(s.cfg.Zalo.QRTimeout)

	handle := &sessionHandle{}
	processor := login.NewProcessor(session, s.logger, func(secrets login.SessionSecrets) {
		s.bus.PublishAsync(eventbus.TopicLoginCompleted, &completedLogin{
			attemptID: attemptID,
			secrets:   secrets,
			proxy:     proxy,
			api:       handle.get(),
		})
	})
	s.swapQRSubscriber(processor)

	s.logger.InfoTag("relogin", "attempt %s starting (proxy: %v)", attemptID, proxy != "")

	api, err := client.LoginQR(ctx, func(ev login.Event) {
		s.bus.Publish(eventbus.TopicQREvent, ev)
	})
	if err != nil {
		wrapped := errors.Wrap(errors.KindLogin, "relogin", "could not start QR login", err)
		s.audit(func(actx context.Context) error { return s.attempts.Fail(actx, attemptID, wrapped) })
		return ReloginResult{}, wrapped
	}
	// The handle must be readable before any guaranteed event can fire.
	handle.set(api)
	api.Listener().Start()

	image, err := session.Wait(ctx)
	if err != nil {
		api.Listener().Stop()
		s.audit(func(actx context.Context) error { return s.attempts.Fail(actx, attemptID, err) })
		return ReloginResult{}, err
	}
	s.audit(func(actx context.Context) error { return s.attempts.AppendEvent(actx, attemptID, "qr_generated") })

	path, err := s.writeArtifact(image)
	if err != nil {
		s.logger.WarnTag("relogin", "could not persist QR artifact: %v", err)
	}

	return ReloginResult{AttemptID: attemptID, Image: image, ArtifactPath: path}, nil
}

// swapQRSubscriber replaces the ordered QR subscriber so stray events from a
// superseded attempt stop reaching a live processor.
func (s *ReloginService) swapQRSubscriber(processor *login.Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.qrHandler != nil {
		_ = s.bus.Unsubscribe(eventbus.TopicQREvent, s.qrHandler)
	}
	s.qrHandler = processor.Handle
	_ = s.bus.Subscribe(eventbus.TopicQREvent, s.qrHandler)
}

func (s *ReloginService) onLoginCompleted(ev *completedLogin) {
	ok := s.dispatcher.Submit(task.Job{
		Name: "reconcile-" + ev.attemptID,
		Run: func(ctx context.Context) error {
			return s.reconcile(ctx, ev)
		},
	})
	if !ok {
		s.logger.ErrorTag("relogin", "reconciliation for attempt %s could not be queued", ev.attemptID)
	}
}

// reconcile resolves the account identity and writes the credential. Errors
// here never reach the relogin caller; the dispatcher retries and logs.
func (s *ReloginService) reconcile(ctx context.Context, ev *completedLogin) error {
	client := s.factory(zalo.Options{SelfListen: s.cfg.Zalo.SelfListen, Proxy: ev.proxy})
	resolver := account.NewResolver(client, s.logger)

	profile, err := resolver.Resolve(ctx, ev.secrets)
	if err != nil {
		s.logger.WarnTag("relogin", "identity resolution failed, storing credential without a profile: %v", err)
		profile = account.Profile{}
	}

	if ev.api != nil {
		s.registry.Set(ev.api, profile)
	}

	action, err := s.reconciler.Reconcile(ctx, ev.secrets, profile, ev.proxy)
	if err != nil {
		return err
	}

	s.audit(func(actx context.Context) error {
		return s.attempts.Complete(actx, ev.attemptID, profile.UserID, profile.PhoneNumber,
			action.CredentialID, string(action.Kind))
	})
	s.logger.InfoTag("relogin", "attempt %s %s credential %s", ev.attemptID, action.Kind, action.CredentialID)
	return nil
}

func (s *ReloginService) writeArtifact(image []byte) (string, error) {
	dir := s.cfg.Zalo.ArtifactDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.KindLogin, "relogin.artifact", "create artifact dir", err)
	}
	path := filepath.Join(dir, s.cfg.Zalo.ArtifactFile)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", errors.Wrap(errors.KindLogin, "relogin.artifact", "write artifact", err)
	}
	return path, nil
}

// audit runs a write against the attempt trail, which is optional and never
// fails the caller.
func (s *ReloginService) audit(write func(ctx context.Context) error) {
	if s.attempts == nil {
		return
	}
	if err := write(context.Background()); err != nil {
		s.logger.WarnTag("relogin", "audit write failed: %v", err)
	}
}
