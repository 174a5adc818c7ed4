// Package bootstrap wires the connector together and runs its lifecycle.
package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"zalo-connector-go/internal/app/services"
	"zalo-connector-go/internal/domain/credential"
	"zalo-connector-go/internal/domain/eventbus"
	"zalo-connector-go/internal/domain/license"
	"zalo-connector-go/internal/domain/message"
	"zalo-connector-go/internal/domain/task"
	platformconfig "zalo-connector-go/internal/platform/config"
	platformerrors "zalo-connector-go/internal/platform/errors"
	platformlogging "zalo-connector-go/internal/platform/logging"
	platformstorage "zalo-connector-go/internal/platform/storage"
	"zalo-connector-go/internal/store"
	httptransport "zalo-connector-go/internal/transport/http"
	httpwebapi "zalo-connector-go/internal/transport/http/webapi"
	"zalo-connector-go/internal/zalo/bridge"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config     *platformconfig.Config
	configPath string
	logger     *platformlogging.Logger

	attempts   *platformstorage.AttemptRepo
	bus        *eventbus.AsyncEventBus
	dispatcher *task.Dispatcher
	verifier   *license.Verifier

	registry       *services.Registry
	reloginService *services.ReloginService
	messageService *services.MessageService
	accountService *services.AccountService
}

// Run starts the service lifecycle: configuration, dependencies, the HTTP
// server, and a graceful shutdown that drains in-flight reconciliations.
func Run(ctx context.Context, configPath string) error {
	state := &appState{configPath: configPath}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap,
			"bootstrap state validation", "config/logger not initialised")
	}

	defer func() {
		if state.verifier != nil {
			if err := state.verifier.Close(); err != nil {
				logger.WarnTag("bootstrap", "license cache not closed cleanly: %v", err)
			}
		}
		logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}
	logger.InfoTag("bootstrap", "service started")

	if err := waitForShutdown(signalCtx, cancel, state, group); err != nil {
		return err
	}

	logger.InfoTag("bootstrap", "service stopped")
	return nil
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "execute init steps", "nil bootstrap state")
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(platformerrors.KindBootstrap, step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep))
			}
		}
		if step.Execute == nil {
			return platformerrors.New(platformerrors.KindBootstrap, step.ID, "missing execute function")
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if stderrors.As(err, &typed) {
				return err
			}
			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise attempt audit database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initStorageStep,
		},
		{
			ID:        "eventbus:start",
			Title:     "Start event bus workers",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initEventBusStep,
		},
		{
			ID:        "license:init-verifier",
			Title:     "Initialise license verifier",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindLicense,
			Execute:   initLicenseStep,
		},
		{
			ID:        "services:init",
			Title:     "Initialise application services",
			DependsOn: []string{"storage:init-database", "eventbus:start", "license:init-verifier"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initServicesStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader(state.configPath).Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load configuration", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider",
			"failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag("bootstrap", "logging ready [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func initStorageStep(_ context.Context, state *appState) error {
	if state.config.Storage.DSN == "" {
		state.logger.WarnTag("bootstrap", "attempt audit disabled, no storage DSN configured")
		return nil
	}
	db, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return err
	}
	state.attempts = platformstorage.NewAttemptRepo(db)
	return nil
}

func initEventBusStep(_ context.Context, state *appState) error {
	state.bus = eventbus.NewAsyncEventBus(state.config.Reconcile.Workers)
	state.bus.Start()
	return nil
}

func initLicenseStep(_ context.Context, state *appState) error {
	verifier := license.NewVerifier(state.config.License.URL, state.config.License.Timeout, state.logger)

	cache := state.config.License.Cache
	if cache.Enabled {
		verifier, err := verifier.WithCache(license.CacheConfig{
			Addr:     cache.Addr,
			Username: cache.Username,
			Password: cache.Password,
			DB:       cache.DB,
			Prefix:   cache.Prefix,
			TTL:      cache.TTL,
		})
		if err != nil {
			return err
		}
		state.verifier = verifier
		state.logger.InfoTag("bootstrap", "license verdict cache enabled at %s", cache.Addr)
		return nil
	}

	state.verifier = verifier
	return nil
}

func initServicesStep(_ context.Context, state *appState) error {
	cfg := state.config
	logger := state.logger

	state.dispatcher = task.NewDispatcher(
		cfg.Reconcile.Workers,
		cfg.Reconcile.QueueSize,
		cfg.Reconcile.MaxRetries,
		logger,
	)

	storeClient := store.NewHTTPClient(cfg.Store.URL, cfg.Store.APIKey, cfg.Store.Timeout)
	reconciler := credential.NewReconciler(storeClient, cfg.Store.CredentialType, logger)
	factory := bridge.Factory(cfg.Zalo.GatewayURL, logger)

	state.registry = services.NewRegistry()

	reloginService, err := services.NewReloginService(
		cfg, factory, reconciler, state.dispatcher, state.bus,
		state.attempts, state.registry, logger,
	)
	if err != nil {
		return err
	}
	state.reloginService = reloginService

	composer := message.NewComposer(message.NewStager("", logger), logger)
	state.messageService = services.NewMessageService(state.registry, composer, logger)
	state.accountService = services.NewAccountService(state.registry, state.verifier, logger)
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config:     config,
		Logger:     logger,
		StaticRoot: config.Zalo.ArtifactDir,
	})
	if err != nil {
		return err
	}

	httpRouter.Engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, httptransport.APIResponse{
			Success: false,
			Data:    gin.H{},
			Message: "not found",
			Code:    http.StatusNotFound,
		})
	})

	webapiService := httpwebapi.NewService(
		state.reloginService,
		state.messageService,
		state.accountService,
		state.attempts,
		logger,
	)
	if err := webapiService.Register(groupCtx, httpRouter.API, httpRouter.Secured); err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "webapi:register", "failed to register routes", err)
	}

	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: httpRouter.Engine,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "server shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server shut down cleanly")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return err
		}
		return nil
	})

	return nil
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, state *appState, g *errgroup.Group) error {
	logger := state.logger

	<-ctx.Done()
	logger.InfoTag("bootstrap", "shutdown signal received (%v), draining", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		// Queued reconciliations finish before the bus stops feeding them.
		if state.bus != nil {
			state.bus.Stop()
		}
		if state.dispatcher != nil {
			state.dispatcher.Stop()
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("bootstrap", "shutdown finished with errors: %v", err)
			return err
		}
		logger.InfoTag("bootstrap", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("bootstrap", "shutdown timed out, forcing exit")
		return stderrors.New("shutdown timed out")
	}
	return nil
}
