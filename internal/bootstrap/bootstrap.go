package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"catalyzed-crm/internal/domain/kv"
	"catalyzed-crm/internal/domain/notify"
	"catalyzed-crm/internal/domain/preferences"
	"catalyzed-crm/internal/domain/session"
	platformconfig "catalyzed-crm/internal/platform/config"
	platformerrors "catalyzed-crm/internal/platform/errors"
	platformlogging "catalyzed-crm/internal/platform/logging"
	platformobservability "catalyzed-crm/internal/platform/observability"
	platformstorage "catalyzed-crm/internal/platform/storage"
	httptransport "catalyzed-crm/internal/transport/http"
	"catalyzed-crm/internal/transport/ws"
)

const notificationBuffer = 64

// Options controls how Run locates its configuration.
type Options struct {
	ConfigPath string
	// DisableDotEnv skips loading a .env file before reading the config.
	DisableDotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	options               Options
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	store                 kv.Store
	bus                   *notify.BusNotifier
	notifier              notify.Notifier
	hub                   *ws.Hub
	preferences           *preferences.Store
	sessions              *session.Store

	// budget receives span durations once the preferences store exists.
	budget atomic.Pointer[preferences.Store]
}

// Run starts the service lifecycle: load configuration, initialise the stores,
// serve HTTP until a signal arrives and then tear everything down.
func Run(ctx context.Context, opts Options) error {
	state := &appState{options: opts}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.teardown()
		return err
	}
	defer state.teardown()

	logger := state.logger
	if state.config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	if state.sessions == nil || state.preferences == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"stores not initialised",
		)
	}

	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startServices(state, group, groupCtx); err != nil {
		cancel()
		return err
	}
	logger.Info("[Bootstrap] services started")

	return waitForShutdown(signalCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.Info("[Bootstrap] initialisation graph")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.Info("[Bootstrap]   %s: %s", step.ID, step.Title)
			continue
		}
		logger.Info("[Bootstrap]   %s: %s (after %s)", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
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
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:open",
			Title:     "Open key-value storage",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   openStorageStep,
		},
		{
			ID:        "notify:init-bus",
			Title:     "Initialise notification bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initNotifierStep,
		},
		{
			ID:        "preferences:init-store",
			Title:     "Initialise preferences store",
			DependsOn: []string{"storage:open", "notify:init-bus", "observability:setup-hooks"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initPreferencesStep,
		},
		{
			ID:        "session:init-store",
			Title:     "Initialise session store",
			DependsOn: []string{"storage:open", "notify:init-bus"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initSessionStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().
		WithPath(state.options.ConfigPath).
		WithDotEnv(!state.options.DisableDotEnv).
		Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()
	logger.Info("[Bootstrap] logging ready [%s] %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
		OnSpan: func(component, operation string, d time.Duration, _ error) {
			if store := state.budget.Load(); store != nil {
				store.Observe(component+" "+operation, d)
			}
		},
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func openStorageStep(_ context.Context, state *appState) error {
	cfg := state.config.Storage
	kvCfg := kv.Config{
		Driver:    cfg.Driver,
		Namespace: cfg.Namespace,
	}

	var deps kv.Dependencies
	switch strings.ToLower(cfg.Driver) {
	case kv.DriverSQLite:
		db, err := platformstorage.Open(cfg.SQLite.DSN)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, "storage:open", "failed to open sqlite database", err)
		}
		state.db = db
		deps.SQLiteDB = db
	case kv.DriverRedis:
		kvCfg.Redis = &kv.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}

	store, err := kv.New(kvCfg, deps)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:open", "failed to create key-value store", err)
	}
	state.store = store

	driver := cfg.Driver
	if driver == "" {
		driver = kv.DriverMemory
	}
	state.logger.Info("[Storage] %s store ready (namespace %q)", driver, cfg.Namespace)
	return nil
}

func initNotifierStep(_ context.Context, state *appState) error {
	state.bus = notify.NewBusNotifier(notificationBuffer, state.logger)
	state.notifier = notify.Multi(notify.LogNotifier{Logger: state.logger}, state.bus)

	state.hub = ws.NewHub(state.logger)
	if err := state.hub.Attach(state.bus); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "notify:init-bus", "failed to attach websocket hub", err)
	}
	return nil
}

func initPreferencesStep(ctx context.Context, state *appState) error {
	store := preferences.New(preferences.Options{
		KV:           state.store,
		Notifier:     state.notifier,
		Presentation: preferences.NewMemoryPresentation(),
		Logger:       state.logger,
	})
	prefs := store.Rehydrate(ctx)
	state.preferences = store
	state.budget.Store(store)

	state.logger.Info("[Preferences] ready: theme=%s currency=%s budget=%dms", prefs.Theme, prefs.Currency, prefs.Performance.Budget)
	return nil
}

func initSessionStep(ctx context.Context, state *appState) error {
	cfg := state.config.Session

	accounts := make([]session.Account, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		account, err := accountFromConfig(acc)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindConfig, "session:init-store",
				fmt.Sprintf("account %q", acc.Email), err)
		}
		accounts = append(accounts, account)
	}
	directory, err := session.NewDirectory(accounts, cfg.Latency, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "session:init-store", "invalid account directory", err)
	}

	if cfg.TokenSecret == "" {
		state.logger.Warn("[Session] no token secret configured; tokens will not survive a restart")
	}

	store, err := session.New(session.Options{
		KV:            state.store,
		Notifier:      state.notifier,
		Authenticator: directory,
		Tokens:        session.NewTokenIssuer(cfg.TokenSecret, cfg.Issuer),
		Duration:      cfg.Duration,
		Logger:        state.logger,
	})
	if err != nil {
		return err
	}
	st := store.Rehydrate(ctx)
	state.sessions = store

	state.logger.Info("[Session] ready: %s with %d accounts", st.Phase, len(accounts))
	return nil
}

// accountFromConfig maps a configured account. An empty role falls back to
// the directory default; anything else must name a known role.
func accountFromConfig(acc platformconfig.AccountConfig) (session.Account, error) {
	user := session.User{
		ID:          acc.ID,
		Name:        acc.Name,
		Email:       acc.Email,
		Avatar:      acc.Avatar,
		Permissions: acc.Permissions,
	}
	if strings.TrimSpace(acc.Role) != "" {
		role, err := session.ParseRole(acc.Role)
		if err != nil {
			return session.Account{}, err
		}
		user.Role = role
	}
	if acc.Client != nil {
		user.Client = &session.Client{
			ID:   acc.Client.ID,
			Name: acc.Client.Name,
			Logo: acc.Client.Logo,
		}
	}
	return session.Account{User: user, SecretHash: acc.SecretHash}, nil
}

// buildRouter assembles the HTTP API and the notification stream.
func buildRouter(state *appState) (*httptransport.Router, error) {
	router, err := httptransport.Build(httptransport.Options{
		HTTP:     state.config.HTTP,
		LogLevel: state.config.Log.Level,
		Logger:   state.logger,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "http:build-router", "failed to build router", err)
	}

	httptransport.NewSessionService(state.sessions).Register(router.API)
	httptransport.NewPreferencesService(state.preferences).Register(router.API)

	wsRouter := ws.NewRouter(state.hub, state.logger, ws.RouterOptions{})
	router.Engine.GET("/ws/notifications", gin.WrapF(wsRouter.Handle))
	router.Engine.GET("/healthz", func(c *gin.Context) {
		stats, err := state.store.Stats(c.Request.Context())
		if err != nil {
			httptransport.RespondError(c, http.StatusServiceUnavailable, "storage unavailable", gin.H{"error": err.Error()})
			return
		}
		httptransport.RespondSuccess(c, http.StatusOK, gin.H{
			"storage":       stats,
			"session":       state.sessions.Phase().String(),
			"streams":       state.hub.Streams(),
			"streamCount":   state.hub.Count(),
			"droppedEvents": state.bus.Dropped(),
			"performance":   state.preferences.BudgetStatus(),
		}, "")
	})
	return router, nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	router, err := buildRouter(state)
	if err != nil {
		return nil, err
	}

	logger := state.logger
	httpServer := &http.Server{
		Addr:              state.config.HTTP.Addr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("[HTTP] listening on %s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			state.hub.CloseAll(ws.ErrSessionShutdown)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("[HTTP] shutdown failed: %v", err)
			} else {
				logger.Info("[HTTP] server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[HTTP] server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.Info("[Bootstrap] received %v, cleaning up", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("[Bootstrap] error during shutdown: %v", err)
			return err
		}
		logger.Info("[Bootstrap] all services stopped")
	case <-time.After(15 * time.Second):
		logger.Error("[Bootstrap] shutdown timed out")
		return errors.New("shutdown timed out")
	}
	return nil
}

func startServices(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	if !state.config.HTTP.Enabled {
		state.logger.Info("[HTTP] disabled by configuration")
		return nil
	}
	if _, err := startHTTPServer(state, g, groupCtx); err != nil {
		return err
	}
	return nil
}

// teardown releases everything the init steps acquired, in reverse order.
// It tolerates a partially initialised state.
func (s *appState) teardown() {
	if s.hub != nil {
		s.hub.CloseAll(ws.ErrSessionShutdown)
		s.hub.Detach()
	}
	if s.sessions != nil {
		s.sessions.Close()
	}
	s.budget.Store(nil)
	if s.preferences != nil {
		s.preferences.Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Close(ctx); err != nil && s.logger != nil {
			s.logger.Warn("[Storage] close failed: %v", err)
		}
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if s.observabilityShutdown != nil {
		if err := s.observabilityShutdown(ctx); err != nil && s.logger != nil {
			s.logger.Warn("[Bootstrap] observability shutdown failed: %v", err)
		}
	}
	if s.logger != nil {
		_ = s.logger.Close()
	}
}
