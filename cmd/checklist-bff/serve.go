package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sipico/checklist-bff/internal/admin"
	"github.com/sipico/checklist-bff/internal/api"
	"github.com/sipico/checklist-bff/internal/auth"
	"github.com/sipico/checklist-bff/internal/capability"
	"github.com/sipico/checklist-bff/internal/config"
	"github.com/sipico/checklist-bff/internal/entitlement"
	"github.com/sipico/checklist-bff/internal/filestore"
	"github.com/sipico/checklist-bff/internal/filestore/drive"
	"github.com/sipico/checklist-bff/internal/filestore/s3store"
	"github.com/sipico/checklist-bff/internal/logging"
	"github.com/sipico/checklist-bff/internal/mercadopago"
	"github.com/sipico/checklist-bff/internal/metrics"
	"github.com/sipico/checklist-bff/internal/storage"
)

const (
	serverShutdownTimeout = 30 * time.Second
	providerTimeout       = 15 * time.Second

	fileCacheSize = 4096
	fileCacheTTL  = 10 * time.Minute

	// opsPrefix is where the ops API is mounted on the public listener.
	opsPrefix = "/ops"
)

// components holds every long-lived dependency of the server.
type components struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar
	registry *prometheus.Registry

	store      *storage.Store
	files      filestore.Store
	broker     *capability.Broker
	mpClient   *mercadopago.Client
	reconciler *entitlement.Reconciler
	dispatcher *entitlement.Dispatcher
	policy     *auth.Policy

	apiRouter   http.Handler
	adminRouter chi.Router
	mainRouter  chi.Router
}

// close releases resources in reverse order of acquisition.
func (c *components) close(ctx context.Context) {
	if c.dispatcher != nil {
		if err := c.dispatcher.Shutdown(ctx); err != nil {
			c.logger.Warn("webhook dispatcher did not drain", "error", err)
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("failed to close storage", "error", err)
		}
	}
}

// initializeComponents wires configuration into a ready-to-serve component set.
// cfg must already be validated.
func initializeComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logLevel := new(slog.LevelVar)
	logLevel.Set(level)
	logger := logging.New(os.Stdout, logLevel)

	metrics.Version = version
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Init(registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	c := &components{
		logger:   logger,
		logLevel: logLevel,
		registry: registry,
		store:    store,
	}

	files, err := openFileStore(ctx, cfg, logger)
	if err != nil {
		c.close(ctx)
		return nil, err
	}
	c.files = files

	c.broker = capability.NewBroker(cfg.SigningSecret, cfg.PublicBaseURL, capability.WithTTL(cfg.SignedURLTTL))

	c.mpClient = mercadopago.NewClient(cfg.MPAccessToken,
		mercadopago.WithBaseURL(cfg.MPAPIURL),
		mercadopago.WithHTTPClient(&http.Client{
			Timeout:   providerTimeout,
			Transport: &mercadopago.LoggingTransport{Transport: http.DefaultTransport, Logger: logger},
		}),
	)
	c.reconciler = entitlement.NewReconciler(c.mpClient, store,
		entitlement.WithWebhookSecret(cfg.MPWebhookSecret),
		entitlement.WithLogger(logger),
	)
	c.dispatcher = entitlement.NewDispatcher(c.reconciler, cfg.WebhookConcurrency, cfg.WebhookTimeout, logger)
	if cfg.MPWebhookSecret == "" {
		logger.Warn("MP_WEBHOOK_SECRET is not set; webhook signatures are not checked")
	}

	c.policy = auth.NewPolicy(store, cfg.SuperAdminUIDs)
	var verifier auth.TokenVerifier
	if cfg.IdentityEnabled() {
		v, err := auth.NewJWKSVerifier(cfg.IdentityJWKSURL, cfg.IdentityProjectID, logger)
		if err != nil {
			c.close(ctx)
			return nil, fmt.Errorf("failed to initialize identity verifier: %w", err)
		}
		verifier = v
		if err := auth.BootstrapSuperAdmins(ctx, store, cfg.SuperAdminUIDs, logger); err != nil {
			c.close(ctx)
			return nil, err
		}
	} else {
		logger.Warn("IDENTITY_PROJECT_ID is not set; identity-protected endpoints are disabled")
	}

	index := storage.NewCachedFiles(store, fileCacheSize, fileCacheTTL, func(hit bool) {
		metrics.RecordCacheLookup("files", hit)
	})

	c.apiRouter = api.NewRouter(api.NewHandler(api.Deps{
		Broker:             c.broker,
		Files:              files,
		Backend:            cfg.StorageBackend,
		Store:              store,
		Index:              index,
		Checkout:           c.mpClient,
		PublicBaseURL:      cfg.PublicBaseURL,
		WebhookMode:        cfg.WebhookMode,
		Reconciler:         c.reconciler,
		Dispatcher:         c.dispatcher,
		Verifier:           verifier,
		Policy:             c.policy,
		SignedURLAuthz:     cfg.SignedURLAuthz,
		UploadMaxBytes:     cfg.UploadMaxBytes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	}))

	c.adminRouter = admin.NewHandler(store, cfg.OpsAPIKeyHash, logLevel, logger).NewRouter()

	mainRouter := chi.NewRouter()
	mainRouter.Mount(opsPrefix, c.adminRouter)
	mainRouter.Mount("/", c.apiRouter)
	c.mainRouter = mainRouter

	logger.Info("components initialized",
		"version", version,
		"database_driver", cfg.DatabaseDriver,
		"storage_backend", cfg.StorageBackend,
		"webhook_mode", cfg.WebhookMode,
		"identity", cfg.IdentityEnabled(),
		"ops_api", cfg.OpsAPIKeyHash != "",
	)
	return c, nil
}

// openFileStore builds the configured object storage backend.
func openFileStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (filestore.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendDrive:
		s, err := drive.New(ctx, drive.Config{
			CredentialsJSON: cfg.DriveCredentials,
			RefreshToken:    cfg.DriveRefreshToken,
			RootFolderID:    cfg.DriveRootFolderID,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize drive storage: %w", err)
		}
		return s, nil
	case config.BackendS3:
		s, err := s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// createServer creates an HTTP server for the public listener. WriteTimeout
// bounds the longest file stream a client can hold open.
func createServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

// createMetricsServer serves /metrics on its own listener so it is never
// exposed through the public address.
func createMetricsServer(cfg *config.Config, reg prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(reg))
	return &http.Server{
		Addr:              cfg.MetricsListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve runs the server until SIGINT or SIGTERM.
func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg)
}

// run serves until ctx is cancelled, then shuts down gracefully: listeners
// stop accepting, in-flight webhook jobs drain and storage closes last.
func run(ctx context.Context, cfg *config.Config) error {
	c, err := initializeComponents(ctx, cfg)
	if err != nil {
		return err
	}

	server := createServer(cfg, c.mainRouter)
	servers := []*http.Server{server}
	if cfg.MetricsListenAddr != "" {
		servers = append(servers, createMetricsServer(cfg, c.registry))
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			c.close(context.Background())
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		c.logger.Info("listening", "addr", ln.Addr().String())
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv, ln)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		c.logger.Info("shutting down")
	case serveErr = <-errCh:
		c.logger.Error("server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("server shutdown incomplete", "addr", srv.Addr, "error", err)
		}
	}
	c.close(shutdownCtx)

	c.logger.Info("stopped")
	return serveErr
}
