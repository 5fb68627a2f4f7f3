package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storefront/register/internal/cache"
	"storefront/register/internal/catalog"
	"storefront/register/internal/config"
	"storefront/register/internal/httpapi"
	"storefront/register/internal/notify"
	"storefront/register/internal/printer"
	"storefront/register/internal/receipt"
	"storefront/register/internal/service"
	"storefront/register/internal/store"
	"storefront/register/internal/store/memory"
	pgstore "storefront/register/internal/store/postgres"
	"storefront/register/internal/store/remote"
)

func main() {
	cfg, cfgErr := config.Load()
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if cfgErr != nil {
		logger.Warn("ignoring unreadable env file", zap.Error(cfgErr))
	}

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	location, err := cfg.Location()
	if err != nil {
		logger.Fatal("invalid TIMEZONE", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	switch {
	case cfg.BackendAPIURL != "":
		repo = remote.New(cfg.BackendAPIURL, newBackendClient())
		logger.Info("repository: storefront api", zap.String("url", cfg.BackendAPIURL))
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("postgres schema", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	default:
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			catalogCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	renderer := receipt.NewRenderer(receipt.Options{
		StoreName: cfg.StoreName,
		Currency:  cfg.ReceiptCurrency,
		Width:     cfg.ReceiptWidth,
	})
	device, err := printer.NewFromConfig(printer.Config{
		Type:       cfg.PrinterType,
		Device:     cfg.PrinterDevice,
		Address:    cfg.PrinterAddress,
		Command:    cfg.PrintCommand,
		CloseDelay: cfg.PrintCloseDelay(),
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("printer configuration", zap.Error(err))
	}
	closers = append(closers, device.Close)
	logger.Info("printer", zap.String("type", cfg.PrinterType))

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	hub := notify.NewHub(cfg.AllowedOrigin, logger)
	go hub.Run(runCtx)

	svc := service.New(catalog.NewLoader(repo, catalogCache, cfg.CatalogCacheTTL(), logger), repo, service.Options{
		Location:   location,
		SessionTTL: cfg.SessionTTL(),
		Notifier:   notify.Multi{notify.NewLog(logger), hub},
		Printer:    printer.NewDispatcher(renderer, device, logger),
		Renderer:   renderer,
		Logger:     logger,
	})
	go svc.RunJanitor(runCtx, time.Minute)

	tokens := httpapi.NewSessionTokens(cfg.SessionSecret, cfg.SessionTTL())
	api := httpapi.New(svc, tokens, hub, cfg.AllowedOrigin, logger)

	// WriteTimeout stays zero: /ws/notices holds its connection open and
	// confirm waits on the storefront backend.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("register backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	stopRun()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// newBackendClient bounds connection setup only. A sale submission waits for
// the storefront's answer: cutting it short would mark a stored sale failed
// and invite a second one under a new invoice number.
func newBackendClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be set and at least 32 characters")
	}
	if cfg.PrinterType == "usb" && strings.TrimSpace(cfg.PrinterDevice) == "" {
		return fmt.Errorf("PRINTER_DEVICE is required for a usb printer")
	}
	if cfg.PrinterType == "network" && strings.TrimSpace(cfg.PrinterAddress) == "" {
		return fmt.Errorf("PRINTER_ADDRESS is required for a network printer")
	}
	return nil
}
