// Package main starts the stripekeeper HTTP server: it parses the
// configuration, opens the selected credential backend and serves the
// credential API, over TLS when a certificate is configured.
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/stripekeeper/internal/backend"
	"github.com/atinyakov/stripekeeper/internal/config"
	"github.com/atinyakov/stripekeeper/internal/logger"
	"github.com/atinyakov/stripekeeper/internal/server/handler/http"
	"github.com/atinyakov/stripekeeper/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line, config file and environment configuration.
	options := config.Parse()

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the credential backend.
	store, err := backend.Open(ctx, options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot open credential backend", zap.String("backend", options.Backend), zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			zapLogger.Error("failed to close credential backend", zap.Error(err))
		}
	}()

	credentialService := service.NewCredentialService(store.Store, options.Limits(), zapLogger)
	credentialHandler := &http.CredentialHandler{Service: credentialService, Logger: zapLogger}
	router := http.NewRouter(credentialHandler, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	zapLogger.Info("starting server",
		zap.String("addr", options.Addr),
		zap.String("backend", options.Backend),
		zap.Int("max_entry_bytes", options.MaxEntryBytes),
		zap.Bool("tls", options.TLSCert != ""),
	)
	if options.TLSCert != "" && options.TLSKey != "" {
		err = server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Error("server stopped", zap.Error(err))
	}
}
