// Command registryd runs the session-registry service: the HTTP API tracking
// one open recording session per room and archiving uploaded payloads.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/saklain-mustaque/video-connect-sub001/pkg/registry"
)

func run() error {
	_ = godotenv.Load()

	addr := os.Getenv("REGISTRY_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	dataDir := os.Getenv("REGISTRY_DATA_DIR")
	if dataDir == "" {
		dataDir = "data/registry"
	}
	spoolDir := os.Getenv("REGISTRY_SPOOL_DIR")
	if spoolDir == "" {
		spoolDir = "data/recordings"
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	store, err := registry.OpenStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	archive, err := registry.NewArchive(spoolDir, logger)
	if err != nil {
		return err
	}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		err = archive.EnableS3(registry.S3Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    os.Getenv("S3_BUCKET"),
			Prefix:    os.Getenv("S3_PREFIX"),
			Region:    os.Getenv("S3_REGION"),
			UseSSL:    os.Getenv("S3_USE_SSL") == "true",
		})
		if err != nil {
			return err
		}
		logger.Info("S3 mirroring enabled", zap.String("endpoint", endpoint))
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           registry.NewServer(store, archive, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("session registry listening", zap.String("addr", addr))
		errChan <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-sigChan:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err = server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "registryd:", err)
		os.Exit(1)
	}
}
