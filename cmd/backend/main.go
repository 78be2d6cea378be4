package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"secure-file-share/internal/db"
	"secure-file-share/internal/server"
)

func main() {
	// Local dev convenience; in containers the env is already set.
	_ = godotenv.Load()

	addr := getenvDefault("SFS_ADDR", ":8080")

	build := server.BuildInfo{
		Version: getenvDefault("SFS_VERSION", "dev"),
		Commit:  getenvDefault("SFS_COMMIT", "unknown"),
	}

	auth := server.AuthConfig{
		Secret:   getenvDefault("SFS_TOKEN_SECRET", ""),
		TokenTTL: 30 * time.Minute,
	}

	// Safety: refuse to start if the signing secret is missing.
	if auth.Secret == "" {
		log.Printf("service=backend msg=%q", "missing SFS_TOKEN_SECRET")
		os.Exit(1)
	}

	// Database
	dsn := getenvDefault("DATABASE_URL", "")
	pool, err := db.Open(dsn)
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "db_connect_failed", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Close() }()
	auth.DB = pool

	log.Printf("service=backend msg=%q", "running_migrations")
	if err := db.RunMigrations(pool); err != nil {
		log.Printf("service=backend msg=%q err=%v", "migration_failed", err)
		os.Exit(1)
	}
	log.Printf("service=backend msg=%q", "migrations_complete")

	// Object storage
	mc, bucket, err := server.NewMinioClient()
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "minio_setup_failed", err)
		os.Exit(1)
	}

	maxUpload, err := maxUploadBytes()
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "bad_max_upload_bytes", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Addr:           addr,
		Build:          build,
		Auth:           auth,
		DB:             pool,
		Minio:          mc,
		Bucket:         bucket,
		MaxUploadBytes: maxUpload,
	})

	// Start the HTTP server in a background goroutine so we can
	// listen for OS signals while it runs.
	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=backend msg=%q addr=%s version=%s commit=%s",
			"starting", addr, build.Version, build.Commit)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Block until either a shutdown signal is received or the server
	// encounters an error.
	select {
	case sig := <-sigCh:
		log.Printf("service=backend msg=%q signal=%s", "shutting_down", sig.String())
		// Give in-flight requests and notification pushes 5 seconds.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("service=backend msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		log.Printf("service=backend msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil {
			log.Printf("service=backend msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

// maxUploadBytes reads SFS_MAX_UPLOAD_BYTES; 0 means no limit.
func maxUploadBytes() (int64, error) {
	raw := os.Getenv("SFS_MAX_UPLOAD_BYTES")
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// getenvDefault reads an environment variable with a fallback.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
