package server

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"

	"secure-file-share/internal/notify"
	"secure-file-share/internal/session"
	"secure-file-share/internal/ws"
)

// BuildInfo identifies the running binary in health output and logs.
type BuildInfo struct {
	Version string
	Commit  string
}

// Config carries the server's dependencies and settings.
type Config struct {
	Addr  string // e.g. ":8080"
	Build BuildInfo
	Auth  AuthConfig
	DB    *sql.DB
	Minio *minio.Client
	// Bucket is the object-storage bucket holding encrypted blobs.
	Bucket string
	// MaxUploadBytes caps a single upload; 0 means no limit.
	MaxUploadBytes int64
}

// Server bundles the HTTP server with the in-process notification
// machinery so shutdown can drain in-flight pushes.
type Server struct {
	httpServer *http.Server
	registry   *session.Registry
	hub        *ws.Hub
	notifier   *notify.Notifier
}

// New wires routes, middleware and the session/fan-out machinery. The
// registry is constructed once here and shared by reference between
// the websocket lifecycle callbacks and the notifier.
func New(cfg Config) *Server {
	registry := session.NewRegistry(cfg.Auth.Verifier())
	hub := ws.NewHub(registry)
	notifier := notify.New(registry, hub)
	hub.SetAnnouncer(notifier)

	mux := http.NewServeMux()

	mux.Handle("POST /register", cfg.registerHandler())
	mux.Handle("POST /login", cfg.Auth.loginHandler())
	mux.Handle("GET /users/me", cfg.meHandler())

	mux.Handle("POST /files/upload", cfg.uploadHandler(notifier))
	mux.Handle("GET /files", cfg.listFilesHandler())
	mux.Handle("GET /files/shared", cfg.listSharedHandler())
	mux.Handle("GET /files/{id}/download", cfg.downloadHandler())
	mux.Handle("POST /files/{id}/share", cfg.shareHandler(notifier))
	mux.Handle("DELETE /files/{id}", cfg.deleteFileHandler())

	mux.Handle("GET /ws", hub.Handler())

	mux.Handle("GET /health", cfg.healthHandler())
	mux.Handle("GET /metrics", metricsHandler())

	// Wrap middleware: requestID -> logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		httpServer: s,
		registry:   registry,
		hub:        hub,
		notifier:   notifier,
	}
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting requests, then drains any in-flight
// notification pushes.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.notifier.Drain()
	return err
}
