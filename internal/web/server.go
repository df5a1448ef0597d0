package web

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/docwatch/internal/watch"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// StatusSource reports watcher state and streams its transitions.
type StatusSource interface {
	Status() watch.Status
	Subscribe() (<-chan watch.Event, func())
}

// Options configures the status server.
type Options struct {
	DB      *sql.DB
	Watcher StatusSource
	Version string
	Addr    string
	Logger  *slog.Logger
	// AllowedOrigins lists extra origins accepted by the /events websocket.
	AllowedOrigins []string
}

// NewServer creates the HTTP status server.
func NewServer(opts Options) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler builds the routed handler wrapped with security headers.
func NewHandler(opts Options) http.Handler {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "web")

	h := &Handlers{
		db:             opts.DB,
		watcher:        opts.Watcher,
		renderer:       NewRenderer(templateSub, opts.Version, logger),
		logger:         logger,
		allowedOrigins: opts.AllowedOrigins,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.HandleDashboard)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /runs", h.HandleRuns)
	mux.HandleFunc("GET /runs/{id}", h.HandleRunDetail)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; connect-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	addr := listener.Addr().String()
	logger.Info("status server listening", "url", "http://"+addr)
	if strings.HasPrefix(addr, "0.0.0.0") || strings.HasPrefix(addr, "[::]") {
		logger.Warn("status server is bound to all interfaces and may be reachable from the network")
	}

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
