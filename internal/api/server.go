package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/protected-store/internal/monitoring"
	"github.com/guided-traffic/protected-store/internal/storage"
)

// Config holds HTTP API server configuration
type Config struct {
	BindAddress     string
	TLSCertFile     string
	TLSKeyFile      string
	ShutdownTimeout time.Duration
}

// Server exposes a ProtectedStore over a raw-body HTTP API
type Server struct {
	httpServer *http.Server
	store      *storage.ProtectedStore
	config     *Config
	logger     *logrus.Entry
}

// NewServer creates a new API server instance
func NewServer(cfg *Config, store *storage.ProtectedStore) *Server {
	server := &Server{
		store:  store,
		config: cfg,
		logger: logrus.WithField("component", "api-server"),
	}

	router := mux.NewRouter()
	server.setupRoutes(router)

	server.httpServer = &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return server
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) tlsEnabled() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

// Start listens on the configured address and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	serverErrChan := make(chan error, 1)
	go func() {
		var err error
		if s.tlsEnabled() {
			s.logger.WithFields(logrus.Fields{
				"address":   listener.Addr().String(),
				"cert_file": s.config.TLSCertFile,
				"key_file":  s.config.TLSKeyFile,
			}).Info("Starting HTTPS server")
			err = s.httpServer.ServeTLS(listener, s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			s.logger.WithField("address", listener.Addr().String()).Info("Starting HTTP server")
			err = s.httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
		close(serverErrChan)
	}()

	select {
	case err := <-serverErrChan:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Failed to gracefully shutdown server")
		return err
	}

	s.logger.Info("Server stopped")
	return nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(router *mux.Router) {
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	router.HandleFunc("/iv/{path:.+}", s.handleFileIV).Methods(http.MethodGet)

	router.HandleFunc("/files/{path:.+}", s.handlePut).Methods(http.MethodPut)
	router.HandleFunc("/files/{path:.+}", s.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/files/{path:.+}", s.handleHead).Methods(http.MethodHead)
	router.HandleFunc("/files/{path:.+}", s.handleDelete).Methods(http.MethodDelete)

	router.Use(monitoring.HTTPMiddleware)
	router.Use(s.loggingMiddleware)
}

// loggingMiddleware logs every request with its outcome
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		entry := s.logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    wrapped.statusCode,
			"bytes":     wrapped.written,
			"duration":  time.Since(start),
			"remote_ip": r.RemoteAddr,
		})
		if r.URL.Path == "/healthz" {
			entry.Debug("HTTP request")
			return
		}
		entry.Info("HTTP request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	written     int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
