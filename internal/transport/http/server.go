package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	feedService "github.com/reshetovitsme/wikiscan/internal/modules/feed/service"
	pipelineService "github.com/reshetovitsme/wikiscan/internal/modules/pipeline/service"
	"github.com/reshetovitsme/wikiscan/internal/shared/config"
	sloghttp "github.com/samber/slog-http"
)

// StatusSource reports the pipeline's progress
type StatusSource interface {
	State() pipelineService.State
	Stats() (processed, matches int64)
}

// Server exposes health, status and feeds of flagged changes
type Server struct {
	cfg         *config.Config
	feedService *feedService.Service
	status      StatusSource
	filter      string
	logger      *slog.Logger

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a new HTTP server
func New(cfg *config.Config, feedService *feedService.Service, status StatusSource, filter string) *Server {
	return &Server{
		cfg:         cfg,
		feedService: feedService,
		status:      status,
		filter:      filter,
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Handler returns the routes wrapped in request logging and recovery
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /flagged.rss", s.handleRSS)
	mux.HandleFunc("GET /flagged.atom", s.handleAtom)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := sloghttp.Recovery(mux)
	return sloghttp.New(s.logger)(handler)
}

// Start starts the HTTP server and blocks until it stops. It returns
// immediately when Shutdown has already been called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.cfg.HTTPPort)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("Status server starting", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feedService.GenerateFeed(baseURL(r))
	if err != nil {
		s.logger.Error("Error generating feed", "error", err)
		http.Error(w, "Failed to generate feed", http.StatusInternalServerError)
		return
	}

	rss, err := feed.ToRss()
	if err != nil {
		s.logger.Error("Error converting feed to RSS", "error", err)
		http.Error(w, "Failed to generate RSS", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(rss))
}

func (s *Server) handleAtom(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feedService.GenerateFeed(baseURL(r))
	if err != nil {
		s.logger.Error("Error generating feed", "error", err)
		http.Error(w, "Failed to generate feed", http.StatusInternalServerError)
		return
	}

	atom, err := feed.ToAtom()
	if err != nil {
		s.logger.Error("Error converting feed to Atom", "error", err)
		http.Error(w, "Failed to generate Atom", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(atom))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	processed, matches := s.status.Stats()
	body := map[string]any{
		"filter":    s.filter,
		"state":     s.status.State().String(),
		"log_level": int(s.cfg.LogLevel),
		"processed": processed,
		"matches":   matches,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func baseURL(r *http.Request) string {
	return fmt.Sprintf("%s://%s", getScheme(r), r.Host)
}

func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
