// Package ui serves the local browser page: the latest digest, a button that
// re-runs the call and an event stream of signals and renders.
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"honeyworks/hive-client/internal/display"
	"honeyworks/hive-client/internal/events"
	"honeyworks/hive-client/internal/platform/ratelimiter"
	"honeyworks/hive-client/internal/shim"
)

const DefaultAddr = "127.0.0.1:8080"

const (
	TriggerOK         = "ok"
	TriggerLimited    = "limited"
	TriggerNotStarted = "not_started"
	TriggerFailed     = "error"
)

// Triggerer re-runs the digest call. *shim.Session satisfies it.
type Triggerer interface {
	Trigger(ctx context.Context) error
}

type TriggerObserver interface {
	ObserveTrigger(outcome string)
}

type Options struct {
	Addr      string
	Title     string
	Display   *display.Buffer
	Hub       *events.Hub
	Triggerer Triggerer
	Limiter   *ratelimiter.MapLimiter
	Metrics   http.Handler
	Observer  TriggerObserver
	Logger    *slog.Logger
	// Heartbeat is the keepalive interval of /events; zero means 20s.
	Heartbeat time.Duration
}

type Server struct {
	httpServer *http.Server
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Title == "" {
		opts.Title = "hive digest"
	}
	if opts.Display == nil {
		opts.Display = display.NewBuffer()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 20 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	// Request contexts end when shutdown starts so open event streams return.
	baseCtx, stopRequests := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(stopRequests)
	s := &Server{
		httpServer: httpServer,
		opts:       opts,
		logger:     logger.With("component", "ui"),
		now:        time.Now,
	}
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/digest", s.handleDigest)
	mux.HandleFunc("/trigger", s.handleTrigger)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Listen binds the configured address without serving.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.httpServer.Addr)
}

// Serve serves on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	EventsRetained int    `json:"events_retained"`
	TriggerClients int    `json:"trigger_clients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		EventsRetained: s.opts.Hub.BacklogSize(),
		TriggerClients: s.opts.Limiter.Len(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	text, _, _ := s.opts.Display.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, pageData{Title: s.opts.Title, Digest: text}); err != nil {
		s.logger.Error("render page failed", "operation", "index", "error", err.Error())
	}
}

type digestResponse struct {
	Text      string    `json:"text"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	text, version, updated := s.opts.Display.Snapshot()
	writeJSON(w, http.StatusOK, digestResponse{Text: text, Version: version, UpdatedAt: updated})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ok, wait := s.opts.Limiter.Take(clientKey(r), s.now()); !ok {
		s.observeTrigger(TriggerLimited)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many triggers"})
		return
	}
	if s.opts.Triggerer == nil {
		s.observeTrigger(TriggerNotStarted)
		writeJSON(w, http.StatusConflict, map[string]string{"error": shim.ErrNotStarted.Error()})
		return
	}

	err := s.opts.Triggerer.Trigger(r.Context())
	switch {
	case err == nil:
		s.observeTrigger(TriggerOK)
		text, version, updated := s.opts.Display.Snapshot()
		writeJSON(w, http.StatusOK, digestResponse{Text: text, Version: version, UpdatedAt: updated})
	case errors.Is(err, shim.ErrNotStarted):
		s.observeTrigger(TriggerNotStarted)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		s.observeTrigger(TriggerFailed)
		s.logger.Warn("trigger failed", "operation", "trigger", "error", err.Error())
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func (s *Server) observeTrigger(outcome string) {
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveTrigger(outcome)
	}
}

func clientKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return "ip:" + remote
	}
	if strings.TrimSpace(host) == "" {
		return "ip:unknown"
	}
	return "ip:" + host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
