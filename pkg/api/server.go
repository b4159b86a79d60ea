// Copyright 2024-2026 Aiku AI

// Package api serves the relay's HTTP surface: liveness, the health
// snapshot, announcements, external events and Prometheus metrics.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/requestlog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/relay"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Relay is the part of the coordinator exposed over HTTP.
type Relay interface {
	Snapshot() relay.HealthSnapshot
	Announce(ctx context.Context, text string)
}

type announceRequest struct {
	Text string `json:"text"`
}

type eventRequest struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Text   string `json:"text"`
}

type acceptedResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the relay's HTTP API.
type Server struct {
	cfg     config.APIConfig
	relay   Relay
	log     zerolog.Logger
	handler http.Handler

	srv     *http.Server
	pending sync.WaitGroup
}

// New builds the API server. Metrics are served from gatherer.
func New(cfg config.APIConfig, r Relay, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		relay: r,
		log:   log.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleLiveness)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /api/health", s.requireToken(http.HandlerFunc(s.handleHealth)))
	mux.Handle("POST /api/announce", s.requireToken(http.HandlerFunc(s.handleAnnounce)))
	mux.Handle("POST /api/events", s.requireToken(http.HandlerFunc(s.handleEvent)))

	s.handler = otelhttp.NewHandler(exhttp.ApplyMiddleware(
		mux,
		hlog.NewHandler(s.log),
		requestlog.AccessLogger(requestlog.Options{Recover: true}),
	), "relay-api")
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background. An
// empty address disables the API.
func (s *Server) Start() error {
	if s.cfg.ListenAddr == "" {
		s.log.Info().Msg("API listen address not set, HTTP API disabled")
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP API stopped")
		}
	}()
	s.log.Info().Str("listen_addr", ln.Addr().String()).Msg("HTTP API listening")
	return nil
}

// Shutdown stops accepting requests and waits for accepted announcements to
// be relayed, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="relay"`)
			exhttp.WriteJSONResponse(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.relay.Snapshot()
	status := http.StatusOK
	if snap.Status == relay.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	exhttp.WriteJSONResponse(w, status, snap)
}

func (s *Server) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		exhttp.WriteJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}
	s.relayAsync(r, req.Text)
	exhttp.WriteJSONResponse(w, http.StatusAccepted, acceptedResponse{Status: "accepted"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		exhttp.WriteJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	hlog.FromRequest(r).Info().
		Str("event_id", req.ID).
		Str("source", req.Source).
		Msg("Accepted external event")
	s.relayAsync(r, req.Text)
	exhttp.WriteJSONResponse(w, http.StatusAccepted, acceptedResponse{Status: "accepted", ID: req.ID})
}

// relayAsync hands text to the coordinator without tying it to the request
// lifetime.
func (s *Server) relayAsync(r *http.Request, text string) {
	ctx := context.WithoutCancel(r.Context())
	s.pending.Go(func() {
		s.relay.Announce(ctx, text)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			exhttp.WriteJSONResponse(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		exhttp.WriteJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}
