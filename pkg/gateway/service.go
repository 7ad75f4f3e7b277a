// Package gateway owns the HTTP server: webhook channels, health and readiness, and the
// optional admin rule API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"wxreply/pkg/bus"
	"wxreply/pkg/channel"
	"wxreply/pkg/config"
	"wxreply/pkg/rules"
)

const (
	healthMessage   = "微信公众号自动回复系统运行正常"
	shutdownTimeout = 5 * time.Second
)

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	rules    *rules.RuleSet
	bus      *bus.MessageBus
	channels []channel.Adapter

	mu            sync.RWMutex
	startedAt     time.Time
	channelStates map[string]channelState
}

type channelState struct {
	Mounted bool `json:"mounted"`
}

type statusResponse struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Rules         int                     `json:"rules"`
	Channels      map[string]channelState `json:"channels"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewService wires adapters and the rule set into a gateway. mb may be nil.
func NewService(cfg *config.Config, ruleSet *rules.RuleSet, adapters []channel.Adapter, mb *bus.MessageBus, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if ruleSet == nil {
		return nil, errors.New("rule set is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if cfg.Admin.Enabled && cfg.Admin.Token == "" {
		return nil, errors.New("admin.token is required when admin.enabled is true")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		rules:         ruleSet,
		bus:           mb,
		channels:      adapters,
		startedAt:     time.Now().UTC(),
		channelStates: channelStates,
	}, nil
}

// Handler builds the full HTTP handler: router plus request id, access log and panic recovery.
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	if s.cfg.Admin.Enabled {
		s.mountAdmin(router)
	}

	for _, adapter := range s.channels {
		adapter.Mount(router)
		s.setChannelState(adapter.Name(), channelState{Mounted: true})
	}

	var handler http.Handler = router
	handler = withRecovery(s.log)(handler)
	handler = withAccessLog(s.log)(handler)
	handler = withRequestID(handler)
	return handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	addr := s.cfg.Gateway.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("Gateway server started", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("start gateway server: %w", err)
		}
		close(serverErrors)
	}()

	select {
	case err, ok := <-serverErrors:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway server: %w", err)
	}

	s.log.Info("Gateway server stopped")
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, healthResponse{Status: "ok", Message: healthMessage})
}

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.log, http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	writeJSON(w, s.log, statusCode, s.currentStatus(status))
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Rules:         s.rules.Len(),
		Channels:      channels,
	}
}

// isReady requires a mounted channel and at least one rule.
func (s *Service) isReady() bool {
	if s.rules.Len() == 0 {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, state := range s.channelStates {
		if state.Mounted {
			return true
		}
	}

	return false
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}
