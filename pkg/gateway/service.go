package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"menubot/pkg/bus"
	"menubot/pkg/channel"
	"menubot/pkg/config"
	"menubot/pkg/console"
	"menubot/pkg/dispatch"
	"menubot/pkg/filter"
	"menubot/pkg/menu"
	"menubot/pkg/supervisor"
)

const (
	defaultHealthHost = "127.0.0.1"
	defaultHealthPort = 18790

	subscriberBuffer = 128
)

// Service wires one transport to the supervisor, dispatcher and status surfaces.
type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	transport  channel.Transport
	events     *bus.EventBus
	dispatcher *dispatch.Dispatcher
	supervisor *supervisor.Supervisor
	console    *console.Printer

	mu        sync.RWMutex
	startedAt time.Time
	stats     messageStats
}

type messageStats struct {
	Accepted       int64  `json:"accepted"`
	Replied        int64  `json:"replied"`
	DeliveryFailed int64  `json:"delivery_failed"`
	Dropped        int64  `json:"dropped"`
	LastError      string `json:"last_error,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

type statusResponse struct {
	Status        string       `json:"status"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Channel       string       `json:"channel"`
	State         string       `json:"state"`
	Messages      messageStats `json:"messages"`
}

// NewService builds the runtime for transport. A nil printer disables console output.
func NewService(cfg *config.Config, transport channel.Transport, router *menu.Router, printer *console.Printer, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if router == nil {
		return nil, errors.New("menu router is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		cfg:       cfg,
		log:       log.With("component", "gateway.service"),
		transport: transport,
		events:    bus.NewEventBus(),
		console:   printer,
	}

	maxAge := time.Duration(cfg.Dispatch.MaxMessageAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = filter.DefaultMaxAge
	}

	dispatcher, err := dispatch.New(dispatch.Options{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Filter:    filter.New(maxAge, nil),
		Router:    router,
		Sessions:  s,
		Events:    s.events,
		Log:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize dispatcher: %w", err)
	}

	sup, err := supervisor.New(supervisor.Options{
		Transport:   transport,
		Sink:        dispatcher,
		Events:      s.events,
		Backoff:     backoffFromConfig(cfg.Reconnect),
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Log:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize supervisor: %w", err)
	}

	s.dispatcher = dispatcher
	s.supervisor = sup
	return s, nil
}

// Current exposes the supervisor's active session to the dispatcher.
func (s *Service) Current() channel.Session {
	if s.supervisor == nil {
		return nil
	}
	return s.supervisor.Current()
}

// Events returns the lifecycle bus. It closes when Run returns.
func (s *Service) Events() *bus.EventBus {
	return s.events
}

// Run blocks until ctx ends or the supervisor stops. It returns nil on shutdown and the
// supervisor's error on logout or exhausted retries.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		s.dispatcher.Wait()
		s.events.Close()
		wg.Wait()
	}()

	statsSub, unsubscribeStats := s.events.Subscribe(runCtx, subscriberBuffer)
	defer unsubscribeStats()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.collectStats(statsSub)
	}()

	if s.console != nil {
		consoleSub, unsubscribeConsole := s.events.Subscribe(runCtx, subscriberBuffer)
		defer unsubscribeConsole()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.console.Run(consoleSub)
		}()
	}

	s.dispatcher.Start(runCtx)

	serverErrors := make(chan error, 1)
	if s.cfg.Gateway.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runHealthServer(runCtx, serverErrors)
		}()
	}

	supervisorDone := make(chan error, 1)
	go func() {
		supervisorDone <- s.supervisor.Run(runCtx)
	}()

	select {
	case err := <-supervisorDone:
		if err != nil {
			return fmt.Errorf("run %s session: %w", s.transport.Name(), err)
		}
		return nil
	case err := <-serverErrors:
		cancel()
		<-supervisorDone
		return err
	}
}

func (s *Service) collectStats(sub <-chan bus.Event) {
	for event := range sub {
		s.mu.Lock()
		switch event.Type {
		case bus.EventMessageAccepted:
			s.stats.Accepted++
		case bus.EventMessageReplied:
			s.stats.Replied++
		case bus.EventMessageDeliveryFail:
			s.stats.DeliveryFailed++
			s.stats.LastError = event.Error
		case bus.EventMessageDropped:
			s.stats.Dropped++
		case bus.EventSessionOpen:
			s.stats.SessionID = event.SessionID
		case bus.EventSessionClosed:
			s.stats.SessionID = ""
			if event.Error != "" {
				s.stats.LastError = event.Error
			}
		}
		s.mu.Unlock()
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Channel:       s.transport.Name(),
		State:         string(s.state()),
		Messages:      s.stats,
	}
}

// isReady reports whether a session is open and able to answer.
func (s *Service) isReady() bool {
	return s.state() == supervisor.StateOpen
}

func (s *Service) state() supervisor.State {
	if s.supervisor == nil {
		return supervisor.StateClosed
	}
	return s.supervisor.State()
}

func backoffFromConfig(cfg config.ReconnectConfig) supervisor.BackoffConfig {
	return supervisor.BackoffConfig{
		InitialDelay: time.Duration(cfg.InitialDelayMS) * time.Millisecond,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		Jitter:       cfg.Jitter,
	}
}
