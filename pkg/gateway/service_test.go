package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"menubot/pkg/bus"
	"menubot/pkg/channel/channeltest"
	"menubot/pkg/config"
	"menubot/pkg/menu"
)

func newUnitService(t *testing.T) *Service {
	t.Helper()

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	svc, err := NewService(cfg, channeltest.NewTransport(), menu.NewRouter(menu.DefaultCatalog()), nil, nil)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	return svc
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	t.Parallel()

	router := menu.NewRouter(menu.DefaultCatalog())
	if _, err := NewService(nil, channeltest.NewTransport(), router, nil, nil); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := NewService(&config.Config{}, nil, router, nil, nil); err == nil {
		t.Fatal("expected error without transport")
	}
	if _, err := NewService(&config.Config{}, channeltest.NewTransport(), nil, nil, nil); err == nil {
		t.Fatal("expected error without router")
	}
}

func TestIsReadyRequiresOpenSession(t *testing.T) {
	t.Parallel()

	svc := newUnitService(t)
	if svc.isReady() {
		t.Fatal("expected not ready before any session opened")
	}
	if svc.Current() != nil {
		t.Fatal("expected no current session before Run")
	}
}

func TestReadyzReportsNotReady(t *testing.T) {
	t.Parallel()

	svc := newUnitService(t)
	recorder := httptest.NewRecorder()
	svc.handleReady(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", recorder.Code)
	}

	var payload statusResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.Status != "not_ready" || payload.Channel != "fake" || payload.State != "closed" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestCollectStats(t *testing.T) {
	t.Parallel()

	svc := newUnitService(t)
	events := make(chan bus.Event, 8)
	events <- bus.Event{Type: bus.EventSessionOpen, SessionID: "s-1"}
	events <- bus.Event{Type: bus.EventMessageAccepted}
	events <- bus.Event{Type: bus.EventMessageAccepted}
	events <- bus.Event{Type: bus.EventMessageReplied}
	events <- bus.Event{Type: bus.EventMessageDeliveryFail, Error: "socket closed"}
	events <- bus.Event{Type: bus.EventMessageDropped, Error: "no active session"}
	close(events)

	svc.collectStats(events)

	status := svc.currentStatus("ok")
	if status.Messages.Accepted != 2 || status.Messages.Replied != 1 || status.Messages.DeliveryFailed != 1 {
		t.Fatalf("unexpected counters: %+v", status.Messages)
	}
	if status.Messages.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", status.Messages.Dropped)
	}
	if status.Messages.LastError != "socket closed" || status.Messages.SessionID != "s-1" {
		t.Fatalf("unexpected stats: %+v", status.Messages)
	}
}

func TestBackoffFromConfig(t *testing.T) {
	t.Parallel()

	backoff := backoffFromConfig(config.ReconnectConfig{InitialDelayMS: 250, Multiplier: 1.5, MaxDelayMS: 4000, Jitter: true})
	if backoff.InitialDelay != 250*time.Millisecond || backoff.MaxDelay != 4*time.Second {
		t.Fatalf("unexpected delays: %+v", backoff)
	}
	if backoff.Multiplier != 1.5 || !backoff.Jitter {
		t.Fatalf("unexpected backoff: %+v", backoff)
	}
}
