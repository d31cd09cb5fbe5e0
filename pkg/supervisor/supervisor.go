// Package supervisor keeps one transport session alive.
//
// The supervisor owns the active session handle. It opens a session, pumps its event stream
// into the dispatcher, and when the session closes either opens a fresh one or halts for good
// when the account was logged out.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"menubot/pkg/bus"
	"menubot/pkg/channel"
)

// State is the supervisor's view of the connection.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateHalted     State = "halted"
)

var (
	// ErrHalted is returned when the account was logged out and must be paired again.
	ErrHalted = errors.New("session halted: re-pair required")
	// ErrRetriesExhausted is returned when reconnect.max_attempts is exceeded.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// MessageSink receives inbound events in stream order.
type MessageSink interface {
	Enqueue(ctx context.Context, ev bus.InboundEvent) error
}

// Options configures a Supervisor.
type Options struct {
	Transport   channel.Transport
	Sink        MessageSink
	Events      *bus.EventBus
	Backoff     BackoffConfig
	MaxAttempts int
	Log         *slog.Logger
}

type sessionRef struct {
	session channel.Session
}

// Supervisor drives the connecting -> open -> closed cycle across sessions.
type Supervisor struct {
	transport   channel.Transport
	sink        MessageSink
	events      *bus.EventBus
	backoff     BackoffConfig
	maxAttempts int
	log         *slog.Logger

	current atomic.Pointer[sessionRef]

	mu    sync.RWMutex
	state State
}

func New(opts Options) (*Supervisor, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("message sink is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Supervisor{
		transport:   opts.Transport,
		sink:        opts.Sink,
		events:      opts.Events,
		backoff:     opts.Backoff,
		maxAttempts: opts.MaxAttempts,
		log:         opts.Log.With("component", "supervisor", "channel", opts.Transport.Name()),
		state:       StateClosed,
	}, nil
}

// Current returns the active session, or nil while none is attached.
func (s *Supervisor) Current() channel.Session {
	ref := s.current.Load()
	if ref == nil {
		return nil
	}

	return ref.session
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Run keeps a session open until ctx ends, the account is logged out, or the reconnect
// budget runs out. It returns nil on shutdown and an error wrapping ErrHalted on logout.
func (s *Supervisor) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if s.State() != StateHalted {
			s.setState(StateClosed)
		}
	}()

	failures := 0
	for {
		if failures > 0 {
			if s.maxAttempts > 0 && failures > s.maxAttempts {
				s.log.Error("Giving up reconnecting", "attempts", failures-1)
				return fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, failures-1)
			}

			delay := NextBackoffDelay(s.backoff, failures)
			if delay > 0 {
				s.log.Info("Waiting before reconnect", "attempt", failures, "delay", delay)
			}
			if err := sleepContext(ctx, delay); err != nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting)
		s.publish(bus.Event{Type: bus.EventSessionConnecting, Payload: map[string]string{bus.PayloadAttempt: strconv.Itoa(failures + 1)}})
		s.log.Info("Connecting", "attempt", failures+1)

		session, err := s.transport.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, channel.ErrAuthExpired) {
				return s.halt("", channel.CloseLoggedOut, err)
			}

			failures++
			s.setState(StateClosed)
			s.log.Warn("Failed to open session", "error", err, "attempt", failures)
			s.publishClosed("", channel.CloseConnectFailure, err, true)
			continue
		}

		opened, reason, cause := s.serve(ctx, session)
		if ctx.Err() != nil || reason == channel.CloseShutdown {
			return nil
		}
		if reason.Terminal() {
			return s.halt(session.ID(), reason, cause)
		}

		if opened {
			failures = 1
		} else {
			failures++
		}
		s.setState(StateClosed)
		s.log.Warn("Session closed", "session_id", session.ID(), "reason", reason, "error", cause, "reconnect", true)
		s.publishClosed(session.ID(), reason, cause, true)
	}
}

// serve attaches session as the active handle and pumps its stream until it closes.
func (s *Supervisor) serve(ctx context.Context, session channel.Session) (bool, channel.CloseReason, error) {
	s.current.Store(&sessionRef{session: session})
	log := s.log.With("session_id", session.ID())

	defer func() {
		s.current.Store(nil)
		if err := session.Close(); err != nil {
			log.Debug("Failed to close session", "error", err)
		}
	}()

	opened := false
	events := session.Events()
	for {
		select {
		case <-ctx.Done():
			return opened, channel.CloseShutdown, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return opened, channel.CloseConnectionLost, errors.New("event stream ended")
			}

			switch ev.Kind {
			case channel.EventLifecycle:
				switch ev.Status {
				case channel.StatusConnecting:
					log.Debug("Session connecting")
				case channel.StatusOpen:
					opened = true
					s.setState(StateOpen)
					log.Info("Session open")
					s.publish(bus.Event{Type: bus.EventSessionOpen, SessionID: session.ID()})
				case channel.StatusClosed:
					return opened, ev.Reason, ev.Err
				}
			case channel.EventMessage:
				if ev.Message == nil {
					continue
				}
				if err := s.sink.Enqueue(ctx, *ev.Message); err != nil && ctx.Err() == nil {
					log.Warn("Failed to enqueue message", "sender_id", ev.Message.SenderID, "error", err)
				}
			case channel.EventCredentials:
				log.Info("Credentials updated")
				s.publish(bus.Event{Type: bus.EventCredentialsUpdated, SessionID: session.ID()})
			case channel.EventPairing:
				log.Info("Pairing required")
				s.publish(bus.Event{
					Type:      bus.EventPairingCode,
					SessionID: session.ID(),
					Payload:   map[string]string{bus.PayloadQRCode: ev.QRCode},
				})
			}
		}
	}
}

func (s *Supervisor) halt(sessionID string, reason channel.CloseReason, cause error) error {
	s.setState(StateHalted)
	s.log.Error("Logged out, re-pair required", "session_id", sessionID, "error", cause)
	s.publishClosed(sessionID, reason, cause, false)
	s.publish(bus.Event{Type: bus.EventSessionHalted, SessionID: sessionID, Payload: map[string]string{bus.PayloadReason: string(reason)}})

	if cause == nil {
		return ErrHalted
	}
	return fmt.Errorf("%w: %w", ErrHalted, cause)
}

func (s *Supervisor) publishClosed(sessionID string, reason channel.CloseReason, cause error, reconnect bool) {
	event := bus.Event{
		Type:      bus.EventSessionClosed,
		SessionID: sessionID,
		Payload: map[string]string{
			bus.PayloadReason:    string(reason),
			bus.PayloadReconnect: strconv.FormatBool(reconnect),
		},
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	s.publish(event)
}

func (s *Supervisor) publish(event bus.Event) {
	if s.events == nil {
		return
	}
	event.Channel = s.transport.Name()
	s.events.Publish(context.Background(), event)
}
