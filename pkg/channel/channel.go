package channel

import (
	"context"

	"menubot/pkg/bus"
)

// Status is the connection state reported by a session's lifecycle events.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// CloseReason explains why a session stopped. Only CloseLoggedOut is terminal.
type CloseReason string

const (
	CloseLoggedOut      CloseReason = "logged_out"
	CloseConnectionLost CloseReason = "connection_lost"
	CloseStreamReplaced CloseReason = "stream_replaced"
	CloseConnectFailure CloseReason = "connect_failure"
	CloseShutdown       CloseReason = "shutdown"
)

// Terminal reports whether the reason requires re-pairing before any reconnect.
func (r CloseReason) Terminal() bool {
	return r == CloseLoggedOut
}

// EventKind tags the payload carried by a SessionEvent.
type EventKind string

const (
	EventLifecycle   EventKind = "lifecycle"
	EventMessage     EventKind = "message"
	EventCredentials EventKind = "credentials"
	EventPairing     EventKind = "pairing"
)

// SessionEvent is one item of a session's ordered event stream.
type SessionEvent struct {
	Kind EventKind

	// Lifecycle
	Status Status
	Reason CloseReason
	Err    error

	// Message
	Message *bus.InboundEvent

	// Pairing
	QRCode string
}

// Lifecycle builds a lifecycle event.
func Lifecycle(status Status) SessionEvent {
	return SessionEvent{Kind: EventLifecycle, Status: status}
}

// Closed builds the terminal lifecycle event of a session stream.
func Closed(reason CloseReason, err error) SessionEvent {
	return SessionEvent{Kind: EventLifecycle, Status: StatusClosed, Reason: reason, Err: err}
}

// Session is one live, authenticated transport connection.
//
// Events delivers lifecycle updates, inbound messages and credential updates in order and
// is closed after the closed lifecycle event. Close detaches every listener the session
// registered on the underlying transport.
type Session interface {
	ID() string
	Events() <-chan SessionEvent
	Send(ctx context.Context, recipient string, text string) error
	AcknowledgeRead(ctx context.Context, recipient string, messageID string) error
	Close() error
}

// Transport opens sessions against one external messaging network.
type Transport interface {
	Name() string
	Open(ctx context.Context) (Session, error)
}
