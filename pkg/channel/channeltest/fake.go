// Package channeltest provides scripted in-memory transports for tests.
package channeltest

import (
	"context"
	"fmt"
	"sync"

	"menubot/pkg/bus"
	"menubot/pkg/channel"
)

// Sent records one outbound call made on a Session.
type Sent struct {
	Recipient string
	Text      string
}

// Ack records one read acknowledgement made on a Session.
type Ack struct {
	Recipient string
	MessageID string
}

// Session is a channel.Session driven by the test through Emit and Disconnect.
type Session struct {
	id     string
	events chan channel.SessionEvent

	SendErr error
	AckErr  error

	mu        sync.Mutex
	sent      []Sent
	acks      []Ack
	closed    bool
	closeOnce sync.Once
	streamEnd sync.Once
	done      chan struct{}
}

// NewSession returns a session with a buffered event stream.
func NewSession(id string) *Session {
	return &Session{
		id:     id,
		events: make(chan channel.SessionEvent, 64),
		done:   make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Events() <-chan channel.SessionEvent { return s.events }

// Emit pushes ev onto the stream unless the stream already ended.
func (s *Session) Emit(ev channel.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// Open emits the open lifecycle event.
func (s *Session) Open() {
	s.Emit(channel.Lifecycle(channel.StatusOpen))
}

// Deliver emits an inbound message.
func (s *Session) Deliver(ev bus.InboundEvent) {
	s.Emit(channel.SessionEvent{Kind: channel.EventMessage, Message: &ev})
}

// Disconnect emits the closed event with reason and ends the stream.
func (s *Session) Disconnect(reason channel.CloseReason) {
	s.Emit(channel.Closed(reason, fmt.Errorf("closed: %s", reason)))
	s.endStream()
}

func (s *Session) endStream() {
	s.streamEnd.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

func (s *Session) Send(_ context.Context, recipient string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, Sent{Recipient: recipient, Text: text})
	return nil
}

func (s *Session) AcknowledgeRead(_ context.Context, recipient string, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, Ack{Recipient: recipient, MessageID: messageID})
	return s.AckErr
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.endStream()
	})
	return nil
}

// Done is closed once Close has been called.
func (s *Session) Done() <-chan struct{} { return s.done }

// SentMessages returns a copy of every successful send.
func (s *Session) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// Acks returns a copy of every read acknowledgement.
func (s *Session) Acks() []Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ack(nil), s.acks...)
}

// OpenResult is one scripted outcome of Transport.Open.
type OpenResult struct {
	Session *Session
	Err     error
}

// Transport hands out scripted Open results in order, then blocks until ctx ends.
type Transport struct {
	mu     sync.Mutex
	script []OpenResult
	opens  int
	opened chan *Session
}

func NewTransport(script ...OpenResult) *Transport {
	return &Transport{script: script, opened: make(chan *Session, len(script)+1)}
}

func (t *Transport) Name() string { return "fake" }

func (t *Transport) Open(ctx context.Context) (channel.Session, error) {
	t.mu.Lock()
	t.opens++
	if len(t.script) == 0 {
		t.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := t.script[0]
	t.script = t.script[1:]
	t.mu.Unlock()

	if next.Err != nil {
		return nil, next.Err
	}

	t.opened <- next.Session
	return next.Session, nil
}

// Opened yields each session as it is handed out.
func (t *Transport) Opened() <-chan *Session { return t.opened }

// Opens reports how many times Open was called.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}
