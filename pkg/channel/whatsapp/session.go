package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"menubot/pkg/channel"
)

const eventBufferSize = 256

// session wraps one whatsmeow client connection.
type session struct {
	id        string
	client    *whatsmeow.Client
	handlerID uint32
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events    chan channel.SessionEvent
	mu        sync.RWMutex
	ended     bool
	endOnce   sync.Once
	closeOnce sync.Once
}

func newSession(client *whatsmeow.Client, log *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.NewString(),
		client: client,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan channel.SessionEvent, eventBufferSize),
	}
	s.log = log.With("session_id", s.id)
	s.handlerID = client.AddEventHandler(s.handleEvent)
	return s
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Events() <-chan channel.SessionEvent {
	return s.events
}

func (s *session) Send(ctx context.Context, recipient string, text string) error {
	to, err := parseRecipient(recipient)
	if err != nil {
		return err
	}

	message := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := s.client.SendMessage(ctx, to, message); err != nil {
		return channel.NewTransportError("send", err)
	}

	return nil
}

func (s *session) AcknowledgeRead(ctx context.Context, recipient string, messageID string) error {
	chat, err := parseRecipient(recipient)
	if err != nil {
		return err
	}
	if strings.TrimSpace(messageID) == "" {
		return errors.New("message id is required")
	}

	ids := []types.MessageID{types.MessageID(messageID)}
	if err := s.client.MarkRead(ctx, ids, time.Now(), chat, types.EmptyJID); err != nil {
		return channel.NewTransportError("mark read", err)
	}

	return nil
}

// Close detaches the event handler, drops the socket and ends the event stream.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.client.RemoveEventHandler(s.handlerID)
		s.client.Disconnect()
		s.end()
	})
	return nil
}

// handleEvent runs on whatsmeow's dispatch goroutine.
func (s *session) handleEvent(evt any) {
	ev, ok := convertEvent(evt)
	if !ok {
		return
	}

	if ev.Kind == channel.EventMessage {
		s.log.Debug("Message received", "sender_id", ev.Message.SenderID, "message_id", ev.Message.MessageID)
	}

	s.emit(ev)
	if ev.Kind == channel.EventLifecycle && ev.Status == channel.StatusClosed {
		s.end()
	}
}

func (s *session) pumpPairing(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.emit(channel.SessionEvent{Kind: channel.EventPairing, QRCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			s.log.Info("Pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			s.emit(channel.Closed(channel.CloseConnectFailure, errors.New("pairing timed out")))
			s.end()
			return
		default:
			if item.Error != nil || strings.HasPrefix(item.Event, "err") {
				cause := item.Error
				if cause == nil {
					cause = errors.New(item.Event)
				}
				s.emit(channel.Closed(channel.CloseConnectFailure, fmt.Errorf("pairing failed: %w", cause)))
				s.end()
				return
			}
			s.log.Debug("Pairing event", "event", item.Event)
		}
	}
}

// emit delivers ev unless the stream already ended or the session was closed.
func (s *session) emit(ev channel.SessionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ended {
		return
	}

	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) end() {
	s.endOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.ended = true
		close(s.events)
		s.mu.Unlock()
	})
}

func parseRecipient(recipient string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return types.EmptyJID, errors.New("recipient is required")
	}

	jid, err := types.ParseJID(recipient)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse recipient %q: %w", recipient, err)
	}
	return jid, nil
}
