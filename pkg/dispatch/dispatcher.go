package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"menubot/pkg/bus"
	"menubot/pkg/channel"
	"menubot/pkg/filter"
	"menubot/pkg/menu"
)

// SessionSource yields the session that is active right now, or nil between sessions.
type SessionSource interface {
	Current() channel.Session
}

// Options configures a Dispatcher.
type Options struct {
	Workers   int
	QueueSize int
	Filter    *filter.Filter
	Router    *menu.Router
	Sessions  SessionSource
	Events    *bus.EventBus
	Log       *slog.Logger
}

type job struct {
	event bus.InboundEvent
	text  string
}

// Dispatcher filters inbound events and answers accepted ones through the active session.
type Dispatcher struct {
	filter   *filter.Filter
	router   *menu.Router
	sessions SessionSource
	events   *bus.EventBus
	log      *slog.Logger

	queue     *shardedQueue[job]
	startOnce sync.Once
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Router == nil {
		return nil, errors.New("router is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("session source is required")
	}
	if opts.Filter == nil {
		opts.Filter = filter.New(filter.DefaultMaxAge, nil)
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Dispatcher{
		filter:   opts.Filter,
		router:   opts.Router,
		sessions: opts.Sessions,
		events:   opts.Events,
		log:      opts.Log.With("component", "dispatch"),
		queue:    newShardedQueue[job](opts.Workers, opts.QueueSize),
	}, nil
}

// Start launches the workers. They stop when ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.queue.start(ctx, d.handle)
	})
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.queue.wait()
}

// Enqueue filters ev and queues it for handling when accepted. Rejected events are dropped
// silently. It blocks while the sender's shard is full.
func (d *Dispatcher) Enqueue(ctx context.Context, ev bus.InboundEvent) error {
	verdict := d.filter.Evaluate(ev)
	if !verdict.Accepted {
		d.log.Debug("Ignoring message", "sender_id", ev.SenderID, "message_id", ev.MessageID, "reason", verdict.Reason)
		return nil
	}

	d.log.Info("Received message", "sender_id", ev.SenderID, "message_id", ev.MessageID, "content", ev.ContentPreview())
	d.publish(bus.Event{Type: bus.EventMessageAccepted, Channel: ev.Channel, SenderID: ev.SenderID})

	return d.queue.enqueue(ctx, ev.SenderID, job{event: ev, text: verdict.Text})
}

// handle acknowledges, routes and answers one accepted event.
//
// A dequeued event runs to completion even when shutdown starts, so the outbound calls use a
// context detached from cancellation.
func (d *Dispatcher) handle(ctx context.Context, j job) {
	ctx = context.WithoutCancel(ctx)
	ev := j.event

	session := d.sessions.Current()
	if session == nil {
		d.log.Debug("Dropping message without an active session", "sender_id", ev.SenderID, "message_id", ev.MessageID)
		d.publish(bus.Event{Type: bus.EventMessageDropped, Channel: ev.Channel, SenderID: ev.SenderID, Error: "no active session"})
		return
	}

	if err := session.AcknowledgeRead(ctx, ev.SenderID, ev.MessageID); err != nil {
		d.log.Warn("Failed to mark message as read", "sender_id", ev.SenderID, "message_id", ev.MessageID, "error", err)
	}

	decision := d.router.Route(j.text)
	if !decision.HasReply() {
		d.log.Debug("No reply for message", "sender_id", ev.SenderID, "message_id", ev.MessageID)
		return
	}

	d.log.Info("Sending message", "sender_id", ev.SenderID, "session_id", session.ID(), "command", decision.Command, "content", bus.Preview(decision.Reply))
	if err := session.Send(ctx, ev.SenderID, decision.Reply); err != nil {
		d.log.Error("Failed to send reply", "sender_id", ev.SenderID, "session_id", session.ID(), "error", err)
		d.publish(bus.Event{
			Type:      bus.EventMessageDeliveryFail,
			Channel:   ev.Channel,
			SessionID: session.ID(),
			SenderID:  ev.SenderID,
			Payload:   map[string]string{bus.PayloadCommand: string(decision.Command)},
			Error:     err.Error(),
		})
		return
	}

	d.publish(bus.Event{
		Type:      bus.EventMessageReplied,
		Channel:   ev.Channel,
		SessionID: session.ID(),
		SenderID:  ev.SenderID,
		Payload:   map[string]string{bus.PayloadCommand: string(decision.Command)},
	})
}

func (d *Dispatcher) publish(event bus.Event) {
	if d.events == nil {
		return
	}
	d.events.Publish(context.Background(), event)
}
