package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"menubot/pkg/bus"
	"menubot/pkg/channel"
	"menubot/pkg/config"
)

const channelName = "telegram"

const (
	eventBufferSize = 64

	pollTimeoutSeconds = 30
	pollRetryDelay     = time.Second
	maxPollFailures    = 3
)

// Transport opens long-polling sessions for one Telegram bot token.
type Transport struct {
	token     string
	allowFrom map[string]struct{}
	botOpts   []telego.BotOption
	log       *slog.Logger
}

// NewTransport validates Telegram configuration and constructs a transport.
func NewTransport(cfg config.TelegramConfig, log *slog.Logger, opts ...telego.BotOption) (*Transport, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Transport{
		token:     token,
		allowFrom: allowFromSet(cfg.AllowFrom),
		botOpts:   opts,
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in bus metadata and logs.
func (t *Transport) Name() string {
	return channelName
}

// Open verifies the token with getMe and starts long polling. A rejected token is reported
// as channel.ErrAuthExpired, both here and when getUpdates starts failing with 401 later.
func (t *Transport) Open(ctx context.Context) (channel.Session, error) {
	bot, err := telego.NewBot(t.token, t.botOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: initialize telegram bot: %w", channel.ErrAuthExpired, err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		if unauthorized(err) {
			return nil, fmt.Errorf("%w: %w", channel.ErrAuthExpired, err)
		}
		return nil, channel.NewTransportError("get me", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.NewString(),
		bot:       bot,
		botID:     me.ID,
		allowFrom: t.allowFrom,
		ctx:       sessionCtx,
		cancel:    cancel,
		events:    make(chan channel.SessionEvent, eventBufferSize),
	}
	s.log = t.log.With("session_id", s.id, "bot", me.Username)

	go s.poll()

	s.log.Info("Telegram channel started")
	return s, nil
}

type session struct {
	id        string
	bot       *telego.Bot
	botID     int64
	allowFrom map[string]struct{}
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan channel.SessionEvent
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Events() <-chan channel.SessionEvent {
	return s.events
}

func (s *session) Send(ctx context.Context, recipient string, text string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}

	if _, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		return channel.NewTransportError("send", err)
	}

	return nil
}

// AcknowledgeRead shows a typing indicator. Bots cannot mark messages as read on Telegram.
func (s *session) AcknowledgeRead(ctx context.Context, recipient string, _ string) error {
	chatID, err := parseChatID(recipient)
	if err != nil {
		return err
	}

	if err := s.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil {
		return channel.NewTransportError("chat action", err)
	}

	return nil
}

// Close stops long polling. The event stream ends once the poller exits.
func (s *session) Close() error {
	s.cancel()
	return nil
}

// poll long-polls getUpdates until the session is closed or the bot loses access.
func (s *session) poll() {
	defer close(s.events)

	s.emit(channel.Lifecycle(channel.StatusOpen))

	offset := 0
	failures := 0
	for s.ctx.Err() == nil {
		updates, err := s.bot.GetUpdates(s.ctx, &telego.GetUpdatesParams{Offset: offset, Timeout: pollTimeoutSeconds})
		if err != nil {
			if s.ctx.Err() != nil {
				break
			}
			if closed, terminal := pollFailure(err); terminal {
				s.emit(closed)
				return
			}

			failures++
			s.log.Warn("Polling updates failed", "attempt", failures, "error", err)
			if failures >= maxPollFailures {
				s.emit(channel.Closed(channel.CloseConnectionLost, channel.NewTransportError("get updates", err)))
				return
			}
			s.wait(pollRetryDelay)
			continue
		}

		failures = 0
		for _, update := range updates {
			offset = update.UpdateID + 1
			s.handleUpdate(update)
		}
	}

	s.tryEmit(channel.Closed(channel.CloseShutdown, nil))
}

// pollFailure maps getUpdates errors that end the session without retrying.
func pollFailure(err error) (channel.SessionEvent, bool) {
	switch apiErrorCode(err) {
	case http.StatusUnauthorized:
		return channel.Closed(channel.CloseLoggedOut, fmt.Errorf("%w: %w", channel.ErrAuthExpired, err)), true
	case http.StatusConflict:
		return channel.Closed(channel.CloseStreamReplaced, err), true
	default:
		return channel.SessionEvent{}, false
	}
}

func (s *session) handleUpdate(update telego.Update) {
	message := update.Message
	if message == nil {
		message = update.ChannelPost
	}
	if message == nil {
		return
	}

	inbound, ok := toInbound(message, s.botID)
	if !ok {
		s.log.Debug("Ignoring message without sender")
		return
	}
	if userID := inbound.Metadata["user_id"]; !senderAllowed(s.allowFrom, userID) {
		s.log.Debug("Ignoring message from unauthorized sender", "sender_id", userID)
		return
	}
	inbound.Metadata["update_id"] = strconv.Itoa(update.UpdateID)

	s.emit(channel.SessionEvent{Kind: channel.EventMessage, Message: &inbound})
}

func (s *session) wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-s.ctx.Done():
	}
}

func (s *session) emit(ev channel.SessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) tryEmit(ev channel.SessionEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// toInbound maps a Telegram message. Messages with neither a user nor a sender chat report false.
func toInbound(message *telego.Message, botID int64) (bus.InboundEvent, bool) {
	metadata := map[string]string{}

	var fromSelf bool
	switch {
	case message.From != nil:
		metadata["user_id"] = strconv.FormatInt(message.From.ID, 10)
		if message.From.Username != "" {
			metadata["username"] = message.From.Username
		}
		fromSelf = message.From.ID == botID
	case message.SenderChat != nil:
		metadata["user_id"] = strconv.FormatInt(message.SenderChat.ID, 10)
	default:
		return bus.InboundEvent{}, false
	}

	return bus.InboundEvent{
		Channel:   channelName,
		SenderID:  strconv.FormatInt(message.Chat.ID, 10),
		ChatKind:  chatKindOf(message.Chat.Type),
		FromSelf:  fromSelf,
		Timestamp: message.Date,
		Text:      message.Text,
		MessageID: strconv.Itoa(message.MessageID),
		Metadata:  metadata,
	}, true
}

func chatKindOf(chatType string) bus.ChatKind {
	switch chatType {
	case telego.ChatTypePrivate:
		return bus.ChatDirect
	case telego.ChatTypeGroup, telego.ChatTypeSupergroup:
		return bus.ChatGroup
	default:
		return bus.ChatBroadcast
	}
}

func unauthorized(err error) bool {
	return apiErrorCode(err) == http.StatusUnauthorized
}

func apiErrorCode(err error) int {
	var apiErr *ta.Error
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode
	}
	return 0
}

func parseChatID(recipient string) (int64, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id %q: %w", recipient, err)
	}
	return chatID, nil
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func senderAllowed(allowFrom map[string]struct{}, senderID string) bool {
	if len(allowFrom) == 0 {
		return true
	}

	_, ok := allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}
