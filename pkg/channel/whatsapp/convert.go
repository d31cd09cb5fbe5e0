package whatsapp

import (
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"menubot/pkg/bus"
	"menubot/pkg/channel"
)

// convertEvent maps a whatsmeow event onto the session stream. Events the bot does not act
// on report false.
func convertEvent(evt any) (channel.SessionEvent, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return channel.Lifecycle(channel.StatusOpen), true
	case *events.Disconnected:
		return channel.Closed(channel.CloseConnectionLost, errors.New("websocket disconnected")), true
	case *events.LoggedOut:
		return channel.Closed(channel.CloseLoggedOut, fmt.Errorf("%w: %s", channel.ErrAuthExpired, e.Reason)), true
	case *events.StreamReplaced:
		return channel.Closed(channel.CloseStreamReplaced, errors.New("stream replaced by another client")), true
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return channel.Closed(channel.CloseLoggedOut, fmt.Errorf("%w: %s", channel.ErrAuthExpired, e.Reason)), true
		}
		return channel.Closed(channel.CloseConnectFailure, fmt.Errorf("connect failure: %s %s", e.Reason, e.Message)), true
	case *events.TemporaryBan:
		return channel.Closed(channel.CloseConnectFailure, fmt.Errorf("temporary ban: %s", e.String())), true
	case *events.ClientOutdated:
		return channel.Closed(channel.CloseConnectFailure, errors.New("client outdated")), true
	case *events.PairSuccess, *events.PushNameSetting:
		return channel.SessionEvent{Kind: channel.EventCredentials}, true
	case *events.Message:
		inbound := toInbound(e)
		return channel.SessionEvent{Kind: channel.EventMessage, Message: &inbound}, true
	default:
		return channel.SessionEvent{}, false
	}
}

func toInbound(msg *events.Message) bus.InboundEvent {
	info := msg.Info

	var timestamp int64
	if !info.Timestamp.IsZero() {
		timestamp = info.Timestamp.Unix()
	}

	metadata := map[string]string{}
	if !info.Sender.IsEmpty() {
		metadata["sender"] = info.Sender.String()
	}
	if info.PushName != "" {
		metadata["push_name"] = info.PushName
	}

	return bus.InboundEvent{
		Channel:   ChannelName,
		SenderID:  info.Chat.String(),
		ChatKind:  chatKindOf(info.Chat),
		FromSelf:  info.IsFromMe,
		Timestamp: timestamp,
		Text:      extractText(msg.Message),
		MessageID: string(info.ID),
		Metadata:  metadata,
	}
}

// chatKindOf classifies a chat by its JID server. Only one-to-one user chats are direct.
func chatKindOf(chat types.JID) bus.ChatKind {
	switch chat.Server {
	case types.DefaultUserServer, types.HiddenUserServer:
		return bus.ChatDirect
	case types.GroupServer:
		return bus.ChatGroup
	default:
		return bus.ChatBroadcast
	}
}

func extractText(message *waE2E.Message) string {
	if message == nil {
		return ""
	}
	if text := message.GetConversation(); text != "" {
		return text
	}
	return message.GetExtendedTextMessage().GetText()
}
