package bus

import "time"

type EventType string

const (
	EventSessionConnecting   EventType = "session_connecting"
	EventSessionOpen         EventType = "session_open"
	EventSessionClosed       EventType = "session_closed"
	EventSessionHalted       EventType = "session_halted"
	EventPairingCode         EventType = "pairing_code"
	EventCredentialsUpdated  EventType = "credentials_updated"
	EventMessageAccepted     EventType = "message_accepted"
	EventMessageReplied      EventType = "message_replied"
	EventMessageDeliveryFail EventType = "message_delivery_failed"
	EventMessageDropped      EventType = "message_dropped"
)

// Payload keys used by lifecycle events.
const (
	PayloadReason    = "reason"
	PayloadReconnect = "reconnect"
	PayloadAttempt   = "attempt"
	PayloadDelay     = "delay"
	PayloadQRCode    = "qr_code"
	PayloadCommand   = "command"
)

type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Channel   string            `json:"channel,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	SenderID  string            `json:"sender_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}
