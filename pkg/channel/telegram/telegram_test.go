package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"
	"github.com/stretchr/testify/require"

	"menubot/pkg/bus"
	"menubot/pkg/channel"
	"menubot/pkg/config"
)

const testToken = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw0"

func TestAllowFromSet(t *testing.T) {
	allowed := allowFromSet([]string{" 123 ", "", "456", "123"})
	if len(allowed) != 2 {
		t.Fatalf("allowFromSet len = %d, want 2", len(allowed))
	}
	if _, ok := allowed["123"]; !ok {
		t.Fatal("allowFromSet missing 123")
	}
	if _, ok := allowed["456"]; !ok {
		t.Fatal("allowFromSet missing 456")
	}
}

func TestSenderAllowed(t *testing.T) {
	allowFrom := map[string]struct{}{"1": {}}
	if !senderAllowed(allowFrom, "1") {
		t.Fatal("expected sender 1 to be allowed")
	}
	if senderAllowed(allowFrom, "2") {
		t.Fatal("expected sender 2 to be denied")
	}
	if !senderAllowed(nil, "any") {
		t.Fatal("expected sender to be allowed when allowlist empty")
	}
}

func TestChatKindOf(t *testing.T) {
	cases := map[string]bus.ChatKind{
		telego.ChatTypePrivate:    bus.ChatDirect,
		telego.ChatTypeGroup:      bus.ChatGroup,
		telego.ChatTypeSupergroup: bus.ChatGroup,
		telego.ChatTypeChannel:    bus.ChatBroadcast,
	}
	for chatType, want := range cases {
		if got := chatKindOf(chatType); got != want {
			t.Fatalf("chatKindOf(%q) = %q, want %q", chatType, got, want)
		}
	}
}

func TestToInbound(t *testing.T) {
	message := &telego.Message{
		MessageID: 7,
		Date:      1_700_000_000,
		Chat:      telego.Chat{ID: 42, Type: telego.ChatTypePrivate},
		From:      &telego.User{ID: 42, Username: "ana"},
		Text:      "Menu",
	}

	inbound, ok := toInbound(message, 99)
	if !ok {
		t.Fatal("expected message to convert")
	}
	if inbound.SenderID != "42" || inbound.MessageID != "7" || inbound.Timestamp != 1_700_000_000 {
		t.Fatalf("unexpected inbound: %+v", inbound)
	}
	if inbound.ChatKind != bus.ChatDirect || inbound.FromSelf {
		t.Fatalf("unexpected classification: %+v", inbound)
	}
	if inbound.Metadata["username"] != "ana" {
		t.Fatalf("metadata = %+v", inbound.Metadata)
	}

	message.From.ID = 99
	if inbound, _ := toInbound(message, 99); !inbound.FromSelf {
		t.Fatal("expected bot's own message to be flagged")
	}

	message.From = nil
	if _, ok := toInbound(message, 99); ok {
		t.Fatal("expected message without sender to be skipped")
	}
}

func TestParseChatID(t *testing.T) {
	if id, err := parseChatID(" -100123 "); err != nil || id != -100123 {
		t.Fatalf("parseChatID = %d, %v", id, err)
	}
	if _, err := parseChatID("alice"); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestNewTransportRequiresToken(t *testing.T) {
	if _, err := NewTransport(config.TelegramConfig{}, nil); err == nil {
		t.Fatal("expected error without token")
	}
}

// fakeAPI serves the Bot API methods used by the transport.
type fakeAPI struct {
	mu      sync.Mutex
	getMe   string
	updates []string
	sent    []string
	polled  int

	// pollError answers getUpdates once the scripted batches run out.
	pollError string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		response := f.getMe
		f.mu.Unlock()
		_, _ = io.WriteString(w, response)
	case "getUpdates":
		var batch string
		if f.polled < len(f.updates) {
			batch = f.updates[f.polled]
		}
		f.polled++
		pollError := f.pollError
		f.mu.Unlock()
		if batch == "" && pollError != "" {
			_, _ = io.WriteString(w, pollError)
			return
		}
		if batch == "" {
			time.Sleep(20 * time.Millisecond)
			batch = "[]"
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":`+batch+`}`)
	case "sendMessage":
		f.sent = append(f.sent, string(body))
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":100,"date":1700000001,"chat":{"id":42,"type":"private"},"text":"ok"}}`)
	default:
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}
}

func (f *fakeAPI) sentBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestTransport(t *testing.T, api *fakeAPI, allowFrom ...string) *Transport {
	t.Helper()

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	transport, err := NewTransport(
		config.TelegramConfig{Token: testToken, AllowFrom: allowFrom},
		nil,
		telego.WithAPIServer(server.URL),
		telego.WithDiscardLogger(),
	)
	require.NoError(t, err)
	return transport
}

func TestOpenRejectedTokenIsAuthExpired(t *testing.T) {
	api := &fakeAPI{getMe: `{"ok":false,"error_code":401,"description":"Unauthorized"}`}
	transport := newTestTransport(t, api)

	_, err := transport.Open(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, channel.ErrAuthExpired), "error = %v", err)
}

func TestSessionDeliversMessagesAndReplies(t *testing.T) {
	api := &fakeAPI{
		getMe: `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"menubot","username":"menubot"}}`,
		updates: []string{
			`[{"update_id":1,"message":{"message_id":7,"date":1700000000,"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Ana"},"text":"menu"}},` +
				`{"update_id":2,"message":{"message_id":8,"date":1700000000,"chat":{"id":43,"type":"private"},"from":{"id":43,"is_bot":false,"first_name":"Eve"},"text":"oi"}}]`,
		},
	}
	transport := newTestTransport(t, api, "42")

	session, err := transport.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	events := session.Events()
	first := <-events
	require.Equal(t, channel.EventLifecycle, first.Kind)
	require.Equal(t, channel.StatusOpen, first.Status)

	select {
	case ev := <-events:
		require.Equal(t, channel.EventMessage, ev.Kind)
		require.Equal(t, "42", ev.Message.SenderID)
		require.Equal(t, "menu", ev.Message.Text)
		require.Equal(t, "1", ev.Message.Metadata["update_id"])
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, session.Send(context.Background(), "42", "Olá!"))
	require.NoError(t, session.AcknowledgeRead(context.Background(), "42", "7"))

	sent := api.sentBodies()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0], `"chat_id":42`)

	require.NoError(t, session.Close())
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			require.NotEqual(t, channel.EventMessage, ev.Kind, "unauthorized sender must be dropped")
		case <-deadline:
			t.Fatal("event stream did not end after Close")
		}
	}
}

const okGetMe = `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"menubot","username":"menubot"}}`

func collectLifecycle(t *testing.T, events <-chan channel.SessionEvent) []channel.SessionEvent {
	t.Helper()

	var got []channel.SessionEvent
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("event stream did not end, got %+v", got)
			return nil
		}
	}
}

func TestRevokedTokenWhilePollingLogsOut(t *testing.T) {
	api := &fakeAPI{
		getMe:     okGetMe,
		pollError: `{"ok":false,"error_code":401,"description":"Unauthorized"}`,
	}
	transport := newTestTransport(t, api)

	session, err := transport.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	got := collectLifecycle(t, session.Events())
	require.Len(t, got, 2)
	require.Equal(t, channel.StatusOpen, got[0].Status)
	require.Equal(t, channel.StatusClosed, got[1].Status)
	require.Equal(t, channel.CloseLoggedOut, got[1].Reason)
	require.True(t, errors.Is(got[1].Err, channel.ErrAuthExpired), "error = %v", got[1].Err)
}

func TestConcurrentPollerReplacesSession(t *testing.T) {
	api := &fakeAPI{
		getMe:     okGetMe,
		pollError: `{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`,
	}
	transport := newTestTransport(t, api)

	session, err := transport.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	got := collectLifecycle(t, session.Events())
	require.Len(t, got, 2)
	require.Equal(t, channel.CloseStreamReplaced, got[1].Reason)
	require.False(t, got[1].Reason.Terminal())
}

func TestPollFailure(t *testing.T) {
	t.Parallel()

	if _, terminal := pollFailure(errors.New("dial tcp: connection refused")); terminal {
		t.Fatal("network errors must be retried")
	}
	if _, terminal := pollFailure(&ta.Error{ErrorCode: 502, Description: "Bad Gateway"}); terminal {
		t.Fatal("server errors must be retried")
	}

	ev, terminal := pollFailure(fmt.Errorf("telego: getUpdates: %w", &ta.Error{ErrorCode: 401, Description: "Unauthorized"}))
	if !terminal || ev.Reason != channel.CloseLoggedOut || !errors.Is(ev.Err, channel.ErrAuthExpired) {
		t.Fatalf("401 event = %+v, want logged_out wrapping ErrAuthExpired", ev)
	}
}
