package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"menubot/pkg/config"
)

func TestJSONEntryPromotesRoutingKeys(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "dispatch", "channel", "whatsapp").
		Info("Sending message", "session_id", "s-1", "sender_id", "5511@s.whatsapp.net", "command", "greeting")

	entries := decodeEntries(t, &out)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]

	if entry.Level != "info" || entry.Message != "Sending message" || entry.Timestamp == "" {
		t.Fatalf("unexpected entry header: %+v", entry)
	}
	if entry.Component != "dispatch" || entry.Channel != "whatsapp" {
		t.Fatalf("component/channel = %q/%q", entry.Component, entry.Channel)
	}
	if entry.SessionID != "s-1" || entry.SenderID != "5511@s.whatsapp.net" {
		t.Fatalf("session_id/sender_id = %q/%q", entry.SessionID, entry.SenderID)
	}
	if _, ok := entry.Fields["sender_id"]; ok {
		t.Fatalf("sender_id duplicated in fields: %v", entry.Fields)
	}
	if got := entry.Fields["command"]; got != "greeting" {
		t.Fatalf("fields.command = %v, want greeting", got)
	}
}

func TestJSONEntryKeepsGroupedKeysInFields(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.WithGroup("reply").Info("Routed", "session_id", "s-2", "attempt", 3)

	entry := decodeEntries(t, &out)[0]
	if entry.SessionID != "" {
		t.Fatalf("grouped session_id promoted: %+v", entry)
	}
	if got := entry.Fields["reply.session_id"]; got != "s-2" {
		t.Fatalf("fields[reply.session_id] = %v, want s-2", got)
	}
	if got := entry.Fields["reply.attempt"]; got != float64(3) {
		t.Fatalf("fields[reply.attempt] = %v, want 3", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestWhatsAppBridgeUsesOwnLevel(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "debug"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	wa := WhatsApp(log, "Client").Sub("Socket")
	wa.Debugf("frame %d", 1)
	wa.Infof("dialing %s", "web.whatsapp.com")
	wa.Warnf("socket closed: %s", "eof")
	log.Debug("Gateway debug stays visible")

	entries := decodeEntries(t, &out)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want the whatsmeow warning and the gateway debug line: %s", len(entries), out.String())
	}

	warning := entries[0]
	if warning.Level != "warn" || warning.Message != "socket closed: eof" {
		t.Fatalf("unexpected whatsmeow entry: %+v", warning)
	}
	if warning.Component != "whatsmeow" || warning.Module != "Client/Socket" {
		t.Fatalf("component/module = %q/%q, want whatsmeow/Client/Socket", warning.Component, warning.Module)
	}
	if entries[1].Level != "debug" {
		t.Fatalf("second entry level = %q, want debug", entries[1].Level)
	}
}

func TestWhatsAppBridgeLevelConfigurable(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "debug", WhatsmeowLevel: "debug"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	WhatsApp(log, "Database").Debugf("upgrading schema to v%d", 8)

	entries := decodeEntries(t, &out)
	if len(entries) != 1 || entries[0].Module != "Database" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestInvalidWhatsmeowLevel(t *testing.T) {
	clearLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{WhatsmeowLevel: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown whatsmeow level")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearLoggingEnv(t)
	t.Setenv(envLevel, "debug")
	t.Setenv(envFormat, "text")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestDefaultsToTextFormat(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Conectado", "session_id", "s-1")
	line := strings.TrimSpace(out.String())
	if line == "" || strings.HasPrefix(line, "{") {
		t.Fatalf("expected text output, got %q", line)
	}
	if !strings.Contains(line, "s-1") {
		t.Fatalf("expected session id in text output, got %q", line)
	}
}

func decodeEntries(t *testing.T, out *bytes.Buffer) []LogEntry {
	t.Helper()

	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log entry %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func clearLoggingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{envLevel, envFormat, envAddSource, envWhatsmeowLevel} {
		t.Setenv(key, "")
	}
}
