package cmd

import (
	"strings"
	"testing"

	"menubot/pkg/channel/telegram"
	"menubot/pkg/channel/whatsapp"
	"menubot/pkg/config"
)

func TestBuildTransportWhatsApp(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	transport, err := buildTransport(cfg, nil)
	if err != nil {
		t.Fatalf("buildTransport error: %v", err)
	}
	if _, ok := transport.(*whatsapp.Transport); !ok {
		t.Fatalf("transport = %T, want *whatsapp.Transport", transport)
	}
	if transport.Name() != "whatsapp" {
		t.Fatalf("Name = %q, want whatsapp", transport.Name())
	}
}

func TestBuildTransportTelegram(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Transport: config.TransportTelegram}
	cfg.Channels.Telegram.Token = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw0"
	cfg.ApplyDefaults()

	transport, err := buildTransport(cfg, nil)
	if err != nil {
		t.Fatalf("buildTransport error: %v", err)
	}
	if _, ok := transport.(*telegram.Transport); !ok {
		t.Fatalf("transport = %T, want *telegram.Transport", transport)
	}
}

func TestBuildTransportRejectsUnknown(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Transport: "signal"}
	if _, err := buildTransport(cfg, nil); err == nil {
		t.Fatal("expected error for unsupported transport")
	}
}

func TestBuildTransportTelegramRequiresToken(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Transport: config.TransportTelegram}
	cfg.ApplyDefaults()
	if _, err := buildTransport(cfg, nil); err == nil {
		t.Fatal("expected error without telegram token")
	}
}

func TestHaltedHint(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	if got := haltedHint(cfg); !strings.Contains(got, "auth") || !strings.Contains(got, "QR") {
		t.Fatalf("whatsapp hint = %q", got)
	}

	cfg.Transport = config.TransportTelegram
	if got := haltedHint(cfg); !strings.Contains(got, "token") {
		t.Fatalf("telegram hint = %q", got)
	}
}
