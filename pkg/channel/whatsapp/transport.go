// Package whatsapp implements channel.Transport on top of the WhatsApp multi-device protocol.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	_ "modernc.org/sqlite"

	"menubot/pkg/channel"
	"menubot/pkg/logger"
)

const (
	ChannelName = "whatsapp"

	storeFile     = "store.db"
	storeDialect  = "sqlite"
	storeDirPerms = 0o700
)

// Options configures the WhatsApp transport.
type Options struct {
	// StoreDir holds the SQLite device store with the paired credentials.
	StoreDir string
	Log      *slog.Logger
}

// Transport opens whatsmeow client sessions backed by one persistent device store.
type Transport struct {
	storeDir string
	log      *slog.Logger

	mu        sync.Mutex
	db        *sql.DB
	container *sqlstore.Container
}

func New(opts Options) (*Transport, error) {
	storeDir := strings.TrimSpace(opts.StoreDir)
	if storeDir == "" {
		return nil, errors.New("whatsapp store directory is required")
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Transport{
		storeDir: storeDir,
		log:      opts.Log.With("component", "channel.whatsapp"),
	}, nil
}

func (t *Transport) Name() string {
	return ChannelName
}

// Open connects a fresh client for the stored device. An unpaired device yields a session
// that emits pairing events until the QR code is scanned.
func (t *Transport) Open(ctx context.Context) (channel.Session, error) {
	container, err := t.store(ctx)
	if err != nil {
		return nil, channel.NewTransportError("store", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, channel.NewTransportError("load device", err)
	}

	client := whatsmeow.NewClient(device, logger.WhatsApp(t.log, "Client"))
	client.EnableAutoReconnect = false

	session := newSession(client, t.log)
	if client.Store.ID == nil {
		qrItems, err := client.GetQRChannel(session.ctx)
		if err != nil {
			_ = session.Close()
			return nil, channel.NewTransportError("pairing", err)
		}
		go session.pumpPairing(qrItems)
	}

	session.emit(channel.Lifecycle(channel.StatusConnecting))
	if err := client.Connect(); err != nil {
		_ = session.Close()
		return nil, channel.NewTransportError("connect", err)
	}

	t.log.Debug("Session started", "session_id", session.ID(), "paired", client.Store.ID != nil)
	return session, nil
}

// Close releases the device store.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	t.container = nil
	return err
}

func (t *Transport) store(ctx context.Context) (*sqlstore.Container, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.container != nil {
		return t.container, nil
	}

	if err := os.MkdirAll(t.storeDir, storeDirPerms); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open(storeDialect, storeDSN(t.storeDir))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	container := sqlstore.NewWithDB(db, storeDialect, logger.WhatsApp(t.log, "Database"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade store: %w", err)
	}

	t.db = db
	t.container = container
	return container, nil
}

func storeDSN(dir string) string {
	return "file:" + filepath.Join(dir, storeFile) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
