// Package whatsapp connects over WhatsApp Web using whatsmeow. Sessions
// persist in SQLite; first login prints a QR code to the log for pairing.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // session store driver

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/channels"
	"github.com/syne-agent/syne/internal/config"
)

// Channel is the WhatsApp adapter.
type Channel struct {
	cfg   config.WhatsAppConfig
	bus   *bus.MessageBus
	agent channels.Agent

	client    *whatsmeow.Client
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the adapter. The session database is created on first start.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus, agent channels.Agent) *Channel {
	return &Channel{cfg: cfg, bus: msgBus, agent: agent}
}

func (c *Channel) Name() string { return "whatsapp" }

// Start opens the session store and connects. With no stored session the QR
// login runs in the background so startup is not blocked on a scan.
func (c *Channel) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	dbPath := c.cfg.DatabasePath
	if dbPath == "" {
		dbPath = "whatsapp.db"
	}
	container, err := sqlstore.New(c.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath), waLog.Noop)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	device, err := c.getDevice(c.ctx, container)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	wastore.SetOSInfo("Syne", [3]uint32{1, 0, 0})

	c.client = whatsmeow.NewClient(device, waLog.Noop)
	c.client.AddEventHandler(c.handleEvent)
	c.client.EnableAutoReconnect = true
	c.client.InitialAutoReconnect = true

	if c.client.Store.ID == nil {
		slog.Info("whatsapp: no stored session, QR login required")
		go func() {
			if err := c.loginWithQR(c.ctx); err != nil {
				slog.Warn("whatsapp QR login not completed", "error", err)
			}
		}()
		return nil
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.connected.Store(true)
	slog.Info("whatsapp connected", "jid", c.client.Store.ID.String())
	return nil
}

// Stop disconnects and releases the session store.
func (c *Channel) Stop(_ context.Context) error {
	c.connected.Store(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.client != nil {
		c.client.Disconnect()
	}
	slog.Info("whatsapp stopped")
	return nil
}

func (c *Channel) getDevice(ctx context.Context, container *sqlstore.Container) (*wastore.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR drives the pairing flow, logging each code for the operator to
// scan. Codes rotate roughly once a minute until scanned or timed out.
func (c *Channel) loginWithQR(ctx context.Context) error {
	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get QR channel: %w", err)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed")
			}
			switch evt.Event {
			case "code":
				slog.Info("whatsapp QR code ready, scan with the phone", "code", evt.Code)
			case "success":
				c.connected.Store(true)
				slog.Info("whatsapp linked")
				return nil
			case "timeout":
				return fmt.Errorf("QR code expired, restart to retry")
			default:
				if evt.Error != nil {
					return fmt.Errorf("QR login: %w", evt.Error)
				}
			}
		}
	}
}

// parseJID accepts a bare phone number, a full user JID, or a group JID.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// sendTyping flashes the composing presence. Errors are ignored; presence is
// cosmetic.
func (c *Channel) sendTyping(jid types.JID) {
	if !c.connected.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	_ = c.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}
