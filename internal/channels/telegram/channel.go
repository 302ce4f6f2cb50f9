// Package telegram connects to the Telegram Bot API via long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"github.com/syne-agent/syne/internal/bus"
	"github.com/syne-agent/syne/internal/channels"
	"github.com/syne-agent/syne/internal/config"
)

// Channel is the Telegram adapter.
type Channel struct {
	bot   *telego.Bot
	cfg   config.TelegramConfig
	bus   *bus.MessageBus
	agent channels.Agent

	// sendLimiter paces outbound API calls under Telegram's global limit.
	sendLimiter *rate.Limiter
	chatLimits  sync.Map // chat id int64 to *rate.Limiter

	typing sync.Map // chat id string to context.CancelFunc

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds the adapter. The token must already be resolved from env or the
// credential store.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, agent channels.Agent) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		bot:         bot,
		cfg:         cfg,
		bus:         msgBus,
		agent:       agent,
		sendLimiter: rate.NewLimiter(rate.Limit(25), 5),
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}
	slog.Info("telegram connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels long polling and waits for the poll goroutine so Telegram
// releases the getUpdates lock before a restart.
func (c *Channel) Stop(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	slog.Info("telegram stopped")
	return nil
}

// wait blocks for both the global and per-chat send pacing.
func (c *Channel) wait(ctx context.Context, chatID int64) error {
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return err
	}
	limAny, _ := c.chatLimits.LoadOrStore(chatID, rate.NewLimiter(rate.Every(time.Second), 1))
	return limAny.(*rate.Limiter).Wait(ctx)
}

// startTyping sends a typing action every few seconds until stopTyping or
// the five minute cap. Telegram expires a chat action after ~5 seconds.
func (c *Channel) startTyping(ctx context.Context, chatID int64, chatKey string) {
	c.stopTyping(chatKey)
	typeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	c.typing.Store(chatKey, cancel)

	go func() {
		defer cancel()
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			_ = c.bot.SendChatAction(typeCtx, &telego.SendChatActionParams{
				ChatID: telego.ChatID{ID: chatID},
				Action: telego.ChatActionTyping,
			})
			select {
			case <-typeCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *Channel) stopTyping(chatKey string) {
	if cancel, ok := c.typing.LoadAndDelete(chatKey); ok {
		cancel.(context.CancelFunc)()
	}
}
