// Package notify forwards dashboard events to Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"allotment/internal/events"
	"allotment/internal/metrics"
)

// TelegramSender is the part of tgbotapi.BotAPI used here.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotSender connects to the Bot API with token.
func NewBotSender(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// Config holds configuration for the Telegram notifier.
type Config struct {
	ChatIDs []int64

	// MessagesPerSecond caps outgoing messages across all chats.
	// Default: 1.
	MessagesPerSecond float64

	// QueueSize bounds messages waiting to be sent. Events arriving on a
	// full queue are dropped.
	// Default: 100.
	QueueSize int

	Retry RetryConfig
}

// ForwardedTypes are the event types sent to Telegram.
var ForwardedTypes = []string{
	events.TypeReminder,
	events.TypeOngoing,
	events.TypeUpcoming,
	events.TypeArrived,
	events.TypePersistenceFailure,
	events.TypeStorageUnavailable,
}

type message struct {
	chatID int64
	text   string
}

// TelegramNotifier sends event messages to every configured chat from a
// single worker.
type TelegramNotifier struct {
	sender  TelegramSender
	chatIDs []int64
	limiter *rate.Limiter
	retry   RetryConfig
	queue   chan message
	logger  zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

func NewTelegramNotifier(sender TelegramSender, cfg Config, logger zerolog.Logger) *TelegramNotifier {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Retry.MaxRetries == 0 && len(cfg.Retry.RetryDelays) == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &TelegramNotifier{
		sender:  sender,
		chatIDs: append([]int64(nil), cfg.ChatIDs...),
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), 1),
		retry:   cfg.Retry,
		queue:   make(chan message, cfg.QueueSize),
		logger:  logger.With().Str("component", "telegram").Logger(),
	}
}

// Subscribe forwards ForwardedTypes published on bus.
func (n *TelegramNotifier) Subscribe(bus *events.EventBus) {
	for _, t := range ForwardedTypes {
		bus.Subscribe(t, n.handle)
	}
}

func (n *TelegramNotifier) handle(e events.Event) error {
	text := Format(e)
	for _, chatID := range n.chatIDs {
		if !n.Enqueue(chatID, text) {
			return fmt.Errorf("telegram queue full, dropped event %d for chat %d", e.ID, chatID)
		}
	}
	return nil
}

// Enqueue queues text for chatID without blocking and reports whether it
// was accepted.
func (n *TelegramNotifier) Enqueue(chatID int64, text string) bool {
	select {
	case n.queue <- message{chatID: chatID, text: text}:
		return true
	default:
		metrics.IncNotification("telegram", errors.New("queue full"))
		return false
	}
}

// Start launches the send worker.
func (n *TelegramNotifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return
	}
	n.running = true
	ctx, n.cancel = context.WithCancel(ctx)

	n.wg.Add(1)
	go n.loop(ctx)

	n.logger.Info().Int("chats", len(n.chatIDs)).Msg("Telegram notifier started")
}

// Stop stops the worker. Queued messages that were not sent are dropped.
func (n *TelegramNotifier) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	n.cancel()
	n.mu.Unlock()

	n.wg.Wait()
	n.logger.Info().Msg("Telegram notifier stopped")
}

func (n *TelegramNotifier) loop(ctx context.Context) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-n.queue:
			if err := n.Send(ctx, m.chatID, m.text); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.Error().Err(err).Int64("chat_id", m.chatID).Msg("Failed to send Telegram message")
			}
		}
	}
}

// Send delivers text to chatID, waiting for the rate limiter and retrying
// transient failures. Rate-limit replies are retried after the delay
// Telegram asks for; blocked chats and bad requests are not retried.
func (n *TelegramNotifier) Send(ctx context.Context, chatID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	delays := n.retry.RetryDelays
	for attempt := 0; attempt <= n.retry.MaxRetries; attempt++ {
		_, err := n.sender.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			metrics.IncNotification("telegram", nil)
			return nil
		}
		lastErr = err

		wait := delayFor(delays, attempt)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
				n.logger.Info().Dur("retry_after", wait).Int("attempt", attempt).Msg("Rate limited by Telegram, waiting")
			case 403:
				metrics.IncNotification("telegram", err)
				return fmt.Errorf("chat %d blocked the bot: %w", chatID, err)
			case 400:
				metrics.IncNotification("telegram", err)
				return fmt.Errorf("bad request for chat %d: %w", chatID, err)
			}
		}

		if attempt == n.retry.MaxRetries {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	metrics.IncNotification("telegram", lastErr)
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func delayFor(delays []time.Duration, attempt int) time.Duration {
	if len(delays) == 0 {
		return time.Second
	}
	if attempt < len(delays) {
		return delays[attempt]
	}
	return delays[len(delays)-1]
}

// Format renders an event as a chat message.
func Format(e events.Event) string {
	prefix := map[string]string{
		events.TypeReminder:           "🔔",
		events.TypeOngoing:            "🟢",
		events.TypeUpcoming:           "⏰",
		events.TypeArrived:            "🟡",
		events.TypePersistenceFailure: "⚠️",
		events.TypeStorageUnavailable: "❌",
	}[e.Type]
	if prefix == "" {
		return e.Message
	}
	return prefix + " " + e.Message
}
