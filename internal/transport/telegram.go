package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
)

const (
	telegramMessageLimit = 4096
	defaultPollTimeout   = 30
)

type TelegramOptions struct {
	Token string
	// Endpoint overrides the Bot API URL format, "https://host/bot%s/%s".
	Endpoint    string
	HTTPClient  *http.Client
	PollTimeout int
	Logger      *slog.Logger
}

// Telegram talks to the Bot API with long polling.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	pollTimeout int
	log         *slog.Logger
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, clierr.New(clierr.CodeConfig, "telegram token is required")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, mapTelegramError("connect to telegram", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	logger.Info("telegram_connected", "bot", bot.Self.UserName)
	return &Telegram{bot: bot, pollTimeout: timeout, log: logger}, nil
}

func (t *Telegram) Username() string { return t.bot.Self.UserName }

func (t *Telegram) Receive(ctx context.Context) (<-chan Message, error) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := t.bot.GetUpdatesChan(u)

	out := make(chan Message)
	go func() {
		defer close(out)
		defer t.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || update.Message.Chat == nil {
					continue
				}
				text := strings.TrimSpace(update.Message.Text)
				if text == "" {
					continue
				}
				select {
				case out <- Message{ChatID: update.Message.Chat.ID, Text: text}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Send delivers text as plain messages, splitting at the Bot API size limit.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	for _, part := range split(text, telegramMessageLimit) {
		if err := ctx.Err(); err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "send cancelled", err)
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			return mapTelegramError("send telegram message", err)
		}
	}
	return nil
}

// SetCommands publishes the command menu Telegram clients show in the chat.
func (t *Telegram) SetCommands(cmds []BotCommand) error {
	items := make([]tgbotapi.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		items = append(items, tgbotapi.BotCommand{Command: c.Command, Description: c.Description})
	}
	if _, err := t.bot.Request(tgbotapi.NewSetMyCommands(items...)); err != nil {
		return mapTelegramError("set telegram commands", err)
	}
	return nil
}

func mapTelegramError(action string, err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return clierr.Wrap(clierr.CodeAuth, fmt.Sprintf("%s: %s", action, apiErr.Message), err)
		case apiErr.Code == http.StatusTooManyRequests:
			return clierr.Wrap(clierr.CodeRateLimited, fmt.Sprintf("%s: retry after %ds", action, apiErr.RetryAfter), err)
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return clierr.Wrap(clierr.CodeUnsupported, fmt.Sprintf("%s: %s", action, apiErr.Message), err)
		}
	}
	return clierr.Wrap(clierr.CodeUnavailable, action, err)
}
