package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/poiley/approvarr/internal/config"
)

// Telegram sends messages to one chat through the Bot API. Approval
// messages get an inline keyboard with the approve/reject links.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	base   string
}

// NewTelegram creates a Telegram notifier. No request is made until the
// first message is sent.
func NewTelegram(cfg config.TelegramConfig, base string, hc *http.Client) (*Telegram, error) {
	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(DefaultTimeout, hc),
	}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.ServerURL))
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{bot: b, chatID: cfg.ChatID, base: base}, nil
}

func (t *Telegram) Provider() string { return config.ProviderTelegram }

func (t *Telegram) SendApproval(ctx context.Context, a Approval) error {
	links := BuildLinks(t.base, a.Hash)
	return t.send(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   ApprovalTitle + "\n\n" + approvalText(a, links),
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{{
				{Text: "Approve", URL: links.Approve},
				{Text: "Reject", URL: links.Reject},
			}},
		},
	})
}

func (t *Telegram) SendInfo(ctx context.Context, title, message string) error {
	return t.send(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   title + "\n\n" + message,
	})
}

func (t *Telegram) send(ctx context.Context, params *bot.SendMessageParams) error {
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return &DeliveryError{Provider: t.Provider(), Err: err}
	}
	return nil
}
