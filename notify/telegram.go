package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ewintr.nl/ytsum/model"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Telegram struct {
	bot *tgbotapi.BotAPI
}

// NewTelegram connects the bot. timeout bounds every call to the Bot API,
// the library itself takes no context.
func NewTelegram(token string, timeout time.Duration) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
}

func NewTelegramWithEndpoint(token, endpoint string, client *http.Client) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, telegramError("could not connect bot", err)
	}

	return &Telegram{bot: bot}, nil
}

// Send posts payload to a chat id, or to a public channel when recipient
// starts with @. It returns when ctx is done, even if the request is still
// waiting for an answer.
func (t *Telegram) Send(ctx context.Context, recipient, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(recipient, "@") {
		msg = tgbotapi.NewMessageToChannel(recipient, payload)
	} else {
		chatID, err := strconv.ParseInt(recipient, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q: %w", recipient, model.ErrConfiguration)
		}
		msg = tgbotapi.NewMessage(chatID, payload)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown

	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("could not send message to %s: %w", recipient, ctx.Err())
	case err := <-done:
		if err != nil {
			return telegramError("could not send message to "+recipient, err)
		}
	}

	return nil
}

func telegramError(op string, err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return fmt.Errorf("%s: %w: %v", op, model.ErrUnavailable, err)
	}
	switch tgErr.Code {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %v", op, model.ErrQuotaExceeded, err)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("%s: %w: %v", op, model.ErrConfiguration, err)
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w: %v", op, model.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, model.ErrUnavailable, err)
	}
}
