// README: Telegram sink: paced sends and in-place edits through the Bot API.
package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drillflow/internal/types"
)

// Sender is the part of *tgbotapi.BotAPI the sink uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	api     Sender
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTelegram paces sends and edits to perSecond.
func NewTelegram(api Sender, perSecond float64, logger *zap.Logger) *Telegram {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Telegram{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

func (t *Telegram) Notify(ctx context.Context, userID types.ID, msg Message) (Receipt, error) {
	chatID, err := ChatID(userID)
	if err != nil {
		return Receipt{}, err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	if len(msg.Buttons) > 0 {
		out.ReplyMarkup = keyboard(msg.Buttons)
	}
	sent, err := t.api.Send(out)
	if err != nil {
		t.logger.Warn("telegram send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return Receipt{}, fmt.Errorf("%w: send to %s: %v", ErrDeliveryFailed, userID, err)
	}
	return Receipt{UserID: userID, ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (t *Telegram) Edit(ctx context.Context, r Receipt, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	var edit tgbotapi.EditMessageTextConfig
	if len(msg.Buttons) > 0 {
		edit = tgbotapi.NewEditMessageTextAndMarkup(r.ChatID, r.MessageID, msg.Text, keyboard(msg.Buttons))
	} else {
		edit = tgbotapi.NewEditMessageText(r.ChatID, r.MessageID, msg.Text)
	}
	if _, err := t.api.Send(edit); err != nil {
		return fmt.Errorf("%w: edit %d/%d: %v", ErrDeliveryFailed, r.ChatID, r.MessageID, err)
	}
	return nil
}

// ChatID maps a user id onto a Telegram private chat; users registered
// through the dashboard have no chat.
func ChatID(userID types.ID) (int64, error) {
	id, err := strconv.ParseInt(string(userID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: user %s has no telegram chat", ErrDeliveryFailed, userID)
	}
	return id, nil
}

func keyboard(rows [][]Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
