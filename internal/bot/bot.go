// README: Telegram long-polling loop; one goroutine per update.
package bot

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const pollTimeout = 60

// API is the part of *tgbotapi.BotAPI the loop uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api     API
	handler *Handler
	logger  *zap.Logger
}

func New(api API, handler *Handler, logger *zap.Logger) *Bot {
	return &Bot{api: api, handler: handler, logger: logger}
}

// Run polls for updates until ctx is done, then waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(cfg)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.dispatch(ctx, u)
			}()
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic handling update", zap.Int("update_id", u.UpdateID), zap.Any("panic", r))
		}
	}()
	if u.CallbackQuery != nil {
		// Stops the client-side spinner on the pressed button.
		if _, err := b.api.Request(tgbotapi.NewCallback(u.CallbackQuery.ID, "")); err != nil {
			b.logger.Debug("answer callback failed", zap.Error(err))
		}
	}
	ev, err := Decode(u)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedUpdate) {
			b.logger.Warn("decode update", zap.Int("update_id", u.UpdateID), zap.Error(err))
		}
		return
	}
	if err := b.handler.Handle(ctx, ev); err != nil {
		b.logger.Error("handle update",
			zap.Int("update_id", u.UpdateID),
			zap.String("user_id", string(ev.From().UserID)),
			zap.Error(err),
		)
	}
}
