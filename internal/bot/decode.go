// README: Telegram update decoder.
package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"drillflow/internal/types"
)

var ErrUnsupportedUpdate = errors.New("unsupported update")

// Decode maps an update onto an Event. Updates the bot does not react to
// (edits, channel posts, stickers) return ErrUnsupportedUpdate.
func Decode(u tgbotapi.Update) (Event, error) {
	switch {
	case u.CallbackQuery != nil:
		return decodeCallback(u.CallbackQuery)
	case u.Message != nil:
		return decodeMessage(u.Message)
	}
	return nil, ErrUnsupportedUpdate
}

func decodeMessage(m *tgbotapi.Message) (Event, error) {
	if m.From == nil || m.Chat == nil {
		return nil, ErrUnsupportedUpdate
	}
	from := sender(m.From, m.Chat.ID)
	switch {
	case m.IsCommand():
		return Command{Sender: from, Name: m.Command(), Args: strings.TrimSpace(m.CommandArguments())}, nil
	case m.Location != nil:
		return Location{Sender: from, Point: types.Point{Lat: m.Location.Latitude, Lng: m.Location.Longitude}}, nil
	case strings.TrimSpace(m.Text) != "":
		return Text{Sender: from, Body: m.Text}, nil
	}
	return nil, ErrUnsupportedUpdate
}

func decodeCallback(q *tgbotapi.CallbackQuery) (Event, error) {
	if q.From == nil {
		return nil, ErrUnsupportedUpdate
	}
	chatID := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	action, orderID, arg, err := ParseCallbackData(q.Data)
	if err != nil {
		return nil, err
	}
	return Callback{
		Sender:  sender(q.From, chatID),
		QueryID: q.ID,
		Action:  action,
		OrderID: orderID,
		Arg:     arg,
	}, nil
}

func sender(u *tgbotapi.User, chatID int64) Sender {
	return Sender{
		UserID:   types.ID(strconv.FormatInt(u.ID, 10)),
		ChatID:   chatID,
		Username: u.UserName,
	}
}

// ParseCallbackData splits "action:orderID[:arg]".
func ParseCallbackData(data string) (action string, orderID types.ID, arg string, err error) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" {
		return "", "", "", fmt.Errorf("%w: callback data %q", ErrUnsupportedUpdate, data)
	}
	if len(parts) == 3 {
		arg = parts[2]
	}
	return parts[0], types.ID(parts[1]), arg, nil
}
