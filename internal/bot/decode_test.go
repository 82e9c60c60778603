package bot

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"drillflow/internal/types"
)

func command(text string, length int) *tgbotapi.Message {
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 42, UserName: "driller"},
		Chat:     &tgbotapi.Chat{ID: 42},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}
}

func TestDecodeMessages(t *testing.T) {
	cases := []struct {
		name string
		msg  *tgbotapi.Message
		want Event
	}{
		{
			name: "command",
			msg:  command("/start", 6),
			want: Command{Sender: Sender{UserID: "42", ChatID: 42, Username: "driller"}, Name: "start"},
		},
		{
			name: "command with args",
			msg:  command("/edit phone", 5),
			want: Command{Sender: Sender{UserID: "42", ChatID: 42, Username: "driller"}, Name: "edit", Args: "phone"},
		},
		{
			name: "text",
			msg:  &tgbotapi.Message{From: &tgbotapi.User{ID: 5}, Chat: &tgbotapi.Chat{ID: 50}, Text: "ул. Ленина 10"},
			want: Text{Sender: Sender{UserID: "5", ChatID: 50}, Body: "ул. Ленина 10"},
		},
		{
			name: "location",
			msg: &tgbotapi.Message{
				From:     &tgbotapi.User{ID: 5},
				Chat:     &tgbotapi.Chat{ID: 50},
				Location: &tgbotapi.Location{Latitude: 55.75, Longitude: 37.61},
			},
			want: Location{Sender: Sender{UserID: "5", ChatID: 50}, Point: types.Point{Lat: 55.75, Lng: 37.61}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tgbotapi.Update{Message: tc.msg})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDecodeCallback(t *testing.T) {
	u := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 70}},
		Data:    "rate:order-1:5",
	}}
	got, err := Decode(u)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Callback{Sender: Sender{UserID: "7", ChatID: 70}, QueryID: "q1", Action: "rate", OrderID: "order-1", Arg: "5"}
	if got != want {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestDecodeUnsupported(t *testing.T) {
	updates := map[string]tgbotapi.Update{
		"empty":         {},
		"edited":        {EditedMessage: &tgbotapi.Message{Text: "x"}},
		"sticker":       {Message: &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 1}}},
		"bad callback":  {CallbackQuery: &tgbotapi.CallbackQuery{ID: "q", From: &tgbotapi.User{ID: 1}, Data: "accept"}},
		"anonymous msg": {Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"}},
	}
	for name, u := range updates {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(u); !errors.Is(err, ErrUnsupportedUpdate) {
				t.Fatalf("expected ErrUnsupportedUpdate, got %v", err)
			}
		})
	}
}

func TestParseCallbackData(t *testing.T) {
	action, id, arg, err := ParseCallbackData("register::contractor")
	if err != nil {
		t.Fatalf("ParseCallbackData: %v", err)
	}
	if action != "register" || id != "" || arg != "contractor" {
		t.Fatalf("got %q %q %q", action, id, arg)
	}
}
