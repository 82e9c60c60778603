// README: User-facing texts: replies for domain errors, offer and status
// messages with their inline buttons.
package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"drillflow/internal/modules/conversation"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/notify"
	"drillflow/internal/types"
)

// Callback actions carried in inline button data as "action:orderID[:arg]".
const (
	ActionAccept   = "accept"
	ActionDecline  = "decline"
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
	ActionRate     = "rate"
)

func CallbackData(action string, orderID types.ID, args ...string) string {
	parts := append([]string{action, string(orderID)}, args...)
	return strings.Join(parts, ":")
}

// Reply turns an error from any coordinator operation into the single line
// shown to the user.
func Reply(err error) string {
	var verr *conversation.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return "Некорректные данные: " + verr.Message + "."
	case errors.Is(err, order.ErrAlreadyTaken):
		return "Заказ уже принят другим исполнителем."
	case errors.Is(err, order.ErrNotFound):
		return "Заказ не найден."
	case errors.Is(err, order.ErrForbidden):
		return "Это действие вам недоступно."
	case errors.Is(err, order.ErrInvalidState):
		return "Заказ больше не доступен для этого действия."
	case errors.Is(err, order.ErrValidation):
		return "Некорректные данные: " + validationDetail(err) + "."
	case errors.Is(err, user.ErrNotFound):
		return "Сначала зарегистрируйтесь: /start."
	case errors.Is(err, user.ErrRoleChange):
		return "Роль нельзя изменить после регистрации."
	case errors.Is(err, user.ErrNotContractor):
		return "Команда доступна только исполнителям."
	case errors.Is(err, user.ErrInvalidProfile):
		return "Некорректные данные профиля."
	case errors.Is(err, notify.ErrDeliveryFailed):
		return "Не удалось доставить сообщение."
	}
	return "Что-то пошло не так, попробуйте позже."
}

var validationTexts = []struct {
	err  error
	text string
}{
	{order.ErrNoClient, "не указан заказчик"},
	{order.ErrNoServiceType, "не указана услуга"},
	{order.ErrUnknownService, "такой услуги нет в списке"},
	{order.ErrNoAddress, "не указан адрес"},
	{order.ErrNoLocation, "отправьте геопозицию объекта"},
	{order.ErrAddressNotFound, "адрес не найден, уточните его или отправьте геопозицию"},
	{order.ErrBadLocation, "некорректные координаты"},
	{order.ErrNegativePrice, "цена не может быть отрицательной"},
	{order.ErrPastDeadline, "срок уже прошёл"},
	{order.ErrBadScore, fmt.Sprintf("оценка должна быть от %d до %d", order.MinScore, order.MaxScore)},
	{order.ErrBadRadius, "радиус должен быть положительным числом"},
	{order.ErrNoZone, "сначала отправьте свою геопозицию"},
}

func validationDetail(err error) string {
	for _, v := range validationTexts {
		if errors.Is(err, v.err) {
			return v.text
		}
	}
	return "проверьте введённые значения"
}

func priceText(o *order.Order) string {
	if o.Price == nil {
		return "договорная"
	}
	return o.Price.String()
}

func orderSummary(o *order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Услуга: %s\nАдрес: %s\n", o.ServiceType, o.Address)
	if o.Description != "" {
		fmt.Fprintf(&b, "Описание: %s\n", o.Description)
	}
	fmt.Fprintf(&b, "Цена: %s", priceText(o))
	if o.Deadline != nil {
		fmt.Fprintf(&b, "\nСрок: %s", o.Deadline.Format("02.01.2006"))
	}
	return b.String()
}

func offerMessage(o *order.Order, distanceKm float64) notify.Message {
	return notify.Message{
		Text: fmt.Sprintf("Новый заказ в %.1f км от вас\n\n%s", distanceKm, orderSummary(o)),
		Buttons: [][]notify.Button{{
			{Text: "Принять", Data: CallbackData(ActionAccept, o.ID)},
			{Text: "Отказаться", Data: CallbackData(ActionDecline, o.ID)},
		}},
	}
}

func createdMessage(o *order.Order, offered int) notify.Message {
	text := fmt.Sprintf("Заказ создан.\n\n%s\n\nПредложение отправлено исполнителям: %d.", orderSummary(o), offered)
	if offered == 0 {
		text = fmt.Sprintf("Заказ создан.\n\n%s\n\nСейчас нет свободных исполнителей рядом. Заказ останется открытым, исполнители смогут найти его через поиск.", orderSummary(o))
	}
	return notify.Message{
		Text:    text,
		Buttons: [][]notify.Button{{{Text: "Отменить заказ", Data: CallbackData(ActionCancel, o.ID)}}},
	}
}

func acceptedForContractor(o *order.Order, client *user.User) notify.Message {
	return notify.Message{
		Text: fmt.Sprintf("Вы приняли заказ.\n\n%s\n\nКлиент: %s\nТелефон: %s", orderSummary(o), client.Name, client.Phone),
		Buttons: [][]notify.Button{{
			{Text: "Начать работу", Data: CallbackData(ActionStart, o.ID)},
			{Text: "Отменить", Data: CallbackData(ActionCancel, o.ID)},
		}},
	}
}

func acceptedForClient(o *order.Order, p *user.ContractorProfile) notify.Message {
	return notify.Message{
		Text: fmt.Sprintf("Ваш заказ «%s» принят.\n\nИсполнитель: %s\nТелефон: %s\nРейтинг: %.1f\nВыполнено заказов: %d",
			o.ServiceType, p.Name, p.Phone, p.Rating, p.CompletedOrders),
	}
}

var (
	takenMessage     = notify.Message{Text: "Заказ уже принят другим исполнителем."}
	withdrawnMessage = notify.Message{Text: "Заказ отменён и больше не доступен."}
	declinedMessage  = notify.Message{Text: "Вы отказались от заказа."}
)

func startedForClient(o *order.Order) notify.Message {
	return notify.Message{Text: fmt.Sprintf("Исполнитель приступил к работе по заказу «%s».", o.ServiceType)}
}

func startedForContractor(o *order.Order) notify.Message {
	return notify.Message{
		Text:    fmt.Sprintf("Работа по заказу «%s» начата.", o.ServiceType),
		Buttons: [][]notify.Button{{{Text: "Завершить", Data: CallbackData(ActionComplete, o.ID)}}},
	}
}

func cancelledMessage(o *order.Order, by order.ActorKind) notify.Message {
	who := "Заказ"
	switch by {
	case order.ActorClient:
		who = "Клиент отменил заказ"
	case order.ActorContractor:
		who = "Исполнитель отменил заказ"
	case order.ActorSystem:
		who = "Заказ отменён автоматически"
	}
	text := fmt.Sprintf("%s «%s».", who, o.ServiceType)
	if o.CancelReason != nil && *o.CancelReason != "" {
		text += "\nПричина: " + *o.CancelReason
	}
	return notify.Message{Text: text}
}

func completedForClient(o *order.Order) notify.Message {
	msg := notify.Message{Text: fmt.Sprintf("Заказ «%s» выполнен.", o.ServiceType)}
	if o.Rating != nil {
		return msg
	}
	msg.Text += " Оцените работу исполнителя:"
	row := make([]notify.Button, 0, order.MaxScore)
	for s := order.MinScore; s <= order.MaxScore; s++ {
		n := fmt.Sprint(s)
		row = append(row, notify.Button{Text: n, Data: CallbackData(ActionRate, o.ID, n)})
	}
	msg.Buttons = [][]notify.Button{row}
	return msg
}

func completedForContractor(p *user.ContractorProfile) notify.Message {
	return notify.Message{Text: fmt.Sprintf("Заказ завершён.\n\nВыполнено заказов: %d\nОбщий доход: %s\nСредний чек: %s\nРейтинг: %.1f",
		p.CompletedOrders, p.TotalIncome, p.AverageCheck(), p.Rating)}
}

func ratedForContractor(o *order.Order, score int) notify.Message {
	return notify.Message{Text: fmt.Sprintf("Клиент оценил заказ «%s»: %d из %d.", o.ServiceType, score, order.MaxScore)}
}
