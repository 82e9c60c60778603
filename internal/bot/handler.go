// README: Event handler; routes decoded events to the conversation machine,
// the user service and the dispatch coordinator.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"drillflow/internal/modules/conversation"
	"drillflow/internal/modules/dispatch"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/notify"
	"drillflow/internal/types"
)

// ActionRegister starts a registration flow; its arg is the role.
const ActionRegister = "register"

const (
	cmdStart     = "start"
	cmdHelp      = "help"
	cmdOrder     = "order"
	cmdOrders    = "orders"
	cmdSearch    = "search"
	cmdEdit      = "edit"
	cmdProfile   = "profile"
	cmdCancel    = "cancel"
	cmdFree      = "free"
	cmdBusy      = "busy"
	cmdBreak     = "break"
	helpText     = "Команды:\n/order - новый заказ\n/orders - мои заказы\n/search - найти заказы рядом\n/free, /busy, /break - статус исполнителя\n/profile - профиль\n/edit name|phone|radius|specialization - изменить профиль\n/cancel - прервать текущий шаг"
	idleText     = "Не понял сообщение. Список команд: /help"
	locationText = "Отправьте геопозицию, чтобы получать заказы рядом с вами."
)

// Replier delivers the bot's answers.
type Replier interface {
	Notify(ctx context.Context, userID types.ID, msg notify.Message) (notify.Receipt, error)
}

type Handler struct {
	coord   *dispatch.Coordinator
	users   *user.Service
	machine *conversation.Machine
	replier Replier
	logger  *zap.Logger
}

func NewHandler(coord *dispatch.Coordinator, users *user.Service, machine *conversation.Machine, replier Replier, logger *zap.Logger) *Handler {
	return &Handler{coord: coord, users: users, machine: machine, replier: replier, logger: logger}
}

// Handle processes one event. Domain errors are answered to the user;
// only infrastructure failures are returned.
func (h *Handler) Handle(ctx context.Context, ev Event) error {
	var err error
	switch e := ev.(type) {
	case Command:
		err = h.command(ctx, e)
	case Text:
		err = h.text(ctx, e)
	case Location:
		err = h.location(ctx, e)
	case Callback:
		err = h.callback(ctx, e)
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}
	if err == nil {
		return nil
	}
	h.say(ctx, ev.From().UserID, dispatch.Reply(err))
	if isDomainError(err) {
		return nil
	}
	return err
}

func (h *Handler) command(ctx context.Context, c Command) error {
	switch c.Name {
	case cmdStart:
		return h.start(ctx, c.UserID)
	case cmdHelp:
		h.say(ctx, c.UserID, helpText)
	case cmdOrder:
		if err := h.requireRole(ctx, c.UserID, user.RoleClient); err != nil {
			return err
		}
		return h.startFlow(ctx, c.UserID, conversation.FlowOrder, nil)
	case cmdOrders:
		orders, err := h.coord.ListOrders(ctx, c.UserID)
		if err != nil {
			return err
		}
		h.reply(ctx, c.UserID, ordersMessage(orders))
	case cmdSearch:
		if err := h.requireRole(ctx, c.UserID, user.RoleContractor); err != nil {
			return err
		}
		return h.startFlow(ctx, c.UserID, conversation.FlowSearch, nil)
	case cmdEdit:
		if !editable(c.Args) {
			h.say(ctx, c.UserID, "Укажите поле: /edit name|phone|radius|specialization")
			return nil
		}
		if _, err := h.users.Get(ctx, c.UserID); err != nil {
			return err
		}
		return h.startFlow(ctx, c.UserID, conversation.FlowEditField, map[string]string{conversation.ParamField: c.Args})
	case cmdProfile:
		return h.profile(ctx, c.UserID)
	case cmdCancel:
		if err := h.machine.Cancel(ctx, c.UserID); err != nil {
			return err
		}
		h.say(ctx, c.UserID, "Действие отменено.")
	case cmdFree, cmdBusy, cmdBreak:
		a, err := user.ParseAvailability(c.Name)
		if err != nil {
			return err
		}
		if err := h.coord.SetAvailability(ctx, c.UserID, a); err != nil {
			return err
		}
		h.say(ctx, c.UserID, "Статус обновлён: "+availabilityText(a)+".")
	default:
		h.say(ctx, c.UserID, idleText)
	}
	return nil
}

func (h *Handler) start(ctx context.Context, userID types.ID) error {
	u, err := h.users.Get(ctx, userID)
	switch {
	case err == nil:
		h.say(ctx, userID, fmt.Sprintf("С возвращением, %s!\n\n%s", u.Name, helpText))
		return nil
	case !errors.Is(err, user.ErrNotFound):
		return err
	}
	h.reply(ctx, userID, notify.Message{
		Text: "Добро пожаловать! Кто вы?",
		Buttons: [][]notify.Button{{
			{Text: "Мне нужна услуга", Data: dispatch.CallbackData(ActionRegister, "", string(user.RoleClient))},
			{Text: "Я исполнитель", Data: dispatch.CallbackData(ActionRegister, "", string(user.RoleContractor))},
		}},
	})
	return nil
}

func (h *Handler) text(ctx context.Context, t Text) error {
	res, err := h.machine.Advance(ctx, t.UserID, t.Body)
	if err != nil {
		return err
	}
	if res.Kind == conversation.ResultIdle {
		h.say(ctx, t.UserID, idleText)
		return nil
	}
	return h.result(ctx, t.UserID, res)
}

// location answers the order address step when a client is creating an
// order; otherwise the point becomes the contractor's work zone.
func (h *Handler) location(ctx context.Context, l Location) error {
	res, err := h.machine.AdvanceLocation(ctx, l.UserID, l.Point)
	if err != nil {
		return err
	}
	if res.Kind != conversation.ResultIdle {
		return h.result(ctx, l.UserID, res)
	}
	if err := h.coord.UpdateContractorLocation(ctx, l.UserID, l.Point); err != nil {
		return err
	}
	h.say(ctx, l.UserID, "Геопозиция сохранена.")
	return nil
}

func (h *Handler) result(ctx context.Context, userID types.ID, res conversation.Result) error {
	switch res.Kind {
	case conversation.ResultPrompt:
		h.say(ctx, userID, res.Prompt)
	case conversation.ResultInvalid:
		h.say(ctx, userID, dispatch.Reply(res.Err)+"\n"+res.Prompt)
	case conversation.ResultComplete:
		return h.complete(ctx, userID, res)
	}
	return nil
}

// complete acts on a finished flow.
func (h *Handler) complete(ctx context.Context, userID types.ID, res conversation.Result) error {
	f := res.Fields
	switch res.Flow {
	case conversation.FlowClientRegistration:
		if _, err := h.users.Register(ctx, user.RegisterCommand{
			ID: userID, Name: f[conversation.FieldName], Phone: f[conversation.FieldPhone], Role: user.RoleClient,
		}); err != nil {
			return err
		}
		h.say(ctx, userID, "Регистрация завершена. Чтобы создать заказ, отправьте /order.")
	case conversation.FlowContractorRegistration:
		specs, err := user.ParseSpecializations(f[conversation.FieldSpecialization])
		if err != nil {
			return err
		}
		radius, err := strconv.Atoi(f[conversation.FieldRadius])
		if err != nil {
			return fmt.Errorf("%w: radius %q", user.ErrInvalidProfile, f[conversation.FieldRadius])
		}
		if _, err := h.users.Register(ctx, user.RegisterCommand{
			ID: userID, Name: f[conversation.FieldName], Phone: f[conversation.FieldPhone], Role: user.RoleContractor,
			Specializations: specs, RadiusKm: float64(radius),
		}); err != nil {
			return err
		}
		h.say(ctx, userID, "Регистрация завершена. "+locationText)
	case conversation.FlowOrder:
		fields := dispatch.OrderFields{
			ServiceType: f[conversation.FieldService],
			Address:     f[conversation.FieldAddress],
			Description: f[conversation.FieldDescription],
		}
		if p, ok := sharedPoint(f); ok {
			fields.Location = &p
		}
		_, err := h.coord.CreateOrder(ctx, userID, fields)
		return err
	case conversation.FlowSearch:
		radius, err := strconv.Atoi(f[conversation.FieldRadius])
		if err != nil {
			return fmt.Errorf("%w: %q", order.ErrBadRadius, f[conversation.FieldRadius])
		}
		orders, err := h.coord.SearchNearbyOrders(ctx, userID, float64(radius))
		if err != nil {
			return err
		}
		h.reply(ctx, userID, nearbyMessage(orders))
	case conversation.FlowEditField:
		if err := h.users.UpdateField(ctx, userID, res.Params[conversation.ParamField], f[conversation.FieldValue]); err != nil {
			return err
		}
		h.say(ctx, userID, "Профиль обновлён.")
	case conversation.FlowRating:
		score, err := strconv.Atoi(f[conversation.FieldRating])
		if err != nil {
			return fmt.Errorf("%w: %q", order.ErrBadScore, f[conversation.FieldRating])
		}
		if _, err := h.coord.RateOrder(ctx, userID, types.ID(res.Params[conversation.ParamOrderID]), score); err != nil {
			return err
		}
		h.say(ctx, userID, "Спасибо за оценку!")
	}
	return nil
}

func (h *Handler) callback(ctx context.Context, c Callback) error {
	var err error
	switch c.Action {
	case ActionRegister:
		flow := conversation.FlowClientRegistration
		if user.Role(c.Arg) == user.RoleContractor {
			flow = conversation.FlowContractorRegistration
		}
		if _, gerr := h.users.Get(ctx, c.UserID); gerr == nil {
			h.say(ctx, c.UserID, "Вы уже зарегистрированы. "+helpText)
			return nil
		}
		return h.startFlow(ctx, c.UserID, flow, nil)
	case dispatch.ActionAccept:
		_, err = h.coord.AcceptOrder(ctx, c.UserID, c.OrderID)
	case dispatch.ActionDecline:
		err = h.coord.DeclineOrder(ctx, c.UserID, c.OrderID)
	case dispatch.ActionStart:
		_, err = h.coord.StartOrder(ctx, c.UserID, c.OrderID)
	case dispatch.ActionComplete:
		_, err = h.coord.CompleteOrder(ctx, c.UserID, c.OrderID, nil)
	case dispatch.ActionCancel:
		_, err = h.coord.CancelOrder(ctx, c.UserID, c.OrderID, "")
		if err == nil {
			h.say(ctx, c.UserID, "Заказ отменён.")
		}
	case dispatch.ActionRate:
		if c.Arg == "" {
			return h.startFlow(ctx, c.UserID, conversation.FlowRating, map[string]string{conversation.ParamOrderID: string(c.OrderID)})
		}
		score, perr := strconv.Atoi(c.Arg)
		if perr != nil {
			return fmt.Errorf("%w: %q", order.ErrBadScore, c.Arg)
		}
		if _, err = h.coord.RateOrder(ctx, c.UserID, c.OrderID, score); err == nil {
			h.say(ctx, c.UserID, "Спасибо за оценку!")
		}
	default:
		h.logger.Warn("unknown callback action", zap.String("action", c.Action))
	}
	return err
}

func (h *Handler) profile(ctx context.Context, userID types.ID) error {
	u, err := h.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Имя: %s\nТелефон: %s", u.Name, u.Phone)
	if u.Role == user.RoleContractor {
		p, err := h.users.Profile(ctx, userID)
		if err != nil {
			return err
		}
		text += fmt.Sprintf("\nУслуги: %s\nРадиус: %.0f км\nСтатус: %s\nРейтинг: %.1f\nВыполнено заказов: %d\nОбщий доход: %s\nСредний чек: %s",
			specializationsText(p.Specializations), p.RadiusKm, availabilityText(p.Availability),
			p.Rating, p.CompletedOrders, p.TotalIncome, p.AverageCheck())
		if p.Zone == nil {
			text += "\n\n" + locationText
		}
	}
	h.say(ctx, userID, text)
	return nil
}

func (h *Handler) requireRole(ctx context.Context, userID types.ID, role user.Role) error {
	u, err := h.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.Role != role {
		return order.ErrForbidden
	}
	return nil
}

func (h *Handler) startFlow(ctx context.Context, userID types.ID, flow conversation.Flow, params map[string]string) error {
	res, err := h.machine.Start(ctx, userID, flow, params)
	if err != nil {
		return err
	}
	h.say(ctx, userID, res.Prompt)
	return nil
}

func (h *Handler) say(ctx context.Context, userID types.ID, text string) {
	h.reply(ctx, userID, notify.Message{Text: text})
}

func (h *Handler) reply(ctx context.Context, userID types.ID, msg notify.Message) {
	if _, err := h.replier.Notify(ctx, userID, msg); err != nil {
		h.logger.Warn("reply failed", zap.String("user_id", string(userID)), zap.Error(err))
	}
}

func isDomainError(err error) bool {
	var verr *conversation.ValidationError
	return errors.As(err, &verr) ||
		errors.Is(err, order.ErrNotFound) ||
		errors.Is(err, order.ErrForbidden) ||
		errors.Is(err, order.ErrInvalidState) ||
		errors.Is(err, order.ErrAlreadyTaken) ||
		errors.Is(err, order.ErrValidation) ||
		errors.Is(err, order.ErrConflict) ||
		errors.Is(err, user.ErrNotFound) ||
		errors.Is(err, user.ErrRoleChange) ||
		errors.Is(err, user.ErrNotContractor) ||
		errors.Is(err, user.ErrInvalidProfile)
}

// sharedPoint reads the coordinates a flow stored from a shared geolocation.
func sharedPoint(f map[string]string) (types.Point, bool) {
	lat, err := strconv.ParseFloat(f[conversation.FieldLat], 64)
	if err != nil {
		return types.Point{}, false
	}
	lng, err := strconv.ParseFloat(f[conversation.FieldLng], 64)
	if err != nil {
		return types.Point{}, false
	}
	return types.Point{Lat: lat, Lng: lng}, true
}

func editable(field string) bool {
	switch field {
	case user.FieldName, user.FieldPhone, user.FieldRadius, user.FieldSpecialization:
		return true
	}
	return false
}

var statusText = map[order.Status]string{
	order.StatusNew:        "ищем исполнителя",
	order.StatusAccepted:   "принят",
	order.StatusInProgress: "в работе",
	order.StatusCompleted:  "выполнен",
	order.StatusCancelled:  "отменён",
}

func ordersMessage(orders []*order.Order) notify.Message {
	if len(orders) == 0 {
		return notify.Message{Text: "У вас пока нет заказов."}
	}
	var b strings.Builder
	b.WriteString("Ваши заказы:")
	for _, o := range orders {
		fmt.Fprintf(&b, "\n• %s, %s: %s", o.ServiceType, o.Address, statusText[o.Status])
	}
	return notify.Message{Text: b.String()}
}

func nearbyMessage(orders []*order.Order) notify.Message {
	if len(orders) == 0 {
		return notify.Message{Text: "Рядом нет открытых заказов."}
	}
	msg := notify.Message{Text: fmt.Sprintf("Найдено заказов: %d", len(orders))}
	for _, o := range orders {
		msg.Text += fmt.Sprintf("\n• %s, %s", o.ServiceType, o.Address)
		msg.Buttons = append(msg.Buttons, []notify.Button{
			{Text: "Принять: " + o.ServiceType, Data: dispatch.CallbackData(dispatch.ActionAccept, o.ID)},
		})
	}
	return msg
}

func availabilityText(a user.Availability) string {
	switch a {
	case user.AvailabilityFree:
		return "свободен"
	case user.AvailabilityBusy:
		return "занят"
	case user.AvailabilityBreak:
		return "перерыв"
	}
	return "недоступен"
}

func specializationsText(specs []string) string {
	if len(specs) == 0 {
		return "все"
	}
	return strings.Join(specs, ", ")
}
