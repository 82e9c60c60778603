// README: Conversation flows: the ordered steps each flow walks through and
// the prompt shown for every step.
package conversation

type Flow string

const (
	FlowClientRegistration     Flow = "client_registration"
	FlowContractorRegistration Flow = "contractor_registration"
	FlowOrder                  Flow = "order"
	FlowSearch                 Flow = "search"
	FlowEditField              Flow = "edit_field"
	FlowRating                 Flow = "rating"
)

type Step string

const (
	StepName           Step = "AWAITING_NAME"
	StepPhone          Step = "AWAITING_PHONE"
	StepSpecialization Step = "AWAITING_SPECIALIZATION"
	StepRadius         Step = "AWAITING_RADIUS"
	StepService        Step = "AWAITING_SERVICE"
	StepAddress        Step = "AWAITING_ADDRESS"
	StepDescription    Step = "AWAITING_DESCRIPTION"
	StepSearchRadius   Step = "AWAITING_SEARCH_RADIUS"
	StepValue          Step = "AWAITING_VALUE"
	StepRating         Step = "AWAITING_RATING"
)

// Keys of Session.Fields and Result.Fields.
const (
	FieldName           = "name"
	FieldPhone          = "phone"
	FieldSpecialization = "specialization"
	FieldRadius         = "radius"
	FieldService        = "service"
	FieldAddress        = "address"
	FieldDescription    = "description"
	FieldValue          = "value"
	FieldRating         = "rating"
	// FieldLat and FieldLng are set when the order address came as a
	// shared geolocation.
	FieldLat            = "lat"
	FieldLng            = "lng"
)

// Keys of Session.Params.
const (
	ParamField   = "field"
	ParamOrderID = "order_id"
)

type stepDef struct {
	step  Step
	field string
}

var flows = map[Flow][]stepDef{
	FlowClientRegistration: {
		{StepName, FieldName},
		{StepPhone, FieldPhone},
	},
	FlowContractorRegistration: {
		{StepName, FieldName},
		{StepPhone, FieldPhone},
		{StepSpecialization, FieldSpecialization},
		{StepRadius, FieldRadius},
	},
	FlowOrder: {
		{StepService, FieldService},
		{StepAddress, FieldAddress},
		{StepDescription, FieldDescription},
	},
	FlowSearch: {
		{StepSearchRadius, FieldRadius},
	},
	FlowEditField: {
		{StepValue, FieldValue},
	},
	FlowRating: {
		{StepRating, FieldRating},
	},
}

var prompts = map[Step]string{
	StepName:           "Как к вам обращаться? Введите имя.",
	StepPhone:          "Введите номер телефона в формате +7XXXXXXXXXX.",
	StepSpecialization: "Какие услуги вы оказываете? Перечислите через запятую.",
	StepRadius:         "В каком радиусе (км) вы готовы работать?",
	StepService:        "Какая услуга нужна?",
	StepAddress:        "Укажите адрес объекта или отправьте геопозицию.",
	StepDescription:    "Опишите задачу: глубина, сроки, особенности участка.",
	StepSearchRadius:   "В каком радиусе (км) искать заказы?",
	StepValue:          "Введите новое значение.",
	StepRating:         "Оцените работу исполнителя от 1 до 5.",
}

// Prompt returns the question asked at step.
func Prompt(step Step) string {
	return prompts[step]
}

func stepIndex(flow Flow, step Step) int {
	for i, s := range flows[flow] {
		if s.step == step {
			return i
		}
	}
	return -1
}
