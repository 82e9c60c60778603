package conversation

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"drillflow/internal/config"
	"drillflow/internal/modules/order"
	"drillflow/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMachine(t *testing.T, classifier ServiceClassifier) (*Machine, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	cfg := config.ConversationConfig{SessionTTL: 30 * time.Minute, MaxRadiusKm: 100, DefaultRadiusKm: 10}
	m := NewMachine(NewMemoryStore(cfg.SessionTTL, c.now), cfg, classifier, zap.NewNop())
	m.now = c.now
	return m, c
}

func advance(t *testing.T, m *Machine, userID types.ID, input string) Result {
	t.Helper()
	res, err := m.Advance(context.Background(), userID, input)
	if err != nil {
		t.Fatalf("Advance(%q): %v", input, err)
	}
	return res
}

func TestOrderFlow(t *testing.T) {
	m, _ := newMachine(t, nil)
	ctx := context.Background()

	res, err := m.Start(ctx, "u1", FlowOrder, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Kind != ResultPrompt || res.Step != StepService {
		t.Fatalf("start = %+v", res)
	}

	if res := advance(t, m, "u1", "Бурение скважины"); res.Kind != ResultPrompt || res.Step != StepAddress {
		t.Fatalf("after service = %+v", res)
	}
	if res := advance(t, m, "u1", "ул. Ленина 10, Москва"); res.Kind != ResultPrompt || res.Step != StepDescription {
		t.Fatalf("after address = %+v", res)
	}
	res = advance(t, m, "u1", "Нужно пробить скважину 20м")
	if res.Kind != ResultComplete {
		t.Fatalf("after description = %+v", res)
	}
	want := map[string]string{
		FieldService:     "Бурение скважины",
		FieldAddress:     "ул. Ленина 10, Москва",
		FieldDescription: "Нужно пробить скважину 20м",
	}
	if len(res.Fields) != len(want) {
		t.Fatalf("fields = %v", res.Fields)
	}
	for k, v := range want {
		if res.Fields[k] != v {
			t.Fatalf("field %s = %q, want %q", k, res.Fields[k], v)
		}
	}
	if sess, _ := m.Current(ctx, "u1"); sess != nil {
		t.Fatalf("session survives completion: %+v", sess)
	}
}

func TestShortAddressDoesNotAdvance(t *testing.T) {
	m, _ := newMachine(t, nil)
	ctx := context.Background()
	if _, err := m.Start(ctx, "u1", FlowOrder, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	advance(t, m, "u1", "бурение скважины")

	res := advance(t, m, "u1", "ab")
	if res.Kind != ResultInvalid || res.Err == nil || res.Err.Field != FieldAddress {
		t.Fatalf("short address = %+v", res)
	}
	if !errors.Is(res.Err, order.ErrValidation) {
		t.Fatal("validation error should match order.ErrValidation")
	}
	sess, err := m.Current(ctx, "u1")
	if err != nil || sess == nil {
		t.Fatalf("session lost: %v", err)
	}
	if sess.Step != StepAddress || sess.Fields[FieldService] != "Бурение скважины" {
		t.Fatalf("session = %+v", sess)
	}
}

func TestLocationAtAddressStep(t *testing.T) {
	m, _ := newMachine(t, nil)
	ctx := context.Background()
	site := types.Point{Lat: 55.75, Lng: 37.61}

	if res, err := m.AdvanceLocation(ctx, "u1", site); err != nil || res.Kind != ResultIdle {
		t.Fatalf("location without session = %+v, %v", res, err)
	}
	if _, err := m.Start(ctx, "u1", FlowOrder, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res, _ := m.AdvanceLocation(ctx, "u1", site); res.Kind != ResultIdle {
		t.Fatalf("location at service step = %+v", res)
	}
	advance(t, m, "u1", "Бурение скважины")

	res, err := m.AdvanceLocation(ctx, "u1", types.Point{Lat: 91, Lng: 0})
	if err != nil || res.Kind != ResultInvalid || res.Step != StepAddress {
		t.Fatalf("bad point = %+v, %v", res, err)
	}
	res, err = m.AdvanceLocation(ctx, "u1", site)
	if err != nil || res.Kind != ResultPrompt || res.Step != StepDescription {
		t.Fatalf("location at address step = %+v, %v", res, err)
	}
	res = advance(t, m, "u1", "Нужно пробить скважину 20м")
	if res.Kind != ResultComplete {
		t.Fatalf("after description = %+v", res)
	}
	if res.Fields[FieldLat] != "55.75" || res.Fields[FieldLng] != "37.61" || res.Fields[FieldAddress] == "" {
		t.Fatalf("fields = %v", res.Fields)
	}
}

func TestContractorRegistration(t *testing.T) {
	m, _ := newMachine(t, nil)
	ctx := context.Background()
	if _, err := m.Start(ctx, "c1", FlowContractorRegistration, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	steps := []struct {
		input string
		kind  ResultKind
		step  Step
	}{
		{"Я", ResultInvalid, StepName},
		{"Пётр", ResultPrompt, StepPhone},
		{"89991234567", ResultInvalid, StepPhone},
		{"+7 (999) 123-45-67", ResultPrompt, StepSpecialization},
		{"покраска", ResultInvalid, StepSpecialization},
		{"бурение скважины, ремонт скважины", ResultPrompt, StepRadius},
		{"0", ResultInvalid, StepRadius},
		{"101", ResultInvalid, StepRadius},
		{"пятнадцать", ResultInvalid, StepRadius},
		{"15", ResultComplete, StepRadius},
	}
	var res Result
	for _, s := range steps {
		res = advance(t, m, "c1", s.input)
		if res.Kind != s.kind || res.Step != s.step {
			t.Fatalf("input %q: got %s/%s, want %s/%s", s.input, res.Kind, res.Step, s.kind, s.step)
		}
	}
	if res.Fields[FieldPhone] != "+79991234567" {
		t.Fatalf("phone = %q", res.Fields[FieldPhone])
	}
	if res.Fields[FieldSpecialization] != "Бурение скважины,Ремонт скважины" {
		t.Fatalf("specialization = %q", res.Fields[FieldSpecialization])
	}
	if res.Fields[FieldRadius] != "15" {
		t.Fatalf("radius = %q", res.Fields[FieldRadius])
	}
}

func TestSessionExpires(t *testing.T) {
	m, c := newMachine(t, nil)
	ctx := context.Background()
	if _, err := m.Start(ctx, "u1", FlowClientRegistration, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.advance(29 * time.Minute)
	if res := advance(t, m, "u1", "Анна"); res.Kind != ResultPrompt {
		t.Fatalf("within ttl = %+v", res)
	}
	c.advance(31 * time.Minute)
	if res := advance(t, m, "u1", "+79990001122"); res.Kind != ResultIdle {
		t.Fatalf("after ttl = %+v", res)
	}
}

func TestIdleWithoutSession(t *testing.T) {
	m, _ := newMachine(t, nil)
	if res := advance(t, m, "nobody", "привет"); res.Kind != ResultIdle {
		t.Fatalf("got %+v", res)
	}
}

func TestRatingAndEditFlows(t *testing.T) {
	m, _ := newMachine(t, nil)
	ctx := context.Background()

	if _, err := m.Start(ctx, "u1", FlowRating, nil); err == nil {
		t.Fatal("rating flow without order id must fail")
	}
	if _, err := m.Start(ctx, "u1", FlowRating, map[string]string{ParamOrderID: "o1"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res := advance(t, m, "u1", "6"); res.Kind != ResultInvalid {
		t.Fatalf("rating 6 = %+v", res)
	}
	res := advance(t, m, "u1", "4")
	if res.Kind != ResultComplete || res.Fields[FieldRating] != "4" || res.Params[ParamOrderID] != "o1" {
		t.Fatalf("rating = %+v", res)
	}

	if _, err := m.Start(ctx, "u1", FlowEditField, map[string]string{ParamField: "phone"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res := advance(t, m, "u1", "12345"); res.Kind != ResultInvalid || res.Err.Field != FieldPhone {
		t.Fatalf("bad phone = %+v", res)
	}
	if res := advance(t, m, "u1", "+79995554433"); res.Kind != ResultComplete || res.Fields[FieldValue] != "+79995554433" {
		t.Fatalf("edit = %+v", res)
	}
}

type stubClassifier struct {
	answer string
	err    error
	calls  int
}

func (s *stubClassifier) Classify(context.Context, types.ID, string) (string, error) {
	s.calls++
	return s.answer, s.err
}

func TestServiceClassifier(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cl   *stubClassifier
		want ResultKind
	}{
		{"mapped", &stubClassifier{answer: "Чистка скважины"}, ResultPrompt},
		{"unknown", &stubClassifier{answer: ""}, ResultInvalid},
		{"off catalogue", &stubClassifier{answer: "Покраска забора"}, ResultInvalid},
		{"failing", &stubClassifier{err: errors.New("quota exceeded")}, ResultInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newMachine(t, tc.cl)
			if _, err := m.Start(ctx, "u1", FlowOrder, nil); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if res := advance(t, m, "u1", "вода пошла мутная, надо промыть"); res.Kind != tc.want {
				t.Fatalf("got %+v", res)
			}
			if tc.cl.calls != 1 {
				t.Fatalf("classifier calls = %d", tc.cl.calls)
			}
		})
	}

	cl := &stubClassifier{}
	m, _ := newMachine(t, cl)
	if _, err := m.Start(ctx, "u2", FlowOrder, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	advance(t, m, "u2", "Ремонт скважины")
	if cl.calls != 0 {
		t.Fatal("catalogue entries must not reach the classifier")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("DRILLFLOW_TEST_REDIS")
	if addr == "" {
		t.Skip("DRILLFLOW_TEST_REDIS not set; skipping Redis-backed tests")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, time.Minute)
	sess := &Session{UserID: "test-user", Flow: FlowOrder, Step: StepAddress, Fields: map[string]string{FieldService: "Бурение на песок"}}
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, "test-user")
	if err != nil || got == nil {
		t.Fatalf("Load: %v %v", got, err)
	}
	if got.Step != StepAddress || got.Fields[FieldService] != "Бурение на песок" {
		t.Fatalf("session = %+v", got)
	}
	if ttl := client.TTL(ctx, sessionKey("test-user")).Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %s", ttl)
	}
	if err := store.Delete(ctx, "test-user"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := store.Load(ctx, "test-user"); got != nil {
		t.Fatalf("after delete = %+v", got)
	}
}
