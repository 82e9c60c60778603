// README: End-to-end API tests over in-memory stores.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "drillflow/internal/http"
	"drillflow/internal/config"
	"drillflow/internal/infra"
	"drillflow/internal/modules/dispatch"
	"drillflow/internal/modules/location"
	"drillflow/internal/modules/matching"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/notify"
	"drillflow/internal/types"
)

// tokenVerifier treats the bearer token as the uid of a known user.
type tokenVerifier map[string]string

func (v tokenVerifier) VerifyIDToken(_ context.Context, token string) (*infra.FirebaseToken, error) {
	role, ok := v[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &infra.FirebaseToken{UID: token, Role: role}, nil
}

type stubClassifier struct{ answer string }

func (s stubClassifier) Classify(context.Context, types.ID, string) (string, error) {
	return s.answer, nil
}

func newAPI(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	logger := zap.NewNop()

	profiles := user.NewMemoryStore()
	users := user.NewService(profiles, 100)
	zones := location.NewService(profiles, nil, logger)
	verifier := tokenVerifier{}
	for _, u := range []user.RegisterCommand{
		{ID: "client", Name: "Анна", Phone: "+79990000001", Role: user.RoleClient},
		{ID: "stranger", Name: "Пётр", Phone: "+79990000002", Role: user.RoleClient},
		{ID: "c1", Name: "Бригада 1", Phone: "+79990000003", Role: user.RoleContractor, RadiusKm: 20},
		{ID: "c2", Name: "Бригада 2", Phone: "+79990000004", Role: user.RoleContractor, RadiusKm: 20},
	} {
		if _, err := users.Register(ctx, u); err != nil {
			t.Fatalf("register %s: %v", u.ID, err)
		}
		verifier[string(u.ID)] = string(u.Role)
	}
	// signed in with Firebase but not registered yet
	verifier["newbie"] = ""
	verifier["crew"] = string(user.RoleContractor)
	for _, id := range []types.ID{"c1", "c2"} {
		if err := zones.UpdateContractorZone(ctx, id, types.Point{Lat: 55.76, Lng: 37.61}); err != nil {
			t.Fatalf("zone: %v", err)
		}
	}

	orders := order.NewService(order.NewMemoryStore(profiles, order.StoreOptions{AutoBusy: true}))
	engine, err := matching.NewEngine(profiles, orders, config.MatchingConfig{}, logger)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	coord := dispatch.NewCoordinator(dispatch.Deps{
		Orders:   orders,
		Users:    users,
		Zones:    zones,
		Matcher:  engine,
		Offers:   matching.NewMemoryOfferStore(),
		Notifier: notify.NewLog(logger),
	}, config.DispatchConfig{FanoutLimit: 2, AutoBusyOnAccept: true}, logger)

	return apihttp.NewRouter(apihttp.RouterDeps{
		Coordinator: coord,
		Users:       users,
		Verifier:    verifier,
		Classifier:  stubClassifier{answer: "Чистка скважины"},
		Logger:      logger,
	})
}

func do(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body %s", w.Code, status, w.Body.String())
	}
	if code != "" {
		if got := decode(t, w)["code"]; got != code {
			t.Fatalf("code = %v, want %s", got, code)
		}
	}
}

var newOrderBody = map[string]any{
	"service_type": "Бурение скважины",
	"address":      "ул. Ленина 10, Москва",
	"description":  "Скважина 30 м",
	"lat":          55.75,
	"lng":          37.61,
	"price_rub":    150000,
}

func createOrder(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(r, http.MethodPost, "/api/orders", "client", newOrderBody)
	expect(t, w, http.StatusCreated, "")
	body := decode(t, w)
	if body["status"] != string(order.StatusNew) {
		t.Fatalf("status = %v", body["status"])
	}
	return body["id"].(string)
}

func TestHealthIsPublic(t *testing.T) {
	r := newAPI(t)
	if w := do(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
	expect(t, do(r, http.MethodGet, "/api/orders", "", nil), http.StatusUnauthorized, "UNAUTHORIZED")
	expect(t, do(r, http.MethodGet, "/api/orders", "forged", nil), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	r := newAPI(t)
	id := createOrder(t, r)
	base := "/api/orders/" + id

	expect(t, do(r, http.MethodPost, base+"/accept", "client", nil), http.StatusForbidden, "FORBIDDEN")
	expect(t, do(r, http.MethodPost, base+"/accept", "c1", nil), http.StatusOK, "")
	expect(t, do(r, http.MethodPost, base+"/accept", "c2", nil), http.StatusConflict, "ALREADY_TAKEN")
	expect(t, do(r, http.MethodGet, base, "stranger", nil), http.StatusForbidden, "FORBIDDEN")

	expect(t, do(r, http.MethodPost, base+"/start", "c1", nil), http.StatusOK, "")
	w := do(r, http.MethodPost, base+"/complete", "c1", map[string]any{})
	expect(t, w, http.StatusOK, "")
	if got := decode(t, w)["status"]; got != string(order.StatusCompleted) {
		t.Fatalf("status = %v", got)
	}

	expect(t, do(r, http.MethodPost, base+"/rate", "client", map[string]any{"score": 9}), http.StatusBadRequest, "VALIDATION_FAILED")
	w = do(r, http.MethodPost, base+"/rate", "client", map[string]any{"score": 4})
	expect(t, w, http.StatusOK, "")
	if got := decode(t, w)["rating"]; got != float64(4) {
		t.Fatalf("rating = %v", got)
	}

	w = do(r, http.MethodGet, "/api/orders", "c1", nil)
	expect(t, w, http.StatusOK, "")
	if list := decode(t, w)["orders"].([]any); len(list) != 1 {
		t.Fatalf("contractor orders = %v", list)
	}
}

func TestCancelThenAcceptIsInvalidState(t *testing.T) {
	r := newAPI(t)
	id := createOrder(t, r)
	w := do(r, http.MethodPost, "/api/orders/"+id+"/cancel", "client", map[string]any{"reason": "передумал"})
	expect(t, w, http.StatusOK, "")
	if got := decode(t, w)["cancel_reason"]; got != "передумал" {
		t.Fatalf("cancel_reason = %v", got)
	}
	expect(t, do(r, http.MethodPost, "/api/orders/"+id+"/accept", "c1", nil), http.StatusConflict, "INVALID_STATE")
	expect(t, do(r, http.MethodGet, "/api/orders/missing", "client", nil), http.StatusNotFound, "ORDER_NOT_FOUND")
}

func TestCreateOrderValidation(t *testing.T) {
	r := newAPI(t)
	body := map[string]any{"service_type": "Бурение скважины", "address": "ул. Ленина 10"}
	expect(t, do(r, http.MethodPost, "/api/orders", "client", body), http.StatusBadRequest, "VALIDATION_FAILED")
	expect(t, do(r, http.MethodPost, "/api/orders", "c1", newOrderBody), http.StatusForbidden, "FORBIDDEN")
}

func TestContractorEndpoints(t *testing.T) {
	r := newAPI(t)
	createOrder(t, r)

	expect(t, do(r, http.MethodPut, "/api/contractors/me/location", "c1", map[string]any{"lat": 55.7}), http.StatusBadRequest, "BAD_REQUEST")
	expect(t, do(r, http.MethodPut, "/api/contractors/me/location", "c1", map[string]any{"lat": 55.751, "lng": 37.612}), http.StatusOK, "")
	expect(t, do(r, http.MethodPut, "/api/contractors/me/location", "client", map[string]any{"lat": 55.751, "lng": 37.612}), http.StatusForbidden, "")

	w := do(r, http.MethodGet, "/api/contractors/me/nearby-orders?radius_km=5", "c1", nil)
	expect(t, w, http.StatusOK, "")
	if list := decode(t, w)["orders"].([]any); len(list) != 1 {
		t.Fatalf("nearby = %v", list)
	}
	expect(t, do(r, http.MethodGet, "/api/contractors/me/nearby-orders?radius_km=-1", "c1", nil), http.StatusBadRequest, "VALIDATION_FAILED")

	expect(t, do(r, http.MethodPut, "/api/contractors/me/availability", "c1", map[string]any{"availability": "sleeping"}), http.StatusBadRequest, "BAD_REQUEST")
	expect(t, do(r, http.MethodPut, "/api/contractors/me/availability", "c1", map[string]any{"availability": "break"}), http.StatusOK, "")
}

func TestClassify(t *testing.T) {
	r := newAPI(t)
	w := do(r, http.MethodPost, "/api/services/classify", "client", map[string]any{"text": "чистка СКВАЖИНЫ"})
	expect(t, w, http.StatusOK, "")
	if got := decode(t, w)["service"]; got != "Чистка скважины" {
		t.Fatalf("catalogue match = %v", got)
	}
	w = do(r, http.MethodPost, "/api/services/classify", "client", map[string]any{"text": "вода мутная, надо промыть"})
	expect(t, w, http.StatusOK, "")
	if got := decode(t, w)["service"]; got != "Чистка скважины" {
		t.Fatalf("classified = %v", got)
	}
	expect(t, do(r, http.MethodPost, "/api/services/classify", "client", map[string]any{}), http.StatusBadRequest, "BAD_REQUEST")
}

func TestRegisterDashboardUser(t *testing.T) {
	r := newAPI(t)

	expect(t, do(r, http.MethodGet, "/api/users/me", "newbie", nil), http.StatusNotFound, "USER_NOT_FOUND")
	expect(t, do(r, http.MethodPost, "/api/orders", "newbie", newOrderBody), http.StatusNotFound, "USER_NOT_FOUND")

	expect(t, do(r, http.MethodPost, "/api/users/me", "newbie", map[string]any{"name": "Ольга", "role": "admin"}), http.StatusForbidden, "FORBIDDEN")
	w := do(r, http.MethodPost, "/api/users/me", "newbie", map[string]any{"name": "Ольга", "phone": "+79990000009"})
	expect(t, w, http.StatusCreated, "")
	if got := decode(t, w)["role"]; got != "client" {
		t.Fatalf("role = %v", got)
	}
	expect(t, do(r, http.MethodPost, "/api/orders", "newbie", newOrderBody), http.StatusCreated, "")
	expect(t, do(r, http.MethodPost, "/api/users/me", "newbie", map[string]any{"name": "Ольга", "role": "contractor", "radius_km": 10}), http.StatusConflict, "ROLE_CHANGE")
}

func TestRegisterTakesRoleFromClaim(t *testing.T) {
	r := newAPI(t)

	expect(t, do(r, http.MethodPost, "/api/users/me", "crew", map[string]any{"name": "Бригада 3", "role": "client"}), http.StatusForbidden, "FORBIDDEN")
	expect(t, do(r, http.MethodPost, "/api/users/me", "crew", map[string]any{"name": "Бригада 3", "radius_km": 500}), http.StatusBadRequest, "INVALID_PROFILE")

	w := do(r, http.MethodPost, "/api/users/me", "crew", map[string]any{
		"name": "Бригада 3", "radius_km": 25, "specializations": []string{"бурение скважины"},
	})
	expect(t, w, http.StatusCreated, "")

	w = do(r, http.MethodGet, "/api/users/me", "crew", nil)
	expect(t, w, http.StatusOK, "")
	body := decode(t, w)
	profile, ok := body["profile"].(map[string]any)
	if body["role"] != "contractor" || !ok {
		t.Fatalf("me = %v", body)
	}
	specs, _ := profile["specializations"].([]any)
	if profile["radius_km"] != 25.0 || profile["availability"] != "free" || len(specs) != 1 || specs[0] != "Бурение скважины" {
		t.Fatalf("profile = %v", profile)
	}
	expect(t, do(r, http.MethodPut, "/api/contractors/me/location", "crew", map[string]any{"lat": 55.7, "lng": 37.6}), http.StatusOK, "")
}
