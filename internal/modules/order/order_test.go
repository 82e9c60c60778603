// README: Order lifecycle tests against the in-memory store.
package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusNew, StatusAccepted, true},
		{StatusNew, StatusCancelled, true},
		{StatusAccepted, StatusInProgress, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		// terminal
		{StatusCompleted, StatusNew, false},
		{StatusCancelled, StatusAccepted, false},
		// skipping
		{StatusNew, StatusInProgress, false},
		{StatusNew, StatusCompleted, false},
		{StatusAccepted, StatusCompleted, false},
		{StatusInProgress, StatusCancelled, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCheckGuards(t *testing.T) {
	c := types.ID("c1")
	assigned := func(s Status) *Order {
		id := c
		return &Order{ClientID: "cl", ContractorID: &id, Status: s}
	}
	unassigned := func(s Status) *Order { return &Order{ClientID: "cl", Status: s} }
	five := 5

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"accept new", CheckAccept(unassigned(StatusNew)), nil},
		{"accept cancelled", CheckAccept(unassigned(StatusCancelled)), ErrInvalidState},
		{"accept accepted", CheckAccept(assigned(StatusAccepted)), ErrAlreadyTaken},
		{"accept completed", CheckAccept(assigned(StatusCompleted)), ErrAlreadyTaken},
		{"start ok", CheckStart(assigned(StatusAccepted), c), nil},
		{"start stranger", CheckStart(assigned(StatusAccepted), "c2"), ErrForbidden},
		{"start twice", CheckStart(assigned(StatusInProgress), c), ErrInvalidState},
		{"complete ok", CheckComplete(assigned(StatusInProgress), c), nil},
		{"complete accepted", CheckComplete(assigned(StatusAccepted), c), ErrInvalidState},
		{"start new", CheckStart(unassigned(StatusNew), c), ErrInvalidState},
		{"complete new", CheckComplete(unassigned(StatusNew), c), ErrInvalidState},
		{"complete stranger", CheckComplete(assigned(StatusInProgress), "c2"), ErrForbidden},
		{"complete stranger on accepted", CheckComplete(assigned(StatusAccepted), "c2"), ErrForbidden},
		{"complete cancelled before accept", CheckComplete(unassigned(StatusCancelled), c), ErrInvalidState},
		{"client cancel new", CheckCancel(unassigned(StatusNew), Client("cl")), nil},
		{"client cancel accepted", CheckCancel(assigned(StatusAccepted), Client("cl")), nil},
		{"client cancel in progress", CheckCancel(assigned(StatusInProgress), Client("cl")), ErrInvalidState},
		{"other client cancel", CheckCancel(unassigned(StatusNew), Client("x")), ErrForbidden},
		{"contractor cancel accepted", CheckCancel(assigned(StatusAccepted), Contractor(c)), nil},
		{"contractor cancel new", CheckCancel(unassigned(StatusNew), Contractor(c)), ErrForbidden},
		{"contractor cancel in progress", CheckCancel(assigned(StatusInProgress), Contractor(c)), ErrInvalidState},
		{"system cancel new", CheckCancel(unassigned(StatusNew), System()), nil},
		{"system cancel accepted", CheckCancel(assigned(StatusAccepted), System()), ErrInvalidState},
		{"rate completed", CheckRate(assigned(StatusCompleted), "cl"), nil},
		{"rate stranger", CheckRate(assigned(StatusCompleted), "x"), ErrForbidden},
		{"rate in progress", CheckRate(assigned(StatusInProgress), "cl"), ErrInvalidState},
		{"rate twice", CheckRate(&Order{ClientID: "cl", ContractorID: &c, Status: StatusCompleted, Rating: &five}, "cl"), ErrInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.want) {
				t.Fatalf("got %v, want %v", tc.err, tc.want)
			}
		})
	}
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	profiles *user.MemoryStore
}

func newFixture(t *testing.T, autoBusy bool) fixture {
	t.Helper()
	profiles := user.NewMemoryStore()
	ctx := context.Background()
	users := user.NewService(profiles, 100)
	if _, err := users.Register(ctx, user.RegisterCommand{ID: "client", Name: "Иван", Phone: "+79990000000", Role: user.RoleClient}); err != nil {
		t.Fatalf("register client: %v", err)
	}
	for _, id := range []types.ID{"c1", "c2"} {
		if _, err := users.Register(ctx, user.RegisterCommand{ID: id, Name: "Бригада " + string(id), Phone: "+79991111111", Role: user.RoleContractor, RadiusKm: 15}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	store := NewMemoryStore(profiles, StoreOptions{AutoBusy: autoBusy})
	return fixture{svc: NewService(store), store: store, profiles: profiles}
}

func (f fixture) create(t *testing.T) *Order {
	t.Helper()
	price := types.RUB(50000)
	o, err := f.svc.Create(context.Background(), CreateCommand{
		ClientID:    "client",
		ServiceType: "Бурение скважины",
		Address:     "ул. Ленина 10, Москва",
		Location:    types.Point{Lat: 55.75, Lng: 37.61},
		Description: "Нужно пробить скважину 20м",
		Price:       &price,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return o
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, false)
	past := time.Now().Add(-time.Hour)
	cases := map[string]CreateCommand{
		"no client":  {ServiceType: "x", Address: "a", Location: types.Point{Lat: 1, Lng: 1}},
		"no service": {ClientID: "client", Address: "a", Location: types.Point{Lat: 1, Lng: 1}},
		"no address": {ClientID: "client", ServiceType: "x", Location: types.Point{Lat: 1, Lng: 1}},
		"bad point":  {ClientID: "client", ServiceType: "x", Address: "a", Location: types.Point{Lat: 95, Lng: 1}},
		"past due":   {ClientID: "client", ServiceType: "x", Address: "a", Location: types.Point{Lat: 1, Lng: 1}, Deadline: &past},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.Create(context.Background(), cmd); !errors.Is(err, ErrValidation) {
				t.Fatalf("got %v, want ErrValidation", err)
			}
		})
	}
}

func TestOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	o := f.create(t)
	if o.Status != StatusNew || o.ID == "" {
		t.Fatalf("created order = %+v", o)
	}

	if _, err := f.svc.Complete(ctx, o.ID, "c1", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("complete before accept: %v", err)
	}
	if _, err := f.svc.Accept(ctx, o.ID, "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if p, _ := f.profiles.GetProfile(ctx, "c1"); p.Availability != user.AvailabilityBusy {
		t.Fatalf("availability after accept = %s", p.Availability)
	}
	if _, err := f.svc.Complete(ctx, o.ID, "c1", nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("complete while accepted: %v", err)
	}
	if _, err := f.svc.Start(ctx, o.ID, "c1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rating := 4
	done, err := f.svc.Complete(ctx, o.ID, "c1", &rating)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil || *done.Rating != 4 {
		t.Fatalf("completed order = %+v", done)
	}

	p, err := f.profiles.GetProfile(ctx, "c1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.CompletedOrders != 1 || p.TotalIncome != types.RUB(50000) || p.Rating != 4 || p.RatingCount != 1 {
		t.Fatalf("profile stats = %+v", p)
	}
	if p.Availability != user.AvailabilityFree {
		t.Fatalf("availability after complete = %s", p.Availability)
	}

	if _, err := f.svc.Rate(ctx, o.ID, "client", 5); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("rating twice: %v", err)
	}

	events := f.store.Events(o.ID)
	want := []Status{StatusNew, StatusAccepted, StatusInProgress, StatusCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i, e := range events {
		if e.ToStatus != want[i] {
			t.Fatalf("event %d to %s, want %s", i, e.ToStatus, want[i])
		}
	}
}

func TestCompleteOnNewLeavesOrderUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	o := f.create(t)

	five := 5
	if _, err := f.svc.Complete(ctx, o.ID, "c1", &five); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("complete on new: %v", err)
	}
	if _, err := f.svc.Start(ctx, o.ID, "c1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("start on new: %v", err)
	}
	got, err := f.svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusNew || got.StatusVersion != o.StatusVersion {
		t.Fatalf("order changed: %+v", got)
	}
	if len(f.store.Events(o.ID)) != 1 {
		t.Fatal("failed transition must not append events")
	}
}

func TestAcceptAfterCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	o := f.create(t)

	if _, err := f.svc.Cancel(ctx, o.ID, Client("client"), "changed plans"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Accept(ctx, o.ID, "c1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("accept after cancel: %v", err)
	}
	if _, err := f.svc.Accept(ctx, "missing", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("accept unknown: %v", err)
	}
}

func TestContractorCancelTerminates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	o := f.create(t)
	if _, err := f.svc.Accept(ctx, o.ID, "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, o.ID, Contractor("c2"), ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign contractor cancel: %v", err)
	}
	got, err := f.svc.Cancel(ctx, o.ID, Contractor("c1"), "broken rig")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled || got.CancelReason == nil || *got.CancelReason != "broken rig" {
		t.Fatalf("cancelled order = %+v", got)
	}
	if p, _ := f.profiles.GetProfile(ctx, "c1"); p.Availability != user.AvailabilityFree {
		t.Fatalf("contractor not released: %s", p.Availability)
	}
	if _, err := f.svc.Accept(ctx, o.ID, "c2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("accept after contractor cancel: %v", err)
	}
}

func TestRateAfterCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	o := f.create(t)
	for _, step := range []func() error{
		func() error { _, err := f.svc.Accept(ctx, o.ID, "c1"); return err },
		func() error { _, err := f.svc.Start(ctx, o.ID, "c1"); return err },
		func() error { _, err := f.svc.Complete(ctx, o.ID, "c1", nil); return err },
	} {
		if err := step(); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	if _, err := f.svc.Rate(ctx, o.ID, "client", 9); !errors.Is(err, ErrValidation) {
		t.Fatalf("out of range score: %v", err)
	}
	if _, err := f.svc.Rate(ctx, o.ID, "c1", 5); !errors.Is(err, ErrForbidden) {
		t.Fatalf("contractor rating own order: %v", err)
	}
	if _, err := f.svc.Rate(ctx, o.ID, "client", 5); err != nil {
		t.Fatalf("rate: %v", err)
	}
	p, _ := f.profiles.GetProfile(ctx, "c1")
	if p.Rating != 5 || p.RatingCount != 1 || p.CompletedOrders != 1 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestListQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	near := f.create(t)
	taken := f.create(t)
	if _, err := f.svc.Accept(ctx, taken.ID, "c1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	active, err := f.svc.ListActiveNear(ctx, types.Point{Lat: 55.76, Lng: 37.62}, 5)
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	if len(active) != 1 || active[0].ID != near.ID {
		t.Fatalf("active near = %+v", active)
	}
	if far, _ := f.svc.ListActiveNear(ctx, types.Point{Lat: 59.93, Lng: 30.31}, 50); len(far) != 0 {
		t.Fatalf("orders far away = %+v", far)
	}

	mine, _ := f.svc.ListForUser(ctx, "client", user.RoleClient)
	if len(mine) != 2 {
		t.Fatalf("client orders = %d", len(mine))
	}
	assigned, _ := f.svc.ListForUser(ctx, "c1", user.RoleContractor)
	if len(assigned) != 1 || assigned[0].ID != taken.ID {
		t.Fatalf("contractor orders = %+v", assigned)
	}
	if n, _ := f.svc.CountAcceptedToday(ctx, "c1"); n != 1 {
		t.Fatalf("accepted today = %d", n)
	}

	f.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	stale, _ := f.svc.ListStale(ctx, 24*time.Hour)
	if len(stale) != 1 || stale[0].ID != near.ID {
		t.Fatalf("stale = %+v", stale)
	}
}

func TestRatingStrategies(t *testing.T) {
	avg := RunningAverage{}
	if got := avg.Next(0, 0, 4); got != 4 {
		t.Fatalf("first score = %v", got)
	}
	if got := avg.Next(4, 1, 2); got != 3 {
		t.Fatalf("average = %v", got)
	}
	ema := RecencyWeighted{Alpha: 0.5}
	if got := ema.Next(4, 3, 2); got != 3 {
		t.Fatalf("ema = %v", got)
	}
	if _, err := NewRatingStrategy("recency", 0); err == nil {
		t.Fatal("alpha 0 must be rejected")
	}
	if _, err := NewRatingStrategy("median", 0.3); err == nil {
		t.Fatal("unknown strategy must be rejected")
	}
	if s, err := NewRatingStrategy("", 0); err != nil || s != (RunningAverage{}) {
		t.Fatalf("default strategy = %v, %v", s, err)
	}
}
