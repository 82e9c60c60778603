// README: Race cases: N-way accept, accept vs cancel, loser completion.
package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"drillflow/internal/infra"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

var site = types.Point{Lat: 55.75, Lng: 37.61}

type Runner struct {
	cfg         Config
	db          *pgxpool.Pool
	orders      *order.Service
	prefix      string
	client      types.ID
	contractors []types.ID
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	db, err := infra.NewDB(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.ApplyMigration {
		if err := infra.RunMigrations(ctx, db, cfg.MigrationsDir, zap.NewNop()); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Runner{
		cfg:    cfg,
		db:     db,
		orders: order.NewService(order.NewStore(db, order.StoreOptions{AutoBusy: false})),
		prefix: fmt.Sprintf("race-%d-", time.Now().UnixNano()),
	}, nil
}

func (r *Runner) Close() {
	r.db.Close()
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	tests := r.cases()
	results := make([]Result, 0, len(tests))
	seeded := false
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		if tc.Name == seedCase && res.Status == statusPass {
			seeded = true
		}
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
		if tc.Name == seedCase && !seeded {
			break
		}
	}
	if seeded && r.cfg.Cleanup {
		if err := r.cleanup(context.Background()); err != nil {
			fmt.Printf("cleanup failed: %v\n", err)
		}
	}
	return results
}

const seedCase = "Seed: client and contractors"

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: seedCase, Run: (*Runner).seed},
		{Name: fmt.Sprintf("Race: %d-way accept, exactly one winner", r.cfg.Contractors), Run: (*Runner).raceAccept},
		{Name: "Race: accept vs client cancel", Run: (*Runner).raceCancel},
		{Name: "Lifecycle: loser cannot complete", Run: (*Runner).loserComplete},
	}
}

func (r *Runner) seed(ctx context.Context) Result {
	users := user.NewService(user.NewStore(r.db), 1000)
	r.client = types.ID(r.prefix + "client")
	if _, err := users.Register(ctx, user.RegisterCommand{ID: r.client, Name: "Race client", Phone: "+70000000000", Role: user.RoleClient}); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for i := 0; i < r.cfg.Contractors; i++ {
		id := types.ID(fmt.Sprintf("%scontractor-%d", r.prefix, i))
		if _, err := users.Register(ctx, user.RegisterCommand{ID: id, Name: "Race contractor", Phone: "+70000000001", Role: user.RoleContractor, RadiusKm: 50}); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		r.contractors = append(r.contractors, id)
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("prefix %s", r.prefix)}
}

func (r *Runner) newOrder(ctx context.Context) (*order.Order, error) {
	return r.orders.Create(ctx, order.CreateCommand{
		ClientID:    r.client,
		ServiceType: user.ServiceCatalogue[0],
		Address:     "race test site",
		Location:    site,
	})
}

// race runs fns at once from a shared start signal.
func race(fns ...func()) time.Duration {
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn()
		}()
	}
	began := time.Now()
	close(start)
	wg.Wait()
	return time.Since(began)
}

func (r *Runner) raceAccept(ctx context.Context) Result {
	var latencies []time.Duration
	for round := 0; round < r.cfg.Rounds; round++ {
		o, err := r.newOrder(ctx)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		var mu sync.Mutex
		winners, taken := 0, 0
		var other error
		fns := make([]func(), 0, len(r.contractors))
		for _, cid := range r.contractors {
			fns = append(fns, func() {
				_, err := r.orders.Accept(ctx, o.ID, cid)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, order.ErrAlreadyTaken):
					taken++
				default:
					other = err
				}
			})
		}
		latencies = append(latencies, race(fns...))
		if other != nil {
			return Result{Status: statusFail, Note: fmt.Sprintf("round %d: %v", round, other)}
		}
		if winners != 1 || taken != len(r.contractors)-1 {
			return Result{Status: statusFail, Note: fmt.Sprintf("round %d: %d winners, %d already taken", round, winners, taken)}
		}
		got, err := r.orders.Get(ctx, o.ID)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if got.Status != order.StatusAccepted || got.ContractorID == nil {
			return Result{Status: statusFail, Note: fmt.Sprintf("round %d: order %s contractor %v", round, got.Status, got.ContractorID)}
		}
	}
	return Result{Status: statusPass, Latency: p95(latencies), Note: fmt.Sprintf("%d rounds, p95 per round", r.cfg.Rounds)}
}

func (r *Runner) raceCancel(ctx context.Context) Result {
	accepted, cancelled := 0, 0
	for round := 0; round < r.cfg.Rounds; round++ {
		o, err := r.newOrder(ctx)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		var acceptErr, cancelErr error
		race(
			func() { _, acceptErr = r.orders.Accept(ctx, o.ID, r.contractors[0]) },
			func() { _, cancelErr = r.orders.Cancel(ctx, o.ID, order.Client(r.client), "race") },
		)
		got, err := r.orders.Get(ctx, o.ID)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		switch {
		case acceptErr == nil && cancelErr == nil:
			// Client cancel after accept is legal; the order must end cancelled.
			if got.Status != order.StatusCancelled {
				return Result{Status: statusFail, Note: fmt.Sprintf("round %d: both succeeded but status %s", round, got.Status)}
			}
			accepted++
		case errors.Is(acceptErr, order.ErrInvalidState) && cancelErr == nil:
			if got.Status != order.StatusCancelled {
				return Result{Status: statusFail, Note: fmt.Sprintf("round %d: status %s", round, got.Status)}
			}
			cancelled++
		default:
			return Result{Status: statusFail, Note: fmt.Sprintf("round %d: accept=%v cancel=%v", round, acceptErr, cancelErr)}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("accept first %d, cancel first %d", accepted, cancelled)}
}

func (r *Runner) loserComplete(ctx context.Context) Result {
	if len(r.contractors) < 2 {
		return Result{Status: statusSkip, Note: "needs at least two contractors"}
	}
	o, err := r.newOrder(ctx)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	winner, loser := r.contractors[0], r.contractors[1]
	if _, err := r.orders.Accept(ctx, o.ID, winner); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if _, err := r.orders.Complete(ctx, o.ID, loser, nil); !errors.Is(err, order.ErrForbidden) {
		return Result{Status: statusFail, Note: fmt.Sprintf("loser complete: %v", err)}
	}
	return Result{Status: statusPass}
}

func (r *Runner) cleanup(ctx context.Context) error {
	like := r.prefix + "%"
	stmts := []string{
		`DELETE FROM order_state_events WHERE order_id IN (SELECT id FROM orders WHERE client_id LIKE $1)`,
		`DELETE FROM orders WHERE client_id LIKE $1`,
		`DELETE FROM contractor_profiles WHERE user_id LIKE $1`,
		`DELETE FROM users WHERE id LIKE $1`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(ctx, s, like); err != nil {
			return err
		}
	}
	return nil
}

func p95(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(len(sorted)*95+99)/100-1]
}
