// README: In-memory order store for tests and the memory storage mode. One
// mutex serialises every transition, which gives the same single-winner
// accept as the conditional update in Postgres.
package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	orders   map[types.ID]*Order
	events   []Event
	profiles *user.MemoryStore
	opts     StoreOptions
	now      func() time.Time
}

// NewMemoryStore keeps contractor statistics in profiles; pass nil when only
// order state matters.
func NewMemoryStore(profiles *user.MemoryStore, opts StoreOptions) *MemoryStore {
	return &MemoryStore{
		orders:   make(map[types.ID]*Order),
		profiles: profiles,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	m.orders[o.ID] = cloneOrder(o)
	m.record(o.ID, StatusNone, o.Status, Client(o.ClientID), o.CreatedAt)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) TryAccept(ctx context.Context, id, contractorID types.ID) (*Order, error) {
	return m.mutate(id, CheckAccept, func(o *Order) error {
		now := m.now()
		c := contractorID
		o.Status = StatusAccepted
		o.ContractorID = &c
		o.AcceptedAt = &now
		m.record(o.ID, StatusNew, StatusAccepted, Contractor(contractorID), now)
		if !m.opts.AutoBusy || m.profiles == nil {
			return nil
		}
		return m.profiles.UpdateProfile(ctx, contractorID, func(p *user.ContractorProfile) error {
			if p.Availability == user.AvailabilityFree {
				p.Availability = user.AvailabilityBusy
			}
			return nil
		})
	})
}

func (m *MemoryStore) Start(_ context.Context, id, contractorID types.ID) (*Order, error) {
	return m.mutate(id, func(o *Order) error {
		return CheckStart(o, contractorID)
	}, func(o *Order) error {
		now := m.now()
		o.Status = StatusInProgress
		o.StartedAt = &now
		m.record(o.ID, StatusAccepted, StatusInProgress, Contractor(contractorID), now)
		return nil
	})
}

func (m *MemoryStore) Cancel(ctx context.Context, id types.ID, actor Actor, reason string) (*Order, error) {
	return m.mutate(id, func(o *Order) error {
		return CheckCancel(o, actor)
	}, func(o *Order) error {
		now := m.now()
		from := o.Status
		o.Status = StatusCancelled
		o.CancelledAt = &now
		if reason != "" {
			r := reason
			o.CancelReason = &r
		}
		m.record(o.ID, from, StatusCancelled, actor, now)
		if o.ContractorID != nil {
			return m.release(ctx, *o.ContractorID)
		}
		return nil
	})
}

func (m *MemoryStore) Complete(ctx context.Context, id, contractorID types.ID, rating *int) (*Order, error) {
	return m.mutate(id, func(o *Order) error {
		return CheckComplete(o, contractorID)
	}, func(o *Order) error {
		now := m.now()
		o.Status = StatusCompleted
		o.CompletedAt = &now
		o.Rating = cloneInt(rating)
		if m.profiles != nil {
			err := m.profiles.UpdateProfile(ctx, contractorID, func(p *user.ContractorProfile) error {
				p.RecordCompletion(o.Price)
				if rating != nil {
					p.SetRating(m.opts.Rating.Next(p.Rating, p.RatingCount, *rating))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		m.record(o.ID, StatusInProgress, StatusCompleted, Contractor(contractorID), now)
		return m.release(ctx, contractorID)
	})
}

func (m *MemoryStore) Rate(ctx context.Context, id, clientID types.ID, score int) (*Order, error) {
	return m.mutate(id, func(o *Order) error {
		return CheckRate(o, clientID)
	}, func(o *Order) error {
		s := score
		o.Rating = &s
		if m.profiles == nil {
			return nil
		}
		return m.profiles.UpdateProfile(ctx, *o.ContractorID, func(p *user.ContractorProfile) error {
			p.SetRating(m.opts.Rating.Next(p.Rating, p.RatingCount, score))
			return nil
		})
	})
}

// mutate runs check and apply on a working copy under the lock and stores
// the copy only when both succeed.
func (m *MemoryStore) mutate(id types.ID, check func(*Order) error, apply func(*Order) error) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := check(stored); err != nil {
		return nil, err
	}
	o := cloneOrder(stored)
	mark := len(m.events)
	if err := apply(o); err != nil {
		m.events = m.events[:mark]
		return nil, err
	}
	o.StatusVersion++
	m.orders[id] = o
	return cloneOrder(o), nil
}

// release frees a BUSY contractor without other active orders; callers hold m.mu.
func (m *MemoryStore) release(ctx context.Context, contractorID types.ID) error {
	if !m.opts.AutoBusy || m.profiles == nil {
		return nil
	}
	for _, o := range m.orders {
		if o.AssignedTo(contractorID) && (o.Status == StatusAccepted || o.Status == StatusInProgress) {
			return nil
		}
	}
	return m.profiles.UpdateProfile(ctx, contractorID, func(p *user.ContractorProfile) error {
		if p.Availability == user.AvailabilityBusy {
			p.Availability = user.AvailabilityFree
		}
		return nil
	})
}

func (m *MemoryStore) ListActiveNear(_ context.Context, p types.Point, radiusKm float64) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*Order
	for _, o := range m.orders {
		if o.Status == StatusNew {
			active = append(active, cloneOrder(o))
		}
	}
	return filterNear(active, p, radiusKm), nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID types.ID, role user.Role) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		var match bool
		switch role {
		case user.RoleClient:
			match = o.ClientID == userID
		case user.RoleContractor:
			match = o.AssignedTo(userID)
		case user.RoleAdmin:
			match = true
		default:
			return nil, fmt.Errorf("list orders: unknown role %q", role)
		}
		if match {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > listLimit {
		out = out[:listLimit]
	}
	return out, nil
}

func (m *MemoryStore) ListStaleNew(_ context.Context, createdBefore time.Time) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Status == StatusNew && o.CreatedAt.Before(createdBefore) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CountAcceptedSince(_ context.Context, contractorID types.ID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.AssignedTo(contractorID) && o.AcceptedAt != nil && !o.AcceptedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Events returns the transition log of one order in append order.
func (m *MemoryStore) Events(id types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryStore) record(id types.ID, from, to Status, actor Actor, at time.Time) {
	e := newEvent(id, from, to, actor, at)
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *e)
}

func cloneOrder(o *Order) *Order {
	c := *o
	if o.ContractorID != nil {
		id := *o.ContractorID
		c.ContractorID = &id
	}
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.CancelReason != nil {
		r := *o.CancelReason
		c.CancelReason = &r
	}
	c.Rating = cloneInt(o.Rating)
	c.Deadline = cloneTime(o.Deadline)
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.StartedAt = cloneTime(o.StartedAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
