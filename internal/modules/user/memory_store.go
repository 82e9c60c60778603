// README: In-process user store for tests and single-instance development runs.
package user

import (
	"context"
	"sort"
	"sync"
	"time"

	"drillflow/internal/types"
)

type MemoryStore struct {
	mu       sync.Mutex
	users    map[types.ID]User
	profiles map[types.ID]ContractorProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[types.ID]User),
		profiles: make(map[types.ID]ContractorProfile),
	}
}

func (m *MemoryStore) UpsertUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		if existing.Role != u.Role {
			return ErrRoleChange
		}
		u.CreatedAt = existing.CreatedAt
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id types.ID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p *ContractorProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := cloneProfile(*p)
	if existing, ok := m.profiles[p.UserID]; ok {
		next.Rating = existing.Rating
		next.RatingCount = existing.RatingCount
		next.CompletedOrders = existing.CompletedOrders
		next.TotalIncome = existing.TotalIncome
		if next.Zone == nil {
			next.Zone = existing.Zone
		}
	}
	next.UpdatedAt = time.Now()
	m.profiles[p.UserID] = next
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, id types.ID) (*ContractorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profile(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ProfilesByIDs(_ context.Context, ids []types.ID) ([]ContractorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ContractorProfile
	for _, id := range ids {
		if p, ok := m.profile(id); ok && m.users[id].Active {
			out = append(out, p)
		}
	}
	sortProfiles(out)
	return out, nil
}

func (m *MemoryStore) FreeContractors(_ context.Context, _ types.Point) ([]ContractorProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ContractorProfile
	for id := range m.profiles {
		p, _ := m.profile(id)
		if p.Availability == AvailabilityFree && m.users[id].Active {
			out = append(out, p)
		}
	}
	sortProfiles(out)
	return out, nil
}

func (m *MemoryStore) ListZones(_ context.Context) (map[types.ID]types.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	zones := make(map[types.ID]types.Point)
	for id, p := range m.profiles {
		if p.Zone != nil {
			zones[id] = *p.Zone
		}
	}
	return zones, nil
}

func (m *MemoryStore) SetZone(ctx context.Context, id types.ID, zone types.Point) error {
	return m.UpdateProfile(ctx, id, func(p *ContractorProfile) error {
		z := zone
		p.Zone = &z
		return nil
	})
}

func (m *MemoryStore) SetAvailability(ctx context.Context, id types.ID, a Availability) error {
	return m.UpdateProfile(ctx, id, func(p *ContractorProfile) error {
		p.Availability = a
		return nil
	})
}

// UpdateProfile applies fn to the stored profile under the store lock. The
// in-memory order store uses it to keep statistics in step with transitions.
func (m *MemoryStore) UpdateProfile(_ context.Context, id types.ID, fn func(*ContractorProfile) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return ErrNotContractor
	}
	p = cloneProfile(p)
	if err := fn(&p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now()
	m.profiles[id] = p
	return nil
}

// profile joins display fields from the user record; callers hold m.mu.
func (m *MemoryStore) profile(id types.ID) (ContractorProfile, bool) {
	p, ok := m.profiles[id]
	if !ok {
		return ContractorProfile{}, false
	}
	p = cloneProfile(p)
	if u, ok := m.users[id]; ok {
		p.Name = u.Name
		p.Phone = u.Phone
	}
	return p, true
}

func cloneProfile(p ContractorProfile) ContractorProfile {
	if p.Zone != nil {
		z := *p.Zone
		p.Zone = &z
	}
	p.Specializations = append([]string(nil), p.Specializations...)
	return p
}

func sortProfiles(ps []ContractorProfile) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].UserID < ps[j].UserID })
}
