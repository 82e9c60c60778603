// README: Offer bookkeeping backed by Redis hashes with a TTL.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"drillflow/internal/types"
)

const offersKeyPrefix = "matching:order:%s:offers"

// OfferStore remembers which contractors were offered an order and where the
// offer message lives.
type OfferStore interface {
	RecordOffers(ctx context.Context, orderID types.ID, offers []Offer) error
	Offers(ctx context.Context, orderID types.ID) ([]Offer, error)
	Forget(ctx context.Context, orderID, contractorID types.ID) error
	Clear(ctx context.Context, orderID types.ID) error
}

type RedisOfferStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisOfferStore(redis *redis.Client, ttl time.Duration) *RedisOfferStore {
	return &RedisOfferStore{redis: redis, ttl: ttl}
}

func (s *RedisOfferStore) RecordOffers(ctx context.Context, orderID types.ID, offers []Offer) error {
	if len(offers) == 0 {
		return nil
	}
	values := make([]interface{}, 0, 2*len(offers))
	for _, o := range offers {
		raw, err := json.Marshal(o)
		if err != nil {
			return err
		}
		values = append(values, string(o.ContractorID), string(raw))
	}
	key := offersKey(orderID)
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisOfferStore) Offers(ctx context.Context, orderID types.ID) ([]Offer, error) {
	raw, err := s.redis.HGetAll(ctx, offersKey(orderID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Offer, 0, len(raw))
	for field, v := range raw {
		var o Offer
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			return nil, fmt.Errorf("decode offer %s: %w", field, err)
		}
		out = append(out, o)
	}
	sortOffers(out)
	return out, nil
}

func (s *RedisOfferStore) Forget(ctx context.Context, orderID, contractorID types.ID) error {
	return s.redis.HDel(ctx, offersKey(orderID), string(contractorID)).Err()
}

func (s *RedisOfferStore) Clear(ctx context.Context, orderID types.ID) error {
	return s.redis.Del(ctx, offersKey(orderID)).Err()
}

func offersKey(orderID types.ID) string {
	return fmt.Sprintf(offersKeyPrefix, string(orderID))
}

// MemoryOfferStore keeps offers in process; entries do not expire.
type MemoryOfferStore struct {
	mu     sync.Mutex
	offers map[types.ID]map[types.ID]Offer
}

func NewMemoryOfferStore() *MemoryOfferStore {
	return &MemoryOfferStore{offers: make(map[types.ID]map[types.ID]Offer)}
}

func (s *MemoryOfferStore) RecordOffers(_ context.Context, orderID types.ID, offers []Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.offers[orderID]
	if !ok {
		m = make(map[types.ID]Offer)
		s.offers[orderID] = m
	}
	for _, o := range offers {
		m[o.ContractorID] = o
	}
	return nil
}

func (s *MemoryOfferStore) Offers(_ context.Context, orderID types.ID) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Offer, 0, len(s.offers[orderID]))
	for _, o := range s.offers[orderID] {
		out = append(out, o)
	}
	sortOffers(out)
	return out, nil
}

func (s *MemoryOfferStore) Forget(_ context.Context, orderID, contractorID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offers[orderID], contractorID)
	return nil
}

func (s *MemoryOfferStore) Clear(_ context.Context, orderID types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offers, orderID)
	return nil
}

func sortOffers(offers []Offer) {
	sort.Slice(offers, func(i, j int) bool { return offers[i].ContractorID < offers[j].ContractorID })
}
