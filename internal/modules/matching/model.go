// README: Matching candidates, comparators and offer bookkeeping types.
package matching

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

// Candidate is a contractor eligible for an order with its distance to the
// order location.
type Candidate struct {
	Profile    user.ContractorProfile
	DistanceKm float64
}

func (c Candidate) ID() types.ID { return c.Profile.UserID }

// Comparator orders candidates before the contractor id tie-break.
// Less reports whether a should be offered before b; decided is false when
// the two rank equally, and the contractor id settles the order.
type Comparator interface {
	Name() string
	Less(a, b Candidate) (less, decided bool)
}

type byID struct{}

func (byID) Name() string                     { return "id" }
func (byID) Less(_, _ Candidate) (bool, bool) { return false, false }

type byDistance struct{}

func (byDistance) Name() string { return "distance" }
func (byDistance) Less(a, b Candidate) (bool, bool) {
	if a.DistanceKm == b.DistanceKm {
		return false, false
	}
	return a.DistanceKm < b.DistanceKm, true
}

type byRating struct{}

func (byRating) Name() string { return "rating" }
func (byRating) Less(a, b Candidate) (bool, bool) {
	if a.Profile.Rating == b.Profile.Rating {
		return false, false
	}
	return a.Profile.Rating > b.Profile.Rating, true
}

var (
	ByID       Comparator = byID{}
	ByDistance Comparator = byDistance{}
	ByRating   Comparator = byRating{}
)

func ParseComparator(name string) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "id":
		return ByID, nil
	case "distance":
		return ByDistance, nil
	case "rating":
		return ByRating, nil
	}
	return nil, fmt.Errorf("unknown comparator %q", name)
}

func sortCandidates(cs []Candidate, cmp Comparator) {
	sort.SliceStable(cs, func(i, j int) bool {
		if less, decided := cmp.Less(cs[i], cs[j]); decided {
			return less
		}
		return cs[i].ID() < cs[j].ID()
	})
}

// Offer records where an order offer was delivered so it can be edited
// once the order is taken or gone.
type Offer struct {
	ContractorID types.ID  `json:"contractor_id"`
	ChatID       int64     `json:"chat_id"`
	MessageID    int       `json:"message_id"`
	SentAt       time.Time `json:"sent_at"`
}
