// README: Order aggregate, status machine and per-action permission checks.
package order

import (
	"time"

	"drillflow/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusNew        Status = "new"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Order struct {
	ID            types.ID
	ClientID      types.ID
	ContractorID  *types.ID
	ServiceType   string
	Address       string
	Location      types.Point
	Description   string
	Price         *types.Money
	Deadline      *time.Time
	Status        Status
	StatusVersion int
	CreatedAt     time.Time
	AcceptedAt    *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	CancelReason  *string
	Rating        *int
}

// AssignedTo reports whether id is the order's contractor.
func (o *Order) AssignedTo(id types.ID) bool {
	return o.ContractorID != nil && *o.ContractorID == id
}

func (o *Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

type ActorKind string

const (
	ActorClient     ActorKind = "client"
	ActorContractor ActorKind = "contractor"
	ActorSystem     ActorKind = "system"
)

// Actor is whoever drives a transition; ID is empty for the system.
type Actor struct {
	Kind ActorKind
	ID   types.ID
}

func Client(id types.ID) Actor     { return Actor{Kind: ActorClient, ID: id} }
func Contractor(id types.ID) Actor { return Actor{Kind: ActorContractor, ID: id} }
func System() Actor                { return Actor{Kind: ActorSystem} }

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  ActorKind
	ActorID    *types.ID
	CreatedAt  time.Time
}

func newEvent(orderID types.ID, from, to Status, actor Actor, at time.Time) *Event {
	e := &Event{OrderID: orderID, FromStatus: from, ToStatus: to, ActorType: actor.Kind, CreatedAt: at}
	if actor.ID != "" {
		id := actor.ID
		e.ActorID = &id
	}
	return e
}

// AllowedTransitions represents the order state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusNew:        {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// The Check* functions decide whether an actor may apply an action to o in
// its current state. Once a contractor is assigned, identity is checked
// before state, so a stranger gets ErrForbidden even when the state is also
// wrong. An order nobody holds yet fails on state.

func CheckAccept(o *Order) error {
	switch o.Status {
	case StatusNew:
		return nil
	case StatusCancelled:
		return ErrInvalidState
	default:
		return ErrAlreadyTaken
	}
}

func CheckStart(o *Order, contractorID types.ID) error {
	if o.ContractorID == nil {
		return ErrInvalidState
	}
	if !o.AssignedTo(contractorID) {
		return ErrForbidden
	}
	if !CanTransition(o.Status, StatusInProgress) {
		return ErrInvalidState
	}
	return nil
}

func CheckComplete(o *Order, contractorID types.ID) error {
	if o.ContractorID == nil {
		return ErrInvalidState
	}
	if !o.AssignedTo(contractorID) {
		return ErrForbidden
	}
	if !CanTransition(o.Status, StatusCompleted) {
		return ErrInvalidState
	}
	return nil
}

func CheckCancel(o *Order, actor Actor) error {
	switch actor.Kind {
	case ActorClient:
		if o.ClientID != actor.ID {
			return ErrForbidden
		}
		if o.Status != StatusNew && o.Status != StatusAccepted {
			return ErrInvalidState
		}
	case ActorContractor:
		if !o.AssignedTo(actor.ID) {
			return ErrForbidden
		}
		if o.Status != StatusAccepted {
			return ErrInvalidState
		}
	case ActorSystem:
		if o.Status != StatusNew {
			return ErrInvalidState
		}
	default:
		return ErrForbidden
	}
	return nil
}

func CheckRate(o *Order, clientID types.ID) error {
	if o.ClientID != clientID {
		return ErrForbidden
	}
	if o.Status != StatusCompleted || o.Rating != nil {
		return ErrInvalidState
	}
	return nil
}
