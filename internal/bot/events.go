// README: Inbound Telegram events, decoded once at the boundary into a closed set of types.
package bot

import (
	"drillflow/internal/types"
)

// Event is one of Command, Text, Location or Callback.
type Event interface {
	From() Sender
	event()
}

type Sender struct {
	UserID   types.ID
	ChatID   int64
	Username string
}

func (s Sender) From() Sender { return s }

// Command is a "/name args" message.
type Command struct {
	Sender
	Name string
	Args string
}

// Text is a plain message, usually an answer to the current conversation step.
type Text struct {
	Sender
	Body string
}

// Location is a shared map point.
type Location struct {
	Sender
	Point types.Point
}

// Callback is an inline button press carrying "action:orderID[:arg]".
type Callback struct {
	Sender
	QueryID string
	Action  string
	OrderID types.ID
	Arg     string
}

func (Command) event()  {}
func (Text) event()     {}
func (Location) event() {}
func (Callback) event() {}
