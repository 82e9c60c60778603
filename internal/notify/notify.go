// README: Outbound notification types shared by every sink.
package notify

import (
	"errors"

	"drillflow/internal/types"
)

// ErrDeliveryFailed wraps every send or edit failure of a sink.
var ErrDeliveryFailed = errors.New("delivery failed")

// Button is an inline action; Data comes back verbatim in the callback.
type Button struct {
	Text string
	Data string
}

type Message struct {
	Text string
	// Buttons are laid out row by row.
	Buttons [][]Button
}

// Receipt locates a delivered message so it can be edited later.
type Receipt struct {
	UserID    types.ID
	ChatID    int64
	MessageID int
}
