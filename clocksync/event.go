package clocksync

import (
	"github.com/google/uuid"

	"code.siemens.com/grid-broker/envelope"
)

// event is the single-channel event model used in place of rearmed-timer
// callbacks: one goroutine per module, suspending only at the channel
// receive.
type event struct {
	tick     bool
	msg      *envelope.Envelope
	peerFrom uuid.UUID
	peers    []uuid.UUID
	hasPeers bool
	stop     bool
}
