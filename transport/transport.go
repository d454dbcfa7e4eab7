// Package transport defines the Peer Transport contract the Clock
// Synchronizer and Dispatch Agent consume: ordered, best-effort
// delivery of typed envelopes to a named peer. Its concrete
// implementations (transport/mqtt, transport/memory) are external
// collaborators — the core only depends on this interface.
package transport

import (
	"context"

	"github.com/google/uuid"

	"code.siemens.com/grid-broker/envelope"
)

// Peer is a handle to send envelopes to one remote node. Delivery order
// between a pair is preserved; delivery across pairs is not.
type Peer interface {
	// Send enqueues an envelope for delivery. A failed send is logged by
	// the caller and otherwise ignored: the algorithm tolerates drops.
	Send(ctx context.Context, e envelope.Envelope) error
}

// Transport resolves peer handles and delivers inbound envelopes for a
// module to a single receive channel, dispatching by module tag.
type Transport interface {
	// Peer returns a send handle for id. Implementations may return the
	// same handle for repeated calls with the same id.
	Peer(id uuid.UUID) Peer
	// Inbox returns the channel of envelopes addressed to module.
	Inbox(module envelope.Module) <-chan envelope.Envelope
	Close() error
}
