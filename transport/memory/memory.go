// Package memory is an in-process Transport, independent of any wire
// protocol. It is intended for tests and for running several simulated
// nodes in one process; FIFO per-pair delivery is satisfied by one
// buffered channel per receiving node and module, which keeps each
// sender's envelopes in send order.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"code.siemens.com/grid-broker/envelope"
	"code.siemens.com/grid-broker/transport"
)

// Network is a shared rendezvous point for every node's Transport in the
// process. Join each node before any peer sends to it; sends to an
// unjoined node fail.
type Network struct {
	mu    sync.Mutex
	nodes map[uuid.UUID]*Transport
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[uuid.UUID]*Transport)}
}

// Join creates and registers a Transport for id.
func (n *Network) Join(id uuid.UUID) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &Transport{
		net:    n,
		self:   id,
		inboxes: map[envelope.Module]chan envelope.Envelope{
			envelope.ModuleClockSync: make(chan envelope.Envelope, 256),
			envelope.ModuleDispatch:  make(chan envelope.Envelope, 256),
		},
	}
	n.nodes[id] = t
	return t
}

func (n *Network) deliver(to uuid.UUID, e envelope.Envelope) error {
	n.mu.Lock()
	t, ok := n.nodes[to]
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("memory transport: unknown peer %s", to)
	}

	inbox, ok := t.inboxes[e.Module]
	if !ok {
		return fmt.Errorf("memory transport: unknown module %s", e.Module)
	}

	select {
	case inbox <- e:
		return nil
	default:
		return fmt.Errorf("memory transport: inbox full for peer %s module %s", to, e.Module)
	}
}

// Transport is one node's view of the Network.
type Transport struct {
	net     *Network
	self    uuid.UUID
	inboxes map[envelope.Module]chan envelope.Envelope
}

var _ transport.Transport = (*Transport)(nil)

type peerHandle struct {
	net *Network
	to  uuid.UUID
}

func (p peerHandle) Send(_ context.Context, e envelope.Envelope) error {
	return p.net.deliver(p.to, e)
}

func (t *Transport) Peer(id uuid.UUID) transport.Peer {
	return peerHandle{net: t.net, to: id}
}

func (t *Transport) Inbox(module envelope.Module) <-chan envelope.Envelope {
	return t.inboxes[module]
}

func (t *Transport) Close() error {
	for _, ch := range t.inboxes {
		close(ch)
	}
	return nil
}
