// Package static is a fixed-membership groupview.View, for tests and for
// deployments where the topology file is the sole source of truth and no
// dynamic membership protocol is deployed.
package static

import "github.com/google/uuid"

type View struct {
	ch chan []uuid.UUID
}

// New returns a View that immediately publishes peers and never changes.
func New(peers []uuid.UUID) *View {
	v := &View{ch: make(chan []uuid.UUID, 1)}
	v.ch <- peers
	return v
}

func (v *View) Subscribe() <-chan []uuid.UUID { return v.ch }

func (v *View) Leader() (uuid.UUID, bool) { return uuid.UUID{}, false }

func (v *View) Close() error {
	close(v.ch)
	return nil
}
