// Package groupview defines the Group View contract: the supplier of the
// current peer-list and leader identity that the Clock Synchronizer and
// Dispatch Agent both react to. Its concrete implementations are
// external collaborators — the core only depends on this interface and
// the peer-list snapshot it pushes.
package groupview

import "github.com/google/uuid"

// View pushes peer-list updates to every subscriber. A leader identity is
// also exposed since some deployments gate leader-only bookkeeping on it;
// the core dispatch/clocksync algorithms themselves are leaderless gossip
// and do not require a leader to make progress.
type View interface {
	// Subscribe returns a channel of peer-list snapshots. The first
	// snapshot (possibly empty) is delivered promptly; subsequent
	// snapshots reflect membership changes.
	Subscribe() <-chan []uuid.UUID
	// Leader returns the current leader identity, if any.
	Leader() (uuid.UUID, bool)
	Close() error
}
