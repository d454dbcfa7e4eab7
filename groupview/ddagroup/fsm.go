package ddagroup

// Heartbeat-based leader election FSM: a three-state
// (leader/candidate/follower) machine driven by raft-replicated
// heartbeats, run alongside this package's membership tracking.

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"code.siemens.com/grid-broker/internal/sched"
)

type leaderState int

const (
	stateLeader leaderState = iota
	stateCandidate
	stateFollower
)

type leaderEvent int

const (
	ownHeartbeatReceived leaderEvent = iota
	differentHeartbeatReceived
	heartbeatTimeoutEvent
)

type transition func() leaderState

type leaderLogic interface {
	heartbeatTimeout()
	sendHeartbeat()
	leaderCh() chan bool
}

type fsm struct {
	logic        leaderLogic
	log          zerolog.Logger
	currentState leaderState
	transitions  map[leaderState]map[leaderEvent]transition

	heartbeatMonitor sched.Timer
	heartbeatSender  sched.Ticker

	timeout time.Duration

	mu sync.Mutex
}

func newFsm(logic leaderLogic, log zerolog.Logger, periode, timeoutBase time.Duration) *fsm {
	f := &fsm{
		logic:        logic,
		log:          log,
		currentState: stateFollower,
		transitions:  make(map[leaderState]map[leaderEvent]transition),
		timeout:      randomTimeout(timeoutBase),
	}

	f.transitions[stateLeader] = map[leaderEvent]transition{
		ownHeartbeatReceived: func() leaderState {
			f.heartbeatMonitor.Reset(timeoutBase)
			return stateLeader
		},
		differentHeartbeatReceived: func() leaderState {
			f.heartbeatSender.Stop()
			logic.leaderCh() <- false
			f.timeout = randomTimeout(timeoutBase)
			f.heartbeatMonitor.Reset(f.timeout)
			return stateFollower
		},
		heartbeatTimeoutEvent: func() leaderState {
			f.heartbeatSender.Stop()
			logic.leaderCh() <- false
			f.heartbeatMonitor.Start(f.timeout, f.logic.heartbeatTimeout)
			return stateFollower
		},
	}

	f.transitions[stateCandidate] = map[leaderEvent]transition{
		ownHeartbeatReceived: func() leaderState {
			logic.leaderCh() <- true
			f.heartbeatMonitor.Start(f.timeout, f.logic.heartbeatTimeout)
			return stateLeader
		},
		differentHeartbeatReceived: func() leaderState {
			f.heartbeatSender.Stop()
			f.timeout = randomTimeout(timeoutBase)
			f.heartbeatMonitor.Start(f.timeout, f.logic.heartbeatTimeout)
			return stateFollower
		},
	}

	f.transitions[stateFollower] = map[leaderEvent]transition{
		ownHeartbeatReceived: func() leaderState {
			f.heartbeatMonitor.Reset(f.timeout)
			return stateFollower
		},
		differentHeartbeatReceived: func() leaderState {
			f.heartbeatMonitor.Reset(f.timeout)
			return stateFollower
		},
		heartbeatTimeoutEvent: func() leaderState {
			f.heartbeatSender.Start(periode, logic.sendHeartbeat)
			return stateCandidate
		},
	}

	return f
}

func (f *fsm) start() {
	f.heartbeatMonitor.Start(f.timeout, f.logic.heartbeatTimeout)
}

func (f *fsm) applyEvent(e leaderEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if transition, ok := f.transitions[f.currentState][e]; ok {
		next := transition()
		f.log.Debug().Int("from", int(f.currentState)).Int("to", int(next)).Int("event", int(e)).Msg("leader election transition")
		f.currentState = next
	}
}

func (f *fsm) close() {
	f.heartbeatMonitor.Stop()
	f.heartbeatSender.Stop()
}

func randomTimeout(base time.Duration) time.Duration {
	ms := base.Milliseconds() + int64(rand.Float64()*float64(base.Milliseconds()))
	return time.Duration(ms) * time.Millisecond
}
