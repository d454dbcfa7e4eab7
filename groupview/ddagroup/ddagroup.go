// Package ddagroup implements groupview.View on top of
// github.com/coatyio/dda's raft-backed state service: peer liveness is
// tracked as "peer_<id>" state-service records, and a heartbeat FSM
// elects the leader.
package ddagroup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coatyio/dda/config"
	"github.com/coatyio/dda/dda"
	stateapi "github.com/coatyio/dda/services/state/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.siemens.com/grid-broker/groupview"
)

const (
	leaderKey  = "leader"
	peerPrefix = "peer_"
)

// Config configures the coatyio/dda-backed group view.
type Config struct {
	URL                  string
	Name                 string
	Self                 uuid.UUID
	Cluster              string
	Bootstrap            bool
	HeartbeatPeriod      time.Duration
	HeartbeatTimeoutBase time.Duration
}

type heartbeat struct {
	Term     uint64
	LeaderID uuid.UUID
}

// View is a groupview.View backed by one coatyio/dda client.
type View struct {
	cfg Config
	log zerolog.Logger
	dda *dda.Dda
	fsm *fsm

	mu      sync.Mutex
	members map[uuid.UUID]struct{}
	leader  uuid.UUID
	haveLeader bool

	subscribers []chan []uuid.UUID
	leaderNotify chan bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ groupview.View = (*View)(nil)

// New constructs a View. Open must be called before Subscribe/Leader
// reflect live state.
func New(cfg Config, log zerolog.Logger) *View {
	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		cfg:      cfg,
		log:      log,
		members:  make(map[uuid.UUID]struct{}),
		leaderNotify: make(chan bool, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	v.fsm = newFsm(v, log, cfg.HeartbeatPeriod, cfg.HeartbeatTimeoutBase)
	return v
}

// Open starts the coatyio/dda client, announces this node's membership,
// and starts the heartbeat FSM.
func (v *View) Open() error {
	ddaConfig := config.New()
	ddaConfig.Services.Com.Url = v.cfg.URL
	ddaConfig.Identity.Name = v.cfg.Name
	ddaConfig.Identity.Id = v.cfg.Self.String()
	ddaConfig.Apis.Grpc.Disabled = true
	ddaConfig.Apis.GrpcWeb.Disabled = true
	ddaConfig.Cluster = v.cfg.Cluster
	ddaConfig.Services.State.Protocol = "raft"
	ddaConfig.Services.State.Disabled = false
	ddaConfig.Services.State.Bootstrap = v.cfg.Bootstrap

	client, err := dda.New(ddaConfig)
	if err != nil {
		return fmt.Errorf("groupview: create dda client: %w", err)
	}
	v.dda = client

	if err := v.dda.Open(5 * time.Second); err != nil {
		return fmt.Errorf("groupview: open dda client: %w", err)
	}

	sc, err := v.dda.ObserveStateChange(v.ctx)
	if err != nil {
		return fmt.Errorf("groupview: observe state: %w", err)
	}

	go func() {
		for change := range sc {
			v.handleStateChange(change)
		}
	}()

	if err := v.announce(); err != nil {
		return fmt.Errorf("groupview: announce membership: %w", err)
	}

	v.fsm.start()
	return nil
}

func (v *View) announce() error {
	input := stateapi.Input{
		Op:    stateapi.InputOpSet,
		Key:   peerPrefix + v.cfg.Self.String(),
		Value: []byte(v.cfg.Self.String()),
	}
	return v.dda.ProposeInput(v.ctx, &input)
}

func (v *View) handleStateChange(change stateapi.Input) {
	switch {
	case change.Key == leaderKey:
		v.handleHeartbeat(change)
	case len(change.Key) > len(peerPrefix) && change.Key[:len(peerPrefix)] == peerPrefix:
		v.handleMembership(change)
	}
}

func (v *View) handleMembership(change stateapi.Input) {
	id, err := uuid.Parse(change.Key[len(peerPrefix):])
	if err != nil {
		v.log.Warn().Str("key", change.Key).Msg("groupview: malformed peer key, dropping")
		return
	}

	v.mu.Lock()
	switch change.Op {
	case stateapi.InputOpSet:
		v.members[id] = struct{}{}
	case stateapi.InputOpDelete:
		delete(v.members, id)
	}
	snapshot := v.snapshotLocked()
	subs := append([]chan []uuid.UUID(nil), v.subscribers...)
	v.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (v *View) handleHeartbeat(change stateapi.Input) {
	if change.Op != stateapi.InputOpSet {
		return
	}

	var hb heartbeat
	if err := json.Unmarshal(change.Value, &hb); err != nil {
		v.log.Warn().Err(err).Msg("groupview: malformed heartbeat, dropping")
		return
	}

	v.mu.Lock()
	v.leader = hb.LeaderID
	v.haveLeader = true
	v.mu.Unlock()

	if hb.LeaderID == v.cfg.Self {
		v.fsm.applyEvent(ownHeartbeatReceived)
	} else {
		v.fsm.applyEvent(differentHeartbeatReceived)
	}
}

func (v *View) heartbeatTimeout() {
	v.fsm.applyEvent(heartbeatTimeoutEvent)
}

func (v *View) sendHeartbeat() {
	hb := heartbeat{LeaderID: v.cfg.Self}
	value, _ := json.Marshal(hb)

	input := stateapi.Input{Op: stateapi.InputOpSet, Key: leaderKey, Value: value}
	if err := v.dda.ProposeInput(v.ctx, &input); err != nil {
		v.log.Warn().Err(err).Msg("groupview: could not send heartbeat")
	}
}

// leaderCh satisfies the leaderLogic interface consumed by fsm.
func (v *View) leaderCh() chan bool { return v.leaderNotify }

func (v *View) snapshotLocked() []uuid.UUID {
	peers := make([]uuid.UUID, 0, len(v.members))
	for id := range v.members {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].String() < peers[j].String() })
	return peers
}

func (v *View) Subscribe() <-chan []uuid.UUID {
	ch := make(chan []uuid.UUID, 1)

	v.mu.Lock()
	ch <- v.snapshotLocked()
	v.subscribers = append(v.subscribers, ch)
	v.mu.Unlock()

	return ch
}

func (v *View) Leader() (uuid.UUID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leader, v.haveLeader
}

func (v *View) Close() error {
	v.fsm.close()
	v.cancel()

	if err := v.dda.ProposeInput(context.Background(), &stateapi.Input{
		Op:  stateapi.InputOpDelete,
		Key: peerPrefix + v.cfg.Self.String(),
	}); err != nil {
		v.log.Warn().Err(err).Msg("groupview: could not deregister on close")
	}

	time.Sleep(50 * time.Millisecond)
	v.dda.Close()
	return nil
}
