// Package envelope defines the typed wire messages exchanged between
// nodes, each tagged with the recipient module that the transports and
// the node's router dispatch on.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Module tags the recipient module of an Envelope.
type Module string

const (
	ModuleClockSync Module = "clk"
	ModuleDispatch  Module = "dda"
)

// Kind tags the payload carried by an Envelope.
type Kind string

const (
	KindClockExchange         Kind = "clock_exchange"
	KindClockExchangeResponse Kind = "clock_exchange_response"
	KindDesdState             Kind = "desd_state"
	KindPeerList              Kind = "peer_list"
)

// Envelope is the typed sum payload carried over the Peer Transport.
// Recipients dispatch on Module then Kind; the payload itself is carried
// JSON-encoded.
type Envelope struct {
	Module  Module          `json:"module"`
	Kind    Kind            `json:"kind"`
	From    uuid.UUID       `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a typed payload into an Envelope addressed to module.
func Encode(module Module, kind Kind, from uuid.UUID, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal %s/%s payload: %w", module, kind, err)
	}
	return Envelope{Module: module, Kind: kind, From: from, Payload: data}, nil
}

// Decode unmarshals the Envelope's payload into dst.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("envelope: unmarshal %s/%s payload: %w", e.Module, e.Kind, err)
	}
	return nil
}

// ClockExchange is the Clock Synchronizer's round challenge.
type ClockExchange struct {
	Query uint32 `json:"query"`
}

// ClockExchangeResponseEntry is one row of the sender's offset table.
type ClockExchangeResponseEntry struct {
	UUID        uuid.UUID `json:"uuid"`
	OffsetSecs  int64     `json:"offset_secs"`
	OffsetFracs int64     `json:"offset_fracs"`
	Weight      float64   `json:"weight"`
	Skew        float64   `json:"skew"`
}

// ClockExchangeResponse answers a ClockExchange.
type ClockExchangeResponse struct {
	Response               uint32                       `json:"response"`
	UnsynchronizedSendtime string                        `json:"unsynchronized_sendtime"`
	TableEntries            []ClockExchangeResponseEntry `json:"table_entries"`
}

// DesdState is one dispatch neighbour-gossip message.
type DesdState struct {
	Iteration    uint32  `json:"iteration"`
	Symbol       string  `json:"symbol"`
	DeltaPStep1  float64 `json:"deltapstep1"`
	DeltaPStep2  float64 `json:"deltapstep2"`
	DeltaPStep3  float64 `json:"deltapstep3"`
	LambdaStep1  float64 `json:"lambdastep1"`
	LambdaStep2  float64 `json:"lambdastep2"`
	LambdaStep3  float64 `json:"lambdastep3"`
}

// PeerList is consumed, not produced, by the core.
type PeerList struct {
	Peers []uuid.UUID `json:"peers"`
}
