// Package mqtt adapts github.com/eclipse/paho.golang's autopaho client
// into a transport.Transport, one envelope-bearing topic per recipient
// peer: one topic per (peer, module) pair rather than one fixed topic
// per signal.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/coatyio/dda/plog"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"code.siemens.com/grid-broker/envelope"
	"code.siemens.com/grid-broker/transport"
)

// Config configures the MQTT-backed transport.
type Config struct {
	BrokerURL string
	ClientID  string
	Self      uuid.UUID
}

// Transport implements transport.Transport over one shared MQTT broker.
// Every node subscribes to "<self>/<module>" and publishes to
// "<peer>/<module>", so delivery to a given peer/module pair is ordered
// by the broker's per-topic QoS 1 delivery; no ordering is implied
// across pairs.
type Transport struct {
	cfg        Config
	log        zerolog.Logger
	cliCfg     autopaho.ClientConfig
	connection *autopaho.ConnectionManager
	router     paho.Router
	inboxes    map[envelope.Module]chan envelope.Envelope
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport constructs a Transport without connecting. Call Open to
// establish the MQTT session and arm the per-module subscriptions.
func NewTransport(cfg Config, log zerolog.Logger) (*Transport, error) {
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt transport: parse broker url: %w", err)
	}

	t := &Transport{
		cfg:    cfg,
		log:    log,
		router: paho.NewStandardRouter(),
		inboxes: map[envelope.Module]chan envelope.Envelope{
			envelope.ModuleClockSync: make(chan envelope.Envelope, 256),
			envelope.ModuleDispatch:  make(chan envelope.Envelope, 256),
		},
	}

	t.cliCfg = autopaho.ClientConfig{
		BrokerUrls:     []*url.URL{u},
		KeepAlive:      20,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) { t.log.Info().Msg("mqtt connection up") },
		OnConnectError: func(err error) { plog.Printf("mqtt transport: connect error: %s", err) },
		ClientConfig: paho.ClientConfig{
			ClientID:      cfg.ClientID,
			Router:        t.router,
			OnClientError: func(err error) { t.log.Error().Err(err).Msg("mqtt client error") },
			OnServerDisconnect: func(d *paho.Disconnect) {
				t.log.Warn().Uint8("reason_code", d.ReasonCode).Msg("mqtt server disconnect")
			},
		},
	}

	return t, nil
}

// Open connects to the broker and subscribes the inbound topics for both
// modules.
func (t *Transport) Open(ctx context.Context) error {
	conn, err := autopaho.NewConnection(ctx, t.cliCfg)
	if err != nil {
		return fmt.Errorf("mqtt transport: connect: %w", err)
	}
	if err := conn.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt transport: await connection: %w", err)
	}
	t.connection = conn

	for module, inbox := range t.inboxes {
		topic := t.inTopic(module)
		ch := inbox
		t.router.RegisterHandler(topic, func(p *paho.Publish) {
			var e envelope.Envelope
			if err := json.Unmarshal(p.Payload, &e); err != nil {
				t.log.Warn().Err(err).Str("topic", p.Topic).Msg("mqtt transport: dropping malformed envelope")
				return
			}
			select {
			case ch <- e:
			default:
				t.log.Warn().Str("topic", p.Topic).Msg("mqtt transport: inbox full, dropping envelope")
			}
		})

		if _, err := t.connection.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 1}},
		}); err != nil {
			return fmt.Errorf("mqtt transport: subscribe %s: %w", topic, err)
		}
	}

	return nil
}

func (t *Transport) Close() error {
	for _, ch := range t.inboxes {
		close(ch)
	}
	return t.connection.Disconnect(context.Background())
}

func (t *Transport) inTopic(module envelope.Module) string {
	return fmt.Sprintf("%s/%s", t.cfg.Self, module)
}

func (t *Transport) outTopic(peer uuid.UUID, module envelope.Module) string {
	return fmt.Sprintf("%s/%s", peer, module)
}

func (t *Transport) Peer(id uuid.UUID) transport.Peer {
	return peerHandle{t: t, to: id}
}

func (t *Transport) Inbox(module envelope.Module) <-chan envelope.Envelope {
	return t.inboxes[module]
}

type peerHandle struct {
	t  *Transport
	to uuid.UUID
}

func (p peerHandle) Send(ctx context.Context, e envelope.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("mqtt transport: marshal envelope: %w", err)
	}

	_, err = p.t.connection.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   p.t.outTopic(p.to, e.Module),
		Payload: payload,
	})
	return err
}
