// Package peer implements the Peer session object (spec.md §4.4): the
// atomic join-room construction sequence, the per-peer maps of producers
// and consumers, the teardown order, and the session state machine of
// spec.md §4.5.3.
package peer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/apperrors"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/metrics"
	"github.com/adityaadpandey/sfu-coordinator/internal/room"
)

// State is the peer session state machine of spec.md §4.5.3.
type State int

const (
	StateNew State = iota
	StateJoined
	StateProducing
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateJoined:
		return "joined"
	case StateProducing:
		return "producing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender is the signaling channel handle a Peer emits events on. It is
// implemented by the signaling package's per-connection client.
type Sender interface {
	Send(event string, payload interface{}) error
}

// Peer is the session object for one connected client.
type Peer struct {
	id     string
	room   *room.Room
	sender Sender
	log    *zap.Logger

	mu            sync.Mutex
	state         State
	sendTransport engine.Transport
	recvTransport engine.Transport
	producers     map[string]engine.Producer
	consumers     map[string]engine.Consumer
}

// New performs the atomic join-room construction sequence (spec.md §4.4
// steps 1–6; step 1, acquiring/creating the Room, is the caller's
// responsibility since it is shared across all Peers in the Room):
//
//  2. verify peerId not already present,
//  3. create the send and recv transports,
//  4. pass the bitrate policy to CreateTransport in opts (the pion adapter
//     and the enginetest engine do not read opts, so no ceiling is set),
//  5. attach DTLS-state handlers,
//  6. insert into the Room.
//
// Any failure after transport creation rolls back the transports already
// opened before returning the error; no half-formed Peer is left in the
// Room.
func New(ctx context.Context, rm *room.Room, id string, sender Sender, opts engine.TransportOptions, log *zap.Logger) (*Peer, error) {
	if _, exists := rm.GetPeer(id); exists {
		return nil, apperrors.New(apperrors.Conflict, "peer already in room")
	}

	router := rm.Router()

	sendT, err := router.CreateTransport(ctx, engine.DirectionSend, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.EngineFailed, "create send transport", err)
	}
	recvT, err := router.CreateTransport(ctx, engine.DirectionRecv, opts)
	if err != nil {
		_ = sendT.Close()
		return nil, apperrors.Wrap(apperrors.EngineFailed, "create recv transport", err)
	}

	p := &Peer{
		id:            id,
		room:          rm,
		sender:        sender,
		log:           log.With(zap.String("room_id", rm.ID()), zap.String("peer_id", id)),
		state:         StateJoined,
		sendTransport: sendT,
		recvTransport: recvT,
		producers:     make(map[string]engine.Producer),
		consumers:     make(map[string]engine.Consumer),
	}

	sendT.OnDtlsStateChange(p.dtlsStateHandler(sendT))
	recvT.OnDtlsStateChange(p.dtlsStateHandler(recvT))
	sendT.OnClose(p.transportCloseHandler(sendT))
	recvT.OnClose(p.transportCloseHandler(recvT))

	if err := rm.AddPeer(p); err != nil {
		_ = sendT.Close()
		_ = recvT.Close()
		return nil, err
	}

	metrics.ActivePeers.Inc()
	return p, nil
}

func (p *Peer) ID() string             { return p.id }
func (p *Peer) RoomID() string         { return p.room.ID() }
func (p *Peer) SendTransport() engine.Transport { return p.sendTransport }
func (p *Peer) RecvTransport() engine.Transport { return p.recvTransport }

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// GetTransport looks up transportID among this Peer's two transports.
func (p *Peer) GetTransport(transportID string) (engine.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendTransport != nil && p.sendTransport.ID() == transportID {
		return p.sendTransport, true
	}
	if p.recvTransport != nil && p.recvTransport.ID() == transportID {
		return p.recvTransport, true
	}
	return nil, false
}

// AddProducer registers a newly created Producer and advances joined→producing.
func (p *Peer) AddProducer(prod engine.Producer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers[prod.ID()] = prod
	if p.state == StateJoined {
		p.state = StateProducing
	}
}

func (p *Peer) GetProducer(id string) (engine.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prod, ok := p.producers[id]
	return prod, ok
}

func (p *Peer) RemoveProducer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.producers, id)
}

// AddConsumer registers a newly created Consumer. Spec.md §4.5.3 ties
// joined/producing→active to "emitted a new-producer and received its
// first consume ack"; this implementation resolves that open-ended wording
// by marking active on the peer's own first successful consume, recorded
// in DESIGN.md.
func (p *Peer) AddConsumer(c engine.Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.ID()] = c
	if p.state == StateJoined || p.state == StateProducing {
		p.state = StateActive
	}
}

func (p *Peer) GetConsumer(id string) (engine.Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	return c, ok
}

func (p *Peer) RemoveConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

// ProducerSummaries implements the peerHandle contract room.Room uses for
// listProducers (spec.md §4.3).
func (p *Peer) ProducerSummaries() []room.ProducerSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]room.ProducerSummary, 0, len(p.producers))
	for id, prod := range p.producers {
		out = append(out, room.ProducerSummary{PeerID: p.id, ProducerID: id, Kind: prod.Kind()})
	}
	return out
}

// Notify implements the peerHandle contract room.Room uses for broadcast;
// send failures are logged, never propagated (spec.md §4.5.2, P8).
func (p *Peer) Notify(event string, payload interface{}) {
	if err := p.sender.Send(event, payload); err != nil {
		p.log.Debug("event delivery failed", zap.String("event", event), zap.Error(err))
	}
}

// dtlsStateHandler closes t when its DTLS state reaches "closed" (spec.md
// §4.6). Close is idempotent so redelivery of the same event is harmless.
func (p *Peer) dtlsStateHandler(t engine.Transport) func(string) {
	return func(state string) {
		if state == "closed" {
			_ = t.Close()
		}
	}
}

// transportCloseHandler cascades a transport's close to the resources it
// carries (spec.md §4.6: "Transport close → cascade: close owned
// producers/consumers, remove from Peer"). It tolerates being invoked after
// the Peer has already torn down.
func (p *Peer) transportCloseHandler(t engine.Transport) func() {
	return func() {
		p.mu.Lock()
		var toClose []interface{ Close() error }
		if p.sendTransport == t {
			for id, prod := range p.producers {
				toClose = append(toClose, prod)
				delete(p.producers, id)
			}
		}
		if p.recvTransport == t {
			for id, c := range p.consumers {
				toClose = append(toClose, c)
				delete(p.consumers, id)
			}
		}
		p.mu.Unlock()

		for _, r := range toClose {
			_ = r.Close()
		}
		if t == p.sendTransport {
			metrics.ActiveProducers.Sub(float64(len(toClose)))
		} else if t == p.recvTransport {
			metrics.ActiveConsumers.Sub(float64(len(toClose)))
		}
	}
}

// Close tears down the Peer in the order spec.md §4.4 requires: consumers,
// producers, transports, then removal from the Room. It returns true if the
// Room is empty afterward, signaling the caller to destroy the Room too.
func (p *Peer) Close(ctx context.Context) (roomEmpty bool) {
	p.mu.Lock()
	if p.state == StateClosing || p.state == StateClosed {
		p.mu.Unlock()
		return false
	}
	p.state = StateClosing

	consumers := make([]engine.Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[string]engine.Consumer)

	producers := make([]engine.Producer, 0, len(p.producers))
	for _, prod := range p.producers {
		producers = append(producers, prod)
	}
	p.producers = make(map[string]engine.Producer)

	sendT, recvT := p.sendTransport, p.recvTransport
	p.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	if len(consumers) > 0 {
		metrics.ActiveConsumers.Sub(float64(len(consumers)))
	}
	for _, prod := range producers {
		_ = prod.Close()
	}
	if len(producers) > 0 {
		metrics.ActiveProducers.Sub(float64(len(producers)))
	}
	if sendT != nil {
		_ = sendT.Close()
	}
	if recvT != nil {
		_ = recvT.Close()
	}

	remaining := p.room.RemovePeer(p.id)
	metrics.ActivePeers.Dec()

	p.mu.Lock()
	p.state = StateClosed
	p.mu.Unlock()

	return remaining == 0
}
