package room

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/apperrors"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
)

// ProducerSummary is the shape listProducers and new-producer hand back to
// clients (spec.md §4.3, §4.5.2): {peerId, producerId, kind}.
type ProducerSummary struct {
	PeerID     string
	ProducerID string
	Kind       engine.MediaKind
}

// peerHandle is the narrow view Room needs of a Peer. It is satisfied
// structurally by *peer.Peer; room does not import the peer package so that
// peer can hold a direct *Room reference without an import cycle (spec.md
// §9: back-references are lookups, resolved here via this interface instead
// of a concrete type).
type peerHandle interface {
	ID() string
	ProducerSummaries() []ProducerSummary
	GetProducer(producerID string) (engine.Producer, bool)
	Notify(event string, payload interface{})
	Close(ctx context.Context) bool
}

// Room holds one Router and the Peers currently joined to it.
type Room struct {
	id     string
	router engine.Router

	ready     chan struct{}
	createErr error

	// maxPeers caps concurrent peers in this room (spec.md §4.4 capacity
	// limit, carried from config.ServerConfig.MaxPeersPerRoom); 0 or below
	// means unlimited.
	maxPeers int

	log *zap.Logger

	mu    sync.Mutex
	peers map[string]peerHandle
}

func (r *Room) ID() string            { return r.id }
func (r *Room) Router() engine.Router { return r.router }

// AddPeer inserts p into the Room. Preconditions (spec.md §4.4 step 2):
// peerId not already present, and the room is under its peer capacity.
func (r *Room) AddPeer(p peerHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[p.ID()]; exists {
		return apperrors.New(apperrors.Conflict, "peer already in room")
	}
	if r.maxPeers > 0 && len(r.peers) >= r.maxPeers {
		return apperrors.New(apperrors.Conflict, "room peer capacity reached")
	}
	r.peers[p.ID()] = p
	return nil
}

// RemovePeer deletes peerID from the Room and reports the number of peers
// remaining, so callers can decide whether the Room should be destroyed
// (spec.md §3: "Room exists iff peers non-empty").
func (r *Room) RemovePeer(peerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peerID)
	return len(r.peers)
}

func (r *Room) GetPeer(peerID string) (peerHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	return p, ok
}

func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers) == 0
}

func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Peers returns a snapshot of every peer currently in the Room, for
// operators that need to force-close a room from outside the signaling
// path (REST DELETE /api/rooms/{id}). Closing each returned handle also
// removes it from the Room via RemovePeer, so callers must not hold any
// lock of their own across the Close calls.
func (r *Room) Peers() []peerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]peerHandle, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// ListProducers enumerates every Producer owned by a peer other than
// excludingPeerID (spec.md §4.3, P6).
func (r *Room) ListProducers(excludingPeerID string) []ProducerSummary {
	r.mu.Lock()
	others := make([]peerHandle, 0, len(r.peers))
	for id, p := range r.peers {
		if id == excludingPeerID {
			continue
		}
		others = append(others, p)
	}
	r.mu.Unlock()

	var out []ProducerSummary
	for _, p := range others {
		out = append(out, p.ProducerSummaries()...)
	}
	return out
}

// FindProducerOwner returns the peer id owning producerID, if any peer in
// the Room currently has it open.
func (r *Room) FindProducerOwner(producerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.peers {
		for _, s := range p.ProducerSummaries() {
			if s.ProducerID == producerID {
				return id, true
			}
		}
	}
	return "", false
}

// Broadcast delivers event/payload to every peer in the Room except
// excludingPeerID. Delivery is best-effort (spec.md §4.3, P8): a panic or
// error from one peer's Notify must not stop delivery to the rest, and must
// not be allowed to corrupt Room state.
func (r *Room) Broadcast(excludingPeerID, event string, payload interface{}) {
	r.mu.Lock()
	others := make([]peerHandle, 0, len(r.peers))
	for id, p := range r.peers {
		if id == excludingPeerID {
			continue
		}
		others = append(others, p)
	}
	r.mu.Unlock()

	for _, p := range others {
		r.notifyOne(p, event, payload)
	}
}

func (r *Room) notifyOne(p peerHandle, event string, payload interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("panic delivering event to peer",
				zap.String("peer_id", p.ID()), zap.String("event", event), zap.Any("panic", rec))
		}
	}()
	p.Notify(event, payload)
}
