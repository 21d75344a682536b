// Package room implements the Room Registry and Room (spec.md §4.2, §4.3):
// the process-wide mapping of roomId to Room, and the per-Room container of
// Peers plus the producer-enumeration and broadcast behaviors layered on it.
package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/apperrors"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/metrics"
	"github.com/adityaadpandey/sfu-coordinator/internal/workerpool"
)

// Registry is the process-wide roomId→Room map (spec.md §9: one of exactly
// two pieces of global mutable state, the other being the WorkerPool).
type Registry struct {
	pool            *workerpool.Pool
	codecs          []engine.Codec
	maxRooms        int
	maxPeersPerRoom int
	log             *zap.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry builds a Registry. maxRooms caps the number of concurrently
// open rooms and maxPeersPerRoom caps peers within a single room (both
// carried over from the teacher's config, §4.2/§4.4 capacity limits); either
// limit set to 0 or below means unlimited.
func NewRegistry(pool *workerpool.Pool, codecs []engine.Codec, maxRooms, maxPeersPerRoom int, log *zap.Logger) *Registry {
	return &Registry{
		pool:            pool,
		codecs:          codecs,
		maxRooms:        maxRooms,
		maxPeersPerRoom: maxPeersPerRoom,
		log:             log.Named("room_registry"),
		rooms:           make(map[string]*Room),
	}
}

// GetOrCreate returns the Room for roomID, creating it on first call. A
// placeholder is published into the map before the (slow, engine-crossing)
// Router creation runs, so a Room "exists" for P2-purposes from the moment
// creation starts — concurrent callers for the same roomID wait on the same
// placeholder and observe exactly one Room (spec.md §4.2, P2).
func (reg *Registry) GetOrCreate(ctx context.Context, roomID string) (*Room, error) {
	reg.mu.Lock()
	if r, ok := reg.rooms[roomID]; ok {
		reg.mu.Unlock()
		<-r.ready
		if r.createErr != nil {
			return nil, r.createErr
		}
		return r, nil
	}

	if reg.maxRooms > 0 && len(reg.rooms) >= reg.maxRooms {
		reg.mu.Unlock()
		return nil, apperrors.New(apperrors.Conflict, "room capacity reached")
	}

	r := &Room{
		id:       roomID,
		peers:    make(map[string]peerHandle),
		ready:    make(chan struct{}),
		maxPeers: reg.maxPeersPerRoom,
		log:      reg.log.With(zap.String("room_id", roomID)),
	}
	reg.rooms[roomID] = r
	reg.mu.Unlock()

	worker := reg.pool.Next()
	start := time.Now()
	router, err := worker.CreateRouter(ctx, reg.codecs)
	metrics.ObserveEngineCall("create_router", start)
	if err != nil {
		reg.mu.Lock()
		delete(reg.rooms, roomID)
		reg.mu.Unlock()
		r.createErr = apperrors.Wrap(apperrors.EngineFailed, "create router", err)
		close(r.ready)
		return nil, r.createErr
	}

	r.router = router
	close(r.ready)
	metrics.ActiveRooms.Inc()
	return r, nil
}

// Lookup returns the Room for roomID without creating it.
func (reg *Registry) Lookup(roomID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// Delete closes the Room's Router and removes it from the registry. Callers
// must have already emptied the Room's peers (spec.md §4.2: "callers must
// hold no further references").
func (reg *Registry) Delete(roomID string) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if ok {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()

	if !ok {
		return
	}
	if r.router != nil {
		if err := r.router.Close(); err != nil {
			reg.log.Warn("router close failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	metrics.ActiveRooms.Dec()
}

// Len reports the number of rooms currently tracked, for REST introspection.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// IDs returns a snapshot of all room ids currently tracked.
func (reg *Registry) IDs() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	return ids
}
