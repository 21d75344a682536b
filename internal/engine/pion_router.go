package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type pionRouter struct {
	id     string
	api    *webrtc.API
	cert   *webrtc.Certificate
	codecs []Codec
	log    *zap.Logger

	mu        sync.RWMutex
	closed    bool
	producers map[string]*pionProducer
}

func (r *pionRouter) ID() string { return r.id }

// RTPCapabilities renders the router's fixed codec set into the opaque
// capability blob clients use to decide whether they Consume a Producer
// (spec.md §6: rtpCapabilities returned from join-room).
func (r *pionRouter) RTPCapabilities() RTPCapabilities {
	codecs := make([]map[string]interface{}, 0, len(r.codecs))
	for _, c := range r.codecs {
		codecs = append(codecs, map[string]interface{}{
			"kind":      string(c.Kind),
			"mimeType":  c.MimeType,
			"clockRate": c.ClockRate,
			"channels":  c.Channels,
		})
	}
	return RTPCapabilities{"codecs": codecs}
}

func (r *pionRouter) CreateTransport(ctx context.Context, dir Direction, opts TransportOptions) (Transport, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("router closed")
	}

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("create ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, []webrtc.Certificate{*r.cert})
	if err != nil {
		return nil, fmt.Errorf("create dtls transport: %w", err)
	}
	sctp := r.api.NewSCTPTransport(dtls)

	t := &pionTransport{
		id:        uuid.NewString(),
		dir:       dir,
		api:       r.api,
		router:    r,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		sctp:      sctp,
		log:       r.log.With(zap.String("component", "transport"), zap.String("direction", string(dir))),
		consumers: make(map[string]*pionConsumer),
	}
	if err := t.gather(ctx); err != nil {
		return nil, fmt.Errorf("gather candidates: %w", err)
	}
	return t, nil
}

// CanConsume applies a minimal kind-only compatibility check. The
// real mediasoup engine performs a full codec/header-extension
// intersection; since this adapter treats rtpCapabilities as an opaque
// blob (spec.md §6), it only verifies the consuming peer declared support
// for the producer's kind at all. Capabilities without a "codecs" list are
// accepted.
func (r *pionRouter) CanConsume(producerID string, rtpCapabilities RTPCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	codecsRaw, ok := rtpCapabilities["codecs"]
	if !ok {
		return true
	}
	var codecs []map[string]interface{}
	switch v := codecsRaw.(type) {
	case []map[string]interface{}:
		codecs = v
	case []interface{}:
		for _, e := range v {
			if m, ok := e.(map[string]interface{}); ok {
				codecs = append(codecs, m)
			}
		}
	}
	if len(codecs) == 0 {
		return true
	}
	for _, c := range codecs {
		if kind, ok := c["kind"].(string); ok && MediaKind(kind) == p.Kind() {
			return true
		}
	}
	return false
}

func (r *pionRouter) registerProducer(p *pionProducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.ID()] = p
}

func (r *pionRouter) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *pionRouter) lookupProducer(id string) (*pionProducer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *pionRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
