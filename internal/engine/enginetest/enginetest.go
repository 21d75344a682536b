// Package enginetest provides an in-memory, non-networked implementation
// of internal/engine's interfaces so room/peer/signaling logic can be unit
// tested without real ICE/DTLS/RTP plumbing.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
)

// Worker is a fake engine.Worker that never fails unless Kill is called.
type Worker struct {
	id     string
	mu     sync.Mutex
	dead   chan error
	closed bool
}

func NewWorker() *Worker {
	return &Worker{id: uuid.NewString(), dead: make(chan error, 1)}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []engine.Codec) (engine.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker closed")
	}
	return &Router{id: uuid.NewString(), codecs: codecs, producers: make(map[string]*Producer)}, nil
}

func (w *Worker) Dead() <-chan error { return w.dead }

// Kill simulates a fatal worker failure for WorkerPool tests.
func (w *Worker) Kill(cause error) {
	select {
	case w.dead <- cause:
	default:
	}
}

func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Router is a fake engine.Router.
type Router struct {
	id     string
	codecs []engine.Codec

	mu        sync.Mutex
	closed    bool
	producers map[string]*Producer
}

func (r *Router) ID() string { return r.id }

func (r *Router) RTPCapabilities() engine.RTPCapabilities {
	kinds := make([]string, 0, len(r.codecs))
	for _, c := range r.codecs {
		kinds = append(kinds, string(c.Kind))
	}
	return engine.RTPCapabilities{"kinds": kinds}
}

func (r *Router) CreateTransport(ctx context.Context, dir engine.Direction, opts engine.TransportOptions) (engine.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router closed")
	}
	return &Transport{id: uuid.NewString(), dir: dir, router: r, consumers: make(map[string]*Consumer)}, nil
}

func (r *Router) CanConsume(producerID string, rtpCapabilities engine.RTPCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *Router) registerProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.ID()] = p
}

func (r *Router) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Transport is a fake engine.Transport. It performs no real ICE/DTLS
// handshake; Connect always succeeds once per transport.
type Transport struct {
	id     string
	dir    engine.Direction
	router *Router

	mu         sync.Mutex
	connected  bool
	closed     bool
	onClose    []func()
	onDtls     []func(string)
	consumers  map[string]*Consumer
}

func (t *Transport) ID() string                 { return t.id }
func (t *Transport) Direction() engine.Direction { return t.dir }

func (t *Transport) ICEParameters() engine.ICEParameters {
	return engine.ICEParameters{UsernameFragment: "ufrag-" + t.id, Password: "pwd-" + t.id}
}

func (t *Transport) ICECandidates() []engine.ICECandidate {
	return []engine.ICECandidate{{
		Foundation: "1", Priority: 1, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host",
	}}
}

func (t *Transport) DTLSParameters() engine.DTLSParameters {
	return engine.DTLSParameters{
		Role:         "auto",
		Fingerprints: []engine.DTLSFingerprint{{Algorithm: "sha-256", Value: "00:11:22"}},
	}
}

func (t *Transport) SCTPParameters() engine.SCTPParameters {
	return engine.SCTPParameters{Port: 5000, MaxMessageSize: 262144}
}

func (t *Transport) Connect(ctx context.Context, dtlsParameters engine.DTLSParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(ctx context.Context, producerID string, kind engine.MediaKind, rtpParameters engine.RTPParameters) (engine.Producer, error) {
	if t.dir != engine.DirectionSend {
		return nil, fmt.Errorf("produce on a %s transport", t.dir)
	}
	p := &Producer{id: producerID, kind: kind, parameters: rtpParameters}
	t.router.registerProducer(p)
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, consumerID string, src engine.Producer, rtpCapabilities engine.RTPCapabilities) (engine.Consumer, error) {
	if t.dir != engine.DirectionRecv {
		return nil, fmt.Errorf("consume on a %s transport", t.dir)
	}
	p, ok := src.(*Producer)
	if !ok {
		return nil, fmt.Errorf("producer not hosted by this fake engine")
	}
	c := &Consumer{id: consumerID, producerID: p.ID(), kind: p.kind, parameters: p.parameters}
	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) OnDtlsStateChange(fn func(string)) {
	t.mu.Lock()
	t.onDtls = append(t.onDtls, fn)
	t.mu.Unlock()
}

func (t *Transport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = append(t.onClose, fn)
	t.mu.Unlock()
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	handlers := append([]func(){}, t.onClose...)
	t.mu.Unlock()
	for _, h := range handlers {
		h()
	}
	return nil
}

// Producer is a fake engine.Producer.
type Producer struct {
	id         string
	kind       engine.MediaKind
	parameters engine.RTPParameters

	mu      sync.Mutex
	paused  bool
	closed  bool
	onClose []func()
}

func (p *Producer) ID() string                       { return p.id }
func (p *Producer) Kind() engine.MediaKind            { return p.kind }
func (p *Producer) RTPParameters() engine.RTPParameters { return p.parameters }

func (p *Producer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Producer) Pause(ctx context.Context) error {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	return nil
}

func (p *Producer) Resume(ctx context.Context) error {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

func (p *Producer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = append(p.onClose, fn)
	p.mu.Unlock()
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handlers := append([]func(){}, p.onClose...)
	p.mu.Unlock()
	for _, h := range handlers {
		h()
	}
	return nil
}

// Consumer is a fake engine.Consumer.
type Consumer struct {
	id         string
	producerID string
	kind       engine.MediaKind
	parameters engine.RTPParameters

	mu      sync.Mutex
	paused  bool
	closed  bool
	onClose []func()
}

func (c *Consumer) ID() string                        { return c.id }
func (c *Consumer) ProducerID() string                 { return c.producerID }
func (c *Consumer) Kind() engine.MediaKind              { return c.kind }
func (c *Consumer) RTPParameters() engine.RTPParameters { return c.parameters }

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *Consumer) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handlers := append([]func(){}, c.onClose...)
	c.mu.Unlock()
	for _, h := range handlers {
		h()
	}
	return nil
}
