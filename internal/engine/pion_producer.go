package engine

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// pionProducer owns the single goroutine allowed to Read its RTPReceiver's
// track. Every attached Consumer gets packets fanned out to a buffered
// channel instead of reading the track itself, the same "one reader, many
// writers" shape the teacher's Room.forwardTrackToOtherPeers uses for its
// manual RTP fan-out.
type pionProducer struct {
	id         string
	kind       MediaKind
	parameters RTPParameters
	receiver   *webrtc.RTPReceiver
	log        *zap.Logger

	mu          sync.Mutex
	paused      bool
	closed      bool
	onClose     []func()
	subscribers map[string]chan *rtp.Packet
}

func (p *pionProducer) ID() string                   { return p.id }
func (p *pionProducer) Kind() MediaKind                { return p.kind }
func (p *pionProducer) RTPParameters() RTPParameters   { return p.parameters }

func (p *pionProducer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *pionProducer) Pause(ctx context.Context) error {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	return nil
}

func (p *pionProducer) Resume(ctx context.Context) error {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

func (p *pionProducer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = append(p.onClose, fn)
	p.mu.Unlock()
}

func (p *pionProducer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// subscribe registers a fan-out channel for a Consumer and returns that
// channel; unsubscribe removes it. Packets are dropped, never blocked on, for a slow
// subscriber — a wedged consumer must never stall the producer's read loop.
func (p *pionProducer) subscribe(consumerID string) chan *rtp.Packet {
	ch := make(chan *rtp.Packet, 100)
	p.mu.Lock()
	p.subscribers[consumerID] = ch
	p.mu.Unlock()
	return ch
}

func (p *pionProducer) unsubscribe(consumerID string) {
	p.mu.Lock()
	ch, ok := p.subscribers[consumerID]
	delete(p.subscribers, consumerID)
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

// drain is the producer's sole track reader; it starts as soon as the
// producer is created so RTCP/keepalive flows even before any Consumer
// attaches, and fans each packet out to every currently subscribed Consumer.
func (p *pionProducer) drain() {
	track := p.receiver.Track()
	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				return
			}
			if p.Paused() {
				continue
			}
			p.mu.Lock()
			for _, ch := range p.subscribers {
				select {
				case ch <- pkt:
				default:
				}
			}
			p.mu.Unlock()
		}
	}()
}

func (p *pionProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handlers := append([]func(){}, p.onClose...)
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.mu.Unlock()

	err := p.receiver.Stop()
	for _, h := range handlers {
		h()
	}
	return err
}
