package engine

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type pionConsumer struct {
	id         string
	producerID string
	kind       MediaKind
	parameters RTPParameters
	sender     *webrtc.RTPSender
	localTrack *webrtc.TrackLocalStaticRTP
	log        *zap.Logger

	mu      sync.Mutex
	paused  bool
	closed  bool
	onClose []func()

	stop func()
}

func (c *pionConsumer) ID() string                 { return c.id }
func (c *pionConsumer) ProducerID() string          { return c.producerID }
func (c *pionConsumer) Kind() MediaKind             { return c.kind }
func (c *pionConsumer) RTPParameters() RTPParameters { return c.parameters }

func (c *pionConsumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *pionConsumer) Pause(ctx context.Context) error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *pionConsumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

func (c *pionConsumer) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *pionConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// startForwarding subscribes to the producer's fan-out and writes each
// packet to this consumer's local track, draining the sender's own RTCP
// stream on a second goroutine the same way the teacher's forwardTrackToPeer
// drains sender.Read to keep PLI/NACK/REMB flowing back.
func (c *pionConsumer) startForwarding(p *pionProducer) {
	pkts := p.subscribe(c.id)
	done := make(chan struct{})
	c.stop = sync.OnceFunc(func() { close(done) })

	go func() {
		for {
			select {
			case pkt, ok := <-pkts:
				if !ok {
					return
				}
				if c.Paused() {
					continue
				}
				if err := c.localTrack.WriteRTP(pkt); err != nil {
					return
				}
			case <-done:
				p.unsubscribe(c.id)
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := c.sender.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (c *pionConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handlers := append([]func(){}, c.onClose...)
	c.mu.Unlock()

	if c.stop != nil {
		c.stop()
	}
	err := c.sender.Stop()
	for _, h := range handlers {
		h()
	}
	return err
}
