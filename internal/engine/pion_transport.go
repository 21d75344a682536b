package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type pionTransport struct {
	id     string
	dir    Direction
	api    *webrtc.API
	router *pionRouter
	log    *zap.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	sctp     *webrtc.SCTPTransport

	mu          sync.Mutex
	candidates  []ICECandidate
	connected   bool
	closed      bool
	onClose     []func()
	onDtlsState []func(string)

	consumers map[string]*pionConsumer
}

func (t *pionTransport) ID() string          { return t.id }
func (t *pionTransport) Direction() Direction { return t.dir }

// gather runs ICE host-candidate gathering to completion. Gathering ends
// when the gatherer reports the "complete" state; since workers bind only
// to local/NAT1To1 host candidates (no STUN/TURN, spec.md §9 open question
// resolved in favor of LAN/NAT1To1 deployments), this finishes quickly.
func (t *pionTransport) gather(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once

	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
			return
		}
		t.mu.Lock()
		t.candidates = append(t.candidates, ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   string(c.Protocol),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
		t.mu.Unlock()
	})

	if err := t.gatherer.Gather(); err != nil {
		return err
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		once.Do(func() { close(done) })
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (t *pionTransport) ICEParameters() ICEParameters {
	p, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return ICEParameters{}
	}
	return ICEParameters{
		UsernameFragment: p.UsernameFragment,
		Password:         p.Password,
		ICELite:          p.ICELite,
	}
}

func (t *pionTransport) ICECandidates() []ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ICECandidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

func (t *pionTransport) DTLSParameters() DTLSParameters {
	p := t.dtls.GetLocalParameters()
	fps := make([]DTLSFingerprint, 0, len(p.Fingerprints))
	for _, f := range p.Fingerprints {
		fps = append(fps, DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return DTLSParameters{Role: "auto", Fingerprints: fps}
}

func (t *pionTransport) SCTPParameters() SCTPParameters {
	caps := t.sctp.GetCapabilities()
	return SCTPParameters{Port: 5000, MaxMessageSize: uint32(caps.MaxMessageSize)}
}

// Connect starts ICE, DTLS and SCTP against the client's announced
// parameters. Per spec.md §3 this is called exactly once; a second call
// with identical parameters is accepted as a no-op (spec.md §5 retry note).
func (t *pionTransport) Connect(ctx context.Context, dtlsParameters DTLSParameters) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	t.mu.Unlock()

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, webrtc.ICEParameters{
		UsernameFragment: t.ICEParameters().UsernameFragment,
		Password:         t.ICEParameters().Password,
	}, &role); err != nil {
		return fmt.Errorf("start ice: %w", err)
	}

	fps := make([]webrtc.DTLSFingerprint, 0, len(dtlsParameters.Fingerprints))
	for _, f := range dtlsParameters.Fingerprints {
		fps = append(fps, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}

	t.dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		t.mu.Lock()
		handlers := append([]func(string){}, t.onDtlsState...)
		t.mu.Unlock()
		for _, h := range handlers {
			h(s.String())
		}
	})

	if err := t.dtls.Start(webrtc.DTLSParameters{
		Role:         webrtc.DTLSRoleServer,
		Fingerprints: fps,
	}); err != nil {
		return fmt.Errorf("start dtls: %w", err)
	}

	if err := t.sctp.Start(webrtc.SCTPCapabilities{MaxMessageSize: 0}); err != nil {
		t.log.Warn("sctp start failed, continuing without data channels", zap.Error(err))
	}

	return nil
}

// Produce creates an RTP receiver bound to this (send-direction) transport
// to absorb the client's outbound media (spec.md §4.5.1 produce).
func (t *pionTransport) Produce(ctx context.Context, producerID string, kind MediaKind, rtpParameters RTPParameters) (Producer, error) {
	if t.dir != DirectionSend {
		return nil, fmt.Errorf("produce called on a %s transport", t.dir)
	}

	codecType := webrtc.RTPCodecTypeVideo
	if kind == KindAudio {
		codecType = webrtc.RTPCodecTypeAudio
	}

	receiver, err := t.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create rtp receiver: %w", err)
	}

	ssrc := ssrcFromParameters(rtpParameters)
	if err := receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{
			{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: ssrc}},
		},
	}); err != nil {
		return nil, fmt.Errorf("start rtp receiver: %w", err)
	}

	p := &pionProducer{
		id:          producerID,
		kind:        kind,
		parameters:  rtpParameters,
		receiver:    receiver,
		log:         t.log.With(zap.String("component", "producer"), zap.String("producer_id", producerID)),
		subscribers: make(map[string]chan *rtp.Packet),
	}
	p.drain()
	t.router.registerProducer(p)
	return p, nil
}

// Consume creates an RTP sender on this (recv-direction) transport that
// forwards RTP read from src's receiver track, mirroring the teacher's
// manual fan-out pattern (forwardTrackToPeer) adapted to pion's ORTC API.
func (t *pionTransport) Consume(ctx context.Context, consumerID string, src Producer, rtpCapabilities RTPCapabilities) (Consumer, error) {
	if t.dir != DirectionRecv {
		return nil, fmt.Errorf("consume called on a %s transport", t.dir)
	}
	p, ok := src.(*pionProducer)
	if !ok {
		return nil, fmt.Errorf("producer %s not hosted by this engine", src.ID())
	}

	localTrack, err := webrtc.NewTrackLocalStaticRTP(
		p.receiver.Track().Codec().RTPCodecCapability,
		"track-"+consumerID,
		"stream-"+p.ID(),
	)
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}

	sender, err := t.api.NewRTPSender(localTrack, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("create rtp sender: %w", err)
	}

	if err := sender.Send(webrtc.RTPSendParameters{
		Encodings: []webrtc.RTPCodingParameters{{SSRC: webrtc.SSRC(p.receiver.Track().SSRC())}},
	}); err != nil {
		return nil, fmt.Errorf("start rtp sender: %w", err)
	}

	c := &pionConsumer{
		id:         consumerID,
		producerID: p.ID(),
		kind:       p.kind,
		parameters: p.parameters,
		sender:     sender,
		localTrack: localTrack,
		log:        t.log.With(zap.String("component", "consumer"), zap.String("consumer_id", consumerID)),
	}
	c.startForwarding(p)

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()

	return c, nil
}

func (t *pionTransport) OnDtlsStateChange(fn func(string)) {
	t.mu.Lock()
	t.onDtlsState = append(t.onDtlsState, fn)
	t.mu.Unlock()
}

func (t *pionTransport) OnClose(fn func()) {
	t.mu.Lock()
	t.onClose = append(t.onClose, fn)
	t.mu.Unlock()
}

func (t *pionTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	handlers := append([]func(){}, t.onClose...)
	consumers := make([]*pionConsumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	_ = t.sctp.Stop()
	_ = t.dtls.Stop()
	_ = t.ice.Stop()

	for _, h := range handlers {
		h()
	}
	return nil
}

// ssrcFromParameters reads an SSRC out of an opaque rtpParameters blob,
// falling back to the next value of a process-wide counter offset by 1<<24.
// Real negotiation parses this from
// the client's actual encoding list; this adapter's rtpParameters is
// opaque JSON (spec.md §6) so it only looks for the conventional shape
// `{"encodings":[{"ssrc": N}]}`.
func ssrcFromParameters(p RTPParameters) webrtc.SSRC {
	if encs, ok := p["encodings"].([]interface{}); ok && len(encs) > 0 {
		if enc, ok := encs[0].(map[string]interface{}); ok {
			switch v := enc["ssrc"].(type) {
			case float64:
				return webrtc.SSRC(uint32(v))
			case uint32:
				return webrtc.SSRC(v)
			}
		}
	}
	return webrtc.SSRC(atomic.AddUint32(&fallbackSSRC, 1) + 1<<24)
}

var fallbackSSRC uint32
