package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// PionWorkerConfig configures one pion-backed Worker. Each Worker owns a
// disjoint UDP port range so that N workers can run in the same process
// without colliding on ephemeral ports (spec.md §4.1).
type PionWorkerConfig struct {
	ListenIP    string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
}

type pionWorker struct {
	id  string
	log *zap.Logger
	cfg PionWorkerConfig

	cert *webrtc.Certificate

	mu      sync.Mutex
	closed  bool
	routers map[string]*pionRouter

	deadCh chan error
}

// NewPionWorker builds a Worker whose transports are bound to cfg's port
// range and backed by pion/webrtc's ORTC-style primitives.
func NewPionWorker(cfg PionWorkerConfig, log *zap.Logger) (Worker, error) {
	secretKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate worker dtls key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(secretKey)
	if err != nil {
		return nil, fmt.Errorf("generate worker dtls certificate: %w", err)
	}

	id := uuid.NewString()
	return &pionWorker{
		id:      id,
		log:     log.Named("worker").With(zap.String("worker_id", id)),
		cfg:     cfg,
		cert:    cert,
		routers: make(map[string]*pionRouter),
		deadCh:  make(chan error, 1),
	}, nil
}

func (w *pionWorker) ID() string { return w.id }

func (w *pionWorker) Dead() <-chan error { return w.deadCh }

func (w *pionWorker) newAPI(codecs []Codec) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		codecType := webrtc.RTPCodecTypeVideo
		if c.Kind == KindAudio {
			codecType = webrtc.RTPCodecTypeAudio
		}
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  c.MimeType,
				ClockRate: c.ClockRate,
				Channels:  c.Channels,
			},
			PayloadType: payloadTypeFor(c.MimeType),
		}, codecType)
		if err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if err := se.SetEphemeralUDPPortRange(w.cfg.MinPort, w.cfg.MaxPort); err != nil {
		return nil, fmt.Errorf("set port range: %w", err)
	}
	if w.cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{w.cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(ir),
	), nil
}

func (w *pionWorker) CreateRouter(ctx context.Context, codecs []Codec) (Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker closed")
	}

	api, err := w.newAPI(codecs)
	if err != nil {
		w.fail(err)
		return nil, err
	}

	r := &pionRouter{
		id:        uuid.NewString(),
		api:       api,
		cert:      w.cert,
		codecs:    codecs,
		producers: make(map[string]*pionProducer),
		log:       w.log.With(zap.String("component", "router")),
	}
	w.routers[r.id] = r
	return r, nil
}

// fail pushes the cause onto Dead(), mirroring spec.md §4.1's "restart
// whole process on worker death" contract — workerpool.Pool.Watch observes
// this channel and returns the cause, and cmd/sfu exits the process.
func (w *pionWorker) fail(cause error) {
	select {
	case w.deadCh <- cause:
	default:
	}
}

func (w *pionWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	for _, r := range w.routers {
		_ = r.Close()
	}
	return nil
}

var ptCounter uint32 = 96

// payloadTypeFor assigns a payload type per codec. Real negotiation would
// read this from the client's rtpParameters; since this adapter treats
// rtpParameters as opaque (spec.md §6), it uses a fixed table for the six
// configured mime types and gives any other mime type the next value of a
// process-wide counter starting at 97.
func payloadTypeFor(mimeType string) webrtc.PayloadType {
	switch mimeType {
	case "audio/opus":
		return 111
	case "audio/PCMU":
		return 0
	case "audio/PCMA":
		return 8
	case "video/VP8":
		return 96
	case "video/VP9":
		return 98
	case "video/H264":
		return 102
	default:
		return webrtc.PayloadType(atomic.AddUint32(&ptCounter, 1))
	}
}
