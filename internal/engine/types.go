// Package engine defines the abstract media-engine boundary the coordinator
// is written against (spec.md §1, §4.6, §9): workers that host routers,
// routers that host transports, transports that carry producers (send) or
// consumers (recv). Nothing in the rest of this repository imports a
// concrete RTP/ICE/DTLS library directly — only this package's interfaces.
//
// pion_*.go in this package is the one concrete adapter this repository
// ships, built on github.com/pion/webrtc/v3's lower-level ("ORTC") API,
// which is the layer of pion that exposes ICE/DTLS parameters and
// candidates explicitly rather than folding them into an SDP offer/answer
// — the shape the signaling contract in spec.md §6 requires.
package engine

import "context"

// Direction is the fixed direction of a Transport for its whole lifetime
// (spec.md §3: "direction immutable").
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// MediaKind distinguishes audio from video producers/consumers.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Codec is one entry of a Router's configured codec set (spec.md §4.2).
type Codec struct {
	Kind      MediaKind
	MimeType  string
	ClockRate uint32
	Channels  uint16
}

// ICEParameters mirrors the wire shape clients expect verbatim (spec.md §6).
type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

// ICECandidate mirrors the wire shape clients expect verbatim.
type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// DTLSFingerprint is one certificate fingerprint of a DTLSParameters set.
type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DTLSParameters mirrors the wire shape clients expect verbatim.
type DTLSParameters struct {
	Role         string            `json:"role"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// SCTPParameters mirrors the wire shape clients expect verbatim.
type SCTPParameters struct {
	Port           uint16 `json:"port"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

// RTPCapabilities and RTPParameters are opaque, engine-produced/consumed
// JSON blobs (spec.md §6: "passed through opaquely between engine and
// client"); the coordinator never interprets their contents beyond what
// Router.CanConsume decides internally.
type RTPCapabilities = map[string]interface{}
type RTPParameters = map[string]interface{}

// TransportOptions configures a newly created Transport (spec.md §4.4 step 3).
// The pion adapter's Router.CreateTransport does not read these options.
type TransportOptions struct {
	EnableUDP                       bool
	EnableTCP                       bool
	PreferUDP                       bool
	InitialAvailableOutgoingBitrate int
	ListenIP                        string
	AnnouncedIP                     string
}

// Worker hosts zero or more Routers. One Worker corresponds to one
// media-engine process in a subprocess-based engine (spec.md §4.1); this
// repository's pion-backed adapter models each Worker as an independently
// configured engine instance bound to its own UDP port slice.
type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []Codec) (Router, error)
	// Dead reports whether this worker has signaled a fatal failure.
	Dead() <-chan error
	Close() error
}

// Router multiplexes RTP among the Transports of a single Room.
type Router interface {
	ID() string
	RTPCapabilities() RTPCapabilities
	CreateTransport(ctx context.Context, dir Direction, opts TransportOptions) (Transport, error)
	// CanConsume reports whether a peer whose client reports rtpCapabilities
	// is able to receive the named Producer (spec.md §4.5.1 consume precondition).
	CanConsume(producerID string, rtpCapabilities RTPCapabilities) bool
	Close() error
}

// Transport is one ICE/DTLS/SRTP session with a single peer, fixed-direction.
type Transport interface {
	ID() string
	Direction() Direction

	ICEParameters() ICEParameters
	ICECandidates() []ICECandidate
	DTLSParameters() DTLSParameters
	SCTPParameters() SCTPParameters

	// Connect sets the client's DTLS parameters. Exactly once per transport
	// (spec.md §3); implementations must be idempotent for identical
	// parameters per spec.md §5's retry-safety note.
	Connect(ctx context.Context, dtlsParameters DTLSParameters) error

	// Produce creates a Producer on this transport. Direction must be send.
	Produce(ctx context.Context, producerID string, kind MediaKind, rtpParameters RTPParameters) (Producer, error)

	// Consume creates a Consumer on this transport forwarding src.
	// Direction must be recv. Created paused=false per spec.md §4.5.1's
	// consumer creation policy; callers still must call Resume.
	Consume(ctx context.Context, consumerID string, src Producer, rtpCapabilities RTPCapabilities) (Consumer, error)

	OnDtlsStateChange(func(state string))
	OnClose(func())

	Closed() bool
	Close() error
}

// Producer is a server-side handle on inbound RTP from one peer's track.
// The engine layer has no notion of "peer" — the room/peer layer above it
// is responsible for tracking which Peer owns which Producer.
type Producer interface {
	ID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Paused() bool

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	OnClose(func())

	Closed() bool
	Close() error
}

// Consumer is a server-side handle on outbound RTP forwarding one Producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	Paused() bool

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	OnClose(func())

	Closed() bool
	Close() error
}
