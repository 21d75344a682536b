// Package signaling implements the Signaling Dispatcher (spec.md §4.5): the
// request/response + event multiplexer sitting between each peer's
// WebSocket connection and the room/peer/engine layers.
package signaling

import (
	"encoding/json"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
)

// Request is one inbound RPC call (spec.md §6: "typed request/acknowledgment
// RPC"). ID round-trips into the matching Response so the client can
// correlate acknowledgments with calls.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

// Response is the single acknowledgment every Request receives (spec.md
// §4.5.1: "responds exactly once; the acknowledgment is the only reply").
type Response struct {
	ID    string      `json:"id"`
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Event is a server-pushed, unsolicited message (spec.md §4.5.2).
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// TransportDescription is the wire shape of one transport returned from
// join-room, field names preserved verbatim per spec.md §6.
type TransportDescription struct {
	ID             string                 `json:"id"`
	ICEParameters  engine.ICEParameters   `json:"iceParameters"`
	ICECandidates  []engine.ICECandidate  `json:"iceCandidates"`
	DTLSParameters engine.DTLSParameters  `json:"dtlsParameters"`
	SCTPParameters engine.SCTPParameters  `json:"sctpParameters"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

type JoinRoomResponse struct {
	SendTransport         TransportDescription    `json:"sendTransport"`
	RecvTransport         TransportDescription    `json:"recvTransport"`
	RouterRTPCapabilities engine.RTPCapabilities   `json:"routerRtpCapabilities"`
}

type ConnectTransportRequest struct {
	TransportID    string                `json:"transportId"`
	DTLSParameters engine.DTLSParameters `json:"dtlsParameters"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ProduceRequest struct {
	TransportID   string               `json:"transportId"`
	Kind          string               `json:"kind"`
	RTPParameters engine.RTPParameters `json:"rtpParameters"`
}

type ProduceResponse struct {
	ID string `json:"id"`
}

type ConsumeRequest struct {
	TransportID     string                  `json:"transportId"`
	ProducerID      string                  `json:"producerId"`
	RTPCapabilities engine.RTPCapabilities  `json:"rtpCapabilities"`
}

type ConsumeResponse struct {
	ID            string               `json:"id"`
	ProducerID    string               `json:"producerId"`
	Kind          string               `json:"kind"`
	RTPParameters engine.RTPParameters `json:"rtpParameters"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type ProducerInfo struct {
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type GetProducersResponse struct {
	Producers []ProducerInfo `json:"producers"`
}

type PeerJoinedEvent struct {
	PeerID string `json:"peerId"`
}

type NewProducerEvent struct {
	PeerID     string `json:"peerId"`
	ProducerID string `json:"producerId"`
	Kind       string `json:"kind"`
}

type PeerLeftEvent struct {
	PeerID string `json:"peerId"`
}
