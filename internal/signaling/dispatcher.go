package signaling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/apperrors"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/metrics"
	"github.com/adityaadpandey/sfu-coordinator/internal/peer"
	"github.com/adityaadpandey/sfu-coordinator/internal/room"
)

// callTimeout bounds every media-engine call a handler makes (spec.md §5:
// "implementations should apply a per-call deadline and treat expiry as an
// engine error").
const callTimeout = 5 * time.Second

// Dispatcher is the Signaling Dispatcher of spec.md §4.5: it validates
// inbound requests, drives the Room/Peer/MediaEngine layers, replies with
// exactly one acknowledgment per request, and fans out server-originated
// events to the rest of each Room.
type Dispatcher struct {
	registry      *room.Registry
	hub           *Hub
	transportOpts engine.TransportOptions
	limiters      *limiterSet
	log           *zap.Logger
}

func NewDispatcher(registry *room.Registry, hub *Hub, transportOpts engine.TransportOptions, rps float64, burst int, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		hub:           hub,
		transportOpts: transportOpts,
		limiters:      newLimiterSet(rps, burst),
		log:           log.Named("dispatcher"),
	}
}

// HandleConnection registers c and blocks in its read pump until the
// connection closes, at which point the bound Peer (if any) is torn down.
func (d *Dispatcher) HandleConnection(c *Client) {
	d.hub.Register(c)
	c.onClose = d.handleDisconnect

	go c.WritePump()
	c.ReadPump(d.dispatch)
}

func (d *Dispatcher) dispatch(c *Client, req Request) {
	metrics.MessagesReceivedTotal.WithLabelValues(req.Method).Inc()

	if !d.limiters.get(c.ID()).Allow() {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "rate limit exceeded"), req.Method)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", zap.String("method", req.Method), zap.Any("panic", r))
			d.reply(c, req.ID, apperrors.New(apperrors.EngineFailed, "internal error"), req.Method)
		}
	}()

	if req.ID == "" {
		d.log.Debug("request missing id, dropping", zap.String("method", req.Method))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	switch req.Method {
	case "join-room":
		d.handleJoinRoom(ctx, c, req)
	case "connect-transport":
		d.handleConnectTransport(ctx, c, req)
	case "produce":
		d.handleProduce(ctx, c, req)
	case "consume":
		d.handleConsume(ctx, c, req)
	case "resume-consumer":
		d.handleResumeConsumer(ctx, c, req)
	case "get-producers":
		d.handleGetProducers(ctx, c, req)
	default:
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "unknown method: "+req.Method), req.Method)
	}
}

func (d *Dispatcher) handleDisconnect(c *Client) {
	d.hub.Unregister(c)
	d.limiters.remove(c.ID())

	roomID, peerID, bound := c.boundPeerID()
	if !bound {
		return
	}
	rm, ok := d.registry.Lookup(roomID)
	if !ok {
		return
	}
	ph, ok := rm.GetPeer(peerID)
	if !ok {
		return
	}
	p, ok := ph.(*peer.Peer)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	roomEmpty := p.Close(ctx)
	rm.Broadcast(peerID, "peer-left", PeerLeftEvent{PeerID: peerID})
	if roomEmpty {
		d.registry.Delete(roomID)
	}
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, c *Client, req Request) {
	var in JoinRoomRequest
	if err := json.Unmarshal(req.Data, &in); err != nil || in.RoomID == "" || in.PeerID == "" {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "roomId and peerId are required"), req.Method)
		return
	}

	rm, err := d.registry.GetOrCreate(ctx, in.RoomID)
	if err != nil {
		d.reply(c, req.ID, err, req.Method)
		return
	}

	p, err := peer.New(ctx, rm, in.PeerID, c, d.transportOpts, d.log)
	if err != nil {
		d.reply(c, req.ID, err, req.Method)
		return
	}
	c.bindPeer(in.RoomID, in.PeerID)

	resp := JoinRoomResponse{
		SendTransport:         describeTransport(p.SendTransport()),
		RecvTransport:         describeTransport(p.RecvTransport()),
		RouterRTPCapabilities: rm.Router().RTPCapabilities(),
	}
	d.replyOK(c, req.ID, resp)

	rm.Broadcast(in.PeerID, "peer-joined", PeerJoinedEvent{PeerID: in.PeerID})
}

func describeTransport(t engine.Transport) TransportDescription {
	return TransportDescription{
		ID:             t.ID(),
		ICEParameters:  t.ICEParameters(),
		ICECandidates:  t.ICECandidates(),
		DTLSParameters: t.DTLSParameters(),
		SCTPParameters: t.SCTPParameters(),
	}
}

func (d *Dispatcher) currentPeer(c *Client) (*room.Room, *peer.Peer, error) {
	roomID, peerID, bound := c.boundPeerID()
	if !bound {
		return nil, nil, apperrors.New(apperrors.ArgumentInvalid, "join-room has not completed")
	}
	rm, ok := d.registry.Lookup(roomID)
	if !ok {
		return nil, nil, apperrors.New(apperrors.NotFound, "room no longer exists")
	}
	ph, ok := rm.GetPeer(peerID)
	if !ok {
		return nil, nil, apperrors.New(apperrors.NotFound, "peer no longer in room")
	}
	p, ok := ph.(*peer.Peer)
	if !ok {
		return nil, nil, apperrors.New(apperrors.EngineFailed, "peer handle of unexpected type")
	}
	return rm, p, nil
}

func (d *Dispatcher) handleConnectTransport(ctx context.Context, c *Client, req Request) {
	_, p, err := d.currentPeer(c)
	if err != nil {
		d.reply(c, req.ID, err, req.Method)
		return
	}

	var in ConnectTransportRequest
	if err := json.Unmarshal(req.Data, &in); err != nil || in.TransportID == "" {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "transportId is required"), req.Method)
		return
	}

	t, ok := p.GetTransport(in.TransportID)
	if !ok {
		d.reply(c, req.ID, apperrors.New(apperrors.NotFound, "unknown transport"), req.Method)
		return
	}

	start := time.Now()
	err = t.Connect(ctx, in.DTLSParameters)
	metrics.ObserveEngineCall("connect_transport", start)
	if err != nil {
		d.reply(c, req.ID, apperrors.Wrap(apperrors.EngineFailed, "connect transport", err), req.Method)
		return
	}
	d.replyOK(c, req.ID, SuccessResponse{Success: true})
}

func (d *Dispatcher) handleProduce(ctx context.Context, c *Client, req Request) {
	rm, p, err := d.currentPeer(c)
	if err != nil {
		d.reply(c, req.ID, err, req.Method)
		return
	}

	var in ProduceRequest
	if err := json.Unmarshal(req.Data, &in); err != nil || in.TransportID == "" || in.Kind == "" {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "transportId and kind are required"), req.Method)
		return
	}

	t, ok := p.GetTransport(in.TransportID)
	if !ok {
		d.reply(c, req.ID, apperrors.New(apperrors.NotFound, "unknown transport"), req.Method)
		return
	}
	if t.Direction() != engine.DirectionSend {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "produce requires a send transport"), req.Method)
		return
	}

	producerID := uuid.NewString()
	start := time.Now()
	prod, err := t.Produce(ctx, producerID, engine.MediaKind(in.Kind), in.RTPParameters)
	metrics.ObserveEngineCall("produce", start)
	if err != nil {
		d.reply(c, req.ID, apperrors.Wrap(apperrors.EngineRejected, "produce", err), req.Method)
		return
	}
	p.AddProducer(prod)

	d.replyOK(c, req.ID, ProduceResponse{ID: producerID})

	metrics.ActiveProducers.Inc()
	rm.Broadcast(p.ID(), "new-producer", NewProducerEvent{PeerID: p.ID(), ProducerID: producerID, Kind: in.Kind})
}

func (d *Dispatcher) handleConsume(ctx context.Context, c *Client, req Request) {
	rm, p, err := d.currentPeer(c)
	if err != nil {
		d.reply(c, req.ID, err, req.Method)
		return
	}

	var in ConsumeRequest
	if jsonErr := json.Unmarshal(req.Data, &in); jsonErr != nil || in.TransportID == "" || in.ProducerID == "" {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "transportId and producerId are required"), req.Method)
		return
	}

	t, ok := p.GetTransport(in.TransportID)
	if !ok {
		d.reply(c, req.ID, apperrors.New(apperrors.NotFound, "unknown transport"), req.Method)
		return
	}
	if t.Direction() != engine.DirectionRecv {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "consume requires a recv transport"), req.Method)
		return
	}

	ownerID, ok := rm.FindProducerOwner(in.ProducerID)
	if !ok {
		d.reply(c, req.ID, apperrors.New(apperrors.NotFound, "producer not found"), req.Method)
		return
	}
	// P4: a peer may never consume its own producer.
	if ownerID == p.ID() {
		d.reply(c, req.ID, apperrors.New(apperrors.Conflict, "cannot consume own producer"), req.Method)
		return
	}

	router := rm.Router()
	if !router.CanConsume(in.ProducerID, in.RTPCapabilities) {
		d.reply(c, req.ID, apperrors.New(apperrors.EngineRejected, "incompatible rtp capabilities"), req.Method)
		return
	}

	ownerHandle, _ := rm.GetPeer(ownerID)
	srcProducer, ok := ownerHandle.GetProducer(in.ProducerID)
	if !ok {
		d.reply(c, req.ID, apperrors.New(apperrors.NotFound, "producer not found"), req.Method)
		return
	}

	consumerID := uuid.NewString()
	start := time.Now()
	cons, err := t.Consume(ctx, consumerID, srcProducer, in.RTPCapabilities)
	metrics.ObserveEngineCall("consume", start)
	if err != nil {
		d.reply(c, req.ID, apperrors.Wrap(apperrors.EngineRejected, "consume", err), req.Method)
		return
	}
	p.AddConsumer(cons)
	metrics.ActiveConsumers.Inc()

	d.replyOK(c, req.ID, ConsumeResponse{
		ID:            consumerID,
		ProducerID:    in.ProducerID,
		Kind:          string(cons.Kind()),
		RTPParameters: cons.RTPParameters(),
	})
}

func (d *Dispatcher) handleResumeConsumer(ctx context.Context, c *Client, req Request) {
	_, p, err := d.currentPeer(c)
	if err != nil {
		d.reply(c, req.ID, err, req.Method)
		return
	}

	var in ResumeConsumerRequest
	if jsonErr := json.Unmarshal(req.Data, &in); jsonErr != nil || in.ConsumerID == "" {
		d.reply(c, req.ID, apperrors.New(apperrors.ArgumentInvalid, "consumerId is required"), req.Method)
		return
	}

	cons, ok := p.GetConsumer(in.ConsumerID)
	if !ok {
		d.reply(c, req.ID, apperrors.New(apperrors.NotFound, "unknown consumer"), req.Method)
		return
	}
	start := time.Now()
	resumeErr := cons.Resume(ctx)
	metrics.ObserveEngineCall("resume_consumer", start)
	if resumeErr != nil {
		d.reply(c, req.ID, apperrors.Wrap(apperrors.EngineFailed, "resume consumer", resumeErr), req.Method)
		return
	}
	d.replyOK(c, req.ID, SuccessResponse{Success: true})
}

func (d *Dispatcher) handleGetProducers(ctx context.Context, c *Client, req Request) {
	rm, p, err := d.currentPeer(c)
	if err != nil {
		d.reply(c, req.ID, err, req.Method)
		return
	}

	summaries := rm.ListProducers(p.ID())
	out := make([]ProducerInfo, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, ProducerInfo{PeerID: s.PeerID, ProducerID: s.ProducerID, Kind: string(s.Kind)})
	}
	d.replyOK(c, req.ID, GetProducersResponse{Producers: out})
}

func (d *Dispatcher) replyOK(c *Client, id string, data interface{}) {
	metrics.MessagesSentTotal.WithLabelValues("ack").Inc()
	if err := c.SendResponse(Response{ID: id, OK: true, Data: data}); err != nil {
		d.log.Debug("ack delivery failed", zap.Error(err))
	}
}

// reply sends a failure acknowledgment. Validation/engine errors (spec.md
// §7 kinds 1-5) render as a plain string; kind Fatal is never reached here
// — worker death is handled by workerpool.Watch, not the dispatcher.
func (d *Dispatcher) reply(c *Client, id string, err error, method string) {
	kind := apperrors.KindOf(err)
	metrics.RequestErrorsTotal.WithLabelValues(method, string(kind)).Inc()
	if sendErr := c.SendResponse(Response{ID: id, OK: false, Error: err.Error()}); sendErr != nil {
		d.log.Debug("error ack delivery failed", zap.Error(sendErr))
	}
}
