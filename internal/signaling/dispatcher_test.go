package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine/enginetest"
	"github.com/adityaadpandey/sfu-coordinator/internal/room"
	"github.com/adityaadpandey/sfu-coordinator/internal/workerpool"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	pool := workerpool.New([]engine.Worker{enginetest.NewWorker()}, zap.NewNop())
	reg := room.NewRegistry(pool, []engine.Codec{{Kind: engine.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}, 0, 0, zap.NewNop())
	return NewDispatcher(reg, NewHub(zap.NewNop()), engine.TransportOptions{EnableUDP: true}, 1000, 1000, zap.NewNop())
}

func newTestClient() *Client {
	return NewClient(nil, zap.NewNop())
}

func nextMessage(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case b := <-c.send:
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(b, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("expected a message, got none")
		return nil
	}
}

func requestData(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestJoinRoomSinglePeer(t *testing.T) {
	d := newTestDispatcher(t)
	a := newTestClient()

	d.dispatch(a, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "a"})})

	msg := nextMessage(t, a)
	require.Equal(t, true, msg["ok"])
	data := msg["data"].(map[string]interface{})
	require.NotEmpty(t, data["sendTransport"])
	require.NotEmpty(t, data["recvTransport"])
}

func TestJoinRoomTwoPeerBootstrap(t *testing.T) {
	d := newTestDispatcher(t)
	a := newTestClient()
	b := newTestClient()

	d.dispatch(a, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "a"})})
	nextMessage(t, a) // a's own ack

	d.dispatch(b, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "b"})})
	nextMessage(t, b) // b's own ack

	evt := nextMessage(t, a)
	require.Equal(t, "peer-joined", evt["event"])
	data := evt["data"].(map[string]interface{})
	require.Equal(t, "b", data["peerId"])
}

func TestProduceFansOutNewProducer(t *testing.T) {
	d := newTestDispatcher(t)
	a, b := newTestClient(), newTestClient()

	d.dispatch(a, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "a"})})
	joinA := nextMessage(t, a)
	sendTransportID := joinA["data"].(map[string]interface{})["sendTransport"].(map[string]interface{})["id"].(string)

	d.dispatch(b, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "b"})})
	nextMessage(t, b)
	nextMessage(t, a) // peer-joined(b)

	d.dispatch(a, Request{ID: "2", Method: "produce", Data: requestData(t, ProduceRequest{TransportID: sendTransportID, Kind: "video"})})
	ack := nextMessage(t, a)
	require.Equal(t, true, ack["ok"])
	producerID := ack["data"].(map[string]interface{})["id"].(string)
	require.NotEmpty(t, producerID)

	evt := nextMessage(t, b)
	require.Equal(t, "new-producer", evt["event"])
	data := evt["data"].(map[string]interface{})
	require.Equal(t, "a", data["peerId"])
	require.Equal(t, producerID, data["producerId"])
}

func TestLateJoinerGetProducers(t *testing.T) {
	d := newTestDispatcher(t)
	a, c := newTestClient(), newTestClient()

	d.dispatch(a, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "a"})})
	joinA := nextMessage(t, a)
	sendTransportID := joinA["data"].(map[string]interface{})["sendTransport"].(map[string]interface{})["id"].(string)

	d.dispatch(a, Request{ID: "2", Method: "produce", Data: requestData(t, ProduceRequest{TransportID: sendTransportID, Kind: "video"})})
	ack := nextMessage(t, a)
	producerID := ack["data"].(map[string]interface{})["id"].(string)

	d.dispatch(c, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "c"})})
	nextMessage(t, c)
	nextMessage(t, a) // peer-joined(c)

	d.dispatch(c, Request{ID: "2", Method: "get-producers", Data: requestData(t, struct{}{})})
	resp := nextMessage(t, c)
	producers := resp["data"].(map[string]interface{})["producers"].([]interface{})
	require.Len(t, producers, 1)
	first := producers[0].(map[string]interface{})
	require.Equal(t, producerID, first["producerId"])
	require.Equal(t, "a", first["peerId"])
}

func TestSelfConsumeRefused(t *testing.T) {
	d := newTestDispatcher(t)
	a := newTestClient()

	d.dispatch(a, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "a"})})
	joinA := nextMessage(t, a)
	data := joinA["data"].(map[string]interface{})
	sendTransportID := data["sendTransport"].(map[string]interface{})["id"].(string)
	recvTransportID := data["recvTransport"].(map[string]interface{})["id"].(string)

	d.dispatch(a, Request{ID: "2", Method: "produce", Data: requestData(t, ProduceRequest{TransportID: sendTransportID, Kind: "video"})})
	ack := nextMessage(t, a)
	producerID := ack["data"].(map[string]interface{})["id"].(string)

	d.dispatch(a, Request{ID: "3", Method: "consume", Data: requestData(t, ConsumeRequest{TransportID: recvTransportID, ProducerID: producerID})})
	resp := nextMessage(t, a)
	require.Equal(t, false, resp["ok"])
	require.NotEmpty(t, resp["error"])
}

func TestDisconnectNotifiesPeerLeft(t *testing.T) {
	d := newTestDispatcher(t)
	a, b := newTestClient(), newTestClient()

	d.dispatch(a, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "a"})})
	nextMessage(t, a)
	d.dispatch(b, Request{ID: "1", Method: "join-room", Data: requestData(t, JoinRoomRequest{RoomID: "r1", PeerID: "b"})})
	nextMessage(t, b)
	nextMessage(t, a) // peer-joined(b)

	d.handleDisconnect(a)

	evt := nextMessage(t, b)
	require.Equal(t, "peer-left", evt["event"])
	require.Equal(t, "a", evt["data"].(map[string]interface{})["peerId"])

	rm, ok := d.registry.Lookup("r1")
	require.True(t, ok)
	require.Equal(t, 1, rm.PeerCount())
}
