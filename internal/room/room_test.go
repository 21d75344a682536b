package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
)

type fakePeer struct {
	id        string
	producers []ProducerSummary
	events    []string
	fail      bool
	closed    bool
}

func (f *fakePeer) ID() string { return f.id }
func (f *fakePeer) ProducerSummaries() []ProducerSummary { return f.producers }
func (f *fakePeer) GetProducer(producerID string) (engine.Producer, bool) { return nil, false }
func (f *fakePeer) Notify(event string, payload interface{}) {
	if f.fail {
		panic("boom")
	}
	f.events = append(f.events, event)
}
func (f *fakePeer) Close(ctx context.Context) bool {
	f.closed = true
	return true
}

func newTestRoom() *Room {
	return &Room{id: "r1", peers: make(map[string]peerHandle), log: zap.NewNop()}
}

func TestAddPeerRejectsDuplicate(t *testing.T) {
	r := newTestRoom()
	require.NoError(t, r.AddPeer(&fakePeer{id: "a"}))
	require.Error(t, r.AddPeer(&fakePeer{id: "a"}))
}

func TestAddPeerRejectsOverCapacity(t *testing.T) {
	r := newTestRoom()
	r.maxPeers = 1
	require.NoError(t, r.AddPeer(&fakePeer{id: "a"}))
	require.Error(t, r.AddPeer(&fakePeer{id: "b"}))
}

func TestListProducersExcludesSelf(t *testing.T) {
	r := newTestRoom()
	require.NoError(t, r.AddPeer(&fakePeer{id: "a", producers: []ProducerSummary{{PeerID: "a", ProducerID: "p1", Kind: engine.KindVideo}}}))
	require.NoError(t, r.AddPeer(&fakePeer{id: "b"}))

	got := r.ListProducers("a")
	require.Len(t, got, 0)

	got = r.ListProducers("b")
	require.Len(t, got, 1)
	require.Equal(t, "p1", got[0].ProducerID)
}

func TestBroadcastSkipsExcludedAndSurvivesPanic(t *testing.T) {
	r := newTestRoom()
	a := &fakePeer{id: "a"}
	b := &fakePeer{id: "b", fail: true}
	c := &fakePeer{id: "c"}
	require.NoError(t, r.AddPeer(a))
	require.NoError(t, r.AddPeer(b))
	require.NoError(t, r.AddPeer(c))

	require.NotPanics(t, func() {
		r.Broadcast("a", "peer-joined", map[string]string{"peerId": "a"})
	})

	require.Empty(t, a.events)
	require.Empty(t, b.events)
	require.Equal(t, []string{"peer-joined"}, c.events)
}

func TestPeersSnapshotAndClose(t *testing.T) {
	r := newTestRoom()
	a := &fakePeer{id: "a"}
	b := &fakePeer{id: "b"}
	require.NoError(t, r.AddPeer(a))
	require.NoError(t, r.AddPeer(b))

	snapshot := r.Peers()
	require.Len(t, snapshot, 2)
	for _, p := range snapshot {
		p.Close(context.Background())
	}

	require.True(t, a.closed)
	require.True(t, b.closed)
}

func TestRemovePeerReportsRemainingCount(t *testing.T) {
	r := newTestRoom()
	require.NoError(t, r.AddPeer(&fakePeer{id: "a"}))
	require.NoError(t, r.AddPeer(&fakePeer{id: "b"}))

	require.Equal(t, 1, r.RemovePeer("a"))
	require.Equal(t, 0, r.RemovePeer("b"))
	require.True(t, r.IsEmpty())
}
