package peer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine/enginetest"
	"github.com/adityaadpandey/sfu-coordinator/internal/peer"
	"github.com/adityaadpandey/sfu-coordinator/internal/room"
	"github.com/adityaadpandey/sfu-coordinator/internal/workerpool"
)

type fakeSender struct {
	events []string
}

func (f *fakeSender) Send(event string, payload interface{}) error {
	f.events = append(f.events, event)
	return nil
}

func newTestRoom(t *testing.T) *room.Room {
	t.Helper()
	pool := workerpool.New([]engine.Worker{enginetest.NewWorker()}, zap.NewNop())
	reg := room.NewRegistry(pool, []engine.Codec{{Kind: engine.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}}, 0, 0, zap.NewNop())
	r, err := reg.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	return r
}

func TestNewRejectsDuplicatePeerID(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()

	_, err := peer.New(ctx, r, "a", &fakeSender{}, engine.TransportOptions{}, zap.NewNop())
	require.NoError(t, err)

	_, err = peer.New(ctx, r, "a", &fakeSender{}, engine.TransportOptions{}, zap.NewNop())
	require.Error(t, err)
}

func TestProduceTransitionsToProducing(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	p, err := peer.New(ctx, r, "a", &fakeSender{}, engine.TransportOptions{}, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, peer.StateJoined, p.State())

	prod, err := p.SendTransport().Produce(ctx, "prod1", engine.KindAudio, engine.RTPParameters{})
	require.NoError(t, err)
	p.AddProducer(prod)

	require.Equal(t, peer.StateProducing, p.State())
	require.Len(t, p.ProducerSummaries(), 1)
}

func TestCloseTearsDownAndEmptiesRoom(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	p, err := peer.New(ctx, r, "a", &fakeSender{}, engine.TransportOptions{}, zap.NewNop())
	require.NoError(t, err)

	prod, err := p.SendTransport().Produce(ctx, "prod1", engine.KindAudio, engine.RTPParameters{})
	require.NoError(t, err)
	p.AddProducer(prod)

	roomEmpty := p.Close(ctx)
	require.True(t, roomEmpty)
	require.Equal(t, peer.StateClosed, p.State())
	require.True(t, prod.Closed())
}

func TestTransportCloseCascadesToProducers(t *testing.T) {
	r := newTestRoom(t)
	ctx := context.Background()
	p, err := peer.New(ctx, r, "a", &fakeSender{}, engine.TransportOptions{}, zap.NewNop())
	require.NoError(t, err)

	prod, err := p.SendTransport().Produce(ctx, "prod1", engine.KindAudio, engine.RTPParameters{})
	require.NoError(t, err)
	p.AddProducer(prod)

	require.NoError(t, p.SendTransport().Close())
	require.True(t, prod.Closed())
	require.Empty(t, p.ProducerSummaries())
}
