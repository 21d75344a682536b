package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine/enginetest"
)

func TestFakeEngineProduceConsume(t *testing.T) {
	ctx := context.Background()
	worker := enginetest.NewWorker()

	router, err := worker.CreateRouter(ctx, []engine.Codec{{Kind: engine.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}})
	require.NoError(t, err)

	sendT, err := router.CreateTransport(ctx, engine.DirectionSend, engine.TransportOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, sendT.ICEParameters().UsernameFragment)

	require.NoError(t, sendT.Connect(ctx, sendT.DTLSParameters()))

	producer, err := sendT.Produce(ctx, "producer-1", engine.KindAudio, engine.RTPParameters{})
	require.NoError(t, err)
	require.False(t, producer.Closed())

	recvT, err := router.CreateTransport(ctx, engine.DirectionRecv, engine.TransportOptions{})
	require.NoError(t, err)

	require.True(t, router.CanConsume(producer.ID(), engine.RTPCapabilities{}))

	consumer, err := recvT.Consume(ctx, "consumer-1", producer, engine.RTPCapabilities{})
	require.NoError(t, err)
	require.Equal(t, producer.ID(), consumer.ProducerID())

	require.NoError(t, consumer.Close())
	require.True(t, consumer.Closed())
	require.NoError(t, producer.Close())
	require.True(t, producer.Closed())
}

func TestWorkerDeathSignalsDead(t *testing.T) {
	worker := enginetest.NewWorker()
	select {
	case <-worker.Dead():
		t.Fatal("worker should not be dead yet")
	default:
	}

	worker.Kill(context.DeadlineExceeded)
	select {
	case err := <-worker.Dead():
		require.Error(t, err)
	default:
		t.Fatal("expected dead signal after Kill")
	}
}
