package workerpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine/enginetest"
	"github.com/adityaadpandey/sfu-coordinator/internal/workerpool"
)

func TestNextRoundRobins(t *testing.T) {
	w1, w2 := enginetest.NewWorker(), enginetest.NewWorker()
	pool := workerpool.New([]engine.Worker{w1, w2}, zap.NewNop())

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		seen[pool.Next().ID()]++
	}
	require.Equal(t, 2, seen[w1.ID()])
	require.Equal(t, 2, seen[w2.ID()])
}

func TestWatchReturnsOnWorkerDeath(t *testing.T) {
	w1, w2 := enginetest.NewWorker(), enginetest.NewWorker()
	pool := workerpool.New([]engine.Worker{w1, w2}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		w2.Kill(context.DeadlineExceeded)
	}()

	err := pool.Watch(ctx)
	require.Error(t, err)
}
