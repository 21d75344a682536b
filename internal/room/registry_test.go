package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adityaadpandey/sfu-coordinator/internal/engine"
	"github.com/adityaadpandey/sfu-coordinator/internal/engine/enginetest"
	"github.com/adityaadpandey/sfu-coordinator/internal/workerpool"
)

func newTestPool() *workerpool.Pool {
	return workerpool.New([]engine.Worker{enginetest.NewWorker()}, zap.NewNop())
}

func TestGetOrCreateRejectsOverRoomCapacity(t *testing.T) {
	reg := NewRegistry(newTestPool(), nil, 1, 0, zap.NewNop())

	_, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)

	_, err = reg.GetOrCreate(context.Background(), "r2")
	require.Error(t, err)
}

func TestGetOrCreateAllowsRepeatedLookupAtCapacity(t *testing.T) {
	reg := NewRegistry(newTestPool(), nil, 1, 0, zap.NewNop())

	r1, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)

	r1Again, err := reg.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)
	require.Same(t, r1, r1Again)
}
