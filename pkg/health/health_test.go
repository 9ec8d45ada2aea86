package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomas-eckhart/memlife/pkg/store"
)

func TestAggregate_ReportsCountsAndLastRun(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.CreateNode(ctx, &store.MemoryNode{UUID: "a", LifecycleState: "ACTIVE", Importance: 4, Stability: 3, DecayScore: 0.1}))
	require.NoError(t, s.CreateNode(ctx, &store.MemoryNode{UUID: "b", LifecycleState: "SOFT_DELETED", Importance: 1, Stability: 1, DecayScore: 0.9}))

	last := RunInfo{
		Status:          RunSuccess,
		Duration:        2 * time.Second,
		NextScheduledAt: time.Now().Add(time.Hour),
		Classification:  ClassificationCounts{Succeeded: 5, Fallback: 1},
	}

	snap, err := Aggregate(ctx, s, last)
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.TotalMemories)
	assert.Equal(t, int64(1), snap.CountByState["ACTIVE"])
	assert.Equal(t, int64(1), snap.CountByState["SOFT_DELETED"])
	assert.Equal(t, RunSuccess, snap.LastMaintenanceStatus)
	assert.Equal(t, int64(5), snap.Classification.Succeeded)
}

func TestAggregate_EmptyStore(t *testing.T) {
	s := store.NewMemStore()
	snap, err := Aggregate(context.Background(), s, RunInfo{Status: RunUnknown})
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalMemories)
}
