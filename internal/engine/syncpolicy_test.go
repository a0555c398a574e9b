package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenWAL(t *testing.T) *WAL {
	t.Helper()
	wal := NewWAL(t.TempDir())
	require.NoError(t, wal.Open())
	return wal
}

func TestSyncPolicy_SyncModeSyncsEveryAppend(t *testing.T) {
	wal := newOpenWAL(t)
	p := newSyncPolicy(Config{WriteMode: SyncMode})

	for i := 0; i < 3; i++ {
		require.NoError(t, p.afterWALAppend(wal))
	}
	assert.EqualValues(t, 3, p.fsyncCount)
	assert.Equal(t, 0, p.pendingOps)
}

func TestSyncPolicy_BatchModeSyncsAtThreshold(t *testing.T) {
	wal := newOpenWAL(t)
	p := newSyncPolicy(Config{WriteMode: BatchMode, BatchSize: 3, BatchIntervalMS: 10_000})

	require.NoError(t, p.afterWALAppend(wal))
	require.NoError(t, p.afterWALAppend(wal))
	assert.EqualValues(t, 0, p.fsyncCount, "must not sync before batchSize ops accumulate")

	require.NoError(t, p.afterWALAppend(wal))
	assert.EqualValues(t, 1, p.fsyncCount)
	assert.Equal(t, 0, p.pendingOps)
}

func TestSyncPolicy_AdaptiveModeStartsAtBaseBatchSize(t *testing.T) {
	p := newSyncPolicy(Config{WriteMode: AdaptiveMode, BatchSize: 16})
	assert.Equal(t, 16, p.adaptiveBatchSize)
}

func TestSyncPolicy_AdaptiveUpdateTakesEffectNextWindowOnly(t *testing.T) {
	wal := newOpenWAL(t)
	p := newSyncPolicy(Config{WriteMode: AdaptiveMode, BatchSize: 4, BatchIntervalMS: 10_000})

	for i := 0; i < 4; i++ {
		require.NoError(t, p.afterWALAppend(wal))
	}
	require.EqualValues(t, 1, p.fsyncCount)

	p.updateAdaptiveBatchSize(50_000)
	assert.Equal(t, 16, p.adaptiveBatchSize, "direct call proves the update itself only changes the threshold, not a past sync")

	for i := 0; i < 4; i++ {
		require.NoError(t, p.afterWALAppend(wal))
	}
	assert.EqualValues(t, 1, p.fsyncCount, "the next window uses the widened threshold of 16, so 4 more appends do not sync")
}

func TestSyncPolicy_UpdateAdaptiveBatchSizeBands(t *testing.T) {
	p := newSyncPolicy(Config{WriteMode: AdaptiveMode, BatchSize: 10})

	p.updateAdaptiveBatchSize(20_000)
	assert.Equal(t, 40, p.adaptiveBatchSize, "high qps band widens to 4x base")

	p.updateAdaptiveBatchSize(500)
	assert.Equal(t, 10, p.adaptiveBatchSize, "low qps band resets to base")

	p.adaptiveBatchSize = 40
	p.updateAdaptiveBatchSize(5_000)
	assert.Equal(t, 40, p.adaptiveBatchSize, "moderate qps leaves the current threshold unchanged")
}
