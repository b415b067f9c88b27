package subchannel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhasvittal-dramsim/dramsim/pkg/addr"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
)

func newTestSubchannel(t *testing.T, cfg dramconfig.Config) *Subchannel {
	t.Helper()
	m, err := addr.NewMapping(cfg)
	require.NoError(t, err)
	return New(cfg, m, rand.New(rand.NewSource(1)))
}

func TestMakeRequest_WriteForwarding(t *testing.T) {
	cfg := dramconfig.Default()
	sc := newTestSubchannel(t, cfg)

	require.True(t, sc.MakeRequest(42, false, 0, 0))
	require.True(t, sc.MakeRequest(42, true, 0, 0))

	completed := false
	sc.DrainFinished(0, func(tr Transaction) {
		completed = true
		assert.Equal(t, uint64(42), tr.Lineaddr)
		assert.Equal(t, uint64(0), tr.DRAMCycleFinished)
	})
	assert.True(t, completed, "a read matching a pending write must be forwarded immediately")
}

func TestMakeRequest_RejectsOverCapacityReads(t *testing.T) {
	cfg := dramconfig.Default()
	cfg.ReadQueueCapacity = 1
	sc := newTestSubchannel(t, cfg)

	require.True(t, sc.MakeRequest(1, true, 0, 0))
	assert.False(t, sc.MakeRequest(2, true, 0, 0))
}

func TestTick_ServesASingleRead(t *testing.T) {
	cfg := dramconfig.Default()
	sc := newTestSubchannel(t, cfg)
	require.True(t, sc.MakeRequest(0, true, 0, 0))

	var completedAt uint64
	var gotLineaddr uint64
	sawComplete := false

	var now uint64
	for now = 0; now < uint64(cfg.TRCD+cfg.CL+cfg.BurstLength()+50); now++ {
		sc.Tick(now)
		sc.DrainFinished(now, func(tr Transaction) {
			sawComplete = true
			completedAt = now
			gotLineaddr = tr.Lineaddr
		})
		if sawComplete {
			break
		}
	}

	require.True(t, sawComplete, "expected the read to complete within the simulated window")
	assert.Equal(t, uint64(0), gotLineaddr)
	assert.GreaterOrEqual(t, completedAt, uint64(cfg.TRCD+cfg.CL))
}

func TestWriteDrain_OpportunisticWhenCommandQueuesEmpty(t *testing.T) {
	cfg := dramconfig.Default()
	cfg.WriteDrainThreshold = 2
	sc := newTestSubchannel(t, cfg)

	for i := uint64(0); i < 3; i++ {
		require.True(t, sc.MakeRequest(i*uint64(cfg.NumRows)*uint64(cfg.NumBanks)*uint64(cfg.NumBankGroups), false, 0, 0))
	}

	sc.scheduleNextRequest()
	assert.Greater(t, sc.numWritesToDrain, 0, "an idle command-queue with more than the drain threshold buffered should opportunistically drain")
}
