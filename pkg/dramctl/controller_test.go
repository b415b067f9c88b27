package dramctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := dramconfig.Default()
	cfg.NumBanks = 3
	_, err := New(cfg, func(uint64) {})
	assert.Error(t, err)
}

func TestMakeRequest_RoutesAndCompletes(t *testing.T) {
	cfg := dramconfig.Default()
	cfg.NumChannels = 1
	cfg.NumSubchannels = 1
	cfg.NumRanks = 1

	completed := make(map[uint64]int)
	ctrl, err := New(cfg, func(lineaddr uint64) {
		completed[lineaddr]++
	})
	require.NoError(t, err)

	require.True(t, ctrl.MakeRequest(0, true))

	for i := 0; i < 2000 && completed[0] == 0; i++ {
		ctrl.Tick()
	}
	assert.Equal(t, 1, completed[0])
}

func TestStats_TracksReadsAndWrites(t *testing.T) {
	cfg := dramconfig.Default()
	cfg.NumChannels = 1
	cfg.NumSubchannels = 1
	cfg.NumRanks = 1
	ctrl, err := New(cfg, func(uint64) {})
	require.NoError(t, err)

	ctrl.MakeRequest(0, true)
	ctrl.MakeRequest(64, false)

	stats := ctrl.Stats()
	assert.Equal(t, uint64(1), stats.NumReads)
	assert.Equal(t, uint64(1), stats.NumWrites)
}
