package bank

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
)

func newTestBank(t *testing.T) (*Bank, dramconfig.Config) {
	t.Helper()
	cfg := dramconfig.Default()
	rng := rand.New(rand.NewSource(1))
	return New(cfg, rng), cfg
}

func TestActivateReadPrecharge_BasicTiming(t *testing.T) {
	b, cfg := newTestBank(t)

	actCmd := Command{Type: Activate, Row: 5}
	require.True(t, b.CanExecute(actCmd, 0))
	lat := b.Execute(actCmd, 0)
	assert.Equal(t, cfg.TRCD, lat)
	assert.Equal(t, uint64(5), b.OpenRow)

	readCmd := Command{Type: Read, Row: 5}
	assert.False(t, b.CanExecute(readCmd, 0), "column access before tRCD must be rejected")
	assert.True(t, b.CanExecute(readCmd, uint64(cfg.TRCD)))

	readLat := b.Execute(readCmd, uint64(cfg.TRCD))
	assert.Equal(t, cfg.CL+cfg.BurstLength()/2, readLat)
}

func TestPrecharge_RequiresOpenRow(t *testing.T) {
	b, _ := newTestBank(t)
	assert.False(t, b.CanExecute(Command{Type: Precharge}, 0))
}

func TestPrecharge_ClearsOpenRowAndResetsConsecutiveAccesses(t *testing.T) {
	b, cfg := newTestBank(t)
	b.Execute(Command{Type: Activate, Row: 1}, 0)
	b.Execute(Command{Type: Read, Row: 1}, uint64(cfg.TRCD))
	assert.Equal(t, 1, b.ConsecutiveColumnAccesses)

	now := uint64(cfg.TRCD) + uint64(cfg.TRAS)
	require.True(t, b.CanExecute(Command{Type: Precharge}, now))
	b.Execute(Command{Type: Precharge}, now)

	assert.Equal(t, NoRow, b.OpenRow)
	assert.Equal(t, 0, b.ConsecutiveColumnAccesses)
}

func TestRefresh_DecrementsRAAAndClearsOpenRow(t *testing.T) {
	b, cfg := newTestBank(t)
	cfg.RefRAADecrement = 3
	b2 := New(cfg, rand.New(rand.NewSource(1)))
	b2.Execute(Command{Type: Activate, Row: 0}, 0)
	b2.RAACounter = 5

	now := uint64(cfg.TRAS)
	b2.Execute(Command{Type: Refresh}, now)

	assert.Equal(t, NoRow, b2.OpenRow)
	assert.Equal(t, 2, b2.RAACounter)
	_ = b
}

func TestNeedsRFM_OnlyWhenModeEnabledAndThresholdCrossed(t *testing.T) {
	cfg := dramconfig.Default()
	cfg.RFMMode = dramconfig.RFMAllBank
	cfg.RAAMMT = 2
	b := New(cfg, rand.New(rand.NewSource(1)))

	assert.False(t, b.NeedsRFM())
	b.RAACounter = 2
	assert.True(t, b.NeedsRFM())
}

func TestGeostatBin_Monotonic(t *testing.T) {
	prev := -1
	for _, v := range []uint16{0, 1, 2, 3, 4, 8, 16, 1024, 65535} {
		bin := getGeostatBin(v)
		assert.GreaterOrEqual(t, bin, prev)
		assert.Less(t, bin, numGeostatBins)
		prev = bin
	}
}
