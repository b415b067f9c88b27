package dramconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 40, cfg.CL)
	assert.Equal(t, 40, cfg.TRCD)
	assert.Equal(t, 40, cfg.TRP)
	assert.Equal(t, 77, cfg.TRAS)
	assert.Equal(t, 32, cfg.TFAW)
	assert.Equal(t, 9390, cfg.TREFI)
	assert.Equal(t, 984, cfg.TRFC)
	assert.Equal(t, 16, cfg.BurstLength())
}

func TestValidate_RejectsNonPowerOfTwoTopology(t *testing.T) {
	t.Run("NumBanks", func(t *testing.T) {
		cfg := Default()
		cfg.NumBanks = 3
		assert.Error(t, cfg.Validate())
	})
	t.Run("NumRows", func(t *testing.T) {
		cfg := Default()
		cfg.NumRows = 100
		assert.Error(t, cfg.Validate())
	})
}

func TestValidate_RejectsSameBankRefresh(t *testing.T) {
	cfg := Default()
	cfg.RefreshMethod = RefreshSameBank
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadLineSize(t *testing.T) {
	cfg := Default()
	cfg.LineSize = 33
	assert.Error(t, cfg.Validate())
}
