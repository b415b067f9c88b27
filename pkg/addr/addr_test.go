package addr

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
)

func testConfig(mapping dramconfig.AddressMapping) dramconfig.Config {
	cfg := dramconfig.Default()
	cfg.AddressMapping = mapping
	return cfg
}

// significantBitsMask returns the mask of address bits a topology's
// fields actually cover; Decode→Encode only round-trips an address
// already confined to its significant bits, per the masked-comparison
// caveat for the address round-trip property.
func significantBitsMask(cfg dramconfig.Config) uint64 {
	total := widthOf(cfg.NumChannels) + widthOf(cfg.NumSubchannels) + widthOf(cfg.NumRanks) +
		widthOf(cfg.NumBankGroups) + widthOf(cfg.NumBanks) + widthOf(cfg.NumRows) + widthOf(cfg.NumColumns)
	return mask(total)
}

func TestLinearMapping_RoundTrip(t *testing.T) {
	cfg := testConfig(dramconfig.MappingLinear)
	m, err := NewMapping(cfg)
	require.NoError(t, err)
	sigMask := significantBitsMask(cfg)

	cases := []uint64{0, 1, 0xABCDEF, 0xFFFFFFFFFFFF}
	for _, lineaddr := range cases {
		lineaddr &= sigMask
		f := m.Decode(lineaddr)
		back := m.Encode(f)
		if back != lineaddr {
			t.Run("mismatch", func(t *testing.T) {
				t.Fatalf("round trip failed for 0x%x: got 0x%x, fields=%+v", lineaddr, back, f)
			})
		}
	}
}

func TestMOPNMapping_RoundTrip(t *testing.T) {
	cfg := testConfig(dramconfig.MappingMOPN)
	m, err := NewMapping(cfg)
	require.NoError(t, err)
	sigMask := significantBitsMask(cfg)

	cases := []uint64{0, 1, 2, 3, 0xABCDEF, 0xFFFFFFFFFFFF}
	for _, lineaddr := range cases {
		lineaddr &= sigMask
		f := m.Decode(lineaddr)
		back := m.Encode(f)
		require.Equalf(t, lineaddr, back, "fields=%+v", f)
	}
}

func TestMOPNMapping_InterleavesLowColumnBits(t *testing.T) {
	cfg := testConfig(dramconfig.MappingMOPN)
	cfg.NumChannels = 1
	cfg.NumSubchannels = 2
	cfg.NumRanks = 1
	cfg.NumBankGroups = 1
	cfg.NumBanks = 1
	m, err := NewMapping(cfg)
	require.NoError(t, err)

	f0 := m.Decode(0)
	f1 := m.Decode(1 << mopnLowWidth)
	if diff := cmp.Diff(f0.Subchannel, uint64(0)); diff != "" {
		t.Errorf("unexpected subchannel for address 0 (-got +want):\n%s", diff)
	}
	if f1.Subchannel == f0.Subchannel {
		t.Errorf("expected differing subchannel field after advancing past the low column bits")
	}
}
