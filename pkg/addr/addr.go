// Package addr decomposes a 64-bit line address into the channel,
// sub-channel, rank, bank-group, bank, row, and column fields used to
// route a request through the memory hierarchy, and reassembles the
// fields back into a line address for round-trip testing.
package addr

import (
	"fmt"
	"math/bits"

	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
)

// Fields is the decoded address tuple.
type Fields struct {
	Channel    uint64
	Subchannel uint64
	Rank       uint64
	BankGroup  uint64
	Bank       uint64
	Row        uint64
	Column     uint64
}

// Mapping decodes and reassembles line addresses under one fixed scheme.
type Mapping interface {
	Decode(lineaddr uint64) Fields
	Encode(f Fields) uint64
}

func widthOf(n int) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}

func mask(w uint) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << w) - 1
}

// NewMapping constructs the configured Mapping. It does not check the
// topology counts itself: field widths are derived on the assumption
// that every count is a power of two, which dramconfig.Validate enforces
// (dramctl.New runs Validate before calling NewMapping).
func NewMapping(cfg dramconfig.Config) (Mapping, error) {
	widths := bitWidths{
		ch: widthOf(cfg.NumChannels),
		sc: widthOf(cfg.NumSubchannels),
		ra: widthOf(cfg.NumRanks),
		bg: widthOf(cfg.NumBankGroups),
		ba: widthOf(cfg.NumBanks),
		ro: widthOf(cfg.NumRows),
		co: widthOf(cfg.NumColumns),
	}
	switch cfg.AddressMapping {
	case dramconfig.MappingLinear:
		return newLinearMapping(widths), nil
	case dramconfig.MappingMOPN:
		return newMOPNMapping(widths), nil
	default:
		return nil, fmt.Errorf("addr: unknown address mapping %d", cfg.AddressMapping)
	}
}

type bitWidths struct {
	ch, sc, ra, bg, ba, ro, co uint
}

// linearMapping lays out fields contiguously, low to high: channel,
// sub-channel, bank-group, bank, rank, column, row.
type linearMapping struct {
	w                                    bitWidths
	chOff, scOff, bgOff, baOff, raOff, coOff, roOff uint
}

func newLinearMapping(w bitWidths) *linearMapping {
	m := &linearMapping{w: w}
	m.chOff = 0
	m.scOff = m.chOff + w.ch
	m.bgOff = m.scOff + w.sc
	m.baOff = m.bgOff + w.bg
	m.raOff = m.baOff + w.ba
	m.coOff = m.raOff + w.ra
	m.roOff = m.coOff + w.co
	return m
}

func (m *linearMapping) Decode(x uint64) Fields {
	return Fields{
		Channel:    (x >> m.chOff) & mask(m.w.ch),
		Subchannel: (x >> m.scOff) & mask(m.w.sc),
		BankGroup:  (x >> m.bgOff) & mask(m.w.bg),
		Bank:       (x >> m.baOff) & mask(m.w.ba),
		Rank:       (x >> m.raOff) & mask(m.w.ra),
		Column:     (x >> m.coOff) & mask(m.w.co),
		Row:        (x >> m.roOff) & mask(m.w.ro),
	}
}

func (m *linearMapping) Encode(f Fields) uint64 {
	return (f.Channel << m.chOff) |
		(f.Subchannel << m.scOff) |
		(f.BankGroup << m.bgOff) |
		(f.Bank << m.baOff) |
		(f.Rank << m.raOff) |
		(f.Column << m.coOff) |
		(f.Row << m.roOff)
}

// mopnMapping interleaves the low bits of column ("B_LOW") beneath
// sub-channel/channel/bank-group/bank/rank, then the remaining high
// column bits, then row. Grounded on src/dram/address/mop4.inl.
type mopnMapping struct {
	w        bitWidths
	lowWidth uint
	scOff, chOff, bgOff, baOff, raOff, hiOff, roOff uint
}

const mopnLowWidth = 2

func newMOPNMapping(w bitWidths) *mopnMapping {
	lowWidth := mopnLowWidth
	if uint(lowWidth) > w.co {
		lowWidth = int(w.co)
	}
	m := &mopnMapping{w: w, lowWidth: uint(lowWidth)}
	m.scOff = m.lowWidth
	m.chOff = m.scOff + w.sc
	m.bgOff = m.chOff + w.ch
	m.baOff = m.bgOff + w.bg
	m.raOff = m.baOff + w.ba
	m.hiOff = m.raOff + w.ra
	m.roOff = m.hiOff + (w.co - m.lowWidth)
	return m
}

func (m *mopnMapping) Decode(x uint64) Fields {
	hiWidth := m.w.co - m.lowWidth
	lwr := x & mask(m.lowWidth)
	upp := (x >> m.hiOff) & mask(hiWidth)
	return Fields{
		Channel:    (x >> m.chOff) & mask(m.w.ch),
		Subchannel: (x >> m.scOff) & mask(m.w.sc),
		BankGroup:  (x >> m.bgOff) & mask(m.w.bg),
		Bank:       (x >> m.baOff) & mask(m.w.ba),
		Rank:       (x >> m.raOff) & mask(m.w.ra),
		Row:        (x >> m.roOff) & mask(m.w.ro),
		Column:     lwr | (upp << m.lowWidth),
	}
}

func (m *mopnMapping) Encode(f Fields) uint64 {
	hiWidth := m.w.co - m.lowWidth
	lwr := f.Column & mask(m.lowWidth)
	upp := (f.Column >> m.lowWidth) & mask(hiWidth)
	return lwr |
		(f.Subchannel << m.scOff) |
		(f.Channel << m.chOff) |
		(f.BankGroup << m.bgOff) |
		(f.Bank << m.baOff) |
		(f.Rank << m.raOff) |
		(upp << m.hiOff) |
		(f.Row << m.roOff)
}
