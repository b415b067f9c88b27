// Package bank implements the per-bank row-buffer state machine (C2):
// timing fences, the open-row invariant, and the RowHammer mitigation
// counters (RAA, MIRZA, MOAT) that ride along with every activation.
package bank

import (
	"math/rand"

	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramlog"
)

// CmdType enumerates the commands a bank can execute.
type CmdType int

const (
	Read CmdType = iota
	Write
	Activate
	Precharge
	ReadPrecharge
	WritePrecharge
	Refresh
	RFMsb
	RFMab
)

func (t CmdType) String() string {
	switch t {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	case Activate:
		return "ACTIVATE"
	case Precharge:
		return "PRECHARGE"
	case ReadPrecharge:
		return "READ_PRECHARGE"
	case WritePrecharge:
		return "WRITE_PRECHARGE"
	case Refresh:
		return "REFRESH"
	case RFMsb:
		return "RFMsb"
	case RFMab:
		return "RFMab"
	default:
		return "UNKNOWN"
	}
}

// Command is a value object describing one bank-level operation.
type Command struct {
	Type      CmdType
	Row       uint64
	Lineaddr  uint64
}

// NoRow is the sentinel meaning "no row is open."
const NoRow = ^uint64(0)

const numGeostatBins = 13

// mirzaEntry is one row tracked by the quarantine queue.
type mirzaEntry struct {
	row    uint64
	group  uint64
	actctr int
}

// Bank is the state of a single (channel, subchannel, rank, bankgroup,
// bank) row buffer plus its RowHammer counters.
type Bank struct {
	cfg dramconfig.Config
	rng *rand.Rand

	OpenRow                   uint64
	BusyWithRefUntil          uint64
	ConsecutiveColumnAccesses int

	NextPrechargeOK     uint64
	NextActivateOK      uint64
	NextColumnAccessOK  uint64

	Activations uint64
	prac        []uint16
	RAACounter  int

	refIdx uint64

	// MIRZA state.
	mirzaGroupCount []int
	mirzaQueue      []mirzaEntry

	// MOAT state.
	moatRow   uint64
	moatValid bool

	PrACHistogram [numGeostatBins]uint64
}

// New constructs a bank with all fences quiescent and no open row.
func New(cfg dramconfig.Config, rng *rand.Rand) *Bank {
	b := &Bank{
		cfg:     cfg,
		rng:     rng,
		OpenRow: NoRow,
	}
	b.prac = make([]uint16, cfg.NumRows)
	if cfg.MirzaMode && cfg.MirzaGroups > 0 {
		b.mirzaGroupCount = make([]int, cfg.MirzaGroups)
	}
	return b
}

func getGeostatBin(v uint16) int {
	if v == 0 {
		return 0
	}
	bin := 1
	threshold := uint16(1)
	for v > threshold && bin < numGeostatBins-1 {
		threshold <<= 1
		bin++
	}
	return bin
}

// CanExecute reports whether cmd may legally execute against this bank
// at DRAM cycle now, given the bank's own fences. Rank-level fences
// (tCCD, tRRD, tFAW) are checked separately by the rank.
func (b *Bank) CanExecute(cmd Command, now uint64) bool {
	if now < b.BusyWithRefUntil {
		return false
	}
	switch cmd.Type {
	case Activate:
		return b.OpenRow == NoRow && now >= b.NextActivateOK
	case Precharge:
		return b.OpenRow != NoRow && now >= b.NextPrechargeOK
	case Read, Write:
		return b.OpenRow == cmd.Row && now >= b.NextColumnAccessOK
	case ReadPrecharge, WritePrecharge:
		return b.OpenRow == cmd.Row && now >= b.NextColumnAccessOK && now >= b.NextPrechargeOK
	case Refresh:
		return b.OpenRow == NoRow
	case RFMsb, RFMab:
		return true
	default:
		return false
	}
}

// Execute applies cmd's state transition and returns the command's
// latency in DRAM cycles. Callers must have already confirmed
// CanExecute and any rank-level fences.
func (b *Bank) Execute(cmd Command, now uint64) int {
	bl := b.cfg.BurstLength()
	switch cmd.Type {
	case Activate:
		b.OpenRow = cmd.Row
		b.NextPrechargeOK = now + uint64(b.cfg.TRAS)
		b.NextColumnAccessOK = now + uint64(b.cfg.TRCD)
		b.Activations++
		b.onActivate(cmd.Row, now)
		return b.cfg.TRCD
	case Precharge:
		b.OpenRow = NoRow
		b.ConsecutiveColumnAccesses = 0
		b.NextActivateOK = now + uint64(b.cfg.TRP)
		return b.cfg.TRP
	case Read:
		b.ConsecutiveColumnAccesses++
		return b.cfg.CL + bl/2
	case Write:
		b.ConsecutiveColumnAccesses++
		return b.cfg.CWL + bl/2
	case ReadPrecharge:
		lat := b.cfg.CL + bl/2
		b.OpenRow = NoRow
		b.ConsecutiveColumnAccesses = 0
		b.NextActivateOK = now + uint64(b.cfg.TRP)
		return lat
	case WritePrecharge:
		lat := b.cfg.CWL + bl/2
		b.OpenRow = NoRow
		b.ConsecutiveColumnAccesses = 0
		b.NextActivateOK = now + uint64(b.cfg.TRP)
		return lat
	case Refresh:
		b.BusyWithRefUntil = now + uint64(b.cfg.TRFC)
		b.OpenRow = NoRow
		b.RAACounter -= b.cfg.RefRAADecrement
		if b.RAACounter < 0 {
			b.RAACounter = 0
		}
		b.refreshStripe(b.cfg.RowsRefreshedPerRef)
		return b.cfg.TRFC
	case RFMsb:
		b.RAACounter -= b.cfg.RFMRAADecrement
		if b.RAACounter < 0 {
			b.RAACounter = 0
		}
		return b.cfg.TRFMsb
	case RFMab:
		b.mitigate(now)
		b.RAACounter -= b.cfg.RFMRAADecrement
		if b.RAACounter < 0 {
			b.RAACounter = 0
		}
		return b.cfg.TRFM
	default:
		dramlog.Fatal("bank: unknown command type %v", cmd.Type)
		return 0
	}
}

// NeedsRFM reports whether demand activity against this bank should be
// replaced by an RFM command due to RAA pressure.
func (b *Bank) NeedsRFM() bool {
	return b.cfg.RFMMode != dramconfig.RFMOff && b.RAACounter >= b.cfg.RAAMMT
}

func (b *Bank) onActivate(row uint64, now uint64) {
	if row < uint64(len(b.prac)) {
		if b.prac[row] < 0xFFFF {
			b.prac[row]++
		}
	}
	b.RAACounter++
	b.mirzaOnActivate(row, now)
	b.moatOnActivate(row)
}

func (b *Bank) refreshStripe(n int) {
	rows := uint64(len(b.prac))
	if rows == 0 {
		return
	}
	for i := 0; i < n; i++ {
		idx := (b.refIdx + uint64(i)) % rows
		b.PrACHistogram[getGeostatBin(b.prac[idx])]++
		b.prac[idx] = 0
	}
	crossedBoundary := b.refIdx+uint64(n) >= rows
	b.refIdx = (b.refIdx + uint64(n)) % rows

	if b.cfg.MirzaMode {
		b.mirzaOnRefresh(crossedBoundary)
	}
	if b.cfg.MoatMode {
		b.moatOnRefresh()
	}
}

// mirzaOnActivate updates the group counter for row and possibly
// enqueues it into the quarantine queue.
func (b *Bank) mirzaOnActivate(row uint64, now uint64) {
	if !b.cfg.MirzaMode || b.cfg.MirzaGroups == 0 {
		return
	}
	group := row % uint64(b.cfg.MirzaGroups)
	b.mirzaGroupCount[group]++

	for i := range b.mirzaQueue {
		if b.mirzaQueue[i].row == row {
			b.mirzaQueue[i].actctr++
			return
		}
	}

	if b.mirzaGroupCount[group] > b.cfg.MirzaGroupThreshold {
		if b.rng == nil || b.rng.Intn(b.cfg.MirzaMinTW) == 0 {
			if len(b.mirzaQueue) < b.cfg.MirzaQueueSize {
				b.mirzaQueue = append(b.mirzaQueue, mirzaEntry{row: row, group: group, actctr: 1})
			}
		}
	}
}

func (b *Bank) mirzaOnRefresh(crossedBoundary bool) {
	if !crossedBoundary || !b.cfg.MirzaEvictOnRefresh {
		return
	}
	group := b.refIdx % uint64(b.cfg.MirzaGroups)
	b.mirzaGroupCount[group] = 0
	kept := b.mirzaQueue[:0]
	for _, e := range b.mirzaQueue {
		if e.group != group {
			kept = append(kept, e)
		}
	}
	b.mirzaQueue = kept
}

func (b *Bank) mirzaMitigate() {
	if len(b.mirzaQueue) == 0 {
		return
	}
	maxIdx := 0
	for i := 1; i < len(b.mirzaQueue); i++ {
		if b.mirzaQueue[i].actctr > b.mirzaQueue[maxIdx].actctr {
			maxIdx = i
		}
	}
	b.mirzaQueue = append(b.mirzaQueue[:maxIdx], b.mirzaQueue[maxIdx+1:]...)
}

func (b *Bank) moatOnActivate(row uint64) {
	if !b.cfg.MoatMode {
		return
	}
	if !b.moatValid || b.prac[row] > b.prac[b.moatRow] {
		b.moatRow = row
		b.moatValid = true
	}
}

func (b *Bank) moatOnRefresh() {
	if !b.moatValid {
		return
	}
	rows := uint64(len(b.prac))
	n := uint64(b.cfg.RowsRefreshedPerRef)
	// refIdx has already advanced past the stripe just refreshed.
	start := (b.refIdx + rows - n%rows) % rows
	dist := (b.moatRow + rows - start) % rows
	if dist < n {
		b.moatValid = false
	}
}

func (b *Bank) moatMitigate() {
	if !b.moatValid {
		return
	}
	rows := uint64(len(b.prac))
	b.prac[b.moatRow] = 0
	for _, delta := range []int64{-2, -1, 1, 2} {
		idx := int64(b.moatRow) + delta
		if idx < 0 || uint64(idx) >= rows {
			continue
		}
		if b.prac[idx] < 0xFFFF {
			b.prac[idx]++
		}
	}
	b.moatValid = false
}

// mitigate performs the RFMab mitigation pick: evicts the worst
// quarantined MIRZA row and/or resets the MOAT-tracked row.
func (b *Bank) mitigate(now uint64) {
	if b.cfg.MirzaMode {
		b.mirzaMitigate()
	}
	if b.cfg.MoatMode {
		b.moatMitigate()
	}
	dramlog.LogMitigation("bank: RFMab mitigation at cycle %d", now)
}

// CheckAlert reports whether this bank currently wants an ABO alert
// raised (MIRZA queue threshold/full, or MOAT threshold), clearing the
// condition is the caller's responsibility via the rank-level gate.
func (b *Bank) CheckAlert() bool {
	if b.cfg.MirzaMode {
		if len(b.mirzaQueue) >= b.cfg.MirzaQueueSize {
			return true
		}
		for _, e := range b.mirzaQueue {
			if e.actctr >= b.cfg.MirzaQueueThreshold {
				return true
			}
		}
	}
	if b.cfg.MoatMode && b.moatValid && int(b.prac[b.moatRow]) > b.cfg.MoatThreshold {
		return true
	}
	return false
}

// Snapshot is a read-only view of bank state, used for statistics and
// the deadlock dumper.
type Snapshot struct {
	OpenRow                   uint64
	NextPrechargeOK           uint64
	NextActivateOK            uint64
	NextColumnAccessOK        uint64
	BusyWithRefUntil          uint64
	ConsecutiveColumnAccesses int
	Activations               uint64
	RAACounter                int
	PrACHistogram             [numGeostatBins]uint64
}

func (b *Bank) Snapshot() Snapshot {
	return Snapshot{
		OpenRow:                   b.OpenRow,
		NextPrechargeOK:           b.NextPrechargeOK,
		NextActivateOK:            b.NextActivateOK,
		NextColumnAccessOK:        b.NextColumnAccessOK,
		BusyWithRefUntil:          b.BusyWithRefUntil,
		ConsecutiveColumnAccesses: b.ConsecutiveColumnAccesses,
		Activations:               b.Activations,
		RAACounter:                b.RAACounter,
		PrACHistogram:             b.PrACHistogram,
	}
}

// PrintState logs this bank's full state at Error level; used by the
// deadlock dumper.
func (b *Bank) PrintState(label string) {
	s := b.Snapshot()
	dramlog.LogError("%s: open_row=%d next_pre=%d next_act=%d next_col=%d busy_ref_until=%d raa=%d acts=%d mirza_q=%d moat_row=%d moat_valid=%t",
		label, s.OpenRow, s.NextPrechargeOK, s.NextActivateOK, s.NextColumnAccessOK, s.BusyWithRefUntil, s.RAACounter, s.Activations,
		len(b.mirzaQueue), b.moatRow, b.moatValid)
}
