// Package subchannel implements the sub-channel scheduler (C4): the
// read queue, write buffer, pending-read coalescing, write-forwarding,
// read/write turnaround, tREFI-driven refresh fan-out, and the
// finished-reads completion queue drained by the controller.
package subchannel

import (
	"container/heap"
	"math/rand"
	"strconv"

	"github.com/suhasvittal-dramsim/dramsim/pkg/addr"
	"github.com/suhasvittal-dramsim/dramsim/pkg/bank"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramlog"
	"github.com/suhasvittal-dramsim/dramsim/pkg/rank"
)

// Transaction is one outstanding CPU read.
type Transaction struct {
	Lineaddr          uint64
	CPUCycleAdded     uint64
	DRAMCycleFinished uint64
	index             int // heap index, maintained by container/heap
}

type finishedHeap []*Transaction

func (h finishedHeap) Len() int { return len(h) }
func (h finishedHeap) Less(i, j int) bool {
	return h[i].DRAMCycleFinished < h[j].DRAMCycleFinished
}
func (h finishedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *finishedHeap) Push(x interface{}) {
	t := x.(*Transaction)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *finishedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type readEntry struct {
	lineaddr uint64
	row      uint64
	bg, ba   int
}

// Subchannel is one independently-clocked memory channel slice: it owns
// a grid of ranks and schedules demand/refresh/mitigation traffic
// across them.
type Subchannel struct {
	cfg     dramconfig.Config
	mapping addr.Mapping
	ranks   []*rank.Rank

	readQueue  []readEntry
	writeQueue []uint64

	pendingReads  map[uint64][]*Transaction
	pendingWrites map[uint64]bool

	numWritesToDrain int

	nextTREFI    uint64
	nextRankToRef int

	finished finishedHeap

	idleTicks int
}

// New constructs a sub-channel with every rank idle.
func New(cfg dramconfig.Config, mapping addr.Mapping, rng *rand.Rand) *Subchannel {
	sc := &Subchannel{
		cfg:           cfg,
		mapping:       mapping,
		pendingReads:  make(map[uint64][]*Transaction),
		pendingWrites: make(map[uint64]bool),
		nextTREFI:     uint64(cfg.TREFI),
	}
	sc.ranks = make([]*rank.Rank, cfg.NumRanks)
	for i := range sc.ranks {
		sc.ranks[i] = rank.New(cfg, rng)
	}
	heap.Init(&sc.finished)
	return sc
}

// MakeRequest enqueues a demand request. Returns false on backpressure.
// cpuCycle stamps CPUCycleAdded for host-side latency accounting;
// dramCycle is the DRAM-clock cycle a forwarded write-read completes at,
// since DrainFinished compares DRAMCycleFinished against the DRAM clock,
// not the host clock.
func (sc *Subchannel) MakeRequest(lineaddr uint64, isRead bool, cpuCycle, dramCycle uint64) bool {
	if isRead {
		if existing, ok := sc.pendingWrites[lineaddr]; ok && existing {
			t := &Transaction{Lineaddr: lineaddr, CPUCycleAdded: cpuCycle, DRAMCycleFinished: dramCycle}
			heap.Push(&sc.finished, t)
			return true
		}
		if len(sc.readQueue) >= sc.cfg.ReadQueueCapacity {
			return false
		}
		f := sc.mapping.Decode(lineaddr)
		sc.readQueue = append(sc.readQueue, readEntry{lineaddr: lineaddr, row: f.Row, bg: int(f.BankGroup), ba: int(f.Bank)})
		t := &Transaction{Lineaddr: lineaddr, CPUCycleAdded: cpuCycle}
		sc.pendingReads[lineaddr] = append(sc.pendingReads[lineaddr], t)
		return true
	}
	if len(sc.writeQueue) >= sc.cfg.WriteQueueCapacity {
		return false
	}
	if !sc.pendingWrites[lineaddr] {
		sc.writeQueue = append(sc.writeQueue, lineaddr)
		sc.pendingWrites[lineaddr] = true
	}
	return true
}

// Tick advances refresh scheduling, ticks every rank, dispatches one
// command, and updates read/write turnaround state. now is the DRAM
// cycle.
func (sc *Subchannel) Tick(now uint64) {
	if now >= sc.nextTREFI {
		sc.scheduleRefresh()
	}
	for _, rk := range sc.ranks {
		rk.Tick(now)
		if rk.AlertReady(now) {
			dramlog.LogMitigation("subchannel: ABO alert raised at cycle %d, scheduling all-bank RFM", now)
		}
	}

	if sc.selectAndExecute(now) {
		sc.idleTicks = 0
	} else {
		sc.idleTicks++
	}

	sc.scheduleNextRequest()
}

// IdleTicks reports how many consecutive ticks have executed no
// command, used by the controller's deadlock dumper.
func (sc *Subchannel) IdleTicks() int { return sc.idleTicks }

func (sc *Subchannel) scheduleRefresh() {
	if sc.cfg.RefreshMethod == dramconfig.RefreshSameBank {
		dramlog.Fatal("subchannel: same-bank refresh (REFsb) is not supported")
	}
	if len(sc.ranks) == 0 {
		return
	}
	sc.ranks[sc.nextRankToRef].SetNeedsRefresh()
	sc.nextRankToRef++
	if sc.nextRankToRef >= len(sc.ranks) {
		sc.nextRankToRef = 0
		sc.nextTREFI += uint64(sc.cfg.TREFI)
	}
}

// selectAndExecute round-robins over ranks, starting from a rank that
// rotates with the DRAM cycle, executing the first ready command (with
// RFM/ABO substitution applied), and returns whether any command
// executed.
func (sc *Subchannel) selectAndExecute(now uint64) bool {
	n := len(sc.ranks)
	for k := 0; k < n; k++ {
		rk := sc.ranks[(int(now%uint64(n))+k)%n]
		cmd, bg, ba, lineaddr, isRead, isHit := rk.SelectCommand(now)
		if bg < 0 {
			continue
		}

		cmd = sc.applyMitigationSubstitution(rk, bg, ba, cmd, now)

		lat := rk.ExecuteCommand(bg, ba, cmd, now)

		switch cmd.Type {
		case bank.Read, bank.ReadPrecharge:
			sc.completeRead(lineaddr, now, lat, isHit)
		case bank.Write, bank.WritePrecharge:
			sc.completeWrite(lineaddr)
		case bank.RFMsb:
			rk.ClearRFMPending(bg, ba, dramconfig.RFMSameBank)
		case bank.RFMab:
			for g := 0; g < sc.cfg.NumBankGroups; g++ {
				for b := 0; b < sc.cfg.NumBanks; b++ {
					rk.ClearRFMPending(g, b, dramconfig.RFMAllBank)
				}
			}
		}
		_ = isRead
		return true
	}
	return false
}

// applyMitigationSubstitution replaces a demand column command with an
// RFM command when RAA pressure requires it, honoring the pending-RFM
// dedup rule: a replacement still occurs even when an RFM for that
// scope is already outstanding, but no second RFM request is enqueued.
func (sc *Subchannel) applyMitigationSubstitution(rk *rank.Rank, bg, ba int, cmd bank.Command, now uint64) bank.Command {
	isColumnCmd := cmd.Type == bank.Read || cmd.Type == bank.Write || cmd.Type == bank.ReadPrecharge || cmd.Type == bank.WritePrecharge
	if !isColumnCmd || !rk.NeedsRFM(bg, ba) {
		return cmd
	}
	mode := sc.cfg.RFMMode
	if mode == dramconfig.RFMOff {
		return cmd
	}
	rfmType := bank.RFMsb
	if mode == dramconfig.RFMAllBank {
		rfmType = bank.RFMab
	}
	if !rk.RFMPending(bg, ba, mode) {
		rk.MarkRFMPending(bg, ba, mode)
	}
	return bank.Command{Type: rfmType}
}

// scheduleNextRequest implements the write/read turnaround policy: full
// write buffer or opportunistic drain (empty command queues and more
// than WriteDrainThreshold writes buffered) switches to write mode.
func (sc *Subchannel) scheduleNextRequest() {
	if sc.numWritesToDrain == 0 {
		full := len(sc.writeQueue) >= sc.cfg.WriteQueueCapacity
		opportunistic := sc.allCmdQueuesEmpty() && len(sc.writeQueue) > sc.cfg.WriteDrainThreshold
		if (full || opportunistic) && len(sc.writeQueue) > 0 {
			sc.numWritesToDrain = len(sc.writeQueue)
		}
	}

	if sc.numWritesToDrain > 0 {
		if sc.insertOneWrite() {
			sc.numWritesToDrain--
		}
		return
	}
	sc.insertOneRead()
}

func (sc *Subchannel) allCmdQueuesEmpty() bool {
	for _, rk := range sc.ranks {
		if !rk.AllCmdQueuesEmpty() {
			return false
		}
	}
	return true
}

// QueuesEmpty reports whether this sub-channel has no outstanding work
// anywhere: no buffered reads or writes, and no per-bank command queue
// entries in any rank. Used by the controller's deadlock detector,
// which must not fire on a subchannel that has simply finished all its
// work.
func (sc *Subchannel) QueuesEmpty() bool {
	return len(sc.readQueue) == 0 && len(sc.writeQueue) == 0 && sc.allCmdQueuesEmpty()
}

func (sc *Subchannel) insertOneRead() bool {
	for i, re := range sc.readQueue {
		f := sc.mapping.Decode(re.lineaddr)
		rnk := sc.ranks[f.Rank]
		if rnk.TryAndInsertCommand(rank.QueuedCommand{
			BankGroup: re.bg, BankIdx: re.ba, Row: re.row, Lineaddr: re.lineaddr, IsRead: true,
		}) {
			sc.readQueue = append(sc.readQueue[:i], sc.readQueue[i+1:]...)
			return true
		}
	}
	return false
}

func (sc *Subchannel) insertOneWrite() bool {
	for i, lineaddr := range sc.writeQueue {
		if _, pendingRead := sc.pendingReads[lineaddr]; pendingRead {
			continue
		}
		f := sc.mapping.Decode(lineaddr)
		rnk := sc.ranks[f.Rank]
		if rnk.TryAndInsertCommand(rank.QueuedCommand{
			BankGroup: int(f.BankGroup), BankIdx: int(f.Bank), Row: f.Row, Lineaddr: lineaddr, IsRead: false,
		}) {
			sc.writeQueue = append(sc.writeQueue[:i], sc.writeQueue[i+1:]...)
			return true
		}
		break
	}
	return false
}

func (sc *Subchannel) completeRead(lineaddr uint64, now uint64, latency int, isHit bool) {
	txns := sc.pendingReads[lineaddr]
	delete(sc.pendingReads, lineaddr)
	for _, t := range txns {
		t.DRAMCycleFinished = now + uint64(latency)
		heap.Push(&sc.finished, t)
	}
	if isHit {
		dramlog.LogSubchannel("subchannel: row-buffer hit for lineaddr=%d", lineaddr)
	}
}

func (sc *Subchannel) completeWrite(lineaddr uint64) {
	delete(sc.pendingWrites, lineaddr)
}

// DrainFinished pops every transaction whose completion cycle has
// arrived, invoking onComplete for each before discarding it.
func (sc *Subchannel) DrainFinished(now uint64, onComplete func(t Transaction)) {
	for sc.finished.Len() > 0 {
		top := sc.finished[0]
		if now < top.DRAMCycleFinished {
			break
		}
		t := heap.Pop(&sc.finished).(*Transaction)
		onComplete(*t)
	}
}

// CheckAlert reports whether any rank in this sub-channel wants an ABO
// alert raised.
func (sc *Subchannel) CheckAlert() bool {
	for _, rk := range sc.ranks {
		if rk.CheckAlert() {
			return true
		}
	}
	return false
}

// PrintDeadlockState logs every rank's bank state.
func (sc *Subchannel) PrintDeadlockState(label string) {
	for i, rk := range sc.ranks {
		rk.PrintDeadlockState(label + "/rank" + strconv.Itoa(i))
	}
}
