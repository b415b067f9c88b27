// Package rank implements the per-rank command scheduler (C3): per-bank
// FIFO command queues, row-buffer-hit promotion, same-/different-bank-
// group timing fences, the tFAW sliding activation window, and refresh
// issuance once every bank is quiescent.
package rank

import (
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/suhasvittal-dramsim/dramsim/pkg/bank"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramlog"
)

// QueuedCommand is a demand request waiting for its bank's command
// queue slot.
type QueuedCommand struct {
	BankGroup int
	BankIdx   int
	Row       uint64
	Lineaddr  uint64
	IsRead    bool
}

type bankCoord struct {
	bg, ba int
}

// Rank holds every bank in one rank plus the rank-level timing fences
// and the round-robin command scheduler state.
type Rank struct {
	cfg dramconfig.Config

	banks [][]*bank.Bank // [bankgroup][bank]

	queues    [][][]QueuedCommand // [bankgroup][bank] FIFO
	nextBG    int
	nextBA    int

	lastBankGroupUsed int

	// same-bg(1) / diff-bg(0) fence pairs, per bank group's "last used" cycle.
	nextRowActivateOK [2]uint64
	nextColReadOK     [2]uint64
	nextColWriteOK    [2]uint64

	activationWindow []uint64 // ACTIVATE cycles still inside the tFAW window, oldest first

	needsRefresh    bool
	anyBankBusyUntil uint64

	// recentRowMiss is a bounded set distinguishing a true row-buffer
	// hit from a first-time miss, for statistics only.
	recentRowMiss *lru.Cache[uint64, struct{}]

	pendingRFMRank bool // an RFMab is outstanding for this rank
	pendingRFMBank map[bankCoord]bool

	// ABO alert gating: numActsABO counts ACTIVATEs since the last
	// all-bank refresh or RFMab; an alert is only honored once at
	// least ABODelayActs have accumulated and TABOAct cycles have
	// passed since the last alert.
	numActsABO        int
	lastAlertCycle    uint64
	alertRFMRequested bool

	NumCmdsQueued int
}

// New constructs a rank with every bank idle and all fences quiescent.
func New(cfg dramconfig.Config, rng *rand.Rand) *Rank {
	r := &Rank{cfg: cfg}
	r.banks = make([][]*bank.Bank, cfg.NumBankGroups)
	r.queues = make([][][]QueuedCommand, cfg.NumBankGroups)
	for bg := 0; bg < cfg.NumBankGroups; bg++ {
		r.banks[bg] = make([]*bank.Bank, cfg.NumBanks)
		r.queues[bg] = make([][]QueuedCommand, cfg.NumBanks)
		for ba := 0; ba < cfg.NumBanks; ba++ {
			r.banks[bg][ba] = bank.New(cfg, rng)
		}
	}
	cache, err := lru.New[uint64, struct{}](256)
	if err != nil {
		dramlog.Fatal("rank: failed to construct recent-row-miss cache: %v", err)
	}
	r.recentRowMiss = cache
	r.pendingRFMBank = make(map[bankCoord]bool)
	return r
}

func (r *Rank) Bank(bg, ba int) *bank.Bank { return r.banks[bg][ba] }

// TryAndInsertCommand enqueues a demand command for (bg, ba). Returns
// false if that bank's queue is full (transient backpressure).
func (r *Rank) TryAndInsertCommand(qc QueuedCommand) bool {
	q := r.queues[qc.BankGroup][qc.BankIdx]
	if len(q) >= r.cfg.BankQueueCapacity {
		return false
	}
	r.queues[qc.BankGroup][qc.BankIdx] = append(q, qc)
	r.NumCmdsQueued++
	return true
}

// AllCmdQueuesEmpty reports whether every per-bank queue is empty.
func (r *Rank) AllCmdQueuesEmpty() bool {
	return r.NumCmdsQueued == 0
}

func (r *Rank) sameBgIdx(bg int) int {
	if bg == r.lastBankGroupUsed {
		return 1
	}
	return 0
}

// fenceOK reports whether now has cleared the same/diff-bg fence for bg.
func fenceOK(fence [2]uint64, sameBg bool, now uint64) bool {
	idx := 0
	if sameBg {
		idx = 1
	}
	return now >= fence[idx]
}

// bankCanExecute layers the rank-level tCCD/tRRD/tFAW fences on top of
// the bank's own CanExecute.
func (r *Rank) bankCanExecute(bg, ba int, cmd bank.Command, now uint64) bool {
	b := r.banks[bg][ba]
	if !b.CanExecute(cmd, now) {
		return false
	}
	sameBg := bg == r.lastBankGroupUsed
	switch cmd.Type {
	case bank.Activate:
		if !fenceOK(r.nextRowActivateOK, sameBg, now) {
			return false
		}
		if len(r.activationWindow) >= 4 {
			oldest := r.activationWindow[0]
			if now < oldest+uint64(r.cfg.TFAW) {
				return false
			}
		}
		return true
	case bank.Read, bank.ReadPrecharge:
		return fenceOK(r.nextColReadOK, sameBg, now)
	case bank.Write, bank.WritePrecharge:
		return fenceOK(r.nextColWriteOK, sameBg, now)
	default:
		return true
	}
}

func (r *Rank) retireActivationWindow(now uint64) {
	kept := r.activationWindow[:0]
	for _, c := range r.activationWindow {
		if now < c+uint64(r.cfg.TFAW) {
			kept = append(kept, c)
		}
	}
	r.activationWindow = kept
}

// Tick retires expired tFAW entries and, if a refresh has been
// requested and every bank is quiescent, issues it.
func (r *Rank) Tick(now uint64) {
	r.retireActivationWindow(now)
	if r.needsRefresh && now >= r.anyBankBusyUntil {
		r.issueRefresh(now)
		r.needsRefresh = false
	}
}

func (r *Rank) issueRefresh(now uint64) {
	for bg := range r.banks {
		for ba := range r.banks[bg] {
			lat := r.banks[bg][ba].Execute(bank.Command{Type: bank.Refresh}, now)
			if now+uint64(lat) > r.anyBankBusyUntil {
				r.anyBankBusyUntil = now + uint64(lat)
			}
		}
	}
	r.numActsABO = 0
	dramlog.LogRank("rank: issued all-bank refresh at cycle %d", now)
}

// SetNeedsRefresh flags the rank to refresh at the next quiescent tick.
func (r *Rank) SetNeedsRefresh() { r.needsRefresh = true }

// demandCmdType maps IsRead + page policy to the effective command.
func (r *Rank) demandCmdType(isRead bool) bank.CmdType {
	if r.cfg.PagePolicy == dramconfig.PageClosed {
		if isRead {
			return bank.ReadPrecharge
		}
		return bank.WritePrecharge
	}
	if isRead {
		return bank.Read
	}
	return bank.Write
}

// SelectCommand scans the per-bank queues round robin, promoting a
// row-buffer hit when present, and otherwise synthesizing the
// PRECHARGE/ACTIVATE prefix the head-of-queue demand needs. It dequeues
// the chosen demand only on a hit or a head-of-queue command whose
// prefix is already satisfied; prefix commands are never dequeued.
func (r *Rank) SelectCommand(now uint64) (bank.Command, int, int, uint64, bool, bool) {
	nbg, nba := len(r.banks), len(r.banks[0])
	for i := 0; i < nbg*nba; i++ {
		bg := (r.nextBG + i/nba) % nbg
		ba := (r.nextBA + i%nba) % nba
		q := r.queues[bg][ba]
		if len(q) == 0 {
			continue
		}
		b := r.banks[bg][ba]

		if b.OpenRow != bank.NoRow {
			for qi, qc := range q {
				if qc.Row == b.OpenRow {
					cmd := bank.Command{Type: r.demandCmdType(qc.IsRead), Row: qc.Row, Lineaddr: qc.Lineaddr}
					if r.bankCanExecute(bg, ba, cmd, now) {
						r.dequeueAt(bg, ba, qi)
						r.advance(bg, ba, nbg, nba)
						isHit := !r.recentRowMiss.Contains(qc.Lineaddr)
						return cmd, bg, ba, qc.Lineaddr, qc.IsRead, isHit
					}
				}
			}
		}

		head := q[0]
		if b.OpenRow == bank.NoRow {
			actCmd := bank.Command{Type: bank.Activate, Row: head.Row}
			if r.bankCanExecute(bg, ba, actCmd, now) {
				cmd := r.maybeSubstituteRFM(bg, ba, actCmd)
				if cmd.Type == bank.Activate {
					r.recentRowMiss.Add(head.Lineaddr, struct{}{})
				}
				r.advance(bg, ba, nbg, nba)
				return cmd, bg, ba, 0, false, false
			}
			continue
		}

		if b.OpenRow != head.Row {
			if !r.shouldDeferPrecharge(q, b) {
				preCmd := bank.Command{Type: bank.Precharge}
				if r.bankCanExecute(bg, ba, preCmd, now) {
					r.recentRowMiss.Add(head.Lineaddr, struct{}{})
					r.advance(bg, ba, nbg, nba)
					return preCmd, bg, ba, 0, false, false
				}
			}
			continue
		}

		cmd := bank.Command{Type: r.demandCmdType(head.IsRead), Row: head.Row, Lineaddr: head.Lineaddr}
		if r.bankCanExecute(bg, ba, cmd, now) {
			r.dequeueAt(bg, ba, 0)
			r.advance(bg, ba, nbg, nba)
			return cmd, bg, ba, head.Lineaddr, head.IsRead, true
		}
	}
	return bank.Command{}, -1, -1, 0, false, false
}

// shouldDeferPrecharge implements the policy guard: don't precharge a
// row that a later queued entry still wants while under the
// consecutive-access cap.
func (r *Rank) shouldDeferPrecharge(q []QueuedCommand, b *bank.Bank) bool {
	if b.ConsecutiveColumnAccesses >= r.cfg.MaxConsecutiveColumnAccesses {
		return false
	}
	for _, qc := range q {
		if qc.Row == b.OpenRow {
			return true
		}
	}
	return false
}

func (r *Rank) dequeueAt(bg, ba, idx int) {
	q := r.queues[bg][ba]
	r.queues[bg][ba] = append(q[:idx], q[idx+1:]...)
	r.NumCmdsQueued--
}

func (r *Rank) advance(bg, ba, nbg, nba int) {
	r.nextBG = bg
	r.nextBA = (ba + 1) % nba
	if r.nextBA == 0 {
		r.nextBG = (bg + 1) % nbg
	}
}

// ExecuteCommand applies cmd to the named bank and advances rank-level
// fences. Returns the command's latency in DRAM cycles.
func (r *Rank) ExecuteCommand(bg, ba int, cmd bank.Command, now uint64) int {
	b := r.banks[bg][ba]
	lat := b.Execute(cmd, now)
	sameBg := 1
	diffBg := 0

	switch cmd.Type {
	case bank.Activate:
		r.nextRowActivateOK[sameBg] = now + uint64(r.cfg.TRRDL)
		r.nextRowActivateOK[diffBg] = now + uint64(r.cfg.TRRDS)
		r.activationWindow = append(r.activationWindow, now)
		r.numActsABO++
	case bank.RFMab:
		r.numActsABO = 0
	case bank.Read, bank.ReadPrecharge:
		r.nextColReadOK[sameBg] = now + uint64(r.cfg.TCCDL)
		r.nextColReadOK[diffBg] = now + uint64(r.cfg.TCCDS)
		r.nextColWriteOK[sameBg] = now + uint64(r.cfg.TCCDLRTW)
		r.nextColWriteOK[diffBg] = now + uint64(r.cfg.TCCDSRTW)
	case bank.Write, bank.WritePrecharge:
		r.nextColWriteOK[sameBg] = now + uint64(r.cfg.TCCDLWR)
		r.nextColWriteOK[diffBg] = now + uint64(r.cfg.TCCDSWR)
		r.nextColReadOK[sameBg] = now + uint64(r.cfg.TCCDLWTR)
		r.nextColReadOK[diffBg] = now + uint64(r.cfg.TCCDSWTR)
	}
	r.lastBankGroupUsed = bg
	if now+uint64(lat) > r.anyBankBusyUntil {
		r.anyBankBusyUntil = now + uint64(lat)
	}
	return lat
}

// NeedsRFM reports whether (bg,ba) is under RAA pressure. Whether an RFM
// for the relevant scope is already outstanding is reported separately
// by RFMPending.
func (r *Rank) NeedsRFM(bg, ba int) bool {
	return r.banks[bg][ba].NeedsRFM()
}

// RFMPending reports whether an RFM request is already outstanding for
// the scope that mode would target, to implement request dedup.
func (r *Rank) RFMPending(bg, ba int, mode dramconfig.RFMMode) bool {
	if mode == dramconfig.RFMAllBank {
		return r.pendingRFMRank
	}
	return r.pendingRFMBank[bankCoord{bg, ba}]
}

// MarkRFMPending records that an RFM request has been dispatched.
func (r *Rank) MarkRFMPending(bg, ba int, mode dramconfig.RFMMode) {
	if mode == dramconfig.RFMAllBank {
		r.pendingRFMRank = true
		return
	}
	r.pendingRFMBank[bankCoord{bg, ba}] = true
}

// ClearRFMPending releases the dedup marker once the RFM completes.
func (r *Rank) ClearRFMPending(bg, ba int, mode dramconfig.RFMMode) {
	if mode == dramconfig.RFMAllBank {
		r.pendingRFMRank = false
		return
	}
	delete(r.pendingRFMBank, bankCoord{bg, ba})
}

// maybeSubstituteRFM replaces cmd with RFMsb/RFMab when (bg,ba) is
// under RAA pressure or an ABO alert is pending, mirroring
// GetReadyCommand's closed-bank RFM substitution: a bank with
// raa_ctr_ >= raammt gets an RFM in place of its next ACTIVATE rather
// than being allowed to open another row. The pending-RFM dedup rule
// still applies: the substitution happens every time, but a second RFM
// request for the same scope is never enqueued.
func (r *Rank) maybeSubstituteRFM(bg, ba int, cmd bank.Command) bank.Command {
	if r.cfg.RFMMode == dramconfig.RFMOff {
		return cmd
	}
	raaPressure := r.NeedsRFM(bg, ba)
	if !raaPressure && !r.alertRFMRequested {
		return cmd
	}
	mode := r.cfg.RFMMode
	if r.alertRFMRequested {
		mode = dramconfig.RFMAllBank
		r.alertRFMRequested = false
	}
	rfmType := bank.RFMsb
	if mode == dramconfig.RFMAllBank {
		rfmType = bank.RFMab
	}
	if !r.RFMPending(bg, ba, mode) {
		r.MarkRFMPending(bg, ba, mode)
	}
	return bank.Command{Type: rfmType}
}

// AlertReady polls every bank for an ABO alert condition and, if the
// tABO_act cooldown and ABODelayActs minimum-activations gate both
// permit it, arms a one-shot request for the next ACTIVATE in this
// rank to be replaced by an all-bank RFM. Returns whether an alert
// fired on this call.
func (r *Rank) AlertReady(now uint64) bool {
	if !r.cfg.AlertMode || r.cfg.RFMMode == dramconfig.RFMOff {
		return false
	}
	if r.numActsABO < r.cfg.ABODelayActs {
		return false
	}
	if now <= uint64(r.cfg.TABOAct)+r.lastAlertCycle {
		return false
	}
	if !r.CheckAlert() {
		return false
	}
	r.lastAlertCycle = now
	r.numActsABO = 0
	r.alertRFMRequested = true
	return true
}

// CheckAlert reports whether any bank in the rank currently wants an
// ABO alert raised.
func (r *Rank) CheckAlert() bool {
	for bg := range r.banks {
		for ba := range r.banks[bg] {
			if r.banks[bg][ba].CheckAlert() {
				return true
			}
		}
	}
	return false
}

// PrintDeadlockState logs every bank's state, used when the controller
// detects a stalled sub-channel.
func (r *Rank) PrintDeadlockState(label string) {
	for bg := range r.banks {
		for ba := range r.banks[bg] {
			r.banks[bg][ba].PrintState(label)
		}
	}
}
