// Package dramctl implements the DRAM controller (C5): it owns every
// sub-channel, routes requests by (channel, subchannel), ticks the
// memory-side clock against the host clock through a leap accumulator,
// and notifies the LLC when reads complete.
package dramctl

import (
	"math/rand"
	"strconv"

	"github.com/suhasvittal-dramsim/dramsim/pkg/addr"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramlog"
	"github.com/suhasvittal-dramsim/dramsim/pkg/subchannel"
)

// CompletionFunc is invoked once per finished read. It is supplied at
// construction, closing over whatever LLC handle the caller owns; the
// controller holds no back-pointer to the LLC itself.
type CompletionFunc func(lineaddr uint64)

// Controller is the top-level memory-timing engine.
type Controller struct {
	cfg      dramconfig.Config
	mapping  addr.Mapping
	subchans []*subchannel.Subchannel
	onComplete CompletionFunc

	hostCycle uint64
	dramCycle uint64
	leap      float64
	clockScale float64

	numReads  uint64
	numWrites uint64
	totalReadLatency uint64

	ticksSinceLastCommand int
}

// New constructs a controller with NumChannels*NumSubchannels
// independently-scheduled sub-channels.
func New(cfg dramconfig.Config, onComplete CompletionFunc) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mapping, err := addr.NewMapping(cfg)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.PRNGSeed))

	c := &Controller{
		cfg:        cfg,
		mapping:    mapping,
		onComplete: onComplete,
		clockScale: cfg.HostClockGHz/cfg.DRAMClockGHz - 1.0,
	}
	n := cfg.NumChannels * cfg.NumSubchannels
	c.subchans = make([]*subchannel.Subchannel, n)
	for i := range c.subchans {
		c.subchans[i] = subchannel.New(cfg, mapping, rng)
	}
	return c, nil
}

func (c *Controller) index(lineaddr uint64) int {
	f := c.mapping.Decode(lineaddr)
	return int(f.Channel)*c.cfg.NumSubchannels + int(f.Subchannel)
}

// MakeRequest routes a request to its sub-channel. Returns false on
// backpressure (the caller must retry on a later host cycle).
func (c *Controller) MakeRequest(lineaddr uint64, isRead bool) bool {
	idx := c.index(lineaddr)
	if !c.subchans[idx].MakeRequest(lineaddr, isRead, c.hostCycle, c.dramCycle) {
		return false
	}
	if isRead {
		c.numReads++
	} else {
		c.numWrites++
	}
	return true
}

// Tick advances the host clock by one cycle, ticking the DRAM-side
// sub-channels on a subset of host cycles determined by the
// host/DRAM clock-scale leap accumulator, and drains any reads that
// have completed.
func (c *Controller) Tick() {
	tickMem := c.leap < 1.0

	anyCmd := false
	hasPendingWork := false
	for _, sc := range c.subchans {
		if tickMem {
			sc.Tick(c.dramCycle)
		}
		idle := sc.IdleTicks()
		sc.DrainFinished(c.dramCycle, func(t subchannel.Transaction) {
			c.totalReadLatency += c.hostCycle - t.CPUCycleAdded
			c.onComplete(t.Lineaddr)
		})
		if tickMem && idle == 0 {
			anyCmd = true
		}
		if tickMem && sc.CheckAlert() {
			dramlog.LogMitigation("controller: subchannel reports an outstanding RowHammer alert at cycle %d", c.dramCycle)
		}
		if !sc.QueuesEmpty() {
			hasPendingWork = true
		}
	}

	if tickMem {
		c.leap += c.clockScale
		c.dramCycle++
	} else {
		c.leap -= 1.0
	}

	// Only a subchannel with outstanding work that isn't making
	// progress counts toward a deadlock; a controller that has simply
	// finished all its queued work is healthy, not stuck.
	if !hasPendingWork || anyCmd {
		c.ticksSinceLastCommand = 0
	} else {
		c.ticksSinceLastCommand++
	}
	if hasPendingWork && c.ticksSinceLastCommand >= c.cfg.DeadlockTicks {
		c.dumpDeadlock()
	}

	c.hostCycle++
}

func (c *Controller) dumpDeadlock() {
	dramlog.LogError("controller: no command executed in %d ticks, dumping state", c.ticksSinceLastCommand)
	for i, sc := range c.subchans {
		sc.PrintDeadlockState("subchannel" + strconv.Itoa(i))
	}
	dramlog.Fatal("controller: deadlock detected after %d idle ticks", c.ticksSinceLastCommand)
}

// Stats is a read-only snapshot of controller-wide statistics.
type Stats struct {
	NumReads         uint64
	NumWrites        uint64
	MeanReadLatency  float64
}

func (c *Controller) Stats() Stats {
	mean := 0.0
	if c.numReads > 0 {
		mean = float64(c.totalReadLatency) / float64(c.numReads)
	}
	return Stats{NumReads: c.numReads, NumWrites: c.numWrites, MeanReadLatency: mean}
}

// HostCycle returns the current host-clock cycle count.
func (c *Controller) HostCycle() uint64 { return c.hostCycle }

// DRAMCycle returns the current DRAM-clock cycle count.
func (c *Controller) DRAMCycle() uint64 { return c.dramCycle }
