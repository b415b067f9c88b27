// Package dramconfig holds the plain configuration data consumed by the
// memory-timing core. Parsing of the external INI/flag representation is
// left to callers (cmd/dramsim, tests); this package only validates and
// defaults the in-memory struct.
package dramconfig

import "fmt"

// PagePolicy selects how column commands interact with an open row.
type PagePolicy int

const (
	PageOpen PagePolicy = iota
	PageClosed
)

// RefreshMethod selects refresh fan-out.
type RefreshMethod int

const (
	RefreshAllBank RefreshMethod = iota
	RefreshSameBank
)

// AddressMapping selects the line-address decomposition scheme.
type AddressMapping int

const (
	MappingLinear AddressMapping = iota
	MappingMOPN
)

// RFMMode selects which RFM variant the mitigation overlay injects.
type RFMMode int

const (
	RFMOff RFMMode = iota
	RFMSameBank
	RFMAllBank
)

// Config is the complete set of knobs a core instance is built from.
// The timing, policy, topology, mitigation, seed and deadlock fields
// correspond to recognized external options named in the component
// design's external-interfaces table; line geometry, the consecutive-
// access cap, refresh stripe size, queue capacities and clock rates are
// additional core knobs.
type Config struct {
	// Timing, in DRAM cycles unless noted.
	TCK        float64 // ns per DRAM cycle
	CL         int
	CWL        int
	TRCD       int
	TRP        int
	TRAS       int
	TRFC       int
	TREFI      int
	TRRDS      int
	TRRDL      int
	TFAW       int
	TCCDS      int
	TCCDL      int
	TCCDSWR    int
	TCCDLWR    int
	TCCDSRTW   int
	TCCDLRTW   int
	TCCDSWTR   int
	TCCDLWTR   int
	ColumnWidth int
	LineSize    int

	PagePolicy    PagePolicy
	RefreshMethod RefreshMethod
	AddressMapping AddressMapping

	NumChannels    int
	NumSubchannels int
	NumRanks       int
	NumBankGroups  int
	NumBanks       int
	NumRows        int
	NumColumns     int

	MaxConsecutiveColumnAccesses int

	// RowHammer / RFM.
	RFMMode           RFMMode
	RAAIMT            int
	RAAMMT            int
	RFMRAADecrement   int
	RefRAADecrement   int
	TRFM              int
	TRFMsb            int
	RowsRefreshedPerRef int

	// ABO alert.
	AlertMode    bool
	TABOAct      int
	ABODelayActs int

	// MIRZA.
	MirzaMode           bool
	MirzaGroups         int
	MirzaGroupThreshold int
	MirzaQueueSize      int
	MirzaQueueThreshold int
	MirzaMinTW          int
	MirzaEvictOnRefresh bool

	// MOAT.
	MoatMode      bool
	MoatThreshold int

	PRNGSeed int64

	DeadlockTicks int

	ReadQueueCapacity  int
	WriteQueueCapacity int
	BankQueueCapacity  int
	WriteDrainThreshold int

	HostClockGHz float64
	DRAMClockGHz float64
}

// Default returns the DDR5-class configuration used throughout the
// worked scenarios: CL=40, tRCD=40, tRP=40, tRAS=77, tFAW=32,
// tREFI=9390, tRFC=984, BL=16.
func Default() Config {
	return Config{
		TCK:      0.416,
		CL:       40,
		CWL:      40,
		TRCD:     40,
		TRP:      40,
		TRAS:     77,
		TRFC:     984,
		TREFI:    9390,
		TRRDS:    4,
		TRRDL:    8,
		TFAW:     32,
		TCCDS:    8,
		TCCDL:    8,
		TCCDSWR:  8,
		TCCDLWR:  8,
		TCCDSRTW: 8,
		TCCDLRTW: 8,
		TCCDSWTR: 8,
		TCCDLWTR: 8,
		ColumnWidth: 32,
		LineSize:    512,

		PagePolicy:     PageOpen,
		RefreshMethod:  RefreshAllBank,
		AddressMapping: MappingLinear,

		NumChannels:    1,
		NumSubchannels: 2,
		NumRanks:       2,
		NumBankGroups:  8,
		NumBanks:       4,
		NumRows:        1 << 16,
		NumColumns:     1 << 11,

		MaxConsecutiveColumnAccesses: 4,

		RFMMode:             RFMOff,
		RAAIMT:              0,
		RAAMMT:              0,
		RFMRAADecrement:     0,
		RefRAADecrement:     0,
		TRFM:                0,
		TRFMsb:              0,
		RowsRefreshedPerRef: 8192,

		AlertMode:    false,
		TABOAct:      0,
		ABODelayActs: 0,

		MirzaMode:           false,
		MirzaGroups:         0,
		MirzaGroupThreshold: 0,
		MirzaQueueSize:      0,
		MirzaQueueThreshold: 0,
		MirzaMinTW:          1,
		MirzaEvictOnRefresh: true,

		MoatMode:      false,
		MoatThreshold: 0,

		PRNGSeed: 1,

		DeadlockTicks: 100000,

		ReadQueueCapacity:   128,
		WriteQueueCapacity:  128,
		BankQueueCapacity:   32,
		WriteDrainThreshold: 8,

		HostClockGHz: 4.0,
		DRAMClockGHz: 2.4,
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate enforces the topology and threshold invariants a configuration
// must satisfy before a core can be constructed. Failures here are
// programming errors: callers should treat them as fatal.
func (c Config) Validate() error {
	for name, n := range map[string]int{
		"NumChannels":    c.NumChannels,
		"NumSubchannels": c.NumSubchannels,
		"NumRanks":       c.NumRanks,
		"NumBankGroups":  c.NumBankGroups,
		"NumBanks":       c.NumBanks,
		"NumRows":        c.NumRows,
		"NumColumns":     c.NumColumns,
	} {
		if !isPowerOfTwo(n) {
			return fmt.Errorf("dramconfig: %s=%d is not a power of two", name, n)
		}
	}
	if c.NumChannels <= 0 {
		return fmt.Errorf("dramconfig: NumChannels must be positive, got %d", c.NumChannels)
	}
	if c.ColumnWidth <= 0 || c.LineSize%c.ColumnWidth != 0 {
		return fmt.Errorf("dramconfig: LineSize %d must be a multiple of ColumnWidth %d", c.LineSize, c.ColumnWidth)
	}
	if c.RefreshMethod == RefreshSameBank {
		return fmt.Errorf("dramconfig: same-bank refresh (REFsb) is not supported")
	}
	if c.MirzaMode && c.MirzaMinTW <= 0 {
		return fmt.Errorf("dramconfig: MirzaMinTW must be positive when MirzaMode is enabled")
	}
	return nil
}

// BurstLength returns LINESIZE/COLUMN_WIDTH, the number of column beats a
// single command transfers.
func (c Config) BurstLength() int {
	return c.LineSize / c.ColumnWidth
}
