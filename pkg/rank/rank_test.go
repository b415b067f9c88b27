package rank

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhasvittal-dramsim/dramsim/pkg/bank"
	"github.com/suhasvittal-dramsim/dramsim/pkg/dramconfig"
)

func smallConfig() dramconfig.Config {
	cfg := dramconfig.Default()
	cfg.NumBankGroups = 2
	cfg.NumBanks = 2
	cfg.BankQueueCapacity = 8
	return cfg
}

func TestSelectCommand_ActivatesThenServesColumnAccess(t *testing.T) {
	cfg := smallConfig()
	r := New(cfg, rand.New(rand.NewSource(1)))

	require.True(t, r.TryAndInsertCommand(QueuedCommand{BankGroup: 0, BankIdx: 0, Row: 7, Lineaddr: 100, IsRead: true}))

	cmd, bg, ba, _, _, _ := r.SelectCommand(0)
	require.Equal(t, bank.Activate, cmd.Type)
	r.ExecuteCommand(bg, ba, cmd, 0)

	readyAt := uint64(cfg.TRCD)
	cmd2, bg2, ba2, lineaddr, isRead, _ := r.SelectCommand(readyAt)
	require.Equal(t, bank.Read, cmd2.Type)
	assert.Equal(t, 0, bg2)
	assert.Equal(t, 0, ba2)
	assert.Equal(t, uint64(100), lineaddr)
	assert.True(t, isRead)
	r.ExecuteCommand(bg2, ba2, cmd2, readyAt)
}

func TestSelectCommand_PromotesRowBufferHit(t *testing.T) {
	cfg := smallConfig()
	r := New(cfg, rand.New(rand.NewSource(1)))

	r.TryAndInsertCommand(QueuedCommand{BankGroup: 0, BankIdx: 0, Row: 7, Lineaddr: 100, IsRead: true})
	cmd, bg, ba, _, _, _ := r.SelectCommand(0)
	r.ExecuteCommand(bg, ba, cmd, 0)
	now := uint64(cfg.TRCD)
	cmd, bg, ba, _, _, _ = r.SelectCommand(now)
	r.ExecuteCommand(bg, ba, cmd, now)

	r.TryAndInsertCommand(QueuedCommand{BankGroup: 0, BankIdx: 0, Row: 9, Lineaddr: 200, IsRead: true})
	r.TryAndInsertCommand(QueuedCommand{BankGroup: 0, BankIdx: 0, Row: 7, Lineaddr: 300, IsRead: true})

	now += uint64(cfg.CL + cfg.BurstLength()/2)
	cmd, _, _, lineaddr, _, isHit := r.SelectCommand(now)
	assert.Equal(t, bank.Read, cmd.Type)
	assert.Equal(t, uint64(300), lineaddr, "row-buffer hit to the already-open row should be promoted ahead of the FCFS head")
	_ = isHit
}

func TestTFAW_LimitsActivationsInWindow(t *testing.T) {
	cfg := smallConfig()
	cfg.NumBankGroups = 4
	cfg.NumBanks = 2
	r := New(cfg, rand.New(rand.NewSource(1)))

	now := uint64(0)
	activated := 0
	for bg := 0; bg < 4; bg++ {
		r.TryAndInsertCommand(QueuedCommand{BankGroup: bg, BankIdx: 0, Row: uint64(bg), Lineaddr: uint64(bg), IsRead: true})
	}
	for i := 0; i < 4; i++ {
		cmd, bg, ba, _, _, _ := r.SelectCommand(now)
		require.Equal(t, bank.Activate, cmd.Type)
		r.ExecuteCommand(bg, ba, cmd, now)
		activated++
		now += uint64(cfg.TRRDS)
	}
	assert.Equal(t, 4, activated)
	assert.Equal(t, 4, len(r.activationWindow))

	r.TryAndInsertCommand(QueuedCommand{BankGroup: 0, BankIdx: 1, Row: 99, Lineaddr: 999, IsRead: true})
	cmd, _, _, _, _, _ := r.SelectCommand(now)
	assert.NotEqual(t, bank.Activate, cmd.Type, "a fifth activation inside the tFAW window must be rejected")

	now += uint64(cfg.TFAW)
	r.Tick(now)
	cmd, _, _, _, _, _ = r.SelectCommand(now)
	assert.Equal(t, bank.Activate, cmd.Type, "after tFAW elapses the window should have retired and allow another activation")
}
