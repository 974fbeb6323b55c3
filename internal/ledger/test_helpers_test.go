package ledger

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/ethereum/go-ethereum/common"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const usdc = uint64(1_000000)

var (
	ownerAddress   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	aliceAddress   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bobAddress     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	malloryAddress = common.HexToAddress("0x000000000000000000000000000000000000bad1")
	bridgeAddress  = common.HexToAddress("0x00000000000000000000000000000000000b41d6")
)

type ledgerFixture struct {
	runtime *chain.Runtime
	tokens  *token.Service
	ledger  *Service
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&chain.Event{},
		&token.Balance{}, &token.Allowance{}, &token.Supply{},
		&Partnership{}, &GratitudeEntry{}, &Goal{}, &State{},
	))

	runtime, err := chain.NewRuntime(chain.RuntimeConfig{
		Database:   db,
		ChainID:    31337,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
		IDProvider: chain.NewUUIDProvider(),
	})
	require.NoError(t, err)

	tokenContract, err := token.NewContract(token.ContractConfig{Name: "Mock USDC", Symbol: "USDC", Decimals: 6, Minter: ownerAddress})
	require.NoError(t, err)
	tokens, err := token.NewService(token.ServiceConfig{Runtime: runtime, Contract: tokenContract})
	require.NoError(t, err)

	ledgerContract, err := NewContract(ContractConfig{Token: tokenContract, Owner: ownerAddress, Bridge: bridgeAddress})
	require.NoError(t, err)
	ledger, err := NewService(ServiceConfig{Runtime: runtime, Contract: ledgerContract})
	require.NoError(t, err)

	fixture := &ledgerFixture{runtime: runtime, tokens: tokens, ledger: ledger}
	for _, account := range []chain.Address{aliceAddress, bobAddress, malloryAddress} {
		_, err := tokens.Mint(t.Context(), ownerAddress, account, 1_000_000*usdc)
		require.NoError(t, err)
	}
	return fixture
}

func (f *ledgerFixture) approve(t *testing.T, owner chain.Address, amount uint64) {
	t.Helper()
	_, err := f.tokens.Approve(t.Context(), owner, f.ledger.Contract().Address(), amount)
	require.NoError(t, err)
}

func (f *ledgerFixture) createPartnership(t *testing.T) Partnership {
	t.Helper()
	partnership, _, err := f.ledger.CreatePartnership(t.Context(), aliceAddress, bobAddress, "Alice", "Bob")
	require.NoError(t, err)
	return partnership
}

func (f *ledgerFixture) balance(t *testing.T, holder chain.Address) uint64 {
	t.Helper()
	amount, err := f.tokens.BalanceOf(t.Context(), holder)
	require.NoError(t, err)
	return amount
}

func eventNames(events []chain.Event) []string {
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.Name)
	}
	return names
}

func findEvent(t *testing.T, events []chain.Event, name string, target any) {
	t.Helper()
	for _, event := range events {
		if event.Name == name {
			require.NoError(t, event.Decode(target))
			return
		}
	}
	t.Fatalf("event %s not found in %v", name, eventNames(events))
}
