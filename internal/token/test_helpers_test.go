package token

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var (
	testMinter = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testAlice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	testBob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	testCarol  = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&chain.Event{}, &Balance{}, &Allowance{}, &Supply{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	runtime, err := chain.NewRuntime(chain.RuntimeConfig{
		Database:   db,
		ChainID:    31337,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
		IDProvider: chain.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	contract, err := NewContract(ContractConfig{Name: "Mock USDC", Symbol: "USDC", Decimals: 6, Minter: testMinter})
	if err != nil {
		t.Fatalf("failed to create contract: %v", err)
	}
	service, err := NewService(ServiceConfig{Runtime: runtime, Contract: contract})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func mustBalance(t *testing.T, service *Service, holder chain.Address) uint64 {
	t.Helper()
	amount, err := service.BalanceOf(t.Context(), holder)
	if err != nil {
		t.Fatalf("balance query failed: %v", err)
	}
	return amount
}
