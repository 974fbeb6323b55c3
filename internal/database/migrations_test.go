package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/users"
	"github.com/ethereum/go-ethereum/common"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lowerAlice = "0x00000000000000000000000000000000000a11ce"
	lowerBob   = "0xfeedfacecafebeefdeadbeefabcdefabcdefabcd"
)

var (
	checksumAlice = common.HexToAddress(lowerAlice).Hex()
	checksumBob   = common.HexToAddress(lowerBob).Hex()
)

func TestApplyMigrationsChecksumsAccountAddresses(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&users.Account{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seen := time.Unix(1_700_000_000, 0).UTC()
	seed := []users.Account{
		{Address: lowerAlice, LoginCount: 2, LastSeenAt: seen},
		{Address: lowerBob, LoginCount: 1, LastSeenAt: seen.Add(time.Hour), DisplayName: "Bob"},
		{Address: checksumBob, LoginCount: 3, LastSeenAt: seen},
	}
	if err := database.Create(&seed).Error; err != nil {
		testContext.Fatalf("failed to seed accounts: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var accounts []users.Account
	if err := database.Order("address").Find(&accounts).Error; err != nil {
		testContext.Fatalf("failed to reload accounts: %v", err)
	}
	if len(accounts) != 2 {
		testContext.Fatalf("expected two accounts after merge, got %+v", accounts)
	}
	byAddress := map[string]users.Account{}
	for _, account := range accounts {
		byAddress[account.Address] = account
	}
	alice, ok := byAddress[checksumAlice]
	if !ok || alice.LoginCount != 2 {
		testContext.Fatalf("expected checksummed alice, got %+v", accounts)
	}
	bob, ok := byAddress[checksumBob]
	if !ok || bob.LoginCount != 4 || bob.DisplayName != "Bob" || !bob.LastSeenAt.Equal(seen.Add(time.Hour)) {
		testContext.Fatalf("expected merged bob, got %+v", bob)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationChecksumAccountAddresses).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected rerun to be a no-op: %v", err)
	}
}

func TestOpenMigratesAllModels(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")
	database, err := Open(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open failed: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"chain_events", "token_balances", "partnerships", "partnership_goals", "bridge_messages", "user_accounts", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := Open("mysql", databasePath, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(DriverSQLite, " ", nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
