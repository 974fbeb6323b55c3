package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/aasharing/internal/bridge"
	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/MarcoPoloResearchLab/aasharing/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&chain.Event{},
		&token.Balance{}, &token.Allowance{}, &token.Supply{},
		&ledger.Partnership{}, &ledger.GratitudeEntry{}, &ledger.Goal{}, &ledger.State{},
		&bridge.State{}, &bridge.Deposit{}, &bridge.Message{},
		&users.Account{},
		&migrationRecord{},
	}
}

// Open establishes a connection for driver and performs schema migrations.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if dialector.Name() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", dialector.Name()))
	}

	return db, nil
}
