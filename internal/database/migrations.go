package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/users"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationChecksumAccountAddresses = "2026-09-14_checksum_account_addresses"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationChecksumAccountAddresses, apply: checksumAccountAddresses},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// checksumAccountAddresses rewrites account rows stored in lowercase hex to the EIP-55
// form every other table uses, merging login counts when both forms exist.
func checksumAccountAddresses(db *gorm.DB) error {
	var accounts []users.Account
	if err := db.Find(&accounts).Error; err != nil {
		return err
	}
	for _, account := range accounts {
		if !common.IsHexAddress(account.Address) {
			continue
		}
		checksummed := common.HexToAddress(account.Address).Hex()
		if checksummed == account.Address {
			continue
		}
		var existing users.Account
		err := db.Where("address = ?", checksummed).Take(&existing).Error
		switch {
		case err == nil:
			update := map[string]interface{}{"login_count": existing.LoginCount + account.LoginCount}
			if account.LastSeenAt.After(existing.LastSeenAt) {
				update["last_seen_at"] = account.LastSeenAt
			}
			if existing.DisplayName == "" && account.DisplayName != "" {
				update["display_name"] = account.DisplayName
			}
			if err := db.Model(&users.Account{}).Where("address = ?", checksummed).Updates(update).Error; err != nil {
				return err
			}
			if err := db.Where("address = ?", account.Address).Delete(&users.Account{}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := db.Model(&users.Account{}).Where("address = ?", account.Address).Update("address", checksummed).Error; err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}
