package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxDisplayNameLength = 64

var (
	// ErrInvalidAccount indicates the wallet address was empty.
	ErrInvalidAccount = errors.New("users: invalid account")
	// ErrUnknownAccount indicates the wallet never logged in.
	ErrUnknownAccount = errors.New("users: unknown account")
	// ErrInvalidDisplayName indicates an over-long display name.
	ErrInvalidDisplayName = errors.New("users: invalid display name")
)

// ServiceConfig describes the dependencies required for account tracking.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service keeps the registry of wallets that have authenticated against the API.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	known  sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// RecordLogin creates the account on first login and bumps its login statistics.
func (s *Service) RecordLogin(ctx context.Context, address chain.Address) (Account, error) {
	if address == chain.ZeroAddress {
		return Account{}, ErrInvalidAccount
	}
	key := address.Hex()
	now := s.now().UTC()

	if _, seen := s.known.Load(key); !seen {
		account := Account{Address: key, LastSeenAt: now}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&account).Error
		if err != nil {
			return Account{}, err
		}
		s.known.Store(key, struct{}{})
	}

	err := s.db.WithContext(ctx).Model(&Account{}).
		Where("address = ?", key).
		Updates(map[string]interface{}{
			"login_count":  gorm.Expr("login_count + 1"),
			"last_seen_at": now,
		}).Error
	if err != nil {
		return Account{}, err
	}
	s.logger.Debug("wallet login recorded", zap.String("address", key))
	return s.Account(ctx, address)
}

// Account returns the stored account for address.
func (s *Service) Account(ctx context.Context, address chain.Address) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("address = ?", address.Hex()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrUnknownAccount
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// SetDisplayName updates the optional display name. Blank clears it.
func (s *Service) SetDisplayName(ctx context.Context, address chain.Address, displayName string) (Account, error) {
	name := normalize(displayName)
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return Account{}, ErrInvalidDisplayName
	}
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("address = ?", address.Hex()).
		Update("display_name", name)
	if result.Error != nil {
		return Account{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Account{}, ErrUnknownAccount
	}
	return s.Account(ctx, address)
}
