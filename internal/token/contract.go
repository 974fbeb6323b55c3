package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ContractName labels token events and derives the token address.
	ContractName = "StableToken"

	EventTransfer = "Transfer"
	EventApproval = "Approval"

	defaultDecimals uint8 = 6
)

var (
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidRecipient      = errors.New("token: invalid recipient")
	ErrInvalidSpender        = errors.New("token: invalid spender")
	ErrNotMinter             = errors.New("token: caller is not the minter")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrAmountOverflow        = errors.New("token: amount overflows supply bound")

	errMissingSymbol = errors.New("token symbol is required")
	errMissingMinter = errors.New("token minter is required")
)

// ContractConfig describes a token deployment.
type ContractConfig struct {
	Name     string
	Symbol   string
	Decimals uint8
	Minter   chain.Address
}

// Contract implements the fungible token against a transaction handle, so that other
// contracts can compose token movements into their own transactions.
type Contract struct {
	address  chain.Address
	metadata Metadata
	minter   chain.Address
}

func NewContract(cfg ContractConfig) (*Contract, error) {
	symbol := strings.TrimSpace(cfg.Symbol)
	if symbol == "" {
		return nil, errMissingSymbol
	}
	if cfg.Minter == chain.ZeroAddress {
		return nil, errMissingMinter
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = symbol
	}
	decimals := cfg.Decimals
	if decimals == 0 {
		decimals = defaultDecimals
	}
	return &Contract{
		address:  chain.ContractAddress(ContractName),
		metadata: Metadata{Name: name, Symbol: symbol, Decimals: decimals},
		minter:   cfg.Minter,
	}, nil
}

func (c *Contract) Address() chain.Address {
	return c.address
}

func (c *Contract) Metadata() Metadata {
	return c.metadata
}

func (c *Contract) Minter() chain.Address {
	return c.minter
}

// BalanceOf returns the balance of holder; unknown holders have zero.
func (c *Contract) BalanceOf(db *gorm.DB, holder chain.Address) (uint64, error) {
	balance, err := loadBalance(db, holder, false)
	if err != nil {
		return 0, err
	}
	return balance.Amount, nil
}

// Allowance returns how much spender may still pull from owner.
func (c *Contract) Allowance(db *gorm.DB, owner, spender chain.Address) (uint64, error) {
	allowance, err := loadAllowance(db, owner, spender, false)
	if err != nil {
		return 0, err
	}
	return allowance.Amount, nil
}

func (c *Contract) TotalSupply(db *gorm.DB) (uint64, error) {
	var supply Supply
	err := db.Where("symbol = ?", c.metadata.Symbol).Take(&supply).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return supply.Total, nil
}

// Transfer moves amount from from to to.
func (c *Contract) Transfer(tx *chain.Tx, from, to chain.Address, amount uint64) error {
	if to == chain.ZeroAddress {
		return ErrInvalidRecipient
	}
	if err := c.move(tx, from, to, amount); err != nil {
		return err
	}
	return c.emitTransfer(tx, from, to, amount)
}

// Approve sets the allowance of spender over owner's balance, replacing any prior value.
func (c *Contract) Approve(tx *chain.Tx, owner, spender chain.Address, amount uint64) error {
	if spender == chain.ZeroAddress {
		return ErrInvalidSpender
	}
	if amount > MaxAmount {
		return ErrAmountOverflow
	}
	allowance, err := loadAllowance(tx.DB(), owner, spender, true)
	if err != nil {
		return err
	}
	allowance.Amount = amount
	allowance.UpdatedAtSeconds = tx.Now().Unix()
	if err := tx.DB().Save(&allowance).Error; err != nil {
		return err
	}
	return tx.Emit(chain.Event{
		Contract: ContractName,
		Name:     EventApproval,
		Actor:    owner.Hex(),
		Audience: []chain.Address{owner, spender},
	}, ApprovalEvent{Owner: owner.Hex(), Spender: spender.Hex(), Value: amount})
}

// TransferFrom lets spender move amount from from to to, consuming allowance.
func (c *Contract) TransferFrom(tx *chain.Tx, spender, from, to chain.Address, amount uint64) error {
	if to == chain.ZeroAddress {
		return ErrInvalidRecipient
	}
	allowance, err := loadAllowance(tx.DB(), from, spender, true)
	if err != nil {
		return err
	}
	if allowance.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientAllowance, allowance.Amount, amount)
	}
	if err := c.move(tx, from, to, amount); err != nil {
		return err
	}
	allowance.Amount -= amount
	allowance.UpdatedAtSeconds = tx.Now().Unix()
	if err := tx.DB().Save(&allowance).Error; err != nil {
		return err
	}
	return c.emitTransfer(tx, from, to, amount)
}

// Mint creates amount new tokens for to. Only the minter may call it.
func (c *Contract) Mint(tx *chain.Tx, to chain.Address, amount uint64) error {
	if tx.Caller() != c.minter {
		return ErrNotMinter
	}
	if to == chain.ZeroAddress {
		return ErrInvalidRecipient
	}
	if amount == 0 {
		return ErrInvalidAmount
	}

	var supply Supply
	err := tx.DB().Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("symbol = ?", c.metadata.Symbol).
		Take(&supply).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		supply = Supply{Symbol: c.metadata.Symbol}
	} else if err != nil {
		return err
	}
	total, err := addAmounts(supply.Total, amount)
	if err != nil {
		return err
	}
	balance, err := loadBalance(tx.DB(), to, true)
	if err != nil {
		return err
	}
	credited, err := addAmounts(balance.Amount, amount)
	if err != nil {
		return err
	}

	supply.Total = total
	if err := tx.DB().Save(&supply).Error; err != nil {
		return err
	}
	balance.Amount = credited
	balance.UpdatedAtSeconds = tx.Now().Unix()
	if err := tx.DB().Save(&balance).Error; err != nil {
		return err
	}
	return c.emitTransfer(tx, chain.ZeroAddress, to, amount)
}

func (c *Contract) move(tx *chain.Tx, from, to chain.Address, amount uint64) error {
	source, err := loadBalance(tx.DB(), from, true)
	if err != nil {
		return err
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, source.Amount, amount)
	}
	if from == to {
		return nil
	}
	destination, err := loadBalance(tx.DB(), to, true)
	if err != nil {
		return err
	}
	credited, err := addAmounts(destination.Amount, amount)
	if err != nil {
		return err
	}

	now := tx.Now().Unix()
	source.Amount -= amount
	source.UpdatedAtSeconds = now
	destination.Amount = credited
	destination.UpdatedAtSeconds = now
	if err := tx.DB().Save(&source).Error; err != nil {
		return err
	}
	return tx.DB().Save(&destination).Error
}

func (c *Contract) emitTransfer(tx *chain.Tx, from, to chain.Address, amount uint64) error {
	return tx.Emit(chain.Event{
		Contract: ContractName,
		Name:     EventTransfer,
		Audience: []chain.Address{from, to},
	}, TransferEvent{From: from.Hex(), To: to.Hex(), Value: amount})
}

func loadBalance(db *gorm.DB, holder chain.Address, lock bool) (Balance, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var balance Balance
	err := query.Where("holder = ?", holder.Hex()).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Balance{Holder: holder.Hex()}, nil
	}
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}

func loadAllowance(db *gorm.DB, owner, spender chain.Address, lock bool) (Allowance, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var allowance Allowance
	err := query.Where("owner = ? AND spender = ?", owner.Hex(), spender.Hex()).Take(&allowance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Allowance{Owner: owner.Hex(), Spender: spender.Hex()}, nil
	}
	if err != nil {
		return Allowance{}, err
	}
	return allowance, nil
}
