package token

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"go.uber.org/zap"
)

const (
	opServiceNew   = "token.service.new"
	opTransfer     = "token.transfer"
	opTransferFrom = "token.transfer_from"
	opApprove      = "token.approve"
	opMint         = "token.mint"
	opBalanceOf    = "token.balance_of"
	opAllowance    = "token.allowance"
	opTotalSupply  = "token.total_supply"
)

var (
	errMissingRuntime  = errors.New("runtime is required")
	errMissingContract = errors.New("token contract is required")
)

// ServiceConfig describes the dependencies of the token service.
type ServiceConfig struct {
	Runtime  *chain.Runtime
	Contract *Contract
	Logger   *zap.Logger
}

// Service exposes the token contract as standalone transactions.
type Service struct {
	runtime  *chain.Runtime
	contract *Contract
	logger   *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runtime == nil {
		return nil, chain.NewServiceError(opServiceNew, "missing_runtime", errMissingRuntime)
	}
	if cfg.Contract == nil {
		return nil, chain.NewServiceError(opServiceNew, "missing_contract", errMissingContract)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{runtime: cfg.Runtime, contract: cfg.Contract, logger: logger}, nil
}

func (s *Service) Contract() *Contract {
	return s.contract
}

func (s *Service) Metadata() Metadata {
	return s.contract.Metadata()
}

func (s *Service) Transfer(ctx context.Context, caller, to chain.Address, amount uint64) (chain.Receipt, error) {
	return s.execute(ctx, opTransfer, caller, func(tx *chain.Tx) error {
		return s.contract.Transfer(tx, caller, to, amount)
	})
}

func (s *Service) TransferFrom(ctx context.Context, caller, from, to chain.Address, amount uint64) (chain.Receipt, error) {
	return s.execute(ctx, opTransferFrom, caller, func(tx *chain.Tx) error {
		return s.contract.TransferFrom(tx, caller, from, to, amount)
	})
}

func (s *Service) Approve(ctx context.Context, caller, spender chain.Address, amount uint64) (chain.Receipt, error) {
	return s.execute(ctx, opApprove, caller, func(tx *chain.Tx) error {
		return s.contract.Approve(tx, caller, spender, amount)
	})
}

func (s *Service) Mint(ctx context.Context, caller, to chain.Address, amount uint64) (chain.Receipt, error) {
	return s.execute(ctx, opMint, caller, func(tx *chain.Tx) error {
		return s.contract.Mint(tx, to, amount)
	})
}

func (s *Service) BalanceOf(ctx context.Context, holder chain.Address) (uint64, error) {
	amount, err := s.contract.BalanceOf(s.runtime.View(ctx), holder)
	if err != nil {
		s.logError(opBalanceOf, "query_failed", err, zap.String("holder", holder.Hex()))
		return 0, chain.NewServiceError(opBalanceOf, "query_failed", err)
	}
	return amount, nil
}

func (s *Service) Allowance(ctx context.Context, owner, spender chain.Address) (uint64, error) {
	amount, err := s.contract.Allowance(s.runtime.View(ctx), owner, spender)
	if err != nil {
		s.logError(opAllowance, "query_failed", err)
		return 0, chain.NewServiceError(opAllowance, "query_failed", err)
	}
	return amount, nil
}

func (s *Service) TotalSupply(ctx context.Context) (uint64, error) {
	total, err := s.contract.TotalSupply(s.runtime.View(ctx))
	if err != nil {
		s.logError(opTotalSupply, "query_failed", err)
		return 0, chain.NewServiceError(opTotalSupply, "query_failed", err)
	}
	return total, nil
}

func (s *Service) execute(ctx context.Context, operation string, caller chain.Address, fn func(*chain.Tx) error) (chain.Receipt, error) {
	receipt, err := s.runtime.Execute(ctx, operation, caller, func(tx *chain.Tx) error {
		if err := fn(tx); err != nil {
			reason := Reason(err)
			if reason == "storage_failed" {
				s.logError(operation, reason, err, zap.String("caller", caller.Hex()))
			}
			return chain.NewServiceError(operation, reason, err)
		}
		return nil
	})
	return receipt, err
}

// Reason maps a token error to its stable reason string.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrInvalidSpender):
		return "invalid_spender"
	case errors.Is(err, ErrNotMinter):
		return "not_minter"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAmountOverflow):
		return "amount_overflow"
	default:
		return "storage_failed"
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("token service error", attrs...)
}
