package bridge

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	opServiceNew        = "bridge.service.new"
	opInitiateDeposit   = "bridge.initiate_deposit"
	opCompleteDeposit   = "bridge.complete_deposit"
	opSetValidator      = "bridge.set_validator"
	opSetBridgeFee      = "bridge.set_bridge_fee"
	opSetDepositLimits  = "bridge.set_deposit_limits"
	opWithdrawFees      = "bridge.withdraw_fees"
	opCalculateFee      = "bridge.calculate_fee"
	opState             = "bridge.state"
	opMessageStatus     = "bridge.message_status"
	opGetMessage        = "bridge.get_message"
	opGetDeposit        = "bridge.get_deposit"
	opListDeposits      = "bridge.list_deposits"
	reasonStorageFailed = "storage_failed"
)

var (
	errMissingRuntime  = errors.New("runtime is required")
	errMissingContract = errors.New("bridge contract is required")
)

// ServiceConfig describes the dependencies of the bridge service.
type ServiceConfig struct {
	Runtime  *chain.Runtime
	Contract *Contract
	Logger   *zap.Logger
}

// Service runs bridge operations as standalone transactions.
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

// ChainID is the id of the chain this bridge instance runs on.
func (s *Service) ChainID() uint64 {
	return s.runtime.ChainID()
}

func (s *Service) InitiateCrossChainDeposit(ctx context.Context, caller chain.Address, partnershipID, amount, destinationChainID uint64) (Deposit, chain.Receipt, error) {
	var deposit Deposit
	receipt, err := s.execute(ctx, opInitiateDeposit, caller, func(tx *chain.Tx) error {
		var err error
		deposit, err = s.contract.InitiateCrossChainDeposit(tx, partnershipID, amount, destinationChainID)
		return err
	})
	return deposit, receipt, err
}

// CompleteCrossChainDeposit may be submitted by any relayer; authority comes from the signature.
func (s *Service) CompleteCrossChainDeposit(ctx context.Context, relayer chain.Address, attestation Attestation, signature []byte) (Message, chain.Receipt, error) {
	var message Message
	receipt, err := s.execute(ctx, opCompleteDeposit, relayer, func(tx *chain.Tx) error {
		var err error
		message, err = s.contract.CompleteCrossChainDeposit(tx, attestation, signature)
		return err
	})
	if err != nil && errors.Is(err, ErrInvalidSignature) {
		s.logger.Warn("bridge attestation rejected",
			zap.String("operation", opCompleteDeposit),
			zap.String("message_id", attestation.MessageID.Hex()),
			zap.String("relayer", relayer.Hex()),
		)
	}
	return message, receipt, err
}

func (s *Service) SetValidator(ctx context.Context, caller, validator chain.Address) (chain.Receipt, error) {
	return s.execute(ctx, opSetValidator, caller, func(tx *chain.Tx) error {
		return s.contract.SetValidator(tx, validator)
	})
}

func (s *Service) SetBridgeFee(ctx context.Context, caller chain.Address, basisPoints uint64) (chain.Receipt, error) {
	return s.execute(ctx, opSetBridgeFee, caller, func(tx *chain.Tx) error {
		return s.contract.SetBridgeFee(tx, basisPoints)
	})
}

func (s *Service) SetDepositLimits(ctx context.Context, caller chain.Address, minDeposit, maxDeposit uint64) (chain.Receipt, error) {
	return s.execute(ctx, opSetDepositLimits, caller, func(tx *chain.Tx) error {
		return s.contract.SetDepositLimits(tx, minDeposit, maxDeposit)
	})
}

func (s *Service) WithdrawFees(ctx context.Context, caller, to chain.Address) (uint64, chain.Receipt, error) {
	var amount uint64
	receipt, err := s.execute(ctx, opWithdrawFees, caller, func(tx *chain.Tx) error {
		var err error
		amount, err = s.contract.WithdrawFees(tx, to)
		return err
	})
	return amount, receipt, err
}

func (s *Service) CalculateFee(ctx context.Context, amount uint64) (FeeQuote, error) {
	quote, err := s.contract.CalculateFee(s.runtime.View(ctx), amount)
	if err != nil {
		return FeeQuote{}, s.readError(opCalculateFee, err)
	}
	return quote, nil
}

func (s *Service) State(ctx context.Context) (State, error) {
	state, err := s.contract.State(s.runtime.View(ctx))
	if err != nil {
		return State{}, s.readError(opState, err)
	}
	return state, nil
}

func (s *Service) MessageStatus(ctx context.Context, messageID common.Hash) (bool, error) {
	processed, err := s.contract.MessageStatus(s.runtime.View(ctx), messageID)
	if err != nil {
		return false, s.readError(opMessageStatus, err)
	}
	return processed, nil
}

func (s *Service) Message(ctx context.Context, messageID common.Hash) (Message, error) {
	message, err := s.contract.Message(s.runtime.View(ctx), messageID)
	if err != nil {
		return Message{}, s.readError(opGetMessage, err)
	}
	return message, nil
}

func (s *Service) Deposit(ctx context.Context, depositID uint64) (Deposit, error) {
	deposit, err := s.contract.Deposit(s.runtime.View(ctx), depositID)
	if err != nil {
		return Deposit{}, s.readError(opGetDeposit, err)
	}
	return deposit, nil
}

func (s *Service) Deposits(ctx context.Context, sender chain.Address) ([]Deposit, error) {
	deposits, err := s.contract.Deposits(s.runtime.View(ctx), sender)
	if err != nil {
		return nil, s.readError(opListDeposits, err)
	}
	return deposits, nil
}

func (s *Service) execute(ctx context.Context, operation string, caller chain.Address, fn func(*chain.Tx) error) (chain.Receipt, error) {
	return s.runtime.Execute(ctx, operation, caller, func(tx *chain.Tx) error {
		if err := fn(tx); err != nil {
			reason := Reason(err)
			if reason == reasonStorageFailed {
				s.logError(operation, reason, err, zap.String("caller", caller.Hex()))
			}
			return chain.NewServiceError(operation, reason, err)
		}
		return nil
	})
}

func (s *Service) readError(operation string, err error) error {
	reason := Reason(err)
	if reason == reasonStorageFailed {
		s.logError(operation, reason, err)
	}
	return chain.NewServiceError(operation, reason, err)
}

// Reason maps a bridge error to its stable reason string. Ledger and token failures
// surfacing through the bridge keep their own reasons.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidPartnership):
		return "invalid_partnership"
	case errors.Is(err, ErrInvalidChain):
		return "invalid_chain"
	case errors.Is(err, ErrInvalidMessageID):
		return "invalid_message_id"
	case errors.Is(err, ErrMessageAlreadyProcessed):
		return "message_already_processed"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, ErrFeeTooHigh):
		return "fee_too_high"
	case errors.Is(err, ErrInvalidDepositLimits):
		return "invalid_deposit_limits"
	case errors.Is(err, ErrInvalidValidator):
		return "invalid_validator"
	case errors.Is(err, ErrNoFeesToWithdraw):
		return "no_fees_to_withdraw"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnknownMessage):
		return "unknown_message"
	case errors.Is(err, ErrUnknownDeposit):
		return "unknown_deposit"
	}
	if reason := ledger.Reason(err); reason != reasonStorageFailed {
		return reason
	}
	return token.Reason(err)
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
	s.logger.Error("bridge service error", attrs...)
}
