package ledger

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"go.uber.org/zap"
)

const (
	opServiceNew         = "ledger.service.new"
	opCreatePartnership  = "ledger.create_partnership"
	opAddGratitude       = "ledger.add_gratitude"
	opDepositFunds       = "ledger.deposit_funds"
	opCreateGoal         = "ledger.create_goal"
	opContributeToGoal   = "ledger.contribute_to_goal"
	opWithdraw           = "ledger.withdraw"
	opPause              = "ledger.pause"
	opUnpause            = "ledger.unpause"
	opGetPartnership     = "ledger.get_partnership"
	opUserPartnerships   = "ledger.user_partnerships"
	opGratitudeEntries   = "ledger.gratitude_entries"
	opGoals              = "ledger.goals"
	opGetGoal            = "ledger.get_goal"
	opStats              = "ledger.stats"
	opPartnershipHistory = "ledger.partnership_history"
	opPaused             = "ledger.paused"
)

var (
	errMissingRuntime  = errors.New("runtime is required")
	errMissingContract = errors.New("ledger contract is required")
)

// ServiceConfig describes the dependencies of the ledger service.
type ServiceConfig struct {
	Runtime  *chain.Runtime
	Contract *Contract
	Logger   *zap.Logger
}

// Service runs ledger operations as standalone transactions.
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

func (s *Service) CreatePartnership(ctx context.Context, caller, other chain.Address, nicknameSelf, nicknameOther string) (Partnership, chain.Receipt, error) {
	var partnership Partnership
	receipt, err := s.execute(ctx, opCreatePartnership, caller, func(tx *chain.Tx) error {
		var err error
		partnership, err = s.contract.CreatePartnership(tx, other, nicknameSelf, nicknameOther)
		return err
	})
	return partnership, receipt, err
}

func (s *Service) AddGratitude(ctx context.Context, caller chain.Address, partnershipID uint64, text string, amount uint64) (GratitudeEntry, chain.Receipt, error) {
	var entry GratitudeEntry
	receipt, err := s.execute(ctx, opAddGratitude, caller, func(tx *chain.Tx) error {
		var err error
		entry, err = s.contract.AddGratitude(tx, partnershipID, text, amount)
		return err
	})
	return entry, receipt, err
}

func (s *Service) DepositFunds(ctx context.Context, caller chain.Address, partnershipID uint64, amount uint64) (Partnership, chain.Receipt, error) {
	var partnership Partnership
	receipt, err := s.execute(ctx, opDepositFunds, caller, func(tx *chain.Tx) error {
		var err error
		partnership, err = s.contract.DepositFunds(tx, partnershipID, amount)
		return err
	})
	return partnership, receipt, err
}

func (s *Service) CreateGoal(ctx context.Context, caller chain.Address, partnershipID uint64, name, description string, target uint64) (Goal, chain.Receipt, error) {
	var goal Goal
	receipt, err := s.execute(ctx, opCreateGoal, caller, func(tx *chain.Tx) error {
		var err error
		goal, err = s.contract.CreateGoal(tx, partnershipID, name, description, target)
		return err
	})
	return goal, receipt, err
}

func (s *Service) ContributeToGoal(ctx context.Context, caller chain.Address, partnershipID, goalID uint64, amount uint64) (Goal, chain.Receipt, error) {
	var goal Goal
	receipt, err := s.execute(ctx, opContributeToGoal, caller, func(tx *chain.Tx) error {
		var err error
		goal, err = s.contract.ContributeToGoal(tx, partnershipID, goalID, amount)
		return err
	})
	return goal, receipt, err
}

// Withdraw returns the amount paid to each partner.
func (s *Service) Withdraw(ctx context.Context, caller chain.Address, partnershipID uint64) (uint64, chain.Receipt, error) {
	var share uint64
	receipt, err := s.execute(ctx, opWithdraw, caller, func(tx *chain.Tx) error {
		var err error
		share, err = s.contract.Withdraw(tx, partnershipID)
		return err
	})
	return share, receipt, err
}

func (s *Service) Pause(ctx context.Context, caller chain.Address) (chain.Receipt, error) {
	return s.execute(ctx, opPause, caller, s.contract.Pause)
}

func (s *Service) Unpause(ctx context.Context, caller chain.Address) (chain.Receipt, error) {
	return s.execute(ctx, opUnpause, caller, s.contract.Unpause)
}

func (s *Service) Paused(ctx context.Context) (bool, error) {
	paused, err := s.contract.Paused(s.runtime.View(ctx))
	if err != nil {
		return false, s.readError(opPaused, err)
	}
	return paused, nil
}

func (s *Service) Partnership(ctx context.Context, partnershipID uint64) (Partnership, error) {
	partnership, err := s.contract.Partnership(s.runtime.View(ctx), partnershipID)
	if err != nil {
		return Partnership{}, s.readError(opGetPartnership, err)
	}
	return partnership, nil
}

func (s *Service) UserPartnerships(ctx context.Context, account chain.Address) ([]Partnership, error) {
	partnerships, err := s.contract.UserPartnerships(s.runtime.View(ctx), account)
	if err != nil {
		return nil, s.readError(opUserPartnerships, err)
	}
	return partnerships, nil
}

// UserPartnershipIDs lists partnership ids for account in creation order.
func (s *Service) UserPartnershipIDs(ctx context.Context, account chain.Address) ([]uint64, error) {
	partnerships, err := s.UserPartnerships(ctx, account)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(partnerships))
	for _, partnership := range partnerships {
		ids = append(ids, partnership.ID)
	}
	return ids, nil
}

func (s *Service) GratitudeEntries(ctx context.Context, partnershipID uint64) ([]GratitudeEntry, error) {
	entries, err := s.contract.GratitudeEntries(s.runtime.View(ctx), partnershipID)
	if err != nil {
		return nil, s.readError(opGratitudeEntries, err)
	}
	return entries, nil
}

func (s *Service) GratitudeEntryIDs(ctx context.Context, partnershipID uint64) ([]uint64, error) {
	entries, err := s.GratitudeEntries(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

func (s *Service) Goals(ctx context.Context, partnershipID uint64) ([]Goal, error) {
	goals, err := s.contract.Goals(s.runtime.View(ctx), partnershipID)
	if err != nil {
		return nil, s.readError(opGoals, err)
	}
	return goals, nil
}

func (s *Service) GoalIDs(ctx context.Context, partnershipID uint64) ([]uint64, error) {
	goals, err := s.Goals(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(goals))
	for _, goal := range goals {
		ids = append(ids, goal.GoalID)
	}
	return ids, nil
}

func (s *Service) Goal(ctx context.Context, partnershipID, goalID uint64) (Goal, error) {
	goal, err := s.contract.Goal(s.runtime.View(ctx), partnershipID, goalID)
	if err != nil {
		return Goal{}, s.readError(opGetGoal, err)
	}
	return goal, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	stats, err := s.contract.Stats(s.runtime.View(ctx))
	if err != nil {
		return Stats{}, s.readError(opStats, err)
	}
	return stats, nil
}

// History reconstructs a partnership's activity from the event log.
func (s *Service) History(ctx context.Context, partnershipID uint64, afterSequence int64, limit int) ([]chain.Event, error) {
	if _, err := s.Partnership(ctx, partnershipID); err != nil {
		return nil, err
	}
	events, err := s.runtime.Events(ctx, chain.EventFilter{
		PartnershipID: partnershipID,
		AfterSequence: afterSequence,
		Limit:         limit,
	})
	if err != nil {
		return nil, s.readError(opPartnershipHistory, err)
	}
	return events, nil
}

func (s *Service) execute(ctx context.Context, operation string, caller chain.Address, fn func(*chain.Tx) error) (chain.Receipt, error) {
	return s.runtime.Execute(ctx, operation, caller, func(tx *chain.Tx) error {
		if err := fn(tx); err != nil {
			reason := Reason(err)
			if reason == "storage_failed" {
				s.logError(operation, reason, err, zap.String("caller", caller.Hex()))
			}
			return chain.NewServiceError(operation, reason, err)
		}
		return nil
	})
}

func (s *Service) readError(operation string, err error) error {
	reason := Reason(err)
	if reason == "storage_failed" {
		s.logError(operation, reason, err)
	}
	return chain.NewServiceError(operation, reason, err)
}

// Reason maps a ledger error to its stable reason string.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPartner):
		return "invalid_partner"
	case errors.Is(err, ErrInvalidNickname):
		return "invalid_nickname"
	case errors.Is(err, ErrUnknownPartnership):
		return "unknown_partnership"
	case errors.Is(err, ErrNotAPartner):
		return "not_a_partner"
	case errors.Is(err, ErrPartnershipInactive):
		return "partnership_inactive"
	case errors.Is(err, ErrTextTooLong):
		return "text_too_long"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrDustOnly):
		return "dust_only"
	case errors.Is(err, ErrNoFundsToWithdraw):
		return "no_funds_to_withdraw"
	case errors.Is(err, ErrInvalidGoalName):
		return "invalid_goal_name"
	case errors.Is(err, ErrUnknownGoal):
		return "unknown_goal"
	case errors.Is(err, ErrGoalAlreadyAchieved):
		return "goal_already_achieved"
	case errors.Is(err, ErrGoalTargetExceeded):
		return "goal_target_exceeded"
	case errors.Is(err, ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, ErrEnforcedPause):
		return "enforced_pause"
	case errors.Is(err, ErrExpectedPause):
		return "expected_pause"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrBridgeOnly):
		return "bridge_only"
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
	s.logger.Error("ledger service error", attrs...)
}
