package bridge

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ContractName labels bridge events and derives the bridge custody address.
	ContractName = "CrossChainBridge"

	EventDepositInitiated     = "CrossChainDepositInitiated"
	EventDepositCompleted     = "CrossChainDepositCompleted"
	EventValidatorUpdated     = "ValidatorUpdated"
	EventFeesUpdated          = "FeesUpdated"
	EventDepositLimitsUpdated = "DepositLimitsUpdated"
	EventFeesWithdrawn        = "FeesWithdrawn"

	// MaxFeeBasisPoints caps the bridge fee at 10%.
	MaxFeeBasisPoints uint64 = 1000
	basisPointsScale  uint64 = 10000
)

var (
	ErrInvalidAmount           = errors.New("bridge: invalid amount")
	ErrInvalidPartnership      = errors.New("bridge: invalid partnership id")
	ErrInvalidChain            = errors.New("bridge: invalid chain id")
	ErrInvalidMessageID        = errors.New("bridge: invalid message id")
	ErrMessageAlreadyProcessed = errors.New("bridge: message already processed")
	ErrTransferFailed          = errors.New("bridge: token transfer failed")
	ErrInsufficientLiquidity   = errors.New("bridge: insufficient liquidity")
	ErrFeeTooHigh              = errors.New("bridge: fee too high")
	ErrInvalidDepositLimits    = errors.New("bridge: invalid deposit limits")
	ErrInvalidValidator        = errors.New("bridge: invalid validator")
	ErrNoFeesToWithdraw        = errors.New("bridge: no fees to withdraw")
	ErrUnauthorized            = errors.New("bridge: caller is not the owner")
	ErrUnknownMessage          = errors.New("bridge: unknown message")
	ErrUnknownDeposit          = errors.New("bridge: unknown deposit")

	errMissingToken  = errors.New("token contract is required")
	errMissingLedger = errors.New("ledger contract is required")
	errMissingOwner  = errors.New("bridge owner is required")
)

// ContractConfig carries the deployment parameters of the bridge.
type ContractConfig struct {
	Token          *token.Contract
	Ledger         *ledger.Contract
	Owner          chain.Address
	Validator      chain.Address
	FeeBasisPoints uint64
	MinDeposit     uint64
	MaxDeposit     uint64
	Attestor       Attestor
}

// Contract locks tokens for outbound transfers and credits ledger partnerships for
// inbound transfers attested by the validator.
type Contract struct {
	address  chain.Address
	owner    chain.Address
	token    *token.Contract
	ledger   *ledger.Contract
	attestor Attestor
	initial  State
}

func NewContract(cfg ContractConfig) (*Contract, error) {
	if cfg.Token == nil {
		return nil, errMissingToken
	}
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	if cfg.Owner == chain.ZeroAddress {
		return nil, errMissingOwner
	}
	if cfg.Validator == chain.ZeroAddress {
		return nil, ErrInvalidValidator
	}
	if err := validateFee(cfg.FeeBasisPoints); err != nil {
		return nil, err
	}
	if err := validateLimits(cfg.MinDeposit, cfg.MaxDeposit); err != nil {
		return nil, err
	}
	address := chain.ContractAddress(ContractName)
	if cfg.Ledger.Bridge() != address {
		return nil, fmt.Errorf("bridge: ledger trusts %s, not %s", cfg.Ledger.Bridge().Hex(), address.Hex())
	}
	attestor := cfg.Attestor
	if attestor == nil {
		attestor = ECDSAAttestor{}
	}
	return &Contract{
		address:  address,
		owner:    cfg.Owner,
		token:    cfg.Token,
		ledger:   cfg.Ledger,
		attestor: attestor,
		initial: State{
			Contract:       address.Hex(),
			Validator:      cfg.Validator.Hex(),
			FeeBasisPoints: cfg.FeeBasisPoints,
			MinDeposit:     cfg.MinDeposit,
			MaxDeposit:     cfg.MaxDeposit,
		},
	}, nil
}

// Address is the custody account for locked deposits, fees and inbound liquidity.
func (c *Contract) Address() chain.Address {
	return c.address
}

func (c *Contract) Owner() chain.Address {
	return c.owner
}

// InitiateCrossChainDeposit locks amount from the caller and announces the net amount
// for a partnership on destinationChainID.
func (c *Contract) InitiateCrossChainDeposit(tx *chain.Tx, partnershipID, amount, destinationChainID uint64) (Deposit, error) {
	state, err := c.loadState(tx.DB(), true)
	if err != nil {
		return Deposit{}, err
	}
	if amount < state.MinDeposit || amount > state.MaxDeposit {
		return Deposit{}, fmt.Errorf("%w: %d outside [%d, %d]", ErrInvalidAmount, amount, state.MinDeposit, state.MaxDeposit)
	}
	if partnershipID == 0 {
		return Deposit{}, ErrInvalidPartnership
	}
	if destinationChainID == 0 {
		return Deposit{}, ErrInvalidChain
	}

	caller := tx.Caller()
	if err := c.token.TransferFrom(tx, c.address, caller, c.address, amount); err != nil {
		return Deposit{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	quote := calculateFee(amount, state.FeeBasisPoints)
	state.AccruedFees += quote.Fee
	if err := tx.DB().Save(&state).Error; err != nil {
		return Deposit{}, err
	}

	depositID, err := nextDepositID(tx.DB())
	if err != nil {
		return Deposit{}, err
	}
	messageID := DepositMessageID(tx.ChainID(), depositID, caller)
	deposit := Deposit{
		ID:                 depositID,
		MessageID:          messageID.Hex(),
		Sender:             caller.Hex(),
		PartnershipID:      partnershipID,
		Amount:             amount,
		Fee:                quote.Fee,
		NetAmount:          quote.NetAmount,
		DestinationChainID: destinationChainID,
		Status:             DepositStatusInitiated,
		CreatedAtSeconds:   tx.Now().Unix(),
	}
	if err := tx.DB().Create(&deposit).Error; err != nil {
		return Deposit{}, err
	}
	err = tx.Emit(chain.Event{
		Contract:      ContractName,
		Name:          EventDepositInitiated,
		PartnershipID: partnershipID,
		MessageID:     deposit.MessageID,
		Audience:      []chain.Address{caller},
	}, DepositInitiatedEvent{
		DepositID:          deposit.ID,
		MessageID:          deposit.MessageID,
		User:               deposit.Sender,
		PartnershipID:      partnershipID,
		Amount:             amount,
		Fee:                quote.Fee,
		NetAmount:          quote.NetAmount,
		SourceChainID:      tx.ChainID(),
		DestinationChainID: destinationChainID,
	})
	return deposit, err
}

// CompleteCrossChainDeposit credits a partnership for a deposit made on another chain.
// The message id is consumed at most once and the validator must have signed the payload.
func (c *Contract) CompleteCrossChainDeposit(tx *chain.Tx, attestation Attestation, signature []byte) (Message, error) {
	if attestation.MessageID == (common.Hash{}) {
		return Message{}, ErrInvalidMessageID
	}
	messageID := attestation.MessageID.Hex()
	var existing Message
	err := tx.DB().Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("message_id = ?", messageID).
		Take(&existing).Error
	if err == nil {
		return Message{}, ErrMessageAlreadyProcessed
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, err
	}

	state, err := c.loadState(tx.DB(), false)
	if err != nil {
		return Message{}, err
	}
	attestation.DestinationChainID = tx.ChainID()
	if err := c.attestor.Verify(common.HexToAddress(state.Validator), attestation, signature); err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if attestation.Amount == 0 {
		return Message{}, ErrInvalidAmount
	}
	// Accrued fees stay in custody until WithdrawFees; only the remainder backs completions.
	custody, err := c.token.BalanceOf(tx.DB(), c.address)
	if err != nil {
		return Message{}, err
	}
	if custody < state.AccruedFees || custody-state.AccruedFees < attestation.Amount {
		return Message{}, ErrInsufficientLiquidity
	}

	message := Message{
		MessageID:          messageID,
		User:               attestation.User.Hex(),
		PartnershipID:      attestation.PartnershipID,
		Amount:             attestation.Amount,
		SourceChainID:      attestation.SourceChainID,
		Nonce:              attestation.Nonce,
		Relayer:            tx.Caller().Hex(),
		TxID:               tx.ID(),
		ProcessedAtSeconds: tx.Now().Unix(),
	}
	if err := tx.DB().Create(&message).Error; err != nil {
		return Message{}, err
	}

	if err := c.token.Transfer(tx, c.address, c.ledger.Address(), attestation.Amount); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	partnership, err := c.ledger.CreditFromBridge(tx, c.address, attestation.User, attestation.PartnershipID, attestation.Amount)
	if err != nil {
		return Message{}, err
	}

	err = tx.Emit(chain.Event{
		Contract:      ContractName,
		Name:          EventDepositCompleted,
		PartnershipID: attestation.PartnershipID,
		MessageID:     messageID,
		Actor:         attestation.User.Hex(),
		Audience: []chain.Address{
			attestation.User,
			common.HexToAddress(partnership.PartnerA),
			common.HexToAddress(partnership.PartnerB),
		},
	}, DepositCompletedEvent{
		User:          attestation.User.Hex(),
		PartnershipID: attestation.PartnershipID,
		Amount:        attestation.Amount,
		SourceChainID: attestation.SourceChainID,
		MessageID:     messageID,
		Nonce:         attestation.Nonce,
	})
	return message, err
}

// SetValidator replaces the trusted validator. Owner only.
func (c *Contract) SetValidator(tx *chain.Tx, validator chain.Address) error {
	if tx.Caller() != c.owner {
		return ErrUnauthorized
	}
	if validator == chain.ZeroAddress {
		return ErrInvalidValidator
	}
	state, err := c.loadState(tx.DB(), true)
	if err != nil {
		return err
	}
	previous := state.Validator
	state.Validator = validator.Hex()
	if err := tx.DB().Save(&state).Error; err != nil {
		return err
	}
	return tx.Emit(c.adminEvent(EventValidatorUpdated), ValidatorUpdatedEvent{
		OldValidator: previous,
		NewValidator: state.Validator,
	})
}

// SetBridgeFee updates the fee in basis points, capped at MaxFeeBasisPoints. Owner only.
func (c *Contract) SetBridgeFee(tx *chain.Tx, basisPoints uint64) error {
	if tx.Caller() != c.owner {
		return ErrUnauthorized
	}
	if err := validateFee(basisPoints); err != nil {
		return err
	}
	state, err := c.loadState(tx.DB(), true)
	if err != nil {
		return err
	}
	state.FeeBasisPoints = basisPoints
	if err := tx.DB().Save(&state).Error; err != nil {
		return err
	}
	return tx.Emit(c.adminEvent(EventFeesUpdated), FeesUpdatedEvent{FeeBasisPoints: basisPoints})
}

// SetDepositLimits updates the accepted deposit range. Owner only.
func (c *Contract) SetDepositLimits(tx *chain.Tx, minDeposit, maxDeposit uint64) error {
	if tx.Caller() != c.owner {
		return ErrUnauthorized
	}
	if err := validateLimits(minDeposit, maxDeposit); err != nil {
		return err
	}
	state, err := c.loadState(tx.DB(), true)
	if err != nil {
		return err
	}
	state.MinDeposit = minDeposit
	state.MaxDeposit = maxDeposit
	if err := tx.DB().Save(&state).Error; err != nil {
		return err
	}
	return tx.Emit(c.adminEvent(EventDepositLimitsUpdated), DepositLimitsUpdatedEvent{
		MinDeposit: minDeposit,
		MaxDeposit: maxDeposit,
	})
}

// WithdrawFees pays all accrued fees to to. Owner only.
func (c *Contract) WithdrawFees(tx *chain.Tx, to chain.Address) (uint64, error) {
	if tx.Caller() != c.owner {
		return 0, ErrUnauthorized
	}
	state, err := c.loadState(tx.DB(), true)
	if err != nil {
		return 0, err
	}
	amount := state.AccruedFees
	if amount == 0 {
		return 0, ErrNoFeesToWithdraw
	}
	state.AccruedFees = 0
	if err := tx.DB().Save(&state).Error; err != nil {
		return 0, err
	}
	if err := c.token.Transfer(tx, c.address, to, amount); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	event := c.adminEvent(EventFeesWithdrawn)
	event.Audience = append(event.Audience, to)
	return amount, tx.Emit(event, FeesWithdrawnEvent{To: to.Hex(), Amount: amount})
}

// State returns the current bridge configuration.
func (c *Contract) State(db *gorm.DB) (State, error) {
	return c.loadState(db, false)
}

// CalculateFee quotes the fee and net amount under the current fee setting.
func (c *Contract) CalculateFee(db *gorm.DB, amount uint64) (FeeQuote, error) {
	state, err := c.loadState(db, false)
	if err != nil {
		return FeeQuote{}, err
	}
	return calculateFee(amount, state.FeeBasisPoints), nil
}

// MessageStatus reports whether messageID has been processed.
func (c *Contract) MessageStatus(db *gorm.DB, messageID common.Hash) (bool, error) {
	var count int64
	if err := db.Model(&Message{}).Where("message_id = ?", messageID.Hex()).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (c *Contract) Message(db *gorm.DB, messageID common.Hash) (Message, error) {
	var message Message
	err := db.Where("message_id = ?", messageID.Hex()).Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, ErrUnknownMessage
	}
	return message, err
}

func (c *Contract) Deposit(db *gorm.DB, depositID uint64) (Deposit, error) {
	var deposit Deposit
	err := db.Where("id = ?", depositID).Take(&deposit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Deposit{}, ErrUnknownDeposit
	}
	return deposit, err
}

// Deposits lists the outbound deposits of sender, newest first.
func (c *Contract) Deposits(db *gorm.DB, sender chain.Address) ([]Deposit, error) {
	var deposits []Deposit
	err := db.Where("sender = ?", sender.Hex()).Order("id DESC").Find(&deposits).Error
	return deposits, err
}

func (c *Contract) loadState(db *gorm.DB, lock bool) (State, error) {
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var state State
	err := query.Where("contract = ?", c.address.Hex()).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.initial, nil
	}
	if err != nil {
		return State{}, err
	}
	return state, nil
}

func (c *Contract) adminEvent(name string) chain.Event {
	return chain.Event{
		Contract: ContractName,
		Name:     name,
		Audience: []chain.Address{c.owner},
	}
}

func calculateFee(amount, basisPoints uint64) FeeQuote {
	hi, lo := bits.Mul64(amount, basisPoints)
	fee, _ := bits.Div64(hi, lo, basisPointsScale)
	return FeeQuote{Fee: fee, NetAmount: amount - fee}
}

func validateFee(basisPoints uint64) error {
	if basisPoints > MaxFeeBasisPoints {
		return fmt.Errorf("%w: %d > %d basis points", ErrFeeTooHigh, basisPoints, MaxFeeBasisPoints)
	}
	return nil
}

func validateLimits(minDeposit, maxDeposit uint64) error {
	if minDeposit == 0 {
		return fmt.Errorf("%w: min must be positive", ErrInvalidDepositLimits)
	}
	if maxDeposit <= minDeposit {
		return fmt.Errorf("%w: max must be greater than min", ErrInvalidDepositLimits)
	}
	return nil
}

func nextDepositID(db *gorm.DB) (uint64, error) {
	var current uint64
	if err := db.Model(&Deposit{}).Select("CAST(COALESCE(MAX(id), 0) AS BIGINT)").Scan(&current).Error; err != nil {
		return 0, err
	}
	return current + 1, nil
}
