package ledger

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ContractName labels ledger events and derives the ledger custody address.
	ContractName = "PartnershipLedger"

	EventPartnershipCreated = "PartnershipCreated"
	EventGratitudeAdded     = "GratitudeAdded"
	EventFundsDeposited     = "FundsDeposited"
	EventGoalCreated        = "GoalCreated"
	EventGoalContribution   = "GoalContribution"
	EventGoalAchieved       = "GoalAchieved"
	EventFundsWithdrawn     = "FundsWithdrawn"
	EventPaused             = "Paused"
	EventUnpaused           = "Unpaused"

	SourceGratitude = "gratitude"
	SourceDirect    = "direct"
	SourceGoal      = "goal"
	SourceBridge    = "bridge"

	DefaultMaxGratitudeLength = 500
)

var (
	ErrInvalidPartner      = errors.New("ledger: cannot partner with yourself")
	ErrInvalidNickname     = errors.New("ledger: nicknames required")
	ErrUnknownPartnership  = errors.New("ledger: invalid partnership id")
	ErrNotAPartner         = errors.New("ledger: not a partner in this partnership")
	ErrPartnershipInactive = errors.New("ledger: partnership is not active")
	ErrTextTooLong         = errors.New("ledger: gratitude text too long")
	ErrTransferFailed      = errors.New("ledger: token transfer failed")
	ErrInvalidAmount       = errors.New("ledger: amount must be positive")
	ErrNoFundsToWithdraw   = errors.New("ledger: no funds to withdraw")
	ErrDustOnly            = errors.New("ledger: only an unsplittable unit remains")
	ErrInvalidGoalName     = errors.New("ledger: goal name required")
	ErrUnknownGoal         = errors.New("ledger: invalid goal id")
	ErrGoalAlreadyAchieved = errors.New("ledger: goal already achieved")
	ErrGoalTargetExceeded  = errors.New("ledger: contribution exceeds goal target")
	ErrBalanceOverflow     = errors.New("ledger: balance overflow")
	ErrEnforcedPause       = errors.New("ledger: enforced pause")
	ErrExpectedPause       = errors.New("ledger: expected pause")
	ErrUnauthorized        = errors.New("ledger: caller is not the owner")
	ErrBridgeOnly          = errors.New("ledger: caller is not the bridge")

	errMissingToken = errors.New("token contract is required")
	errMissingOwner = errors.New("ledger owner is required")
)

// ContractConfig describes a ledger deployment.
type ContractConfig struct {
	Token              *token.Contract
	Owner              chain.Address
	Bridge             chain.Address
	MaxGratitudeLength int
}

// Contract holds partnership accounting rules and operates on a transaction handle.
type Contract struct {
	address       chain.Address
	owner         chain.Address
	bridge        chain.Address
	token         *token.Contract
	maxTextLength int
}

func NewContract(cfg ContractConfig) (*Contract, error) {
	if cfg.Token == nil {
		return nil, errMissingToken
	}
	if cfg.Owner == chain.ZeroAddress {
		return nil, errMissingOwner
	}
	maxTextLength := cfg.MaxGratitudeLength
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxGratitudeLength
	}
	return &Contract{
		address:       chain.ContractAddress(ContractName),
		owner:         cfg.Owner,
		bridge:        cfg.Bridge,
		token:         cfg.Token,
		maxTextLength: maxTextLength,
	}, nil
}

// Address is the custody account holding every partnership's pooled tokens.
func (c *Contract) Address() chain.Address {
	return c.address
}

func (c *Contract) Owner() chain.Address {
	return c.owner
}

func (c *Contract) Bridge() chain.Address {
	return c.bridge
}

func (c *Contract) MaxGratitudeLength() int {
	return c.maxTextLength
}

// CreatePartnership opens a partnership between the caller (partner A) and other.
func (c *Contract) CreatePartnership(tx *chain.Tx, other chain.Address, nicknameSelf, nicknameOther string) (Partnership, error) {
	if err := c.ensureNotPaused(tx.DB()); err != nil {
		return Partnership{}, err
	}
	caller := tx.Caller()
	if other == caller || other == chain.ZeroAddress {
		return Partnership{}, ErrInvalidPartner
	}
	nicknameSelf = strings.TrimSpace(nicknameSelf)
	nicknameOther = strings.TrimSpace(nicknameOther)
	if nicknameSelf == "" || nicknameOther == "" {
		return Partnership{}, ErrInvalidNickname
	}

	id, err := nextID(tx.DB(), &Partnership{})
	if err != nil {
		return Partnership{}, err
	}
	partnership := Partnership{
		ID:               id,
		PartnerA:         caller.Hex(),
		PartnerB:         other.Hex(),
		NicknameA:        nicknameSelf,
		NicknameB:        nicknameOther,
		IsActive:         true,
		CreatedAtSeconds: tx.Now().Unix(),
	}
	if err := tx.DB().Create(&partnership).Error; err != nil {
		return Partnership{}, err
	}
	err = tx.Emit(partnershipEvent(partnership, EventPartnershipCreated), PartnershipCreatedEvent{
		PartnershipID: partnership.ID,
		PartnerA:      partnership.PartnerA,
		PartnerB:      partnership.PartnerB,
		NicknameA:     partnership.NicknameA,
		NicknameB:     partnership.NicknameB,
	})
	return partnership, err
}

// AddGratitude appends a gratitude entry and, when amount is positive, pulls amount
// tokens from the caller into the partnership pool.
func (c *Contract) AddGratitude(tx *chain.Tx, partnershipID uint64, text string, amount uint64) (GratitudeEntry, error) {
	partnership, err := c.loadForPartner(tx, partnershipID)
	if err != nil {
		return GratitudeEntry{}, err
	}
	if utf8.RuneCountInString(text) > c.maxTextLength {
		return GratitudeEntry{}, fmt.Errorf("%w: limit is %d characters", ErrTextTooLong, c.maxTextLength)
	}

	entryID, err := nextID(tx.DB(), &GratitudeEntry{})
	if err != nil {
		return GratitudeEntry{}, err
	}
	caller := tx.Caller()
	entry := GratitudeEntry{
		ID:               entryID,
		PartnershipID:    partnership.ID,
		Contributor:      caller.Hex(),
		Text:             text,
		Amount:           amount,
		CreatedAtSeconds: tx.Now().Unix(),
	}
	if err := tx.DB().Create(&entry).Error; err != nil {
		return GratitudeEntry{}, err
	}
	partnership.GratitudeCount++

	err = tx.Emit(partnershipEvent(partnership, EventGratitudeAdded), GratitudeAddedEvent{
		PartnershipID: partnership.ID,
		EntryID:       entry.ID,
		Sender:        entry.Contributor,
		Text:          entry.Text,
		Amount:        entry.Amount,
		Timestamp:     entry.CreatedAtSeconds,
	})
	if err != nil {
		return GratitudeEntry{}, err
	}

	if amount > 0 {
		if err := c.deposit(tx, &partnership, caller, amount, SourceGratitude); err != nil {
			return GratitudeEntry{}, err
		}
	}
	if err := tx.DB().Save(&partnership).Error; err != nil {
		return GratitudeEntry{}, err
	}
	return entry, nil
}

// DepositFunds pulls amount tokens from the caller into the partnership pool.
func (c *Contract) DepositFunds(tx *chain.Tx, partnershipID uint64, amount uint64) (Partnership, error) {
	partnership, err := c.loadForPartner(tx, partnershipID)
	if err != nil {
		return Partnership{}, err
	}
	if amount == 0 {
		return Partnership{}, ErrInvalidAmount
	}
	if err := c.deposit(tx, &partnership, tx.Caller(), amount, SourceDirect); err != nil {
		return Partnership{}, err
	}
	if err := tx.DB().Save(&partnership).Error; err != nil {
		return Partnership{}, err
	}
	return partnership, nil
}

// CreateGoal adds a savings goal; goal ids count from 0 within the partnership.
func (c *Contract) CreateGoal(tx *chain.Tx, partnershipID uint64, name, description string, target uint64) (Goal, error) {
	partnership, err := c.loadForPartner(tx, partnershipID)
	if err != nil {
		return Goal{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Goal{}, ErrInvalidGoalName
	}
	if target == 0 {
		return Goal{}, ErrInvalidAmount
	}

	goal := Goal{
		PartnershipID:    partnership.ID,
		GoalID:           partnership.GoalCount,
		Name:             name,
		Description:      strings.TrimSpace(description),
		TargetAmount:     target,
		CreatedBy:        tx.Caller().Hex(),
		CreatedAtSeconds: tx.Now().Unix(),
	}
	if err := tx.DB().Create(&goal).Error; err != nil {
		return Goal{}, err
	}
	partnership.GoalCount++
	if err := tx.DB().Save(&partnership).Error; err != nil {
		return Goal{}, err
	}
	event := partnershipEvent(partnership, EventGoalCreated)
	event.GoalID = &goal.GoalID
	err = tx.Emit(event, GoalCreatedEvent{
		PartnershipID: goal.PartnershipID,
		GoalID:        goal.GoalID,
		Name:          goal.Name,
		TargetAmount:  goal.TargetAmount,
	})
	return goal, err
}

// ContributeToGoal pulls amount tokens from the caller into the pool and credits the goal.
// A contribution to an achieved goal, or one that would overshoot the target, is rejected.
func (c *Contract) ContributeToGoal(tx *chain.Tx, partnershipID, goalID uint64, amount uint64) (Goal, error) {
	partnership, err := c.loadForPartner(tx, partnershipID)
	if err != nil {
		return Goal{}, err
	}
	if amount == 0 {
		return Goal{}, ErrInvalidAmount
	}

	var goal Goal
	err = tx.DB().Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("partnership_id = ? AND goal_id = ?", partnership.ID, goalID).
		Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Goal{}, ErrUnknownGoal
	}
	if err != nil {
		return Goal{}, err
	}
	if goal.Achieved {
		return Goal{}, ErrGoalAlreadyAchieved
	}
	remaining := goal.TargetAmount - goal.CurrentAmount
	if amount > remaining {
		return Goal{}, fmt.Errorf("%w: %d remaining", ErrGoalTargetExceeded, remaining)
	}

	caller := tx.Caller()
	if err := c.deposit(tx, &partnership, caller, amount, SourceGoal); err != nil {
		return Goal{}, err
	}
	if err := tx.DB().Save(&partnership).Error; err != nil {
		return Goal{}, err
	}

	goal.CurrentAmount += amount
	contribution := partnershipEvent(partnership, EventGoalContribution)
	contribution.GoalID = &goal.GoalID
	err = tx.Emit(contribution, GoalContributionEvent{
		PartnershipID: goal.PartnershipID,
		GoalID:        goal.GoalID,
		Contributor:   caller.Hex(),
		Amount:        amount,
		CurrentAmount: goal.CurrentAmount,
	})
	if err != nil {
		return Goal{}, err
	}
	if goal.CurrentAmount >= goal.TargetAmount {
		goal.Achieved = true
		goal.AchievedAtSeconds = tx.Now().Unix()
		achieved := partnershipEvent(partnership, EventGoalAchieved)
		achieved.GoalID = &goal.GoalID
		err = tx.Emit(achieved, GoalAchievedEvent{
			PartnershipID: goal.PartnershipID,
			GoalID:        goal.GoalID,
			TargetAmount:  goal.TargetAmount,
		})
		if err != nil {
			return Goal{}, err
		}
	}
	err = tx.DB().Model(&Goal{}).
		Where("partnership_id = ? AND goal_id = ?", goal.PartnershipID, goal.GoalID).
		Updates(map[string]any{
			"current_amount": goal.CurrentAmount,
			"achieved":       goal.Achieved,
			"achieved_at_s":  goal.AchievedAtSeconds,
		}).Error
	if err != nil {
		return Goal{}, err
	}
	return goal, nil
}

// Withdraw pays half of the pooled balance, rounded down, to each partner. An odd unit
// stays in the pool for the next withdrawal.
func (c *Contract) Withdraw(tx *chain.Tx, partnershipID uint64) (uint64, error) {
	partnership, err := c.loadForPartner(tx, partnershipID)
	if err != nil {
		return 0, err
	}
	share := partnership.TotalBalance / 2
	if partnership.TotalBalance == 0 {
		return 0, ErrNoFundsToWithdraw
	}
	if share == 0 {
		return 0, fmt.Errorf("%w: %w", ErrNoFundsToWithdraw, ErrDustOnly)
	}
	partnership.TotalBalance -= 2 * share
	if err := tx.DB().Save(&partnership).Error; err != nil {
		return 0, err
	}

	for _, recipient := range []string{partnership.PartnerA, partnership.PartnerB} {
		if err := c.token.Transfer(tx, c.address, common.HexToAddress(recipient), share); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}
	err = tx.Emit(partnershipEvent(partnership, EventFundsWithdrawn), FundsWithdrawnEvent{
		PartnershipID: partnership.ID,
		PartnerA:      partnership.PartnerA,
		PartnerB:      partnership.PartnerB,
		Amount:        share,
		Remainder:     partnership.TotalBalance,
	})
	return share, err
}

// CreditFromBridge credits tokens already moved into ledger custody by the bridge.
// caller must be the configured bridge contract.
func (c *Contract) CreditFromBridge(tx *chain.Tx, caller, user chain.Address, partnershipID uint64, amount uint64) (Partnership, error) {
	if caller != c.bridge || c.bridge == chain.ZeroAddress {
		return Partnership{}, ErrBridgeOnly
	}
	if err := c.ensureNotPaused(tx.DB()); err != nil {
		return Partnership{}, err
	}
	if amount == 0 {
		return Partnership{}, ErrInvalidAmount
	}
	partnership, err := loadPartnership(tx.DB(), partnershipID, true)
	if err != nil {
		return Partnership{}, err
	}
	if !partnership.IsActive {
		return Partnership{}, ErrPartnershipInactive
	}
	if err := c.credit(tx, &partnership, user, amount, SourceBridge); err != nil {
		return Partnership{}, err
	}
	if err := tx.DB().Save(&partnership).Error; err != nil {
		return Partnership{}, err
	}
	return partnership, nil
}

// Pause blocks every state-changing operation until Unpause. Owner only.
func (c *Contract) Pause(tx *chain.Tx) error {
	return c.setPaused(tx, true)
}

func (c *Contract) Unpause(tx *chain.Tx) error {
	return c.setPaused(tx, false)
}

// Paused reports the current pause flag.
func (c *Contract) Paused(db *gorm.DB) (bool, error) {
	var state State
	err := db.Where("contract = ?", c.address.Hex()).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

func (c *Contract) Partnership(db *gorm.DB, partnershipID uint64) (Partnership, error) {
	return loadPartnership(db, partnershipID, false)
}

// UserPartnerships lists the partnerships account belongs to, oldest first.
func (c *Contract) UserPartnerships(db *gorm.DB, account chain.Address) ([]Partnership, error) {
	var partnerships []Partnership
	err := db.Where("partner_a = ? OR partner_b = ?", account.Hex(), account.Hex()).
		Order("id ASC").
		Find(&partnerships).Error
	return partnerships, err
}

func (c *Contract) GratitudeEntries(db *gorm.DB, partnershipID uint64) ([]GratitudeEntry, error) {
	if _, err := loadPartnership(db, partnershipID, false); err != nil {
		return nil, err
	}
	var entries []GratitudeEntry
	err := db.Where("partnership_id = ?", partnershipID).Order("id ASC").Find(&entries).Error
	return entries, err
}

func (c *Contract) Goals(db *gorm.DB, partnershipID uint64) ([]Goal, error) {
	if _, err := loadPartnership(db, partnershipID, false); err != nil {
		return nil, err
	}
	var goals []Goal
	err := db.Where("partnership_id = ?", partnershipID).Order("goal_id ASC").Find(&goals).Error
	return goals, err
}

func (c *Contract) Goal(db *gorm.DB, partnershipID, goalID uint64) (Goal, error) {
	if _, err := loadPartnership(db, partnershipID, false); err != nil {
		return Goal{}, err
	}
	var goal Goal
	err := db.Where("partnership_id = ? AND goal_id = ?", partnershipID, goalID).Take(&goal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Goal{}, ErrUnknownGoal
	}
	return goal, err
}

// Stats aggregates partnership, gratitude and custody figures.
func (c *Contract) Stats(db *gorm.DB) (Stats, error) {
	var partnerships, entries int64
	if err := db.Model(&Partnership{}).Count(&partnerships).Error; err != nil {
		return Stats{}, err
	}
	if err := db.Model(&GratitudeEntry{}).Count(&entries).Error; err != nil {
		return Stats{}, err
	}
	var locked uint64
	if err := db.Model(&Partnership{}).
		Select("CAST(COALESCE(SUM(total_balance), 0) AS BIGINT)").
		Scan(&locked).Error; err != nil {
		return Stats{}, err
	}
	custody, err := c.token.BalanceOf(db, c.address)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalPartnerships:     uint64(partnerships),
		TotalGratitudeEntries: uint64(entries),
		TotalValueLocked:      locked,
		ContractTokenBalance:  custody,
	}, nil
}

func (c *Contract) deposit(tx *chain.Tx, partnership *Partnership, from chain.Address, amount uint64, source string) error {
	if err := c.token.TransferFrom(tx, c.address, from, c.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return c.credit(tx, partnership, from, amount, source)
}

func (c *Contract) credit(tx *chain.Tx, partnership *Partnership, from chain.Address, amount uint64, source string) error {
	if amount > token.MaxAmount-partnership.TotalBalance {
		return ErrBalanceOverflow
	}
	partnership.TotalBalance += amount
	event := partnershipEvent(*partnership, EventFundsDeposited)
	event.Actor = from.Hex()
	return tx.Emit(event, FundsDepositedEvent{
		PartnershipID: partnership.ID,
		From:          from.Hex(),
		Amount:        amount,
		Source:        source,
	})
}

func (c *Contract) loadForPartner(tx *chain.Tx, partnershipID uint64) (Partnership, error) {
	if err := c.ensureNotPaused(tx.DB()); err != nil {
		return Partnership{}, err
	}
	partnership, err := loadPartnership(tx.DB(), partnershipID, true)
	if err != nil {
		return Partnership{}, err
	}
	if !partnership.HasPartner(tx.Caller().Hex()) {
		return Partnership{}, ErrNotAPartner
	}
	if !partnership.IsActive {
		return Partnership{}, ErrPartnershipInactive
	}
	return partnership, nil
}

func (c *Contract) ensureNotPaused(db *gorm.DB) error {
	paused, err := c.Paused(db)
	if err != nil {
		return err
	}
	if paused {
		return ErrEnforcedPause
	}
	return nil
}

func (c *Contract) setPaused(tx *chain.Tx, paused bool) error {
	if tx.Caller() != c.owner {
		return ErrUnauthorized
	}
	current, err := c.Paused(tx.DB())
	if err != nil {
		return err
	}
	if current == paused {
		if paused {
			return ErrEnforcedPause
		}
		return ErrExpectedPause
	}
	state := State{Contract: c.address.Hex(), Paused: paused}
	if err := tx.DB().Save(&state).Error; err != nil {
		return err
	}
	name := EventUnpaused
	if paused {
		name = EventPaused
	}
	return tx.Emit(chain.Event{Contract: ContractName, Name: name}, PauseEvent{Account: tx.Caller().Hex()})
}

func loadPartnership(db *gorm.DB, partnershipID uint64, lock bool) (Partnership, error) {
	if partnershipID == 0 {
		return Partnership{}, ErrUnknownPartnership
	}
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var partnership Partnership
	err := query.Where("id = ?", partnershipID).Take(&partnership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Partnership{}, ErrUnknownPartnership
	}
	if err != nil {
		return Partnership{}, err
	}
	return partnership, nil
}

// nextID returns one past the largest id of model's table; ids start at 1. Callers run
// inside the serialized runtime, so no two transactions race for the same id.
func nextID(db *gorm.DB, model any) (uint64, error) {
	var current uint64
	if err := db.Model(model).Select("CAST(COALESCE(MAX(id), 0) AS BIGINT)").Scan(&current).Error; err != nil {
		return 0, err
	}
	return current + 1, nil
}

func partnershipEvent(partnership Partnership, name string) chain.Event {
	return chain.Event{
		Contract:      ContractName,
		Name:          name,
		PartnershipID: partnership.ID,
		Audience:      partners(partnership),
	}
}

func partners(partnership Partnership) []chain.Address {
	return []chain.Address{common.HexToAddress(partnership.PartnerA), common.HexToAddress(partnership.PartnerB)}
}
