package chain

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRuntimeNew = "chain.runtime.new"
	opExecute    = "chain.execute"
	opEvents     = "chain.events"

	defaultEventLimit = 200
	maxEventLimit     = 1000
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingChainID    = errors.New("chain id must be positive")
	noOpLogger           = zap.NewNop()
)

// RuntimeConfig describes the dependencies of the execution runtime.
type RuntimeConfig struct {
	Database   *gorm.DB
	ChainID    uint64
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Runtime executes contract calls one at a time, each inside a single database transaction.
type Runtime struct {
	mu        sync.Mutex
	db        *gorm.DB
	chainID   uint64
	clock     func() time.Time
	ids       IDProvider
	publisher Publisher
	logger    *zap.Logger
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID   string
	Events []Event
}

func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Database == nil {
		return nil, NewServiceError(opRuntimeNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, NewServiceError(opRuntimeNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.ChainID == 0 {
		return nil, NewServiceError(opRuntimeNew, "invalid_chain_id", errMissingChainID)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Runtime{
		db:        cfg.Database,
		chainID:   cfg.ChainID,
		clock:     clock,
		ids:       cfg.IDProvider,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// ChainID returns the local chain identifier bound into bridge attestations.
func (r *Runtime) ChainID() uint64 {
	return r.chainID
}

// Now returns the runtime clock in UTC.
func (r *Runtime) Now() time.Time {
	return r.clock().UTC()
}

// View returns a context-bound handle for read-only queries.
func (r *Runtime) View(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Execute runs fn as one transaction on behalf of caller. Either every write and event
// from fn commits, or none does.
func (r *Runtime) Execute(ctx context.Context, operation string, caller Address, fn func(*Tx) error) (Receipt, error) {
	timer := prometheus.NewTimer(transactionDuration.WithLabelValues(operation))
	defer timer.ObserveDuration()

	r.mu.Lock()
	defer r.mu.Unlock()

	txID, err := r.ids.NewID()
	if err != nil {
		transactionsTotal.WithLabelValues(operation, statusReverted).Inc()
		return Receipt{}, NewServiceError(opExecute, "id_generation_failed", err)
	}

	var tx *Tx
	txErr := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		tx = &Tx{
			db:      db,
			id:      txID,
			caller:  caller,
			now:     r.clock().UTC(),
			chainID: r.chainID,
			ids:     r.ids,
		}
		if err := fn(tx); err != nil {
			return err
		}
		for index := range tx.events {
			if err := db.Create(&tx.events[index]).Error; err != nil {
				return NewServiceError(opExecute, "event_insert_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		transactionsTotal.WithLabelValues(operation, statusReverted).Inc()
		r.logger.Info("transaction reverted",
			zap.String("operation", operation),
			zap.String("tx_id", txID),
			zap.String("caller", caller.Hex()),
			zap.String("code", ErrorCode(txErr)),
			zap.Error(txErr))
		return Receipt{}, txErr
	}

	transactionsTotal.WithLabelValues(operation, statusCommitted).Inc()
	for _, event := range tx.events {
		eventsEmittedTotal.WithLabelValues(event.Contract, event.Name).Inc()
	}
	r.logger.Debug("transaction committed",
		zap.String("operation", operation),
		zap.String("tx_id", txID),
		zap.Int("events", len(tx.events)))
	r.publisher.Publish(tx.events)

	return Receipt{TxID: txID, Events: tx.events}, nil
}

// Events queries the persisted event log in emission order.
func (r *Runtime) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	query := r.db.WithContext(ctx).Model(&Event{})
	if filter.Contract != "" {
		query = query.Where("contract = ?", filter.Contract)
	}
	if filter.Name != "" {
		query = query.Where("name = ?", filter.Name)
	}
	if filter.PartnershipID != 0 {
		query = query.Where("partnership_id = ?", filter.PartnershipID)
	}
	if filter.MessageID != "" {
		query = query.Where("message_id = ?", filter.MessageID)
	}
	if filter.Actor != ZeroAddress {
		query = query.Where("actor = ?", filter.Actor.Hex())
	}
	if filter.AfterSequence > 0 {
		query = query.Where("sequence > ?", filter.AfterSequence)
	}
	var events []Event
	if err := query.Order("sequence ASC").Limit(limit).Find(&events).Error; err != nil {
		r.logger.Error("chain service error",
			zap.String("operation", opEvents),
			zap.String("reason", "query_failed"),
			zap.Error(err))
		return nil, NewServiceError(opEvents, "query_failed", err)
	}
	return events, nil
}

// Tx is the view a contract call has of its enclosing transaction.
type Tx struct {
	db      *gorm.DB
	id      string
	caller  Address
	now     time.Time
	chainID uint64
	ids     IDProvider
	events  []Event
}

// DB returns the transaction-scoped database handle.
func (t *Tx) DB() *gorm.DB {
	return t.db
}

func (t *Tx) ID() string {
	return t.id
}

// Caller is the account that submitted the transaction.
func (t *Tx) Caller() Address {
	return t.caller
}

// Now is the block time shared by every effect of the transaction.
func (t *Tx) Now() time.Time {
	return t.now
}

func (t *Tx) ChainID() uint64 {
	return t.chainID
}

// Emit appends an event whose payload is the JSON form of payload. Events persist only
// if the transaction commits.
func (t *Tx) Emit(event Event, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return NewServiceError(opExecute, "event_encode_failed", err)
	}
	eventID, err := t.ids.NewID()
	if err != nil {
		return NewServiceError(opExecute, "id_generation_failed", err)
	}
	event.EventID = eventID
	event.TxID = t.id
	event.PayloadJSON = string(encoded)
	event.EmittedAtSeconds = t.now.Unix()
	if event.Actor == "" && t.caller != ZeroAddress {
		event.Actor = t.caller.Hex()
	}
	t.events = append(t.events, event)
	return nil
}

// Events returns the events emitted so far in this transaction.
func (t *Tx) Events() []Event {
	return t.events
}
