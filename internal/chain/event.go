package chain

import (
	"encoding/json"
	"time"
)

// Event is one entry of the append-only contract event log.
type Event struct {
	Sequence         int64   `gorm:"column:sequence;primaryKey;autoIncrement"`
	EventID          string  `gorm:"column:event_id;size:36;not null;uniqueIndex"`
	TxID             string  `gorm:"column:tx_id;size:36;not null;index"`
	Contract         string  `gorm:"column:contract;size:64;not null;index:idx_chain_events_contract_name"`
	Name             string  `gorm:"column:name;size:64;not null;index:idx_chain_events_contract_name"`
	PartnershipID    uint64  `gorm:"column:partnership_id;index"`
	GoalID           *uint64 `gorm:"column:goal_id"`
	MessageID        string  `gorm:"column:message_id;size:66;index"`
	Actor            string  `gorm:"column:actor;size:42;index"`
	PayloadJSON      string  `gorm:"column:payload_json;type:text;not null"`
	EmittedAtSeconds int64   `gorm:"column:emitted_at_s;not null"`

	// Audience lists the accounts notified in realtime; it is not persisted.
	Audience []Address `gorm:"-"`
}

func (Event) TableName() string {
	return "chain_events"
}

// Decode unmarshals the event payload into target.
func (e Event) Decode(target any) error {
	return json.Unmarshal([]byte(e.PayloadJSON), target)
}

// EmittedAt returns the block time of the emitting transaction.
func (e Event) EmittedAt() time.Time {
	return time.Unix(e.EmittedAtSeconds, 0).UTC()
}

// EventFilter narrows an event log query. Zero values match everything.
type EventFilter struct {
	Contract      string
	Name          string
	PartnershipID uint64
	MessageID     string
	Actor         Address
	AfterSequence int64
	Limit         int
}

// Publisher receives events after their transaction commits.
type Publisher interface {
	Publish(events []Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish([]Event) {}
