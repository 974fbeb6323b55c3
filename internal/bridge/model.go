package bridge

// State holds the mutable configuration and fee ledger of a bridge deployment.
type State struct {
	Contract       string `gorm:"column:contract;primaryKey;size:42;not null" json:"-"`
	Validator      string `gorm:"column:validator;size:42;not null" json:"validator"`
	FeeBasisPoints uint64 `gorm:"column:fee_basis_points;not null" json:"fee_basis_points"`
	MinDeposit     uint64 `gorm:"column:min_deposit;not null" json:"min_deposit"`
	MaxDeposit     uint64 `gorm:"column:max_deposit;not null" json:"max_deposit"`
	AccruedFees    uint64 `gorm:"column:accrued_fees;not null" json:"accrued_fees"`
}

func (State) TableName() string {
	return "bridge_state"
}

const (
	DepositStatusInitiated = "initiated"
)

// Deposit is an outbound lock awaiting completion on its destination chain.
type Deposit struct {
	ID                 uint64 `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	MessageID          string `gorm:"column:message_id;size:66;not null;uniqueIndex" json:"message_id"`
	Sender             string `gorm:"column:sender;size:42;not null;index" json:"sender"`
	PartnershipID      uint64 `gorm:"column:partnership_id;not null" json:"partnership_id"`
	Amount             uint64 `gorm:"column:amount;not null" json:"amount"`
	Fee                uint64 `gorm:"column:fee;not null" json:"fee"`
	NetAmount          uint64 `gorm:"column:net_amount;not null" json:"net_amount"`
	DestinationChainID uint64 `gorm:"column:destination_chain_id;not null" json:"destination_chain_id"`
	Status             string `gorm:"column:status;size:16;not null" json:"status"`
	CreatedAtSeconds   int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

func (Deposit) TableName() string {
	return "bridge_deposits"
}

// Message records a processed inbound completion. Its presence is the replay guard.
type Message struct {
	MessageID          string `gorm:"column:message_id;primaryKey;size:66;not null" json:"message_id"`
	User               string `gorm:"column:user_address;size:42;not null" json:"user"`
	PartnershipID      uint64 `gorm:"column:partnership_id;not null" json:"partnership_id"`
	Amount             uint64 `gorm:"column:amount;not null" json:"amount"`
	SourceChainID      uint64 `gorm:"column:source_chain_id;not null" json:"source_chain_id"`
	Nonce              uint64 `gorm:"column:nonce;not null" json:"nonce"`
	Relayer            string `gorm:"column:relayer;size:42;not null" json:"relayer"`
	TxID               string `gorm:"column:tx_id;size:36;not null" json:"tx_id"`
	ProcessedAtSeconds int64  `gorm:"column:processed_at_s;not null" json:"processed_at_s"`
}

func (Message) TableName() string {
	return "bridge_messages"
}

// Event payloads.

type DepositInitiatedEvent struct {
	DepositID          uint64 `json:"deposit_id"`
	MessageID          string `json:"message_id"`
	User               string `json:"user"`
	PartnershipID      uint64 `json:"partnership_id"`
	Amount             uint64 `json:"amount"`
	Fee                uint64 `json:"fee"`
	NetAmount          uint64 `json:"net_amount"`
	SourceChainID      uint64 `json:"source_chain_id"`
	DestinationChainID uint64 `json:"destination_chain_id"`
}

type DepositCompletedEvent struct {
	User          string `json:"user"`
	PartnershipID uint64 `json:"partnership_id"`
	Amount        uint64 `json:"amount"`
	SourceChainID uint64 `json:"source_chain_id"`
	MessageID     string `json:"message_id"`
	Nonce         uint64 `json:"nonce"`
}

type ValidatorUpdatedEvent struct {
	OldValidator string `json:"old_validator"`
	NewValidator string `json:"new_validator"`
}

type FeesUpdatedEvent struct {
	FeeBasisPoints uint64 `json:"fee_basis_points"`
}

type DepositLimitsUpdatedEvent struct {
	MinDeposit uint64 `json:"min_deposit"`
	MaxDeposit uint64 `json:"max_deposit"`
}

type FeesWithdrawnEvent struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// FeeQuote splits an amount into the bridge fee and the net credited amount.
type FeeQuote struct {
	Fee       uint64 `json:"fee"`
	NetAmount uint64 `json:"net_amount"`
}
