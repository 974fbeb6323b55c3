package token

// Balance is the token balance of one holder, in base units.
type Balance struct {
	Holder           string `gorm:"column:holder;primaryKey;size:42;not null"`
	Amount           uint64 `gorm:"column:amount;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (Balance) TableName() string {
	return "token_balances"
}

// Allowance is the amount spender may pull from owner.
type Allowance struct {
	Owner            string `gorm:"column:owner;primaryKey;size:42;not null"`
	Spender          string `gorm:"column:spender;primaryKey;size:42;not null"`
	Amount           uint64 `gorm:"column:amount;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (Allowance) TableName() string {
	return "token_allowances"
}

// Supply holds the running total supply under a single row keyed by token symbol.
type Supply struct {
	Symbol string `gorm:"column:symbol;primaryKey;size:16;not null"`
	Total  uint64 `gorm:"column:total;not null"`
}

func (Supply) TableName() string {
	return "token_supply"
}

// Metadata describes the token.
type Metadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// TransferEvent is the payload of a Transfer event.
type TransferEvent struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value uint64 `json:"value"`
}

// ApprovalEvent is the payload of an Approval event.
type ApprovalEvent struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Value   uint64 `json:"value"`
}
