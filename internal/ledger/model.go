package ledger

// Partnership is a two-party pool of tokens with its gratitude history and goals.
type Partnership struct {
	ID               uint64 `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	PartnerA         string `gorm:"column:partner_a;size:42;not null;index" json:"partner_a"`
	PartnerB         string `gorm:"column:partner_b;size:42;not null;index" json:"partner_b"`
	NicknameA        string `gorm:"column:nickname_a;size:128;not null" json:"nickname_a"`
	NicknameB        string `gorm:"column:nickname_b;size:128;not null" json:"nickname_b"`
	TotalBalance     uint64 `gorm:"column:total_balance;not null" json:"total_balance"`
	GoalCount        uint64 `gorm:"column:goal_count;not null" json:"goal_count"`
	GratitudeCount   uint64 `gorm:"column:gratitude_count;not null" json:"gratitude_count"`
	IsActive         bool   `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

func (Partnership) TableName() string {
	return "partnerships"
}

// HasPartner reports whether address (checksummed hex) is one of the two partners.
func (p Partnership) HasPartner(address string) bool {
	return p.PartnerA == address || p.PartnerB == address
}

// GratitudeEntry is an immutable note recorded by one partner.
type GratitudeEntry struct {
	ID               uint64 `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	PartnershipID    uint64 `gorm:"column:partnership_id;not null;index" json:"partnership_id"`
	Contributor      string `gorm:"column:contributor;size:42;not null" json:"contributor"`
	Text             string `gorm:"column:text;type:text;not null" json:"text"`
	Amount           uint64 `gorm:"column:amount;not null" json:"amount"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

func (GratitudeEntry) TableName() string {
	return "gratitude_entries"
}

// Goal is a savings target. GoalID is an index local to its partnership, starting at 0.
type Goal struct {
	PartnershipID     uint64 `gorm:"column:partnership_id;primaryKey;autoIncrement:false" json:"partnership_id"`
	GoalID            uint64 `gorm:"column:goal_id;primaryKey;autoIncrement:false" json:"goal_id"`
	Name              string `gorm:"column:name;size:256;not null" json:"name"`
	Description       string `gorm:"column:description;type:text;not null" json:"description"`
	TargetAmount      uint64 `gorm:"column:target_amount;not null" json:"target_amount"`
	CurrentAmount     uint64 `gorm:"column:current_amount;not null" json:"current_amount"`
	Achieved          bool   `gorm:"column:achieved;not null" json:"achieved"`
	CreatedBy         string `gorm:"column:created_by;size:42;not null" json:"created_by"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
	AchievedAtSeconds int64  `gorm:"column:achieved_at_s;not null" json:"achieved_at_s"`
}

func (Goal) TableName() string {
	return "partnership_goals"
}

// State holds contract-wide flags of a ledger deployment.
type State struct {
	Contract string `gorm:"column:contract;primaryKey;size:42;not null"`
	Paused   bool   `gorm:"column:paused;not null"`
}

func (State) TableName() string {
	return "ledger_state"
}

// Stats aggregates contract-wide figures.
type Stats struct {
	TotalPartnerships     uint64 `json:"total_partnerships"`
	TotalGratitudeEntries uint64 `json:"total_gratitude_entries"`
	TotalValueLocked      uint64 `json:"total_value_locked"`
	ContractTokenBalance  uint64 `json:"contract_token_balance"`
}

// Event payloads.

type PartnershipCreatedEvent struct {
	PartnershipID uint64 `json:"partnership_id"`
	PartnerA      string `json:"partner_a"`
	PartnerB      string `json:"partner_b"`
	NicknameA     string `json:"nickname_a"`
	NicknameB     string `json:"nickname_b"`
}

type GratitudeAddedEvent struct {
	PartnershipID uint64 `json:"partnership_id"`
	EntryID       uint64 `json:"entry_id"`
	Sender        string `json:"sender"`
	Text          string `json:"text"`
	Amount        uint64 `json:"amount"`
	Timestamp     int64  `json:"timestamp"`
}

type FundsDepositedEvent struct {
	PartnershipID uint64 `json:"partnership_id"`
	From          string `json:"from"`
	Amount        uint64 `json:"amount"`
	Source        string `json:"source"`
}

type GoalCreatedEvent struct {
	PartnershipID uint64 `json:"partnership_id"`
	GoalID        uint64 `json:"goal_id"`
	Name          string `json:"name"`
	TargetAmount  uint64 `json:"target_amount"`
}

type GoalContributionEvent struct {
	PartnershipID uint64 `json:"partnership_id"`
	GoalID        uint64 `json:"goal_id"`
	Contributor   string `json:"contributor"`
	Amount        uint64 `json:"amount"`
	CurrentAmount uint64 `json:"current_amount"`
}

type GoalAchievedEvent struct {
	PartnershipID uint64 `json:"partnership_id"`
	GoalID        uint64 `json:"goal_id"`
	TargetAmount  uint64 `json:"target_amount"`
}

type FundsWithdrawnEvent struct {
	PartnershipID uint64 `json:"partnership_id"`
	PartnerA      string `json:"partner_a"`
	PartnerB      string `json:"partner_b"`
	Amount        uint64 `json:"amount"`
	Remainder     uint64 `json:"remainder"`
}

type PauseEvent struct {
	Account string `json:"account"`
}
