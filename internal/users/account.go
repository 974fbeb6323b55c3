package users

import (
	"strings"
	"time"
)

// Account records a wallet that has logged in to the API.
type Account struct {
	Address     string    `gorm:"column:address;primaryKey;size:42;not null" json:"address"`
	DisplayName string    `gorm:"column:display_name;size:64" json:"display_name"`
	LoginCount  int64     `gorm:"column:login_count;not null;default:0" json:"login_count"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing wallet accounts.
func (Account) TableName() string {
	return "user_accounts"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
