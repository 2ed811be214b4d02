package accounts

import (
	"strings"
	"time"
)

// Account is the local user record provisioned for an external identity.
type Account struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	Login      string    `gorm:"column:login;size:190;not null;uniqueIndex"`
	Email      string    `gorm:"column:email;size:320;index"`
	Role       string    `gorm:"column:role;size:64;not null"`
	GivenName  string    `gorm:"column:given_name;size:320"`
	FamilyName string    `gorm:"column:family_name;size:320"`
	Credential string    `gorm:"column:credential;size:190"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing local accounts.
func (Account) TableName() string {
	return "accounts"
}

// Attribute is a single named value attached to an account. Subject links,
// claim copies, and event provenance markers are all stored this way.
type Attribute struct {
	AccountID string    `gorm:"column:account_id;primaryKey;size:190;not null"`
	Name      string    `gorm:"column:name;primaryKey;size:190;not null"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing account attributes.
func (Attribute) TableName() string {
	return "account_attributes"
}

// Seed carries the attributes requested for a new account before creation.
type Seed struct {
	Login      string
	Email      string
	Role       string
	GivenName  string
	FamilyName string
	Credential string
}

// normalize value helper used across the store implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
