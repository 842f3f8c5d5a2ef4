package models

import "time"

// RuleSetRecord persists a published eligibility rule set. Rows are never
// updated; a new version is a new row.
type RuleSetRecord struct {
	Base
	Jurisdiction string    `gorm:"not null;uniqueIndex:uq_rule_sets_key_version" json:"jurisdiction"`
	AccountType  string    `gorm:"not null;uniqueIndex:uq_rule_sets_key_version" json:"account_type"`
	Version      string    `gorm:"not null;uniqueIndex:uq_rule_sets_key_version" json:"version"`
	Definition   string    `gorm:"type:text;not null" json:"definition"`
	PublishedAt  time.Time `gorm:"not null" json:"published_at"`
}

// TableName overrides the default table name.
func (RuleSetRecord) TableName() string { return "rule_sets" }
