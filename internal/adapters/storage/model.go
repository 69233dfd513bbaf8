// Package storage implements ports.PacketStore over a time-series relational
// database (gorm + AutoMigrate + otel tracing plugin + PRAGMA tuning), with
// two concrete backends: Postgres/Timescale (production) and SQLite
// (local/dev/test).
package storage

import "time"

// RuleModel is the gorm row shape for the rules table, shared by both
// backends.
type RuleModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Description string
	RuleType    string `gorm:"index"`
	Conditions  string `gorm:"type:text"` // JSON-encoded domain.Filter
	Action      string
	Priority    int
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (RuleModel) TableName() string { return "rules" }
