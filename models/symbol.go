package models

import (
	"time"

	"gorm.io/gorm"
)

// Symbol represents a traded instrument registered for ingestion
type Symbol struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Symbol          string     `gorm:"uniqueIndex;not null" json:"symbol"`
	Exchange        string     `json:"exchange"`      // NYSE, NASDAQ, CME, EUREX
	SecurityType    string     `json:"security_type"` // STOCK, FUTURE, OPTION, INDEX, FOREX, CRYPTO
	Description     string     `json:"description"`
	Active          bool       `json:"active"`
	HistoricalDays  int        `gorm:"default:30" json:"historical_days"`
	BackfillMinutes int        `gorm:"default:120" json:"backfill_minutes"`
	AddedBy         string     `json:"added_by"`
	LastIngestion   *time.Time `json:"last_ingestion,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SymbolFilter holds search criteria for the symbol catalog
type SymbolFilter struct {
	Exchanges     []string `form:"exchanges" json:"exchanges"`
	SecurityTypes []string `form:"security_types" json:"security_types"`
	SearchText    string   `form:"search" json:"search_text"`
	Active        *bool    `form:"active" json:"active"`
	Limit         int      `form:"limit,default=100" json:"limit"`
	Offset        int      `form:"offset,default=0" json:"offset"`
}

// MigrateIngestionModels runs database migrations for ingestion models
func MigrateIngestionModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Symbol{},
		&Schedule{},
	)
}
