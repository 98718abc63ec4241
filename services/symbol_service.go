package services

import (
	"errors"
	"strings"
	"time"

	"market_ingestion_service/models"
	"market_ingestion_service/scheduler"

	"gorm.io/gorm"
)

// SymbolService manages the symbol catalog backing the admin console and
// the scheduler's symbol validation.
type SymbolService struct {
	db *gorm.DB
}

// NewSymbolService creates a new symbol service
func NewSymbolService(db *gorm.DB) *SymbolService {
	return &SymbolService{db: db}
}

// Create registers a new symbol. The symbol code is uppercased and must
// be unique.
func (s *SymbolService) Create(sym *models.Symbol) error {
	sym.Symbol = strings.ToUpper(strings.TrimSpace(sym.Symbol))
	sym.Active = true
	return s.db.Create(sym).Error
}

// Update applies partial changes to a symbol record.
func (s *SymbolService) Update(id uint, updates map[string]interface{}) (*models.Symbol, error) {
	var sym models.Symbol
	if err := s.db.First(&sym, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, scheduler.ErrUnknownSymbol
		}
		return nil, err
	}
	if err := s.db.Model(&sym).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &sym, nil
}

// Deactivate soft-deletes a symbol by marking it inactive.
func (s *SymbolService) Deactivate(id uint) error {
	res := s.db.Model(&models.Symbol{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return scheduler.ErrUnknownSymbol
	}
	return nil
}

// GetBySymbol looks up a symbol by its trading code.
func (s *SymbolService) GetBySymbol(code string) (*models.Symbol, error) {
	var sym models.Symbol
	err := s.db.Where("symbol = ?", strings.ToUpper(strings.TrimSpace(code))).First(&sym).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, scheduler.ErrUnknownSymbol
	}
	if err != nil {
		return nil, err
	}
	return &sym, nil
}

// Exists reports whether an active symbol with the code is registered.
// Schedule creation uses this to reject unknown symbols.
func (s *SymbolService) Exists(code string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Symbol{}).
		Where("symbol = ? AND active = ?", strings.ToUpper(strings.TrimSpace(code)), true).
		Count(&count).Error
	return count > 0, err
}

// Search returns symbols matching the filter, plus the total match count
// for pagination.
func (s *SymbolService) Search(filter models.SymbolFilter) ([]models.Symbol, int64, error) {
	query := s.db.Model(&models.Symbol{})

	if len(filter.Exchanges) > 0 {
		query = query.Where("exchange IN ?", filter.Exchanges)
	}
	if len(filter.SecurityTypes) > 0 {
		query = query.Where("security_type IN ?", filter.SecurityTypes)
	}
	if filter.SearchText != "" {
		pattern := "%" + strings.ToUpper(filter.SearchText) + "%"
		query = query.Where("UPPER(symbol) LIKE ? OR UPPER(description) LIKE ?", pattern, pattern)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var symbols []models.Symbol
	if err := query.Order("symbol ASC").Limit(limit).Offset(filter.Offset).Find(&symbols).Error; err != nil {
		return nil, 0, err
	}
	return symbols, total, nil
}

// TouchLastIngestion records a completed ingestion on the symbol.
func (s *SymbolService) TouchLastIngestion(code string) error {
	now := time.Now()
	return s.db.Model(&models.Symbol{}).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(code))).
		Update("last_ingestion", now).Error
}

// Counts returns total and active symbol counts for the stats endpoint.
func (s *SymbolService) Counts() (total, active int64, err error) {
	if err = s.db.Model(&models.Symbol{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = s.db.Model(&models.Symbol{}).Where("active = ?", true).Count(&active).Error
	return total, active, err
}
