package controllers

import (
	"errors"
	"net/http"

	"market_ingestion_service/models"
	"market_ingestion_service/scheduler"
	"market_ingestion_service/services"

	"github.com/gin-gonic/gin"
)

// SymbolController handles symbol catalog requests
type SymbolController struct {
	symbols *services.SymbolService
}

// NewSymbolController creates a new symbol controller
func NewSymbolController(symbols *services.SymbolService) *SymbolController {
	return &SymbolController{symbols: symbols}
}

// CreateSymbol registers a symbol for ingestion
// POST /api/v1/symbols
func (sc *SymbolController) CreateSymbol(c *gin.Context) {
	var sym models.Symbol
	if err := c.ShouldBindJSON(&sym); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sym.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	if err := sc.symbols.Create(&sym); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "failed to create symbol, it may already exist"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": sym})
}

// GetSymbols searches the catalog with filters and pagination
// GET /api/v1/symbols?search=AA&exchange=NASDAQ&active=true&page=1&limit=50
func (sc *SymbolController) GetSymbols(c *gin.Context) {
	var filter models.SymbolFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbols, total, err := sc.symbols.Search(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search symbols"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"symbols": symbols,
		"total":   total,
	}})
}

// GetSymbol returns one symbol by its code
// GET /api/v1/symbols/:symbol
func (sc *SymbolController) GetSymbol(c *gin.Context) {
	sym, err := sc.symbols.GetBySymbol(c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sym})
}

// UpdateSymbol patches catalog fields of a symbol
// PUT /api/v1/symbols/:symbol
func (sc *SymbolController) UpdateSymbol(c *gin.Context) {
	sym, err := sc.symbols.GetBySymbol(c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not found"})
		return
	}

	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := sc.symbols.Update(sym.ID, updates)
	if errors.Is(err, scheduler.ErrUnknownSymbol) {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update symbol"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": updated})
}

// DeactivateSymbol soft-deletes a symbol from the catalog
// DELETE /api/v1/symbols/:symbol
func (sc *SymbolController) DeactivateSymbol(c *gin.Context) {
	sym, err := sc.symbols.GetBySymbol(c.Param("symbol"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not found"})
		return
	}

	if err := sc.symbols.Deactivate(sym.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate symbol"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deactivated": sym.Symbol}})
}
