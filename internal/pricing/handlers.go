package pricing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ToolChecker confirms a tool exists for a tenant before pricing it.
type ToolChecker interface {
	OwnedBy(ctx context.Context, toolID, tenant string) (bool, error)
}

// Handler provides HTTP endpoints for tool pricing
type Handler struct {
	service *Service
	toolsvc ToolChecker
	logger  *slog.Logger
}

// NewHandler creates a new pricing handler
func NewHandler(service *Service, toolsvc ToolChecker, logger *slog.Logger) *Handler {
	return &Handler{service: service, toolsvc: toolsvc, logger: logger}
}

// RegisterRoutes sets up pricing routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/tenants/:tenant/tools/:id/price", h.Set)
	r.GET("/tenants/:tenant/tools/:id/price", h.Get)
	r.DELETE("/tenants/:tenant/tools/:id/price", h.Remove)
}

func (h *Handler) checkOwnership(c *gin.Context) bool {
	owned, err := h.toolsvc.OwnedBy(c.Request.Context(), c.Param("id"), c.Param("tenant"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registry_error",
			"message": "Failed to look up tool",
		})
		return false
	}
	if !owned {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "tool_not_found",
			"message": "No such tool for tenant",
		})
		return false
	}
	return true
}

// PriceRequest sets a tool's price
type PriceRequest struct {
	Amount      string `json:"amount" binding:"required"`
	PayeeWallet string `json:"payee_wallet" binding:"required"`
}

// Set handles PUT /tenants/:tenant/tools/:id/price
func (h *Handler) Set(c *gin.Context) {
	if !h.checkOwnership(c) {
		return
	}

	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	price, err := h.service.Set(c.Request.Context(), c.Param("id"), req.Amount, req.PayeeWallet)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_price",
				"message": "Amount must be a positive USDC value",
			})
		case errors.Is(err, ErrInvalidPayee):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_payee",
				"message": "payee_wallet must be a valid Ethereum address",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "pricing_error",
				"message": "Failed to set price",
			})
		}
		return
	}

	h.logger.Info("price set", "tool", price.ToolID, "amount", price.Amount, "payee", price.PayeeWallet)
	c.JSON(http.StatusOK, gin.H{"price": price})
}

// Get handles GET /tenants/:tenant/tools/:id/price
func (h *Handler) Get(c *gin.Context) {
	if !h.checkOwnership(c) {
		return
	}

	price, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotPriced) {
		c.JSON(http.StatusOK, gin.H{"price": nil, "free": true})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "pricing_error",
			"message": "Failed to get price",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price, "free": false})
}

// Remove handles DELETE /tenants/:tenant/tools/:id/price
func (h *Handler) Remove(c *gin.Context) {
	if !h.checkOwnership(c) {
		return
	}

	if err := h.service.Remove(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "pricing_error",
			"message": "Failed to remove price",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
