package payments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolgate-io/toolgate/internal/ledger"
	"github.com/toolgate-io/toolgate/internal/validation"
)

// Handler provides HTTP endpoints for payment transactions
type Handler struct {
	engine   *Engine
	balances BalanceSource
	logger   *slog.Logger
}

// NewHandler creates a new payments handler
func NewHandler(engine *Engine, balances BalanceSource, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, balances: balances, logger: logger}
}

// RegisterRoutes sets up payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:id", h.Get)
	r.POST("/payments/:id/approve", h.Approve)
	r.GET("/principals/:address/payments", h.ListByPayer)
}

// Get handles GET /payments/:id
func (h *Handler) Get(c *gin.Context) {
	tx, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrPaymentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "payment_not_found",
			"message": "No such payment",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_error",
			"message": "Failed to get payment",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": tx})
}

// ApproveRequest authorizes settlement of a pending payment
type ApproveRequest struct {
	Payer string `json:"payer" binding:"required"`
}

// Approve handles POST /payments/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "payer is required",
		})
		return
	}
	if !validation.IsValidEthAddress(req.Payer) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "payer must be a valid Ethereum address",
		})
		return
	}

	tx, err := h.engine.Approve(c.Request.Context(), c.Param("id"), req.Payer)
	if err != nil {
		h.approveError(c, err)
		return
	}

	h.logger.Info("payment settled",
		"paymentId", tx.ID, "payer", tx.Payer, "amount", tx.Amount, "txHash", tx.TxHash)

	resp := gin.H{"payment": tx}
	if bal, err := h.balances.CurrentBalance(c.Request.Context(), tx.Payer); err == nil {
		resp["balance"] = bal
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) approveError(c *gin.Context, err error) {
	var shortfall *ShortfallError
	switch {
	case errors.As(err, &shortfall):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     "insufficient_balance",
			"message":   "Deposit more USDC before approving this payment",
			"required":  shortfall.Required,
			"balance":   shortfall.Balance,
			"shortfall": shortfall.Shortfall,
		})
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "payment_not_found",
			"message": "No such payment",
		})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_owner",
			"message": "Payment belongs to another payer",
		})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_status",
			"message": "Payment is not pending",
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient_balance",
			"message": "Deposit more USDC before approving this payment",
		})
	default:
		h.logger.Error("payment approval failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "settlement_failed",
			"message": err.Error(),
		})
	}
}

// ListByPayer handles GET /principals/:address/payments
func (h *Handler) ListByPayer(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txs, err := h.engine.ListByPayer(c.Request.Context(), c.Param("address"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_error",
			"message": "Failed to list payments",
		})
		return
	}
	if txs == nil {
		txs = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"payments": txs, "count": len(txs)})
}
