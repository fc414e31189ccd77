package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolgate-io/toolgate/internal/metrics"
	"github.com/toolgate-io/toolgate/internal/validation"
	"github.com/toolgate-io/toolgate/internal/wallet"
)

// Handler provides HTTP endpoints for balance and deposit operations
type Handler struct {
	ledger   *Ledger
	verifier wallet.DepositVerifier // nil = deposits disabled (read-only mode)
	logger   *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Ledger, verifier wallet.DepositVerifier, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, verifier: verifier, logger: logger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/principals/:address/balance", h.GetBalance)
	r.GET("/principals/:address/ledger", h.GetHistory)
	r.POST("/deposits", h.RecordDeposit)
}

// GetBalance handles GET /principals/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	address := c.Param("address")

	balance, err := h.ledger.GetBalance(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance": balance,
	})
}

// GetHistory handles GET /principals/:address/ledger
func (h *Handler) GetHistory(c *gin.Context) {
	address := c.Param("address")
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), address, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve ledger history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
	})
}

// DepositRequest claims an on-chain USDC transfer to the platform wallet
type DepositRequest struct {
	Principal string `json:"principal" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	TxHash    string `json:"tx_hash" binding:"required"`
}

// RecordDeposit handles POST /deposits. The claimed transfer is verified
// on-chain before any credit; the actual on-chain amount is what gets
// credited, not the claim.
func (h *Handler) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidEthAddress(req.Principal) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": "principal must be a valid Ethereum address (0x + 40 hex chars)",
		})
		return
	}

	if !validation.IsValidTxHash(req.TxHash) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_tx_hash",
			"message": "tx_hash must be a valid transaction hash (0x + 64 hex chars)",
		})
		return
	}

	if h.verifier == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error":   "deposits_disabled",
			"message": "Deposit verification is not configured",
		})
		return
	}

	info, err := h.verifier.VerifyDeposit(c.Request.Context(), req.TxHash, req.Amount)
	if err != nil {
		code, status := depositRejection(err)
		metrics.DepositsTotal.WithLabelValues(code).Inc()
		c.JSON(status, gin.H{
			"error":   code,
			"message": err.Error(),
		})
		return
	}

	err = h.ledger.Deposit(c.Request.Context(), req.Principal, info.Amount, req.TxHash)
	if err != nil {
		if errors.Is(err, ErrDuplicateDeposit) {
			metrics.DepositsTotal.WithLabelValues("duplicate").Inc()
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_deposit",
				"message": "Deposit already processed",
			})
			return
		}
		h.logger.Error("deposit credit failed after verification",
			"principal", req.Principal, "tx_hash", req.TxHash, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "deposit_error",
			"message": "Failed to credit deposit",
		})
		return
	}

	metrics.DepositsTotal.WithLabelValues("credited").Inc()
	c.JSON(http.StatusCreated, gin.H{
		"status":  "credited",
		"amount":  info.Amount,
		"from":    info.From,
		"tx_hash": info.TxHash,
	})
}

// depositRejection maps verification failures to error codes and HTTP statuses
func depositRejection(err error) (string, int) {
	switch {
	case errors.Is(err, wallet.ErrNotConfirmed):
		return "not_confirmed", http.StatusConflict
	case errors.Is(err, wallet.ErrTransactionReverted):
		return "transaction_reverted", http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrRecipientMismatch):
		return "recipient_mismatch", http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrAmountInsufficient):
		return "amount_insufficient", http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrInvalidAmount):
		return "invalid_amount", http.StatusBadRequest
	default:
		return "verification_error", http.StatusBadGateway
	}
}
