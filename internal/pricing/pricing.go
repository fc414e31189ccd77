// Package pricing maps tools to their USDC price and payee wallet.
// A tool without a price row is free to call.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toolgate-io/toolgate/internal/usdc"
	"github.com/toolgate-io/toolgate/internal/validation"
)

var (
	ErrNotPriced    = errors.New("tool has no price")
	ErrInvalidPrice = errors.New("invalid price")
	ErrInvalidPayee = errors.New("invalid payee wallet")
)

// Price attaches a cost to a tool. Amount is a six-decimal USDC string.
type Price struct {
	ToolID      string    `json:"tool_id"`
	Amount      string    `json:"amount"`
	PayeeWallet string    `json:"payee_wallet"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists prices.
type Store interface {
	Set(ctx context.Context, p *Price) error
	Get(ctx context.Context, toolID string) (*Price, error)
	Delete(ctx context.Context, toolID string) error
}

// Limits bounds what a tool may be priced at. An empty bound is unset.
type Limits struct {
	Min string
	Max string
}

// Service validates and manages tool prices.
type Service struct {
	store  Store
	limits Limits
}

// New creates a pricing service with no price bounds.
func New(store Store) *Service {
	return &Service{store: store}
}

// NewWithLimits creates a pricing service that rejects prices outside limits.
func NewWithLimits(store Store, limits Limits) *Service {
	return &Service{store: store, limits: limits}
}

// Set validates and upserts a price for a tool.
func (s *Service) Set(ctx context.Context, toolID, amount, payeeWallet string) (*Price, error) {
	if !usdc.IsPositive(amount) {
		return nil, ErrInvalidPrice
	}
	if s.limits.Min != "" && usdc.Cmp(amount, s.limits.Min) < 0 {
		return nil, fmt.Errorf("%w: below minimum %s", ErrInvalidPrice, s.limits.Min)
	}
	if s.limits.Max != "" && usdc.Cmp(amount, s.limits.Max) > 0 {
		return nil, fmt.Errorf("%w: above maximum %s", ErrInvalidPrice, s.limits.Max)
	}
	if !validation.IsValidEthAddress(payeeWallet) {
		return nil, ErrInvalidPayee
	}

	p := &Price{
		ToolID:      toolID,
		Amount:      amount,
		PayeeWallet: validation.SanitizeAddress(payeeWallet),
		UpdatedAt:   time.Now(),
	}
	if err := s.store.Set(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the price for a tool, or ErrNotPriced.
func (s *Service) Get(ctx context.Context, toolID string) (*Price, error) {
	return s.store.Get(ctx, toolID)
}

// Remove makes a tool free again. Removing a price that does not exist
// succeeds.
func (s *Service) Remove(ctx context.Context, toolID string) error {
	err := s.store.Delete(ctx, toolID)
	if errors.Is(err, ErrNotPriced) {
		return nil
	}
	return err
}

// PriceFor reports the amount and payee for a tool. A tool without a price
// returns empty strings and no error: free to call.
func (s *Service) PriceFor(ctx context.Context, toolID string) (amount, payeeWallet string, err error) {
	p, err := s.store.Get(ctx, toolID)
	if errors.Is(err, ErrNotPriced) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	return p.Amount, p.PayeeWallet, nil
}
