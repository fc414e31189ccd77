package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/toolgate-io/toolgate/internal/ledger"
)

const (
	testPayer  = "0x1111111111111111111111111111111111111111"
	otherPayer = "0x2222222222222222222222222222222222222222"
	testPayee  = "0x3333333333333333333333333333333333333333"
	testToolID = "tool_weather"
)

// fakePrices prices tools from a static map. Absent tools are free.
type fakePrices struct {
	prices map[string][2]string // toolID -> {amount, payee}
	err    error
}

func (f *fakePrices) PriceFor(ctx context.Context, toolID string) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	p, ok := f.prices[toolID]
	if !ok {
		return "", "", nil
	}
	return p[0], p[1], nil
}

// fakeSettler pretends to move USDC on-chain.
type fakeSettler struct {
	mu          sync.Mutex
	transferErr error
	confirmErr  error
	onTransfer  func() // runs after a successful Transfer
	transfers   int
}

func (f *fakeSettler) Transfer(ctx context.Context, to, amount string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers++
	if f.onTransfer != nil {
		f.onTransfer()
	}
	return fmt.Sprintf("0x%064d", f.transfers), nil
}

func (f *fakeSettler) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmErr
}

type fixture struct {
	store   *MemoryStore
	ledger  *ledger.Ledger
	prices  *fakePrices
	settler *fakeSettler
	gate    *Gate
	engine  *Engine
}

func newFixture() *fixture {
	store := NewMemoryStore()
	led := ledger.New(ledger.NewMemoryStore())
	prices := &fakePrices{prices: map[string][2]string{
		testToolID:   {"1.000000", testPayee},
		"tool_other": {"2.000000", testPayee},
	}}
	settler := &fakeSettler{}
	return &fixture{
		store:   store,
		ledger:  led,
		prices:  prices,
		settler: settler,
		gate:    NewGate(store, prices, led),
		engine:  NewEngine(store, led, settler, time.Second),
	}
}

func (f *fixture) fund(t *testing.T, payer, amount string) {
	t.Helper()
	txHash := fmt.Sprintf("0x%064x", time.Now().UnixNano())
	if err := f.ledger.Deposit(context.Background(), payer, amount, txHash); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func TestGateFreeTool(t *testing.T) {
	f := newFixture()

	res, err := f.gate.Check(context.Background(), "tool_free", testPayer, "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Proceed {
		t.Error("free tool should proceed")
	}
	if res.Details != nil {
		t.Error("free tool should carry no payment details")
	}
}

func TestGatePaidToolWithoutReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.gate.Check(ctx, testToolID, testPayer, "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Proceed {
		t.Fatal("paid tool without reference should be blocked")
	}
	if res.Details == nil {
		t.Fatal("blocked call should carry payment details")
	}
	if res.Details.Amount != "1.000000" {
		t.Errorf("amount = %s, want 1.000000", res.Details.Amount)
	}
	if res.Details.PayeeWallet != testPayee {
		t.Errorf("payee = %s", res.Details.PayeeWallet)
	}
	if res.Details.Status != StatusPending {
		t.Errorf("status = %s, want pending", res.Details.Status)
	}
	if res.Details.SufficientBalance {
		t.Error("unfunded payer should not be marked sufficient")
	}
	if res.Details.PayerBalance != "0.000000" {
		t.Errorf("balance = %s, want 0.000000", res.Details.PayerBalance)
	}

	// A second check reuses the same pending payment.
	res2, err := f.gate.Check(ctx, testToolID, testPayer, "")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if res2.Details.PaymentID != res.Details.PaymentID {
		t.Errorf("expected same pending payment, got %s and %s",
			res.Details.PaymentID, res2.Details.PaymentID)
	}
}

func TestGateSufficientBalanceFlag(t *testing.T) {
	f := newFixture()
	f.fund(t, testPayer, "5.000000")

	res, err := f.gate.Check(context.Background(), testToolID, testPayer, "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Details.SufficientBalance {
		t.Error("funded payer should be marked sufficient")
	}
	if res.Details.PayerBalance != "5.000000" {
		t.Errorf("balance = %s, want 5.000000", res.Details.PayerBalance)
	}
}

func TestGateConcurrentChecksCreateOnePayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.gate.Check(ctx, testToolID, testPayer, "")
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			ids <- res.Details.PaymentID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected one pending payment, got %d", len(seen))
	}
}

func TestGateBadReferences(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Seed a pending payment owned by testPayer for testToolID.
	res, err := f.gate.Check(ctx, testToolID, testPayer, "")
	if err != nil {
		t.Fatalf("seed check: %v", err)
	}
	pendingID := res.Details.PaymentID

	cases := []struct {
		name      string
		payer     string
		toolID    string
		reference string
	}{
		{"unknown reference", testPayer, testToolID, "pay_doesnotexist"},
		{"wrong payer", otherPayer, testToolID, pendingID},
		{"wrong tool", testPayer, "tool_other", pendingID},
		{"still pending", testPayer, testToolID, pendingID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.gate.Check(ctx, tc.toolID, tc.payer, tc.reference)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if res.Proceed {
				t.Error("should be blocked")
			}
			if res.Message == "" {
				t.Error("blocked result should explain itself")
			}
		})
	}
}

func TestGateWrongToolNeedsPrice(t *testing.T) {
	// A reference for tool A presented to free tool B proceeds because B is
	// free, the reference is simply ignored at the price check.
	f := newFixture()
	ctx := context.Background()

	res, err := f.gate.Check(ctx, "tool_free", testPayer, "pay_whatever")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Proceed {
		t.Error("free tool should proceed regardless of reference")
	}
}

func TestGateCompletedReferenceConsumedOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fund(t, testPayer, "2.000000")

	res, err := f.gate.Check(ctx, testToolID, testPayer, "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	paymentID := res.Details.PaymentID

	if _, err := f.engine.Approve(ctx, paymentID, testPayer); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// First use passes.
	res, err = f.gate.Check(ctx, testToolID, testPayer, paymentID)
	if err != nil {
		t.Fatalf("check with reference: %v", err)
	}
	if !res.Proceed {
		t.Fatalf("completed reference should proceed, got message %q", res.Message)
	}

	// Second use is blocked.
	res, err = f.gate.Check(ctx, testToolID, testPayer, paymentID)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if res.Proceed {
		t.Error("consumed reference should be blocked")
	}
}

func TestGateTerminalReferences(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, status := range []Status{StatusFailed, StatusExpired} {
		tx := &Transaction{
			ID:        "pay_" + string(status),
			Payer:     testPayer,
			ToolID:    testToolID,
			Amount:    "1.000000",
			Status:    status,
			CreatedAt: time.Now(),
		}
		if err := f.store.Create(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}

		res, err := f.gate.Check(ctx, testToolID, testPayer, tx.ID)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if res.Proceed {
			t.Errorf("%s reference should be blocked", status)
		}
		if res.Details == nil {
			t.Fatalf("%s reference should carry payment details", status)
		}
		if res.Details.Status != status {
			t.Errorf("details status = %s, want %s", res.Details.Status, status)
		}
		if res.Details.PaymentID != tx.ID {
			t.Errorf("details payment ID = %s, want %s", res.Details.PaymentID, tx.ID)
		}
	}
}

func TestGatePriceLookupFailure(t *testing.T) {
	f := newFixture()
	f.prices.err = errors.New("db down")

	if _, err := f.gate.Check(context.Background(), testToolID, testPayer, ""); err == nil {
		t.Error("price lookup failure should surface as an error")
	}
}
