package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrivKey  = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

func testConfig() Config {
	return Config{
		RPCURL:       "https://sepolia.base.org",
		PrivateKey:   testPrivKey,
		ChainID:      84532,
		USDCContract: testContract,
	}
}

// mockEthClient returns canned receipts keyed by tx hash.
type mockEthClient struct {
	receipts map[common.Hash]*types.Receipt
	nonce    uint64
	sent     []*types.Transaction
	sendErr  error
}

func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return m.nonce, nil
}

func (m *mockEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 65000, nil
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func (m *mockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if r, ok := m.receipts[txHash]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func (m *mockEthClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return big.NewInt(5_000_000).FillBytes(make([]byte, 32)), nil
}

func (m *mockEthClient) NetworkID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}

func (m *mockEthClient) Close() {}

func transferLog(contract, from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: contract,
		Topics: []common.Hash{
			common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: amount.FillBytes(make([]byte, 32)),
	}
}

func TestVerifyDeposit(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	contract := common.HexToAddress(testContract)

	confirmed := common.HexToHash("0x01")
	reverted := common.HexToHash("0x02")
	wrongRecipient := common.HexToHash("0x03")
	small := common.HexToHash("0x04")

	mock := &mockEthClient{receipts: map[common.Hash]*types.Receipt{}}
	w, err := New(testConfig(), WithClient(mock))
	require.NoError(t, err)

	platform := common.HexToAddress(w.Address())

	mock.receipts[confirmed] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs:        []*types.Log{transferLog(contract, sender, platform, big.NewInt(1_500_000))},
	}
	mock.receipts[reverted] = &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(101),
	}
	mock.receipts[wrongRecipient] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(102),
		Logs:        []*types.Log{transferLog(contract, sender, other, big.NewInt(1_500_000))},
	}
	mock.receipts[small] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(103),
		Logs:        []*types.Log{transferLog(contract, sender, platform, big.NewInt(1_000))},
	}

	ctx := context.Background()

	t.Run("success returns actual on-chain amount", func(t *testing.T) {
		info, err := w.VerifyDeposit(ctx, confirmed.Hex(), "1.00")
		require.NoError(t, err)
		assert.Equal(t, "1.500000", info.Amount)
		assert.Equal(t, sender.Hex(), info.From)
		assert.Equal(t, uint64(100), info.BlockNumber)
	})

	t.Run("unknown tx is not confirmed", func(t *testing.T) {
		_, err := w.VerifyDeposit(ctx, common.HexToHash("0xff").Hex(), "1.00")
		assert.ErrorIs(t, err, ErrNotConfirmed)
	})

	t.Run("reverted tx", func(t *testing.T) {
		_, err := w.VerifyDeposit(ctx, reverted.Hex(), "1.00")
		assert.ErrorIs(t, err, ErrTransactionReverted)
	})

	t.Run("transfer to someone else", func(t *testing.T) {
		_, err := w.VerifyDeposit(ctx, wrongRecipient.Hex(), "1.00")
		assert.ErrorIs(t, err, ErrRecipientMismatch)
	})

	t.Run("amount below claim", func(t *testing.T) {
		_, err := w.VerifyDeposit(ctx, small.Hex(), "1.00")
		assert.ErrorIs(t, err, ErrAmountInsufficient)
	})

	t.Run("invalid claimed amount", func(t *testing.T) {
		_, err := w.VerifyDeposit(ctx, confirmed.Hex(), "abc")
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = w.VerifyDeposit(ctx, confirmed.Hex(), "0")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestTransfer(t *testing.T) {
	mock := &mockEthClient{receipts: map[common.Hash]*types.Receipt{}, nonce: 7}
	w, err := New(testConfig(), WithClient(mock))
	require.NoError(t, err)

	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	result, err := w.Transfer(context.Background(), to, big.NewInt(250_000))
	require.NoError(t, err)

	assert.Equal(t, "0.250000", result.Amount)
	assert.Equal(t, uint64(7), result.Nonce)
	assert.Equal(t, to.Hex(), result.To)
	require.Len(t, mock.sent, 1)
}

func TestTransfer_SendFailure(t *testing.T) {
	mock := &mockEthClient{sendErr: errors.New("network down")}
	w, err := New(testConfig(), WithClient(mock))
	require.NoError(t, err)

	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	_, err = w.Transfer(context.Background(), to, big.NewInt(1_000))

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "send", terr.Op)
	assert.NotEmpty(t, terr.TxHash)
}

func TestTransferError(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransferError
		contains string
	}{
		{
			name: "with tx hash",
			err: &TransferError{
				Op:     "send",
				TxHash: "0xabc123",
				Err:    errors.New("network error"),
			},
			contains: "0xabc123",
		},
		{
			name: "without tx hash",
			err: &TransferError{
				Op:  "nonce",
				Err: errors.New("failed to get nonce"),
			},
			contains: "nonce failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, tt.err.Error(), tt.contains)
			assert.True(t, errors.Is(tt.err, tt.err.Err))
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "valid with 0x prefix", mutate: func(c *Config) { c.PrivateKey = "0x" + testPrivKey }, wantErr: false},
		{name: "missing RPC URL", mutate: func(c *Config) { c.RPCURL = "" }, wantErr: true},
		{name: "missing private key", mutate: func(c *Config) { c.PrivateKey = "" }, wantErr: true},
		{name: "short private key", mutate: func(c *Config) { c.PrivateKey = "tooshort" }, wantErr: true},
		{name: "missing chain ID", mutate: func(c *Config) { c.ChainID = 0 }, wantErr: true},
		{name: "missing contract", mutate: func(c *Config) { c.USDCContract = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
