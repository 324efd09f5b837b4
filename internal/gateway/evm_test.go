package gateway

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

type mockEthClient struct {
	sentTx     *types.Transaction
	sendErr    error
	receipt    *types.Receipt
	receiptErr error
}

func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (m *mockEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *mockEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 150_000, nil
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sentTx = tx
	return nil
}

func (m *mockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return m.receipt, m.receiptErr
}

func (m *mockEthClient) Close() {}

func newTestEVM(t *testing.T, client EthClient) *EVM {
	t.Helper()
	g, err := NewEVM(EVMConfig{
		RPCURL:     "http://localhost:8545",
		PrivateKey: testKey,
		ChainID:    84532,
		Contract:   "0x00000000000000000000000000000000000000aa",
	}, WithClient(client))
	if err != nil {
		t.Fatalf("new evm gateway: %v", err)
	}
	return g
}

func TestEVM_SubmitSendsOneTransaction(t *testing.T) {
	client := &mockEthClient{}
	g := newTestEVM(t, client)

	ref, err := g.Submit(context.Background(), testGroup())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if client.sentTx == nil {
		t.Fatal("no transaction sent")
	}
	if ref != client.sentTx.Hash().Hex() {
		t.Errorf("ref = %s, want the tx hash", ref)
	}
	if to := client.sentTx.To().Hex(); to != common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex() {
		t.Errorf("tx to = %s, want settlement contract", to)
	}
}

func TestEVM_SubmitTransportFailure(t *testing.T) {
	client := &mockEthClient{sendErr: errors.New("connection refused")}
	g := newTestEVM(t, client)

	_, err := g.Submit(context.Background(), testGroup())
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
}

func TestEVM_SubmitRejectsMalformedGroup(t *testing.T) {
	client := &mockEthClient{}
	g := newTestEVM(t, client)

	_, err := g.Submit(context.Background(), &Group{ID: "grp_empty"})
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if client.sentTx != nil {
		t.Error("malformed group must not reach the network")
	}
}

func TestEVM_ConfirmStates(t *testing.T) {
	tests := []struct {
		name    string
		client  *mockEthClient
		want    Status
		wantErr bool
	}{
		{
			name:   "pending while unmined",
			client: &mockEthClient{receiptErr: ethereum.NotFound},
			want:   StatusPending,
		},
		{
			name:   "confirmed on success receipt",
			client: &mockEthClient{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}},
			want:   StatusConfirmed,
		},
		{
			name:   "failed on reverted receipt",
			client: &mockEthClient{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}},
			want:   StatusFailed,
		},
		{
			name:    "transport error propagates",
			client:  &mockEthClient{receiptErr: errors.New("rpc down")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestEVM(t, tt.client)
			result, err := g.Confirm(context.Background(), "0xabc")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s", result.Status, tt.want)
			}
			if tt.want == StatusConfirmed && result.AuditRef != "0xabc" {
				t.Errorf("audit ref = %s, want the tx hash", result.AuditRef)
			}
		})
	}
}

func TestNewEVM_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  EVMConfig
	}{
		{"missing rpc", EVMConfig{PrivateKey: testKey, ChainID: 1, Contract: "0xaa"}},
		{"short key", EVMConfig{RPCURL: "http://x", PrivateKey: "abc", ChainID: 1, Contract: "0xaa"}},
		{"missing chain", EVMConfig{RPCURL: "http://x", PrivateKey: testKey, Contract: "0xaa"}},
		{"missing contract", EVMConfig{RPCURL: "http://x", PrivateKey: testKey, ChainID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEVM(tt.cfg); err == nil {
				t.Error("expected config error")
			}
		})
	}
}
