package gateway

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Settlement contract ABI: one call settles the whole group. The contract
// performs merchant verification, limit checks, and the value transfer in
// a single transaction, which is what makes the group atomic on-chain.
const settlementABI = `[
	{"inputs":[
		{"name":"groupId","type":"bytes32"},
		{"name":"merchant","type":"string"},
		{"name":"category","type":"string"},
		{"name":"amount","type":"uint256"},
		{"name":"recipient","type":"address"}
	],"name":"settleGroup","outputs":[],"type":"function"}
]`

// DefaultGasLimit for settlement calls when estimation fails.
const DefaultGasLimit = uint64(300000)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// EVMConfig configures the on-chain gateway.
type EVMConfig struct {
	RPCURL     string
	PrivateKey string // hex, with or without 0x prefix
	ChainID    int64
	Contract   string // settlement contract address
}

// EVMOption configures the EVM gateway.
type EVMOption func(*EVM)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) EVMOption {
	return func(g *EVM) {
		g.client = client
	}
}

// EVM submits settlement groups to the on-chain settlement contract. Each
// group becomes a single signed transaction.
type EVM struct {
	client     EthClient
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	contract   common.Address
	abi        abi.ABI
}

var _ Gateway = (*EVM)(nil)

// NewEVM creates an on-chain gateway.
func NewEVM(cfg EVMConfig, opts ...EVMOption) (*EVM, error) {
	if err := validateEVMConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid private key: %w", err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("gateway: failed to derive public key")
	}

	parsedABI, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse settlement ABI: %w", err)
	}

	g := &EVM{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		chainID:    big.NewInt(cfg.ChainID),
		contract:   common.HexToAddress(cfg.Contract),
		abi:        parsedABI,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("gateway: RPC connection failed: %w", err)
		}
		g.client = client
	}

	return g, nil
}

func validateEVMConfig(cfg EVMConfig) error {
	if cfg.RPCURL == "" {
		return errors.New("gateway: RPC URL required")
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return errors.New("gateway: private key must be 64 hex characters")
	}
	if cfg.ChainID == 0 {
		return errors.New("gateway: chain ID required")
	}
	if cfg.Contract == "" {
		return errors.New("gateway: settlement contract address required")
	}
	return nil
}

// Submit signs and sends the group's settlement transaction. The returned
// reference is the transaction hash used by Confirm.
func (g *EVM) Submit(ctx context.Context, group *Group) (string, error) {
	merchant, category, amount, recipient, err := flatten(group)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	var groupID [32]byte
	copy(groupID[:], group.ID)

	data, err := g.abi.Pack("settleGroup", groupID, merchant, category, amount, common.HexToAddress(recipient))
	if err != nil {
		return "", fmt.Errorf("%w: pack: %v", ErrSubmissionFailed, err)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.address)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrSubmissionFailed, err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", ErrSubmissionFailed, err)
	}
	gasLimit, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From: g.address,
		To:   &g.contract,
		Data: data,
	})
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, g.contract, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), g.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: sign: %v", ErrSubmissionFailed, err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("%w: send: %v", ErrSubmissionFailed, err)
	}

	return signedTx.Hash().Hex(), nil
}

// Confirm performs one receipt poll for the submitted transaction.
func (g *EVM) Confirm(ctx context.Context, ref string) (ConfirmationResult, error) {
	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(ref))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ConfirmationResult{Status: StatusPending}, nil
		}
		return ConfirmationResult{}, fmt.Errorf("receipt %s: %w", ref, err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return ConfirmationResult{
			Status: StatusFailed,
			Detail: "settlement transaction reverted",
		}, nil
	}

	return ConfirmationResult{
		Status:   StatusConfirmed,
		AuditRef: ref,
	}, nil
}

// Close releases the underlying RPC connection.
func (g *EVM) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

// flatten extracts the contract call arguments from the group's three
// operations, rejecting malformed groups before any network traffic.
func flatten(group *Group) (merchant, category string, amount *big.Int, recipient string, err error) {
	if group == nil || len(group.Operations) == 0 {
		return "", "", nil, "", errors.New("empty group")
	}
	for _, op := range group.Operations {
		switch op.Kind {
		case KindVerifyMerchant:
			merchant = op.Merchant
			category = op.Category
		case KindCheckLimits:
			// category and amount repeat what verify/transfer carry
		case KindTransferValue:
			amount = op.Amount
			recipient = op.Recipient
		default:
			return "", "", nil, "", fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}
	if merchant == "" || amount == nil {
		return "", "", nil, "", errors.New("group missing verify or transfer operation")
	}
	return merchant, category, amount, recipient, nil
}
