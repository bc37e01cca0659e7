package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/zeromicro/go-zero/core/logx"
)

// DefaultPollInterval is how often Wait polls for a receipt.
const DefaultPollInterval = time.Second

// Client is the subset of go-ethereum's client used by EthBackend.
// Both *ethclient.Client and the simulated backend's client satisfy it.
type Client interface {
	ethereum.ChainIDReader
	ethereum.BlockNumberReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.GasPricer1559
	ethereum.TransactionSender
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthBackend implements Backend over an Ethereum JSON-RPC client.
type EthBackend struct {
	client       Client
	PollInterval time.Duration
}

// NewEthBackend wraps client.
func NewEthBackend(client Client) *EthBackend {
	return &EthBackend{client: client, PollInterval: DefaultPollInterval}
}

// Dial connects to rawurl and returns a backend over it.
func Dial(ctx context.Context, rawurl string) (*EthBackend, error) {
	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to connect to %s: %w", rawurl, err)
	}
	return NewEthBackend(client), nil
}

// BalanceAt returns the latest balance of addr in wei.
func (b *EthBackend) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return b.client.BalanceAt(ctx, addr, nil)
}

// FeeData reports EIP-1559 fees when the latest header carries a base fee
// and a legacy gas price otherwise.
func (b *EthBackend) FeeData(ctx context.Context) (*FeeData, error) {
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to get gas price: %w", err)
	}
	fd := &FeeData{GasPrice: gasPrice}

	head, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to get latest header: %w", err)
	}
	if head.BaseFee == nil {
		return fd, nil
	}

	tip, err := b.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to get tip cap: %w", err)
	}
	fd.MaxPriorityFeePerGas = tip
	fd.MaxFeePerGas = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return fd, nil
}

// SendTransaction signs and submits a value transfer from key's address.
func (b *EthBackend) SendTransaction(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int) (Tx, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID, err := b.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to get chain id: %w", err)
	}
	nonce, err := b.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to get nonce: %w", err)
	}
	gas, err := b.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value})
	if err != nil {
		return nil, fmt.Errorf("chain: gas estimation failed: %w", err)
	}
	fees, err := b.FeeData(ctx)
	if err != nil {
		return nil, err
	}

	var txdata types.TxData
	if fees.MaxFeePerGas != nil {
		txdata = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.MaxPriorityFeePerGas,
			GasFeeCap: fees.MaxFeePerGas,
			Gas:       gas,
			To:        &to,
			Value:     value,
		}
	} else {
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
		}
	}

	signed, err := types.SignTx(types.NewTx(txdata), types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("chain: failed to sign transaction: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: failed to send transaction: %w", err)
	}

	logx.WithContext(ctx).Infow("transaction submitted",
		logx.Field("hash", signed.Hash().Hex()),
		logx.Field("from", from.Hex()),
		logx.Field("to", to.Hex()))

	return &ethTx{backend: b, tx: signed}, nil
}

// Call executes a read-only contract call against the latest block.
func (b *EthBackend) Call(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	return b.client.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
}

type ethTx struct {
	backend *EthBackend
	tx      *types.Transaction
}

func (t *ethTx) Hash() common.Hash {
	return t.tx.Hash()
}

// Wait polls for the receipt and then for enough blocks on top of it. A
// missing receipt is treated as pending, not as an error.
func (t *ethTx) Wait(ctx context.Context, confirmations uint64, timeout time.Duration) (*types.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := t.backend.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := t.backend.client
	for {
		receipt, err := client.TransactionReceipt(waitCtx, t.tx.Hash())
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, ErrReverted
			}
			head, err := client.BlockNumber(waitCtx)
			if err == nil && head+1 >= receipt.BlockNumber.Uint64()+confirmations {
				return receipt, nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			if waitCtx.Err() == nil {
				logx.WithContext(ctx).Errorf("receipt lookup for %s failed: %v", t.tx.Hash().Hex(), err)
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, t.tx.Hash().Hex(), timeout)
		case <-ticker.C:
		}
	}
}
