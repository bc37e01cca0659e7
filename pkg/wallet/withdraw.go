package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/chain"
	"github.com/forest6511/botwallet/pkg/ratelimit"
)

var selfTestPayload = []byte("botwallet withdraw self-test")

// PendingTx is a submitted withdrawal.
type PendingTx struct {
	Hash   common.Hash
	From   common.Address
	To     common.Address
	Amount *big.Int
	// Fee is the most the transfer may cost at submission time.
	Fee *big.Int

	tx            chain.Tx
	confirmations uint64
	timeout       time.Duration
}

// Wait blocks until the transaction is confirmed. When the confirmation
// timeout passes first it returns a NetworkTimeoutError: the transaction
// may still be mined and must not be treated as failed.
func (p *PendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	receipt, err := p.tx.Wait(ctx, p.confirmations, p.timeout)
	switch {
	case err == nil:
		return receipt, nil
	case errors.Is(err, chain.ErrWaitTimeout):
		return nil, &NetworkTimeoutError{TxHash: p.Hash, Timeout: p.timeout, Err: err}
	default:
		return receipt, fmt.Errorf("wallet: transaction %s: %w", p.Hash.Hex(), err)
	}
}

// Withdraw sends amount wei from the user's active wallet to to.
func (m *Manager) Withdraw(ctx context.Context, userID, to string, amount *big.Int) (*PendingTx, error) {
	return m.WithdrawFrom(ctx, userID, "", to, amount)
}

// WithdrawFrom sends amount wei from walletID to to. The balance must
// cover amount plus the maximum transfer fee or nothing is sent.
func (m *Manager) WithdrawFrom(ctx context.Context, userID, walletID, to string, amount *big.Int) (*PendingTx, error) {
	dest, err := parseDestination(to)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	if err := m.allow(ctx, ratelimit.ClassWithdraw, audit.OpWalletWithdraw, userID, walletID); err != nil {
		return nil, err
	}

	unlock := m.lock(userID)
	defer unlock()

	p, id, err := m.withdraw(ctx, userID, walletID, dest, amount)
	fields := map[string]any{"to": dest.Hex(), "amount": amount.String()}
	if p != nil {
		fields["tx"] = p.Hash.Hex()
	}
	m.recordFields(ctx, audit.OpWalletWithdraw, userID, id, err, fields)
	return p, err
}

func (m *Manager) withdraw(ctx context.Context, userID, walletID string, to common.Address, amount *big.Int) (*PendingTx, string, error) {
	s, err := m.signer(ctx, userID, walletID)
	if err != nil {
		return nil, walletID, err
	}
	defer s.Wipe()

	if err := s.selfTest(selfTestPayload); err != nil {
		return nil, s.walletID, &CorruptionError{WalletID: s.walletID, Err: err}
	}

	// The user's lock is held from here until the transaction is sent.
	rpcCtx, cancel := m.rpcContext(ctx)
	defer cancel()

	balance, err := s.Balance(rpcCtx)
	if err != nil {
		return nil, s.walletID, fmt.Errorf("wallet: balance lookup failed: %w", err)
	}
	fees, err := m.backend.FeeData(rpcCtx)
	if err != nil {
		return nil, s.walletID, fmt.Errorf("wallet: fee lookup failed: %w", err)
	}

	fee := fees.TransferCost()
	required := new(big.Int).Add(amount, fee)
	if balance.Cmp(required) < 0 {
		return nil, s.walletID, &InsufficientBalanceError{Balance: balance, Required: required, Fee: fee}
	}

	tx, err := s.SendTransaction(rpcCtx, to, amount)
	if err != nil {
		return nil, s.walletID, fmt.Errorf("wallet: send failed: %w", err)
	}
	logx.WithContext(ctx).Infow("withdrawal submitted",
		logx.Field("wallet", s.walletID),
		logx.Field("tx", tx.Hash().Hex()),
		logx.Field("to", to.Hex()),
		logx.Field("amount", amount.String()))

	return &PendingTx{
		Hash:          tx.Hash(),
		From:          s.address,
		To:            to,
		Amount:        new(big.Int).Set(amount),
		Fee:           fee,
		tx:            tx,
		confirmations: m.confirmations,
		timeout:       m.confirmTimeout,
	}, s.walletID, nil
}

func parseDestination(to string) (common.Address, error) {
	if !common.IsHexAddress(to) {
		return common.Address{}, &ValidationError{Field: "address", Reason: "must be a 20-byte hex address"}
	}
	addr := common.HexToAddress(to)
	if addr == (common.Address{}) {
		return common.Address{}, &ValidationError{Field: "address", Reason: "must not be the zero address"}
	}
	return addr, nil
}
