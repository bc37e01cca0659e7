// Package wallet manages the custodial Ethereum wallets of bot users.
//
// A Manager owns the master secret and hands out Signers. Private keys are
// decrypted only for the duration of one operation and are never written
// anywhere in plaintext. Every user may hold several wallets, one of which
// is active; legacy single-wallet files are migrated on first access.
//
// A process is assumed to be the only writer for a given user. Concurrent
// calls for the same user inside one Manager are serialized.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/mr"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/chain"
	"github.com/forest6511/botwallet/pkg/crypto"
	"github.com/forest6511/botwallet/pkg/ratelimit"
	"github.com/forest6511/botwallet/pkg/walletstore"
)

// Defaults applied by New.
const (
	DefaultConfirmations  = 1
	DefaultConfirmTimeout = 120 * time.Second
	// DefaultRPCTimeout bounds each chain call made while a user's lock is held.
	DefaultRPCTimeout = 30 * time.Second
)

// MaxNameLength is the longest wallet name accepted, in runes.
const MaxNameLength = 64

// Options configures a Manager.
type Options struct {
	Store        walletstore.Store
	Backend      chain.Backend
	MasterSecret []byte

	// WalletsRoot holds legacy {userId}.wallet.enc files. It defaults to
	// the root of a FileStore; migration is disabled when it stays empty.
	WalletsRoot string

	// Limiter and Audit are optional.
	Limiter     *ratelimit.Limiter
	Audit       *audit.Logger
	AuditSource string

	KDFConcurrency int
	Confirmations  uint64
	ConfirmTimeout time.Duration
	RPCTimeout     time.Duration
}

// Manager performs every wallet operation for every user.
type Manager struct {
	store    walletstore.Store
	backend  chain.Backend
	master   []byte
	deriver  *crypto.Deriver
	migrator *walletstore.Migrator
	limiter  *ratelimit.Limiter
	audit    *audit.Logger
	source   string

	confirmations  uint64
	confirmTimeout time.Duration
	rpcTimeout     time.Duration

	newID func() string
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// CreatedWallet is returned once by CreateWallet. Mnemonic is never
// retrievable again except through ExportMnemonic.
type CreatedWallet struct {
	ID       string
	Name     string
	Address  common.Address
	Mnemonic string
	Balance  *big.Int
}

// WalletInfo is one row of ListWallets.
type WalletInfo struct {
	ID           string
	Name         string
	Address      common.Address
	CreatedAt    time.Time
	Balance      *big.Int
	BalanceKnown bool
	IsActive     bool
}

// New returns a Manager. The master secret is copied and wiped by Close.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("wallet: store is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("wallet: chain backend is required")
	}
	if len(opts.MasterSecret) == 0 {
		return nil, crypto.ErrEmptySecret
	}

	m := &Manager{
		store:          opts.Store,
		backend:        opts.Backend,
		master:         append([]byte(nil), opts.MasterSecret...),
		deriver:        crypto.NewDeriver(opts.KDFConcurrency),
		limiter:        opts.Limiter,
		audit:          opts.Audit,
		source:         opts.AuditSource,
		confirmations:  opts.Confirmations,
		confirmTimeout: opts.ConfirmTimeout,
		rpcTimeout:     opts.RPCTimeout,
		newID:          uuid.NewString,
		now:            time.Now,
		locks:          make(map[string]*sync.Mutex),
	}
	if m.source == "" {
		m.source = audit.SourceBot
	}
	if m.confirmations == 0 {
		m.confirmations = DefaultConfirmations
	}
	if m.confirmTimeout <= 0 {
		m.confirmTimeout = DefaultConfirmTimeout
	}
	if m.rpcTimeout <= 0 {
		m.rpcTimeout = DefaultRPCTimeout
	}

	root := opts.WalletsRoot
	if fs, ok := opts.Store.(*walletstore.FileStore); ok && root == "" {
		root = fs.Root()
	}
	if root != "" {
		m.migrator = walletstore.NewMigrator(opts.Store, root)
	}
	return m, nil
}

// Close wipes the master secret. The store is owned by the caller.
func (m *Manager) Close() {
	crypto.SecureWipe(m.master)
}

// lock serializes operations on one user's wallets.
func (m *Manager) lock(userID string) func() {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateWallet generates a new wallet for userID. An empty name becomes
// "Wallet N". The user's first wallet becomes active.
func (m *Manager) CreateWallet(ctx context.Context, userID, name string) (*CreatedWallet, error) {
	unlock := m.lock(userID)
	defer unlock()

	created, err := m.createWallet(ctx, userID, name)
	m.record(ctx, audit.OpWalletCreate, userID, walletIDOf(created), err)
	return created, err
}

func (m *Manager) createWallet(ctx context.Context, userID, name string) (*CreatedWallet, error) {
	idx, err := m.index(ctx, userID)
	if err != nil {
		return nil, err
	}

	if name, err = normalizeName(name); err != nil {
		return nil, err
	}
	if name == "" {
		name = fmt.Sprintf("Wallet %d", len(idx.Wallets)+1)
	}

	mnemonic, key, err := newKeyMaterial()
	if err != nil {
		return nil, err
	}
	defer wipeKey(key)

	id := m.newID()
	rec, err := m.seal(ctx, userID, id, key, mnemonic)
	if err != nil {
		return nil, err
	}
	rec.Name = name
	rec.CreatedAt = m.now().UTC()

	if err := m.store.SaveRecord(userID, rec); err != nil {
		return nil, m.storeError(userID, id, err)
	}

	idx.Wallets = append(idx.Wallets, walletstore.IndexEntry{
		ID:        id,
		Name:      name,
		Address:   rec.Address,
		CreatedAt: rec.CreatedAt,
	})
	if idx.ActiveWalletID == "" {
		idx.ActiveWalletID = id
	}
	if err := m.store.SaveIndex(userID, idx); err != nil {
		if derr := m.store.DeleteRecord(userID, id); derr != nil {
			logx.WithContext(ctx).Errorf("wallet: failed to remove unindexed record %s: %v", id, derr)
		}
		return nil, m.storeError(userID, id, err)
	}

	addr := common.HexToAddress(rec.Address)
	rpcCtx, cancel := m.rpcContext(ctx)
	defer cancel()
	balance, err := m.backend.BalanceAt(rpcCtx, addr)
	if err != nil {
		logx.WithContext(ctx).Errorf("wallet: balance lookup for new wallet %s failed: %v", id, err)
		balance = new(big.Int)
	}

	return &CreatedWallet{
		ID:       id,
		Name:     name,
		Address:  addr,
		Mnemonic: mnemonic,
		Balance:  balance,
	}, nil
}

// ListWallets returns the user's wallets in creation order. Balances are
// fetched in parallel; a failed lookup reports zero with BalanceKnown unset.
func (m *Manager) ListWallets(ctx context.Context, userID string) ([]WalletInfo, error) {
	unlock := m.lock(userID)
	idx, err := m.index(ctx, userID)
	unlock()
	if err != nil {
		return nil, err
	}

	infos := make([]WalletInfo, len(idx.Wallets))
	fns := make([]func(), 0, len(idx.Wallets))
	for i, w := range idx.Wallets {
		infos[i] = WalletInfo{
			ID:        w.ID,
			Name:      w.Name,
			Address:   common.HexToAddress(w.Address),
			CreatedAt: w.CreatedAt,
			Balance:   new(big.Int),
			IsActive:  w.ID == idx.ActiveWalletID,
		}
		info := &infos[i]
		fns = append(fns, func() {
			balance, err := m.backend.BalanceAt(ctx, info.Address)
			if err != nil {
				logx.WithContext(ctx).Errorf("wallet: balance lookup for %s failed: %v", info.ID, err)
				return
			}
			info.Balance = balance
			info.BalanceKnown = true
		})
	}
	mr.FinishVoid(fns...)

	return infos, nil
}

// RenameWallet changes the display name of one wallet. Nothing is written
// when the id is unknown or the name is unchanged.
func (m *Manager) RenameWallet(ctx context.Context, userID, walletID, name string) error {
	unlock := m.lock(userID)
	defer unlock()

	err := m.renameWallet(ctx, userID, walletID, name)
	m.record(ctx, audit.OpWalletRename, userID, walletID, err)
	return err
}

func (m *Manager) renameWallet(ctx context.Context, userID, walletID, name string) error {
	if err := validateWalletID(walletID); err != nil {
		return err
	}
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	idx, err := m.index(ctx, userID)
	if err != nil {
		return err
	}
	i := idx.Find(walletID)
	if i < 0 {
		return walletNotFound(userID, walletID)
	}
	if idx.Wallets[i].Name == name {
		return nil
	}

	idx.Wallets[i].Name = name
	if err := m.store.SaveIndex(userID, idx); err != nil {
		return m.storeError(userID, walletID, err)
	}
	return nil
}

// SetActiveWallet makes walletID the wallet used when none is named.
func (m *Manager) SetActiveWallet(ctx context.Context, userID, walletID string) error {
	unlock := m.lock(userID)
	defer unlock()

	err := m.setActiveWallet(ctx, userID, walletID)
	m.record(ctx, audit.OpWalletActivate, userID, walletID, err)
	return err
}

func (m *Manager) setActiveWallet(ctx context.Context, userID, walletID string) error {
	if err := validateWalletID(walletID); err != nil {
		return err
	}
	idx, err := m.index(ctx, userID)
	if err != nil {
		return err
	}
	if idx.Find(walletID) < 0 {
		return walletNotFound(userID, walletID)
	}
	if idx.ActiveWalletID == walletID {
		return nil
	}

	idx.ActiveWalletID = walletID
	if err := m.store.SaveIndex(userID, idx); err != nil {
		return m.storeError(userID, walletID, err)
	}
	return nil
}

// index validates userID, migrates a legacy wallet if present and loads
// the user's index. An unreadable index is rebuilt from the stored records.
// Callers hold the user lock.
func (m *Manager) index(ctx context.Context, userID string) (*walletstore.Index, error) {
	if err := walletstore.ValidateID(userID); err != nil {
		return nil, &ValidationError{Field: "user id", Reason: "must be 1-128 letters, digits or dashes", Err: err}
	}
	if m.migrator != nil {
		if err := m.migrate(ctx, userID); err != nil {
			return nil, err
		}
	}
	return m.loadIndex(ctx, userID)
}

func (m *Manager) migrate(ctx context.Context, userID string) error {
	migrated, err := m.migrator.Migrate(userID)
	if errors.Is(err, walletstore.ErrCorruptIndex) {
		if _, err := m.loadIndex(ctx, userID); err != nil {
			return err
		}
		migrated, err = m.migrator.Migrate(userID)
	}

	switch {
	case errors.Is(err, walletstore.ErrLegacyQuarantined):
		// The unreadable file is out of the way; the user starts without it.
		logx.WithContext(ctx).Errorf("wallet: legacy wallet of user %s is unreadable: %v", userID, err)
		m.record(ctx, audit.OpWalletMigrate, userID, "", &CorruptionError{WalletID: legacyWallet, Err: err})
	case err != nil:
		m.record(ctx, audit.OpWalletMigrate, userID, "", err)
		return m.storeError(userID, legacyWallet, err)
	case migrated:
		m.record(ctx, audit.OpWalletMigrate, userID, "", nil)
	}
	return nil
}

func (m *Manager) loadIndex(ctx context.Context, userID string) (*walletstore.Index, error) {
	idx, err := m.store.LoadIndex(userID)
	if errors.Is(err, walletstore.ErrCorruptIndex) {
		logx.WithContext(ctx).Errorf("wallet: index of user %s is unreadable, rebuilding from records: %v", userID, err)
		idx, err = m.store.RebuildIndex(userID)
		m.record(ctx, audit.OpWalletIndexRebuild, userID, "", err)
	}
	if err != nil {
		return nil, m.storeError(userID, "", err)
	}
	return idx, nil
}

// rpcContext bounds a chain call made while the user's lock is held.
func (m *Manager) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.rpcTimeout)
}

// validateWalletID rejects ids that can never name a stored wallet.
func validateWalletID(walletID string) error {
	if err := walletstore.ValidateID(walletID); err != nil {
		return &ValidationError{Field: "wallet id", Reason: "must be 1-128 letters, digits or dashes", Err: err}
	}
	return nil
}

// resolve picks walletID, or the active wallet when walletID is empty.
func resolve(idx *walletstore.Index, userID, walletID string) (*walletstore.IndexEntry, error) {
	if walletID != "" {
		if err := validateWalletID(walletID); err != nil {
			return nil, err
		}
	}
	if len(idx.Wallets) == 0 {
		return nil, noWallet(userID)
	}
	if walletID == "" {
		walletID = idx.ActiveWalletID
		if walletID == "" {
			walletID = idx.Wallets[0].ID
		}
	}
	i := idx.Find(walletID)
	if i < 0 {
		return nil, walletNotFound(userID, walletID)
	}
	return &idx.Wallets[i], nil
}

// storeError translates walletstore failures into this package's types.
func (m *Manager) storeError(userID, walletID string, err error) error {
	switch {
	case errors.Is(err, walletstore.ErrInvalidID):
		return &ValidationError{Field: "wallet id", Reason: "must be 1-128 letters, digits or dashes", Err: err}
	case errors.Is(err, walletstore.ErrWalletNotFound):
		return walletNotFound(userID, walletID)
	case errors.Is(err, walletstore.ErrCorruptRecord):
		return &CorruptionError{WalletID: walletID, Err: err}
	case errors.Is(err, walletstore.ErrCorruptIndex), errors.Is(err, walletstore.ErrInvalidIndex):
		return &CorruptionError{WalletID: indexWallet, Err: err}
	default:
		return fmt.Errorf("wallet: store: %w", err)
	}
}

// allow applies the limiter for class. Denials are audited as
// rate-limit events naming op.
func (m *Manager) allow(ctx context.Context, class, op, userID, walletID string) error {
	if m.limiter == nil {
		return nil
	}
	err := m.limiter.Allow(class, userID)
	if err == nil {
		return nil
	}
	if m.audit != nil {
		if aerr := m.audit.LogRateLimited(op, m.source, userID, walletID, err.Error()); aerr != nil {
			logx.WithContext(ctx).Errorf("wallet: audit write failed: %v", aerr)
		}
	}
	return err
}

// record writes the outcome of op to the audit log. Audit failures are
// logged and never fail the operation.
func (m *Manager) record(ctx context.Context, op, userID, walletID string, opErr error) {
	m.recordFields(ctx, op, userID, walletID, opErr, nil)
}

func (m *Manager) recordFields(ctx context.Context, op, userID, walletID string, opErr error, fields map[string]any) {
	if m.audit == nil {
		return
	}
	entry := audit.Entry{
		Operation: op,
		Source:    m.source,
		UserID:    userID,
		WalletID:  walletID,
		Result:    audit.ResultSuccess,
		Fields:    fields,
	}
	if opErr != nil {
		entry.Result = audit.ResultError
		entry.Error = &audit.ErrorInfo{Code: ErrorCode(opErr), Message: opErr.Error()}
	}
	if err := m.audit.Log(entry); err != nil {
		logx.WithContext(ctx).Errorf("wallet: audit write failed: %v", err)
	}
}

func walletIDOf(w *CreatedWallet) string {
	if w == nil {
		return ""
	}
	return w.ID
}

// normalizeName trims and NFC-normalizes a wallet name.
func normalizeName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", &ValidationError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", MaxNameLength)}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", &ValidationError{Field: "name", Reason: "must not contain control characters"}
		}
	}
	return name, nil
}
