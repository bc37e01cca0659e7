// Package svc wires configuration into the long-lived wallet services.
package svc

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"github.com/forest6511/botwallet/internal/config"
	"github.com/forest6511/botwallet/pkg/atomicfile"
	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/chain"
	"github.com/forest6511/botwallet/pkg/ratelimit"
	"github.com/forest6511/botwallet/pkg/wallet"
	"github.com/forest6511/botwallet/pkg/walletstore"
)

// ServiceContext owns every service a front end needs.
type ServiceContext struct {
	Config  *config.Config
	Store   walletstore.Store
	Backend chain.Backend
	Limiter *ratelimit.Limiter
	Audit   *audit.Logger
	Wallets *wallet.Manager

	cancel context.CancelFunc
}

// NewServiceContext dials the configured RPC endpoint and builds the
// services. source tags audit records with the calling front end.
func NewServiceContext(ctx context.Context, c *config.Config, masterSecret []byte, source string) (*ServiceContext, error) {
	backend, err := chain.Dial(ctx, c.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("svc: failed to connect to %s: %w", c.RPCURL, err)
	}
	return NewWithBackend(c, masterSecret, source, backend)
}

// NewWithBackend builds the services over an existing chain backend.
func NewWithBackend(c *config.Config, masterSecret []byte, source string, backend chain.Backend) (*ServiceContext, error) {
	if err := atomicfile.EnsureDir(c.WalletsRoot); err != nil {
		return nil, fmt.Errorf("svc: %w", err)
	}

	store, err := openStore(c)
	if err != nil {
		return nil, err
	}

	rules, err := c.RateRules()
	if err != nil {
		store.Close()
		return nil, err
	}
	limiter := ratelimit.New(rules)

	logger := audit.NewLogger(c.AuditDir)
	if err := logger.SetHMACKey(masterSecret); err != nil {
		store.Close()
		return nil, err
	}

	manager, err := wallet.New(wallet.Options{
		Store:          store,
		Backend:        backend,
		MasterSecret:   masterSecret,
		WalletsRoot:    c.WalletsRoot,
		Limiter:        limiter,
		Audit:          logger,
		AuditSource:    source,
		KDFConcurrency: c.KDFConcurrency,
		Confirmations:  c.Confirmations,
		ConfirmTimeout: c.ConfirmTimeout,
		RPCTimeout:     c.RPCTimeout,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	threading.GoSafe(func() { limiter.Run(ctx) })

	return &ServiceContext{
		Config:  c,
		Store:   store,
		Backend: backend,
		Limiter: limiter,
		Audit:   logger,
		Wallets: manager,
		cancel:  cancel,
	}, nil
}

func openStore(c *config.Config) (walletstore.Store, error) {
	switch c.Store {
	case config.StoreSQLite:
		return walletstore.OpenSQLite(filepath.Join(c.WalletsRoot, walletstore.DBFileName))
	default:
		return walletstore.NewFileStore(c.WalletsRoot)
	}
}

// Close stops background work, wipes the master secret and closes the store.
func (s *ServiceContext) Close() error {
	s.cancel()
	s.Wallets.Close()
	if err := s.Store.Close(); err != nil {
		logx.Errorf("svc: failed to close store: %v", err)
		return err
	}
	return nil
}
