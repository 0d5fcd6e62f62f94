package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kenneth/chart-vault/internal/access"
	"github.com/kenneth/chart-vault/internal/audit"
	"github.com/kenneth/chart-vault/internal/blobstore"
	"github.com/kenneth/chart-vault/internal/config"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/debug"
	"github.com/kenneth/chart-vault/internal/keys"
	"github.com/kenneth/chart-vault/internal/ledger"
	"github.com/kenneth/chart-vault/internal/provider"
	"github.com/kenneth/chart-vault/internal/tracing"
	"github.com/sirupsen/logrus"
)

// passphraseEnv holds the passphrase protecting stored private keys.
const passphraseEnv = "CHARTVAULT_PASSPHRASE"

// app wires the client stack from configuration.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	keys    *keys.Manager
	reg     *access.Registry
	dir     *provider.Directory
	audit   audit.Logger
	stdout  io.Writer
	closers []func() error
}

func newApp(ctx context.Context, configPath string, verbose bool, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetLevel(config.ParseLogLevel(cfg.LogLevel))
	if !verbose && logger.GetLevel() == logrus.InfoLevel {
		// Confirmations are printed as results; keep stderr for problems.
		logger.SetLevel(logrus.WarnLevel)
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		debug.SetEnabled(true)
	} else {
		debug.InitFromEnv()
	}

	logger.WithFields(logrus.Fields(crypto.HardwareInfo(cfg.Cipher.PreferHardwareAES))).Debug("Content cipher selected")

	a := &app{cfg: cfg, logger: logger, stdout: stdout}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	shutdown, err := tracing.Setup(ctx, cfg.Tracing, stderr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	a.audit, err = audit.NewLoggerFromConfig(cfg.Audit, logger)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	a.closers = append(a.closers, a.audit.Close)

	store, closeStore, err := keys.OpenStore(ctx, cfg.KeyStore)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	a.keys, err = keys.NewManager(keys.Options{
		Store:  store,
		KDF:    crypto.KDFParams{Time: cfg.KDF.Time, MemoryKiB: cfg.KDF.MemoryKiB, Threads: cfg.KDF.Threads},
		Logger: logger,
		Audit:  a.audit,
	})
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.Open(ctx, cfg.BlobStore)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	a.reg, err = access.NewRegistry(access.Options{
		Ledger:      ledger.NewClient(cfg.Ledger.Endpoint, cfg.Ledger.Timeout),
		Blobs:       blobs,
		Cipher:      crypto.DefaultContentCipher(cfg.Cipher.PreferHardwareAES),
		InlineLimit: cfg.BlobStore.InlineLimit,
		MaxGrants:   cfg.Ledger.MaxGrants,
		Retries:     2,
		Logger:      logger,
		Audit:       a.audit,
	})
	if err != nil {
		return nil, err
	}
	a.dir = provider.NewDirectory(a.reg, logger)

	ok = true
	return a, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
		}
	}
	a.closers = nil
}

func passphrase() []byte {
	return []byte(os.Getenv(passphraseEnv))
}

// session unlocks the stored key of account.
func (a *app) session(ctx context.Context, account string) (*access.Session, error) {
	if account == "" {
		return nil, fmt.Errorf("-account is required")
	}
	return a.reg.Unlock(ctx, a.keys, ledger.AccountID(account), passphrase())
}

func (a *app) print(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
