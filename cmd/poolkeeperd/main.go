// Command poolkeeperd runs the pool-tracking daemon: it loads
// configuration, opens the durable store, dials the chain RPC endpoint,
// and drives the reconciliation event loop until a shutdown signal
// arrives or a bootstrap failure makes startup unrecoverable.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"

	"github.com/arkhive/poolkeeper/internal/blob"
	"github.com/arkhive/poolkeeper/internal/chainadapter"
	"github.com/arkhive/poolkeeper/internal/config"
	"github.com/arkhive/poolkeeper/internal/eventloop"
	"github.com/arkhive/poolkeeper/internal/ids"
	"github.com/arkhive/poolkeeper/internal/store"
	"github.com/arkhive/poolkeeper/internal/tracker"
)

// Exit codes, per the external interfaces section.
const (
	exitOK               = 0
	exitConfigError      = 1
	exitChainUnreachable = 3
	exitStoreUnavailable = 4
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("poolkeeperd: unrecoverable boot-time panic")
			code = exitConfigError
		}
	}()

	configDir := flag.String("config-dir", "", "configuration directory (default: platform config dir)")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(logLevelFromEnv())

	path, err := config.Path(*configDir)
	if err != nil {
		log.WithError(err).Error("poolkeeperd: resolve config path")
		return exitConfigError
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.WithError(err).Error("poolkeeperd: load config")
		return exitConfigError
	}

	identity, err := loadEthKey(cfg.EthKeyFilePath)
	if err != nil {
		log.WithError(err).Error("poolkeeperd: load eth key")
		return exitConfigError
	}
	nodeIdentity, err := loadNodeIdentity(cfg.IrohKeyFilePath)
	if err != nil {
		log.WithError(err).Error("poolkeeperd: load node identity")
		return exitConfigError
	}

	factoryAddr, err := cfg.FactoryAddress()
	if err != nil {
		log.WithError(err).Error("poolkeeperd: factory address")
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := chainadapter.NewEthBackend(ctx, cfg.EthWsRPCURL, factoryAddr, identity, big.NewInt(1))
	if err != nil {
		log.WithError(err).Error("poolkeeperd: connect to chain RPC endpoint")
		return exitChainUnreachable
	}

	if err := os.MkdirAll(cfg.BlobsPath, 0o700); err != nil {
		log.WithError(err).Error("poolkeeperd: create blobs path")
		return exitStoreUnavailable
	}
	persist, err := store.Open(filepath.Join(cfg.BlobsPath, "tracker.db"))
	if err != nil {
		log.WithError(err).Error("poolkeeperd: open durable store")
		return exitStoreUnavailable
	}
	defer persist.Close()

	// The verified-streaming blob transport is an external collaborator
	// (iroh-like, non-goal to implement); a deterministic in-memory
	// transport stands in until that integration lands, letting the rest
	// of the daemon (tracker, reconciliation, probing) run end to end.
	transport := blob.NewMemoryTransport(1 << 16)

	tr := tracker.New(nodeIdentity.Public, backend, transport, persist)
	tr.BindJoinIdentity(nodeIdentity)

	if err := tr.WarmStart(); err != nil {
		log.WithError(err).Error("poolkeeperd: warm start from durable store")
		return exitStoreUnavailable
	}

	if err := tr.RunBootstrap(ctx); err != nil {
		log.WithError(err).Warn("poolkeeperd: bootstrap reconciliation did not succeed, continuing with periodic retries")
	}

	loop := eventloop.New(backend, tr, 0)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("poolkeeperd: shutdown signal received")
		cancel()
	}()

	if err := loop.Run(ctx); err != nil {
		log.WithError(err).Error("poolkeeperd: event loop exited with error")
		return exitConfigError
	}
	return exitOK
}

// logLevelFromEnv resolves the LOG_LEVEL environment variable to a
// logrus level, defaulting to info (and falling back to info on an
// unrecognized value, logged as a warning once logging itself is live).
func logLevelFromEnv() log.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		log.WithField("LOG_LEVEL", raw).Warn("poolkeeperd: unrecognized log level, defaulting to info")
		return log.InfoLevel
	}
	return level
}

// loadEthKey reads a 32-byte secp256k1 secret key file and parses it
// into the ECDSA key used to sign chain transactions.
func loadEthKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw := data
	if decoded, hexErr := hex.DecodeString(string(data)); hexErr == nil && len(decoded) == 32 {
		raw = decoded
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse eth key: %w", err)
	}
	return key, nil
}

// loadNodeIdentity reads a 32-byte Ed25519 seed file and derives the
// node's transport identity.
func loadNodeIdentity(path string) (ids.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ids.Identity{}, fmt.Errorf("read %s: %w", path, err)
	}
	seed := data
	if decoded, hexErr := hex.DecodeString(string(data)); hexErr == nil && len(decoded) == 32 {
		seed = decoded
	}
	return ids.IdentityFromSeed(seed)
}
