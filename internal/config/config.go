// Package config loads and persists the node's enumerated configuration,
// following the teacher's load-or-seed-defaults pattern (see
// network.BootstrapManager's LoadConfig/SaveConfig) but writing atomically
// (temp file + rename) so a reader never observes a half-written file.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
)

const appDirName = "poolkeeper"

// Config is the enumerated, persisted configuration described in the
// external interfaces section: listen addresses, key file locations, the
// chain RPC endpoint, and the factory contract address.
type Config struct {
	RemoteListenAddr    string `json:"remote_listen_addr"`
	EndpointListenAddr  string `json:"endpoint_listen_addr"`
	BlobsPath           string `json:"blobs_path"`
	IrohKeyFilePath     string `json:"iroh_key_file_path"`
	EthKeyFilePath      string `json:"eth_key_file_path"`
	EthWsRPCURL         string `json:"eth_ws_rpc_url"`
	FactoryContractAddr string `json:"factory_contract_address"`
}

// FactoryAddress parses FactoryContractAddr into a common.Address,
// failing loudly at boot rather than silently defaulting to the zero
// address — a required contract address left blank is a configuration
// error, not "no factory".
func (c Config) FactoryAddress() (common.Address, error) {
	if c.FactoryContractAddr == "" {
		return common.Address{}, fmt.Errorf("config: factory_contract_address is required")
	}
	raw, err := hex.DecodeString(trimHexPrefix(c.FactoryContractAddr))
	if err != nil || len(raw) != common.AddressLength {
		return common.Address{}, fmt.Errorf("config: invalid factory_contract_address %q", c.FactoryContractAddr)
	}
	return common.BytesToAddress(raw), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Default returns the default configuration rooted at the platform
// config directory, mirroring bootstrap.go's loadDefaultNodes: sane
// defaults the node can run with before the operator customizes anything.
func Default() Config {
	dir, err := defaultConfigDir()
	if err != nil {
		dir = "."
	}
	return Config{
		RemoteListenAddr:    "127.0.0.1:8080",
		EndpointListenAddr:  "0.0.0.0:0",
		BlobsPath:           filepath.Join(dir, "blobs"),
		IrohKeyFilePath:     "iroh.key",
		EthKeyFilePath:      "eth.key",
		EthWsRPCURL:         "ws://127.0.0.1:8546",
		FactoryContractAddr: "",
	}
}

func defaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// Path returns the canonical config file path under the given directory
// (or the platform default if dir is empty).
func Path(dir string) (string, error) {
	if dir == "" {
		d, err := defaultConfigDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config file at path, seeding it with defaults (and
// persisting them) if the file does not yet exist — the same
// load-or-seed-defaults behavior as BootstrapManager.NewBootstrapManager.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.WithField("path", path).Info("config not found, seeding defaults")
		cfg := Default()
		if saveErr := Save(path, cfg); saveErr != nil {
			return Config{}, fmt.Errorf("config: seed defaults: %w", saveErr)
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically: marshal, write to a sibling temp
// file, then rename over the target. A concurrent Load never observes a
// partially written file, unlike the teacher's direct os.WriteFile in
// SaveConfig.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: create config dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename into place: %w", err)
	}

	log.WithField("path", path).Info("wrote config")
	return nil
}
