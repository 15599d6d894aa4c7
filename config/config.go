// Package config loads the node's on-disk TOML configuration: Load(path),
// a default-file bootstrap, and key generation on first run. Fields cover
// DataDir, ListenAddress, NodeKey, BootstrapPeers, GapBufferDepth, and
// WitnessReplication.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"kore/identity"
)

// Config is the node's persisted configuration.
type Config struct {
	// DataDir is the root directory for the node's leveldb store.
	DataDir string `toml:"DataDir"`
	// ListenAddress is the local address the network transport binds to.
	ListenAddress string `toml:"ListenAddress"`
	// NodeKey is this node's ed25519 private key seed, hex-encoded.
	// Generated on first run if absent.
	NodeKey string `toml:"NodeKey"`
	// BootstrapPeers seeds the initial peer set the transport dials.
	BootstrapPeers []string `toml:"BootstrapPeers"`
	// GapBufferDepth is K, the per-subject causal-repair gap-buffer bound.
	GapBufferDepth uint64 `toml:"GapBufferDepth"`
	// WitnessReplication is the base replication factor Amplification
	// scales on top of before resolving a validator/witness target count.
	WitnessReplication float64 `toml:"WitnessReplication"`
}

const (
	defaultListenAddress      = ":6001"
	defaultDataDir            = "./kore-data"
	defaultGapBufferDepth     = 64
	defaultWitnessReplication = 0.5
)

// Load reads cfg from path, bootstrapping a default file with a freshly
// generated node key if path does not yet exist, and generating one into
// an existing file that predates key persistence.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.NodeKey == "" {
		key, err := identity.GenerateKeyPair(identity.KeyEd25519)
		if err != nil {
			return nil, err
		}
		cfg.NodeKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createDefault writes a fresh default configuration file to path,
// generating a new node key, and returns the loaded Config.
func createDefault(path string) (*Config, error) {
	key, err := identity.GenerateKeyPair(identity.KeyEd25519)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:      defaultListenAddress,
		DataDir:            defaultDataDir,
		NodeKey:            hex.EncodeToString(key.Bytes()),
		BootstrapPeers:     []string{},
		GapBufferDepth:     defaultGapBufferDepth,
		WitnessReplication: defaultWitnessReplication,
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NodePrivateKey decodes cfg.NodeKey into a usable ed25519 identity.PrivateKey.
func (cfg *Config) NodePrivateKey() (*identity.PrivateKey, error) {
	raw, err := hex.DecodeString(cfg.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("config: invalid NodeKey hex: %w", err)
	}
	return identity.PrivateKeyFromBytes(identity.KeyEd25519, raw)
}
