package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// loadOrGenerateSigningKey loads the Ed25519 root key from dataDir/dhi.key,
// generating and persisting one on first run. DHI_PRODUCTION=1 refuses the
// auto-generate fallback so a production deployment never attests manifests
// under a throwaway key.
func loadOrGenerateSigningKey(dataDir string, logger *slog.Logger) (ed25519.PrivateKey, error) {
	keyPath := filepath.Join(dataDir, "dhi.key")

	if seedHex, err := os.ReadFile(keyPath); err == nil {
		seed, err := hex.DecodeString(string(seedHex))
		if err != nil {
			return nil, fmt.Errorf("main: invalid signing key at %s: %w", keyPath, err)
		}
		logger.Info("loaded persistent attestation signing key", "path", keyPath)
		return ed25519.NewKeyFromSeed(seed), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("main: read signing key: %w", err)
	}

	if os.Getenv("DHI_PRODUCTION") == "1" {
		return nil, fmt.Errorf("main: DHI_PRODUCTION requires an existing signing key at %s", keyPath)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("main: generate signing key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("main: create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv.Seed())), 0o600); err != nil {
		return nil, fmt.Errorf("main: persist signing key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "dhi.pub"), []byte(hex.EncodeToString(pub)), 0o644); err != nil {
		logger.Warn("failed to persist public key alongside root key", "error", err)
	}

	logger.Warn("generated new attestation signing key; set DHI_PRODUCTION=1 once a real key is provisioned", "path", keyPath)
	return priv, nil
}
