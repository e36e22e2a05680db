package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// HashPrefix tags fingerprints produced by ComputeBlake3Hash.
const HashPrefix = "blake3:"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return HashBytes(data), nil
}

// HashBytes returns the hex BLAKE3 digest of data.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Fingerprint returns the prefixed hash of the loaded config file.
func (c *Config) Fingerprint() (string, error) {
	if c.Path == "" {
		return "", fmt.Errorf("config was not loaded from a file")
	}
	h, err := ComputeBlake3Hash(c.Path)
	if err != nil {
		return "", err
	}
	return HashPrefix + h, nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash (with or without prefix).
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	expected := strings.TrimPrefix(expectedHash, HashPrefix)
	if actualHash != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s", filePath, expected, actualHash)
	}
	return nil
}
