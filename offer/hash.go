package offer

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// HashDescription derives the stored content reference for a service
// description. Keccak-256 keeps the reference compatible with hashes
// produced by EVM tooling.
func HashDescription(description string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(description))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
