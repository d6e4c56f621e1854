package cache

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/pario-ai/goscli/pkg/codec"
	"github.com/pario-ai/goscli/pkg/models"
)

// fingerprintKey separates request fingerprints from other BLAKE3 uses.
var fingerprintKey = [32]byte{
	'g', 'o', 's', 'c', 'l', 'i', '.', 'c', 'a', 'c', 'h', 'e', '.',
	'k', 'e', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// KeyInput is everything that determines a response. Two requests with equal
// KeyInput are interchangeable.
type KeyInput struct {
	Provider string           `cbor:"provider"`
	Model    string           `cbor:"model"`
	Messages []models.Message `cbor:"messages"`
	Params   any              `cbor:"params,omitempty"`
}

// Fingerprint returns the hex BLAKE3 digest of in's deterministic encoding.
func Fingerprint(in KeyInput) (string, error) {
	data, err := codec.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashKey returns the hex BLAKE3 digest of key. Durable stores use it to
// derive file names.
func HashKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
