// Package commitment computes the payment commitment digests payers embed in
// transaction payloads to prove which session or order a payment is for.
package commitment

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// SessionDigest returns the keccak256 hash of the session identifier bytes,
// as 0x-prefixed lowercase hex. A transaction pays for a session iff its
// payload equals this digest.
func SessionDigest(id uuid.UUID) string {
	return keccakHex(id[:])
}

// OrderDigest returns the keccak256 hash of a caller-supplied hex commitment
// (the externalOrderId).
func OrderDigest(externalOrderID string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(externalOrderID, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid external order id %q: %w", externalOrderID, err)
	}
	return keccakHex(raw), nil
}

// Equal compares two payload digests, tolerating 0x prefix and case
// differences.
func Equal(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "0x"))
}

func keccakHex(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
