// Package codehash computes the content addresses used to deduplicate raw
// byte blobs (bytecode, sources) across both storage backends.
package codehash

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hashes holds both digests kept for a blob: sha256 is the primary storage
// key, keccak256 is retained for compatibility with external indexers that
// key bytecode by its EVM-native hash.
type Hashes struct {
	SHA256    []byte
	Keccak256 []byte
}

// Compute returns the content address of code. Identical input always yields
// identical output, so blobs can be stored insert-or-ignore keyed by SHA256.
func Compute(code []byte) Hashes {
	sum := sha256.Sum256(code)
	return Hashes{
		SHA256:    sum[:],
		Keccak256: crypto.Keccak256(code),
	}
}
