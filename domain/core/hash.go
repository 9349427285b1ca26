package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Short returns the first n hex characters, for filenames and log lines.
func (h Hash) Short(n int) string {
	if n > len(h) {
		n = len(h)
	}
	return string(h[:n])
}

// Domain-specific hash types
type (
	// SweepParamsHash fingerprints every parameter that affects a sweep's
	// output; checkpoints are addressed and verified by it.
	SweepParamsHash Hash
	// ProvenanceHash fingerprints the source of a session's matrices.
	ProvenanceHash Hash
)

// Constructors
func NewSweepParamsHash(data []byte) SweepParamsHash { return SweepParamsHash(NewHash(data)) }
func NewProvenanceHash(data []byte) ProvenanceHash   { return ProvenanceHash(NewHash(data)) }

// String conversions
func (h SweepParamsHash) String() string { return Hash(h).String() }
func (h ProvenanceHash) String() string  { return Hash(h).String() }

// Short returns the first n hex characters of the sweep hash.
func (h SweepParamsHash) Short(n int) string { return Hash(h).Short(n) }
