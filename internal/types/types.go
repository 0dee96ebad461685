// Package types defines the core value types shared by genvm packages.
//
// Genomes are identified by the blake3 digest of their bytes. Identifiers are
// rendered in base58 so they can be pasted on a command line.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// GenomeIDSize is the size of a genome identifier in bytes.
const GenomeIDSize = 32

// ErrInvalidGenomeID is returned when a genome identifier has invalid length.
var ErrInvalidGenomeID = errors.New("invalid genome id: must be 32 bytes")

// GenomeID is the content address of a genome.
type GenomeID [GenomeIDSize]byte

// ComputeGenomeID returns the blake3-256 digest of a genome.
func ComputeGenomeID(genome []byte) GenomeID {
	return GenomeID(blake3.Sum256(genome))
}

// GenomeIDFromBase58 parses a base58-encoded genome identifier.
func GenomeIDFromBase58(s string) (GenomeID, error) {
	var id GenomeID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	return GenomeIDFromBytes(data)
}

// GenomeIDFromBytes creates a GenomeID from a byte slice.
func GenomeIDFromBytes(b []byte) (GenomeID, error) {
	var id GenomeID
	if len(b) != GenomeIDSize {
		return id, ErrInvalidGenomeID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id GenomeID) String() string {
	return base58.Encode(id[:])
}

// Short returns the first eight base58 characters, for log lines.
func (id GenomeID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Hex returns the hex-encoded representation.
func (id GenomeID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if the identifier is all zeros.
func (id GenomeID) IsZero() bool {
	return id == GenomeID{}
}

// Bytes returns the identifier as a byte slice.
func (id GenomeID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id GenomeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *GenomeID) UnmarshalText(text []byte) error {
	parsed, err := GenomeIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// EncodeGenome renders genome bytes as base58 text.
func EncodeGenome(genome []byte) string {
	return base58.Encode(genome)
}

// DecodeGenome parses base58 genome text.
func DecodeGenome(s string) ([]byte, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("base58 decode: %w", err)
	}
	return data, nil
}
