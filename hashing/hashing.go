// Package hashing holds the per-chain commitment primitives: the hash used for
// Merkle paths, secret hashes and message ids, and the signature scheme used
// to recover verifier and sender addresses.
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const (
	Keccak256    = "keccak256"
	SHA256       = "sha256"
	DoubleSHA256 = "double-sha256"
	SHA3_256     = "sha3-256"
)

// Digest is a 32-byte commitment.
type Digest [32]byte

func (d Digest) Hex() string {
	return hexutil.Encode(d[:])
}

type Hasher interface {
	Algorithm() string
	Sum(parts ...[]byte) Digest
}

type hasherFunc struct {
	name string
	fn   func([]byte) Digest
}

func (h hasherFunc) Algorithm() string { return h.name }

func (h hasherFunc) Sum(parts ...[]byte) Digest {
	if len(parts) == 1 {
		return h.fn(parts[0])
	}
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return h.fn(buf)
}

var hashers = map[string]Hasher{
	Keccak256: hasherFunc{Keccak256, func(b []byte) Digest { return Digest(crypto.Keccak256Hash(b)) }},
	SHA256:    hasherFunc{SHA256, func(b []byte) Digest { return sha256.Sum256(b) }},
	DoubleSHA256: hasherFunc{DoubleSHA256, func(b []byte) Digest {
		return Digest(chainhash.DoubleHashH(b))
	}},
	SHA3_256: hasherFunc{SHA3_256, func(b []byte) Digest { return sha3.Sum256(b) }},
}

func NewHasher(algorithm string) (Hasher, error) {
	h, ok := hashers[strings.ToLower(algorithm)]
	if !ok {
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
	return h, nil
}

// ParseDigest accepts 0x followed by exactly 64 hex digits.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return d, fmt.Errorf("digest %q is not 0x-prefixed 32-byte hex", s)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return d, fmt.Errorf("digest %q: %w", s, err)
	}
	copy(d[:], b)
	return d, nil
}

// MerkleRoot hashes the leaf data, then folds every sibling in order:
// acc = H(acc || sibling). The order of path is significant.
func MerkleRoot(h Hasher, leaf []byte, path []Digest) Digest {
	acc := h.Sum(leaf)
	for _, sibling := range path {
		acc = h.Sum(acc[:], sibling[:])
	}
	return acc
}

func Uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func Int64Bytes(v int64) []byte {
	return Uint64Bytes(uint64(v))
}
