package hashing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	SchemeEthPersonal = "eth-personal"
	SchemeSecp256k1   = "secp256k1"
)

var ErrBadSignature = errors.New("malformed signature")

// Scheme signs 32-byte digests and recovers the signer address from them.
// Both schemes use secp256k1 keys; they differ in what is actually signed.
type Scheme interface {
	Name() string
	Sign(digest Digest, key *ecdsa.PrivateKey) ([]byte, error)
	Recover(digest Digest, sig []byte) (common.Address, error)
}

func NewScheme(name string) (Scheme, error) {
	switch strings.ToLower(name) {
	case SchemeEthPersonal:
		return ethPersonal{}, nil
	case SchemeSecp256k1:
		return rawSecp256k1{}, nil
	}
	return nil, fmt.Errorf("unknown signature scheme %q", name)
}

// ethPersonal signs the EIP-191 personal message wrapping of the digest,
// which is what wallets produce for personal_sign.
type ethPersonal struct{}

func (ethPersonal) Name() string { return SchemeEthPersonal }

func (ethPersonal) Sign(digest Digest, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(prefixHash(digest[:]).Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func (ethPersonal) Recover(digest Digest, sig []byte) (common.Address, error) {
	return recoverAddress(prefixHash(digest[:]).Bytes(), sig)
}

type rawSecp256k1 struct{}

func (rawSecp256k1) Name() string { return SchemeSecp256k1 }

func (rawSecp256k1) Sign(digest Digest, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(digest[:], key)
}

func (rawSecp256k1) Recover(digest Digest, sig []byte) (common.Address, error) {
	return recoverAddress(digest[:], sig)
}

func prefixHash(data []byte) common.Hash {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256Hash([]byte(msg))
}

func recoverAddress(hash []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	// never modify the caller's slice
	sigBytes := make([]byte, 65)
	copy(sigBytes, sig)

	if sigBytes[64] != 27 && sigBytes[64] != 28 && sigBytes[64] != 0 && sigBytes[64] != 1 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrBadSignature, sigBytes[64])
	}
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrBadSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DecodeSignature parses a 0x-prefixed 65-byte signature.
func DecodeSignature(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSignature, err.Error())
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("%w: length %d", ErrBadSignature, len(b))
	}
	return b, nil
}

func AddressOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// ParseKey accepts a hex private key with or without 0x.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
