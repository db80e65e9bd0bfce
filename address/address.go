// Package address checks account addresses against the kind of chain they
// are used on.
package address

import (
	"strings"

	"crossbridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

// Validate returns an InvalidArgument error when addr is not a usable
// address on a chain of the given kind.
func Validate(kind types.ChainKind, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return types.NewError(types.KindInvalidArgument, "address is empty")
	}
	switch kind {
	case types.ChainKindUTXO:
		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			return types.WrapError(types.KindInvalidArgument, err, "invalid address %s", addr)
		}
		return nil
	default:
		if !common.IsHexAddress(addr) {
			return types.NewError(types.KindInvalidArgument, "invalid address %s", addr)
		}
		canonical := common.HexToAddress(addr).Hex()
		// mixed case input must carry a correct EIP-55 checksum
		digits := addr[len(addr)-40:]
		if digits != strings.ToLower(digits) && digits != strings.ToUpper(digits) && digits != canonical[2:] {
			return types.NewError(types.KindInvalidArgument, "address %s has a bad checksum", addr)
		}
		if err := ethav.Validate(canonical); err != nil {
			return types.WrapError(types.KindInvalidArgument, err, "invalid address %s", addr)
		}
		return nil
	}
}

// Normalize returns the canonical spelling: EIP-55 checksum for EVM chains,
// the encoded form for UTXO chains. addr must already be valid.
func Normalize(kind types.ChainKind, addr string) string {
	addr = strings.TrimSpace(addr)
	if kind == types.ChainKindUTXO {
		if a, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err == nil {
			return a.EncodeAddress()
		}
		return addr
	}
	return common.HexToAddress(addr).Hex()
}
