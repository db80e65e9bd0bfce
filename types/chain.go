package types

import (
	"strings"
	"time"
)

// chain ids follow the public registry (1 Ethereum, 137 Polygon, 56 BNB, ...)
// utxo chains have no such registry, they get an operator-assigned id

type ChainKind string

const (
	ChainKindEVM  ChainKind = "evm"
	ChainKindUTXO ChainKind = "utxo"
)

type NativeCurrency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
}

// ChainConfig is immutable once the registry is built.
// Gas prices are in the smallest fee unit of the chain (wei, sat/vB).
// Durations are whole seconds.
type ChainConfig struct {
	ChainID        int64          `yaml:"chain_id" json:"chainId"`
	Name           string         `yaml:"name" json:"name"`
	Kind           ChainKind      `yaml:"kind" json:"kind"`
	RPCURL         string         `yaml:"rpc_url" json:"rpcUrl"`
	RPCFallbacks   []string       `yaml:"rpc_fallbacks" json:"-"`
	BridgeAddress  string         `yaml:"bridge_address" json:"bridgeAddress"`
	HTLCAddress    string         `yaml:"htlc_address" json:"htlcAddress,omitempty"`
	NativeCurrency NativeCurrency `yaml:"native_currency" json:"nativeCurrency"`

	BaseGasPrice     uint64  `yaml:"base_gas_price" json:"baseGasPrice"`
	MaxGasPrice      uint64  `yaml:"max_gas_price" json:"maxGasPrice"`
	GasMultiplier    float64 `yaml:"gas_multiplier" json:"gasMultiplier"`
	BaseTransferGas  uint64  `yaml:"base_transfer_gas" json:"baseTransferGas"`
	TokenTransferGas uint64  `yaml:"token_transfer_gas" json:"tokenTransferGas"`
	GasStationURL    string  `yaml:"gas_station_url" json:"-"`

	BlockTime        int64  `yaml:"block_time" json:"blockTime"`
	MinConfirmations uint64 `yaml:"min_confirmations" json:"minConfirmations"`
	MaxProofAge      int64  `yaml:"max_proof_age" json:"maxProofAge"`
	TimeoutPeriod    int64  `yaml:"timeout_period" json:"timeoutPeriod"`
	MinTimelock      int64  `yaml:"min_timelock" json:"minTimelock"`
	MaxTimelock      int64  `yaml:"max_timelock" json:"maxTimelock"`

	TrustLevel          float64  `yaml:"trust_level" json:"trustLevel"`
	HashAlgorithm       string   `yaml:"hash_algorithm" json:"hashAlgorithm"`
	SignatureScheme     string   `yaml:"signature_scheme" json:"signatureScheme"`
	AuthorizedVerifiers []string `yaml:"authorized_verifiers" json:"authorizedVerifiers"`

	RequestsPerSecond float64 `yaml:"requests_per_second" json:"-"`
}

const (
	DefaultBaseTransferGas  = 21000
	DefaultTokenTransferGas = 65000
	DefaultTrustLevel       = 90
	DefaultTimeoutPeriod    = 3600
	DefaultMaxProofAge      = 3600
	DefaultMinTimelock      = 60
	DefaultMaxTimelock      = 7 * 24 * 3600
	DefaultHashAlgorithm    = "keccak256"
	DefaultSignatureScheme  = "eth-personal"
)

// ApplyDefaults fills the optional fields left empty in configuration.
func (c *ChainConfig) ApplyDefaults() {
	if c.Kind == "" {
		c.Kind = ChainKindEVM
	}
	if c.BaseTransferGas == 0 {
		c.BaseTransferGas = DefaultBaseTransferGas
	}
	if c.TokenTransferGas == 0 {
		c.TokenTransferGas = DefaultTokenTransferGas
	}
	if c.GasMultiplier == 0 {
		c.GasMultiplier = 1.0
	}
	if c.TrustLevel == 0 {
		c.TrustLevel = DefaultTrustLevel
	}
	if c.TimeoutPeriod == 0 {
		c.TimeoutPeriod = DefaultTimeoutPeriod
	}
	if c.MaxProofAge == 0 {
		c.MaxProofAge = DefaultMaxProofAge
	}
	if c.MinTimelock == 0 {
		c.MinTimelock = DefaultMinTimelock
	}
	if c.MaxTimelock == 0 {
		c.MaxTimelock = DefaultMaxTimelock
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = DefaultHashAlgorithm
	}
	if c.SignatureScheme == "" {
		c.SignatureScheme = DefaultSignatureScheme
	}
}

// RPCList is the primary endpoint followed by the fallbacks, in failover order.
func (c ChainConfig) RPCList() []string {
	list := make([]string, 0, 1+len(c.RPCFallbacks))
	if c.RPCURL != "" {
		list = append(list, c.RPCURL)
	}
	return append(list, c.RPCFallbacks...)
}

func (c ChainConfig) MaxProofAgeDuration() time.Duration {
	return time.Duration(c.MaxProofAge) * time.Second
}

func (c ChainConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.TimeoutPeriod) * time.Second
}

func (c ChainConfig) IsAuthorizedVerifier(address string) bool {
	for _, v := range c.AuthorizedVerifiers {
		if strings.EqualFold(v, address) {
			return true
		}
	}
	return false
}

// ClampGasPrice bounds a price to [BaseGasPrice, MaxGasPrice].
func (c ChainConfig) ClampGasPrice(price uint64) uint64 {
	if price < c.BaseGasPrice {
		return c.BaseGasPrice
	}
	if c.MaxGasPrice > 0 && price > c.MaxGasPrice {
		return c.MaxGasPrice
	}
	return price
}

// Clone returns a copy that does not share slices with c.
func (c ChainConfig) Clone() ChainConfig {
	out := c
	out.RPCFallbacks = append([]string(nil), c.RPCFallbacks...)
	out.AuthorizedVerifiers = append([]string(nil), c.AuthorizedVerifiers...)
	return out
}

// ChainPreference is the chain an address last switched to.
type ChainPreference struct {
	Address   string `json:"address"`
	ChainID   int64  `json:"chainId"`
	UpdatedAt int64  `json:"updatedAt"`
}
