package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"crossbridge/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// bridgeABI covers the bridge relay entry point and the HTLC legs.
const bridgeABI = `[
{"type":"function","name":"relayMessage","stateMutability":"nonpayable","inputs":[
 {"name":"messageId","type":"bytes32"},{"name":"sourceChain","type":"uint256"},
 {"name":"sender","type":"string"},{"name":"recipient","type":"string"},
 {"name":"messageType","type":"string"},{"name":"payload","type":"bytes"},
 {"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}],"outputs":[]},
{"type":"function","name":"lock","stateMutability":"payable","inputs":[
 {"name":"swapId","type":"bytes32"},{"name":"counterparty","type":"address"},
 {"name":"token","type":"address"},{"name":"amount","type":"uint256"},
 {"name":"secretHash","type":"bytes32"},{"name":"timelock","type":"uint256"}],"outputs":[]},
{"type":"function","name":"claim","stateMutability":"nonpayable","inputs":[
 {"name":"swapId","type":"bytes32"},{"name":"secret","type":"bytes32"}],"outputs":[]},
{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
 {"name":"swapId","type":"bytes32"}],"outputs":[]}
]`

var parsedBridgeABI = mustParseABI(bridgeABI)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse bridge abi: %v", err))
	}
	return a
}

// Transactor signs bridge and HTLC contract calls with the relayer key.
type Transactor struct {
	clients  map[int64]*Client
	key      *ecdsa.PrivateKey
	gasLimit uint64
	logs     *zap.SugaredLogger
}

func NewTransactor(key *ecdsa.PrivateKey, gasLimit uint64, logs *zap.SugaredLogger, clients ...*Client) *Transactor {
	t := &Transactor{
		clients:  make(map[int64]*Client, len(clients)),
		key:      key,
		gasLimit: gasLimit,
		logs:     logs,
	}
	for _, c := range clients {
		t.clients[c.ChainID()] = c
	}
	return t
}

// Address is the relayer account.
func (t *Transactor) Address() common.Address {
	return crypto.PubkeyToAddress(t.key.PublicKey)
}

func (t *Transactor) transact(ctx context.Context, chainID int64, contract string, gasPrice uint64, value *big.Int, method string, args ...any) (string, error) {
	client, ok := t.clients[chainID]
	if !ok {
		return "", types.NewError(types.KindProviderUnavailable, "no contract transactor for chain %d", chainID)
	}
	if !common.IsHexAddress(contract) {
		return "", types.NewError(types.KindProviderUnavailable, "chain %d has no %s contract address", chainID, method)
	}

	tx, err := WithClient(ctx, client, method, func(ctx context.Context, b Backend) (*ethtypes.Transaction, error) {
		nonce, err := b.PendingNonceAt(ctx, t.Address())
		if err != nil {
			return nil, fmt.Errorf("error getting nonce for wallet: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(t.key, big.NewInt(chainID))
		if err != nil {
			return nil, fmt.Errorf("error instantiating contract call: %w", err)
		}
		auth.Context = ctx
		auth.Nonce = new(big.Int).SetUint64(nonce)
		auth.Value = big.NewInt(0)
		if value != nil {
			auth.Value = value
		}
		auth.GasLimit = t.gasLimit
		if gasPrice > 0 {
			auth.GasPrice = new(big.Int).SetUint64(gasPrice)
		}

		bound := bind.NewBoundContract(common.HexToAddress(contract), parsedBridgeABI, b, b, b)
		return bound.Transact(auth, method, args...)
	})
	if err != nil {
		return "", types.WrapError(types.KindProviderUnavailable, err, "chain %d %s", chainID, method)
	}
	t.logs.Infow("contract call sent", "chainId", chainID, "method", method, "txHash", tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

// RelayMessage submits msg to the bridge contract of its target chain.
func (t *Transactor) RelayMessage(ctx context.Context, msg *types.BridgeMessage, gasPrice uint64) (string, error) {
	id, err := toBytes32(msg.MessageID)
	if err != nil {
		return "", types.WrapError(types.KindInvalidArgument, err, "message id")
	}
	sig, err := hexutil.Decode(msg.Signature)
	if err != nil {
		return "", types.WrapError(types.KindInvalidArgument, err, "message signature")
	}
	client, ok := t.clients[msg.TargetChain]
	if !ok {
		return "", types.NewError(types.KindProviderUnavailable, "no contract transactor for chain %d", msg.TargetChain)
	}
	return t.transact(ctx, msg.TargetChain, client.chain.BridgeAddress, gasPrice, nil, "relayMessage",
		id,
		big.NewInt(msg.SourceChain),
		msg.Sender,
		msg.Recipient,
		string(msg.Type),
		[]byte(msg.Payload),
		new(big.Int).SetUint64(msg.Nonce),
		sig,
	)
}

// Lock funds one HTLC leg. Native assets are sent as call value.
func (t *Transactor) Lock(ctx context.Context, leg types.HTLCLeg) (string, error) {
	client, ok := t.clients[leg.ChainID]
	if !ok {
		return "", types.NewError(types.KindProviderUnavailable, "no contract transactor for chain %d", leg.ChainID)
	}
	amount, ok := new(big.Int).SetString(leg.Asset.Amount, 10)
	if !ok {
		return "", types.NewError(types.KindInvalidArgument, "amount %q is not a base-unit integer", leg.Asset.Amount)
	}
	secretHash, err := toBytes32(leg.SecretHash)
	if err != nil {
		return "", types.WrapError(types.KindInvalidArgument, err, "secret hash")
	}
	var value *big.Int
	token := common.Address{}
	if leg.Asset.TokenAddress == "" {
		value = amount
	} else {
		token = common.HexToAddress(leg.Asset.TokenAddress)
	}
	return t.transact(ctx, leg.ChainID, client.chain.HTLCAddress, 0, value, "lock",
		SwapKey(leg.SwapID),
		common.HexToAddress(leg.Counterparty),
		token,
		amount,
		secretHash,
		big.NewInt(leg.Timelock),
	)
}

func (t *Transactor) Claim(ctx context.Context, chainID int64, swapID string, secret []byte) (string, error) {
	client, ok := t.clients[chainID]
	if !ok {
		return "", types.NewError(types.KindProviderUnavailable, "no contract transactor for chain %d", chainID)
	}
	if len(secret) != 32 {
		return "", types.NewError(types.KindInvalidArgument, "secret must be 32 bytes")
	}
	var s [32]byte
	copy(s[:], secret)
	return t.transact(ctx, chainID, client.chain.HTLCAddress, 0, nil, "claim", SwapKey(swapID), s)
}

func (t *Transactor) Refund(ctx context.Context, chainID int64, swapID string) (string, error) {
	client, ok := t.clients[chainID]
	if !ok {
		return "", types.NewError(types.KindProviderUnavailable, "no contract transactor for chain %d", chainID)
	}
	return t.transact(ctx, chainID, client.chain.HTLCAddress, 0, nil, "refund", SwapKey(swapID))
}

// SwapKey is the on-chain identifier of a swap, keccak256 of its id.
func SwapKey(swapID string) [32]byte {
	return crypto.Keccak256Hash([]byte(swapID))
}

func toBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
