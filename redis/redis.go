package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crossbridge/types"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"
)

// Records live under <entity>:<id>; each status has a set of record keys so
// listings by status never scan the whole keyspace.
const (
	transferPrefix   = "transfer"
	messagePrefix    = "message"
	swapPrefix       = "swap"
	preferencePrefix = "chainpref"
	noncePrefix      = "nonce"
	proposalPrefix   = "proposal"
	proofPrefix      = "proof"
	relayerPrefix    = "relayer"
	queuePrefix      = "queue"

	// issued proofs and queues never change status
	proofStatus = "issued"
	queueStatus = "open"
)

func recordKey(entity, id string) string {
	return fmt.Sprintf("%s:%s", entity, id)
}

func statusSet(entity, status string) string {
	return fmt.Sprintf("%ss:status:%s", entity, status)
}

func indexSet(entity, name, value string) string {
	return fmt.Sprintf("%ss:%s:%s", entity, name, strings.ToLower(value))
}

type Store struct {
	pool *redis.Pool
	logs *zap.SugaredLogger
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func New(host string, port int, logs *zap.SugaredLogger) *Store {
	redisAddr := fmt.Sprintf("%s:%d", host, port)
	return NewWithPool(&redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 4 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", redisAddr, timeoutDialOptions()...) },
	}, logs)
}

func NewWithPool(pool *redis.Pool, logs *zap.SugaredLogger) *Store {
	return &Store{pool: pool, logs: logs}
}

// Ping checks the connection, without persistence the service must not start.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) conn(ctx context.Context) (redis.Conn, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		s.logs.Errorw("error getting redis connection", "error", err)
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return conn, nil
}

func get[T any](ctx context.Context, s *Store, entity, id string) (*T, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return read[T](s, conn, entity, id)
}

func read[T any](s *Store, conn redis.Conn, entity, id string) (*T, error) {
	raw, err := redis.Bytes(conn.Do("GET", recordKey(entity, id)))
	if errors.Is(err, redis.ErrNil) {
		return nil, types.NewError(types.KindNotFound, "%s %s not found", entity, id)
	}
	if err != nil {
		s.logs.Errorw("error redis GET", "entity", entity, "id", id, "error", err)
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("cannot unmarshal %s %s: %w", entity, id, err)
	}
	return &v, nil
}

// create writes the record together with its status set and indexes in one
// transaction, only if its key is free. Returns false when the key exists,
// including when another writer created it between the check and EXEC.
func create(ctx context.Context, s *Store, entity, id, status string, v any, indexes ...string) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	recJSON, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("cannot marshal %s to JSON: %w", entity, err)
	}
	key := recordKey(entity, id)

	if _, err := conn.Do("WATCH", key); err != nil {
		s.logs.Errorw("error redis WATCH", "key", key, "error", err)
		return false, fmt.Errorf("create %s %s: %w", entity, id, err)
	}
	exists, err := redis.Bool(conn.Do("EXISTS", key))
	if err != nil {
		s.logs.Errorw("error redis EXISTS", "key", key, "error", err)
		return false, fmt.Errorf("create %s %s: %w", entity, id, err)
	}
	if exists {
		return false, nil
	}

	conn.Send("MULTI")
	conn.Send("SET", key, recJSON)
	conn.Send("SADD", statusSet(entity, status), key)
	for _, idx := range indexes {
		conn.Send("SADD", idx, key)
	}
	reply, err := conn.Do("EXEC")
	if err != nil {
		s.logs.Errorw("error redis EXEC", "key", key, "error", err)
		return false, fmt.Errorf("create %s %s: %w", entity, id, err)
	}
	if reply == nil {
		s.logs.Debugw("redis create lost to a concurrent writer", "key", key)
		return false, nil
	}
	return true, nil
}

// update rewrites the record and moves it between status sets as a
// compare-and-set: the key is watched, its stored status checked against
// prev, and the write aborted by Redis if anyone touched the key meanwhile.
func update[T any](ctx context.Context, s *Store, entity, id, prev, status string, statusOf func(*T) string, v any, indexes ...string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	key := recordKey(entity, id)
	if _, err := conn.Do("WATCH", key); err != nil {
		s.logs.Errorw("error redis WATCH", "key", key, "error", err)
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	current, err := read[T](s, conn, entity, id)
	if err != nil {
		return err
	}
	if got := statusOf(current); got != prev {
		return types.NewError(types.KindInvalidStateTransition, "%s %s is %s, expected %s", entity, id, got, prev)
	}

	recJSON, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cannot marshal %s to JSON: %w", entity, err)
	}

	conn.Send("MULTI")
	conn.Send("SET", key, recJSON)
	if prev != status {
		conn.Send("SREM", statusSet(entity, prev), key)
		conn.Send("SADD", statusSet(entity, status), key)
	}
	for _, idx := range indexes {
		conn.Send("SADD", idx, key)
	}
	reply, err := conn.Do("EXEC")
	if err != nil {
		s.logs.Errorw("error redis EXEC", "key", key, "error", err)
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	if reply == nil {
		return types.NewError(types.KindInvalidStateTransition, "%s %s was changed concurrently, expected %s", entity, id, prev)
	}
	return nil
}

// members scans a set of record keys and loads every record still present.
func members[T any](ctx context.Context, s *Store, set string) ([]*T, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	out := make([]*T, 0)
	var cursor int64
	for {
		values, err := redis.Values(conn.Do("SSCAN", set, cursor))
		if err != nil {
			return nil, err
		}
		var keys []string
		if _, err := redis.Scan(values, &cursor, &keys); err != nil {
			return nil, err
		}

		for _, key := range keys {
			raw, err := redis.Bytes(conn.Do("GET", key))
			if errors.Is(err, redis.ErrNil) {
				// a set can briefly outlive its record
				continue
			}
			if err != nil {
				s.logs.Errorw("error redis GET", "key", key, "error", err)
				return nil, err
			}
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("cannot unmarshal %s: %w", key, err)
			}
			out = append(out, &v)
		}

		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func listStatuses[T any, S ~string](ctx context.Context, s *Store, entity string, status S, all []S) ([]*T, error) {
	if status != "" {
		return members[T](ctx, s, statusSet(entity, string(status)))
	}
	out := make([]*T, 0)
	for _, st := range all {
		part, err := members[T](ctx, s, statusSet(entity, string(st)))
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func (s *Store) CreateTransfer(ctx context.Context, tr *types.CrossChainTransfer) (*types.CrossChainTransfer, bool, error) {
	created, err := create(ctx, s, transferPrefix, tr.TransferID, string(tr.Status), tr)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.GetTransfer(ctx, tr.TransferID)
		return existing, false, err
	}
	return tr, true, nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*types.CrossChainTransfer, error) {
	return get[types.CrossChainTransfer](ctx, s, transferPrefix, id)
}

func (s *Store) UpdateTransfer(ctx context.Context, tr *types.CrossChainTransfer, prev types.TransferStatus) error {
	statusOf := func(x *types.CrossChainTransfer) string { return string(x.Status) }
	return update(ctx, s, transferPrefix, tr.TransferID, string(prev), string(tr.Status), statusOf, tr)
}

func (s *Store) ListTransfers(ctx context.Context, status types.TransferStatus) ([]*types.CrossChainTransfer, error) {
	return listStatuses[types.CrossChainTransfer](ctx, s, transferPrefix, status, types.TransferStatuses)
}

func (s *Store) SaveChainPreference(ctx context.Context, p types.ChainPreference) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	recJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("cannot marshal chain preference to JSON: %w", err)
	}
	if _, err := conn.Do("SET", recordKey(preferencePrefix, strings.ToLower(p.Address)), recJSON); err != nil {
		s.logs.Errorw("error redis SET", "address", p.Address, "error", err)
		return err
	}
	return nil
}

func (s *Store) GetChainPreference(ctx context.Context, address string) (*types.ChainPreference, error) {
	return get[types.ChainPreference](ctx, s, preferencePrefix, strings.ToLower(address))
}

func (s *Store) NextNonce(ctx context.Context, sender string) (uint64, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	n, err := redis.Uint64(conn.Do("INCR", recordKey(noncePrefix, strings.ToLower(sender))))
	if err != nil {
		s.logs.Errorw("error redis INCR", "sender", sender, "error", err)
		return 0, err
	}
	return n, nil
}

func (s *Store) CreateMessage(ctx context.Context, m *types.BridgeMessage) error {
	created, err := create(ctx, s, messagePrefix, m.MessageID, string(m.Status), m,
		indexSet(messagePrefix, "recipient", m.Recipient))
	if err != nil {
		return err
	}
	if !created {
		return types.NewError(types.KindInvalidArgument, "message %s already exists", m.MessageID)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*types.BridgeMessage, error) {
	return get[types.BridgeMessage](ctx, s, messagePrefix, id)
}

func (s *Store) UpdateMessage(ctx context.Context, m *types.BridgeMessage, prev types.MessageStatus) error {
	statusOf := func(x *types.BridgeMessage) string { return string(x.Status) }
	return update(ctx, s, messagePrefix, m.MessageID, string(prev), string(m.Status), statusOf, m)
}

func (s *Store) ListMessages(ctx context.Context, status types.MessageStatus) ([]*types.BridgeMessage, error) {
	return listStatuses[types.BridgeMessage](ctx, s, messagePrefix, status, types.MessageStatuses)
}

func (s *Store) ListMessagesByRecipient(ctx context.Context, recipient string) ([]*types.BridgeMessage, error) {
	return members[types.BridgeMessage](ctx, s, indexSet(messagePrefix, "recipient", recipient))
}

func (s *Store) CreateSwap(ctx context.Context, sw *types.AtomicSwap) error {
	indexes := []string{indexSet(swapPrefix, "user", sw.Initiator)}
	if sw.Participant != "" {
		indexes = append(indexes, indexSet(swapPrefix, "user", sw.Participant))
	}
	created, err := create(ctx, s, swapPrefix, sw.SwapID, string(sw.Status), sw, indexes...)
	if err != nil {
		return err
	}
	if !created {
		return types.NewError(types.KindInvalidArgument, "swap %s already exists", sw.SwapID)
	}
	return nil
}

func (s *Store) GetSwap(ctx context.Context, id string) (*types.AtomicSwap, error) {
	return get[types.AtomicSwap](ctx, s, swapPrefix, id)
}

func (s *Store) UpdateSwap(ctx context.Context, sw *types.AtomicSwap, prev types.SwapStatus) error {
	var indexes []string
	if sw.Participant != "" {
		indexes = append(indexes, indexSet(swapPrefix, "user", sw.Participant))
	}
	statusOf := func(x *types.AtomicSwap) string { return string(x.Status) }
	return update(ctx, s, swapPrefix, sw.SwapID, string(prev), string(sw.Status), statusOf, sw, indexes...)
}

func (s *Store) ListSwaps(ctx context.Context, status types.SwapStatus) ([]*types.AtomicSwap, error) {
	return listStatuses[types.AtomicSwap](ctx, s, swapPrefix, status, types.SwapStatuses)
}

func (s *Store) ListSwapsByUser(ctx context.Context, address string) ([]*types.AtomicSwap, error) {
	return members[types.AtomicSwap](ctx, s, indexSet(swapPrefix, "user", address))
}

func (s *Store) CreateProposal(ctx context.Context, p *types.SwapProposal) error {
	created, err := create(ctx, s, proposalPrefix, p.ProposalID, string(p.Status), p,
		indexSet(proposalPrefix, "user", p.Proposer),
		indexSet(proposalPrefix, "user", p.Participant))
	if err != nil {
		return err
	}
	if !created {
		return types.NewError(types.KindInvalidArgument, "proposal %s already exists", p.ProposalID)
	}
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (*types.SwapProposal, error) {
	return get[types.SwapProposal](ctx, s, proposalPrefix, id)
}

func (s *Store) UpdateProposal(ctx context.Context, p *types.SwapProposal, prev types.ProposalStatus) error {
	statusOf := func(x *types.SwapProposal) string { return string(x.Status) }
	return update(ctx, s, proposalPrefix, p.ProposalID, string(prev), string(p.Status), statusOf, p)
}

func (s *Store) ListProposalsByUser(ctx context.Context, address string) ([]*types.SwapProposal, error) {
	return members[types.SwapProposal](ctx, s, indexSet(proposalPrefix, "user", address))
}

func (s *Store) CreateProof(ctx context.Context, p *types.IssuedProof) error {
	created, err := create(ctx, s, proofPrefix, p.ProofID, proofStatus, p,
		indexSet(proofPrefix, "issuer", p.Issuer))
	if err != nil {
		return err
	}
	if !created {
		return types.NewError(types.KindInvalidArgument, "proof %s already exists", p.ProofID)
	}
	return nil
}

func (s *Store) GetProof(ctx context.Context, id string) (*types.IssuedProof, error) {
	return get[types.IssuedProof](ctx, s, proofPrefix, id)
}

func (s *Store) ListProofsByIssuer(ctx context.Context, issuer string) ([]*types.IssuedProof, error) {
	return members[types.IssuedProof](ctx, s, indexSet(proofPrefix, "issuer", issuer))
}

func (s *Store) CreateRelayer(ctx context.Context, r *types.Relayer) error {
	created, err := create(ctx, s, relayerPrefix, r.RelayerID, string(r.Status), r)
	if err != nil {
		return err
	}
	if !created {
		return types.NewError(types.KindInvalidArgument, "relayer %s already exists", r.RelayerID)
	}
	return nil
}

func (s *Store) GetRelayer(ctx context.Context, id string) (*types.Relayer, error) {
	return get[types.Relayer](ctx, s, relayerPrefix, id)
}

func (s *Store) UpdateRelayer(ctx context.Context, r *types.Relayer, prev types.RelayerStatus) error {
	statusOf := func(x *types.Relayer) string { return string(x.Status) }
	return update(ctx, s, relayerPrefix, r.RelayerID, string(prev), string(r.Status), statusOf, r)
}

func (s *Store) ListRelayers(ctx context.Context, status types.RelayerStatus) ([]*types.Relayer, error) {
	return listStatuses[types.Relayer](ctx, s, relayerPrefix, status, types.RelayerStatuses)
}

func (s *Store) CreateQueue(ctx context.Context, q *types.MessageQueue) error {
	created, err := create(ctx, s, queuePrefix, q.QueueID, queueStatus, q)
	if err != nil {
		return err
	}
	if !created {
		return types.NewError(types.KindInvalidArgument, "queue %s already exists", q.QueueID)
	}
	return nil
}

func (s *Store) GetQueue(ctx context.Context, id string) (*types.MessageQueue, error) {
	return get[types.MessageQueue](ctx, s, queuePrefix, id)
}

func (s *Store) ListQueues(ctx context.Context) ([]*types.MessageQueue, error) {
	return members[types.MessageQueue](ctx, s, statusSet(queuePrefix, queueStatus))
}
