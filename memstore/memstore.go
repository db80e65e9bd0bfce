// Package memstore keeps transfers, messages, swaps and the other bridge
// records in process memory. Records are stored encoded so callers never share state
// with the store.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"crossbridge/types"
)

type record struct {
	status string
	data   []byte
}

type table struct {
	records map[string]record
	index   map[string]map[string]struct{}
}

func newTable() *table {
	return &table{records: make(map[string]record), index: make(map[string]map[string]struct{})}
}

func (t *table) addIndex(key, id string) {
	if key == "" {
		return
	}
	key = strings.ToLower(key)
	set, ok := t.index[key]
	if !ok {
		set = make(map[string]struct{})
		t.index[key] = set
	}
	set[id] = struct{}{}
}

type Store struct {
	mu          sync.RWMutex
	transfers   *table
	messages    *table
	swaps       *table
	proposals   *table
	proofs      *table
	relayers    *table
	queues      *table
	preferences map[string]types.ChainPreference
	nonces      map[string]uint64
}

func New() *Store {
	return &Store{
		transfers:   newTable(),
		messages:    newTable(),
		swaps:       newTable(),
		proposals:   newTable(),
		proofs:      newTable(),
		relayers:    newTable(),
		queues:      newTable(),
		preferences: make(map[string]types.ChainPreference),
		nonces:      make(map[string]uint64),
	}
}

func encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal record to JSON: %w", err)
	}
	return b, nil
}

func decode[T any](b []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("cannot unmarshal record: %w", err)
	}
	return &v, nil
}

func get[T any](t *table, entity, id string) (*T, error) {
	r, ok := t.records[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "%s %s not found", entity, id)
	}
	return decode[T](r.data)
}

// put writes a record whose stored status must still be prev.
func put(t *table, entity, id, prev, status string, v any) error {
	r, ok := t.records[id]
	if !ok {
		return types.NewError(types.KindNotFound, "%s %s not found", entity, id)
	}
	if r.status != prev {
		return types.NewError(types.KindInvalidStateTransition, "%s %s is %s, expected %s", entity, id, r.status, prev)
	}
	b, err := encode(v)
	if err != nil {
		return err
	}
	t.records[id] = record{status: status, data: b}
	return nil
}

func create(t *table, entity, id, status string, v any) error {
	if _, ok := t.records[id]; ok {
		return types.NewError(types.KindInvalidArgument, "%s %s already exists", entity, id)
	}
	b, err := encode(v)
	if err != nil {
		return err
	}
	t.records[id] = record{status: status, data: b}
	return nil
}

func list[T any](t *table, ids []string, status string) ([]*T, error) {
	sort.Strings(ids)
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		r, ok := t.records[id]
		if !ok || (status != "" && r.status != status) {
			continue
		}
		v, err := decode[T](r.data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *table) ids() []string {
	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	return ids
}

func (t *table) indexed(key string) []string {
	set := t.index[strings.ToLower(key)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// CreateTransfer stores tr unless its id is taken, in which case the stored
// record is returned with created false.
func (s *Store) CreateTransfer(_ context.Context, tr *types.CrossChainTransfer) (*types.CrossChainTransfer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.transfers.records[tr.TransferID]; ok {
		stored, err := decode[types.CrossChainTransfer](existing.data)
		return stored, false, err
	}
	if err := create(s.transfers, "transfer", tr.TransferID, string(tr.Status), tr); err != nil {
		return nil, false, err
	}
	return tr, true, nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (*types.CrossChainTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[types.CrossChainTransfer](s.transfers, "transfer", id)
}

func (s *Store) UpdateTransfer(_ context.Context, tr *types.CrossChainTransfer, prev types.TransferStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.transfers, "transfer", tr.TransferID, string(prev), string(tr.Status), tr)
}

// ListTransfers returns transfers in the given status, or all of them for "".
func (s *Store) ListTransfers(_ context.Context, status types.TransferStatus) ([]*types.CrossChainTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.CrossChainTransfer](s.transfers, s.transfers.ids(), string(status))
}

func (s *Store) SaveChainPreference(_ context.Context, p types.ChainPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[strings.ToLower(p.Address)] = p
	return nil
}

func (s *Store) GetChainPreference(_ context.Context, address string) (*types.ChainPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[strings.ToLower(address)]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "no chain preference for %s", address)
	}
	return &p, nil
}

// NextNonce returns 1 for the first message of a sender.
func (s *Store) NextNonce(_ context.Context, sender string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(sender)
	s.nonces[key]++
	return s.nonces[key], nil
}

func (s *Store) CreateMessage(_ context.Context, m *types.BridgeMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := create(s.messages, "message", m.MessageID, string(m.Status), m); err != nil {
		return err
	}
	s.messages.addIndex(m.Recipient, m.MessageID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*types.BridgeMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[types.BridgeMessage](s.messages, "message", id)
}

func (s *Store) UpdateMessage(_ context.Context, m *types.BridgeMessage, prev types.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.messages, "message", m.MessageID, string(prev), string(m.Status), m)
}

func (s *Store) ListMessages(_ context.Context, status types.MessageStatus) ([]*types.BridgeMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.BridgeMessage](s.messages, s.messages.ids(), string(status))
}

func (s *Store) ListMessagesByRecipient(_ context.Context, recipient string) ([]*types.BridgeMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.BridgeMessage](s.messages, s.messages.indexed(recipient), "")
}

func (s *Store) CreateSwap(_ context.Context, sw *types.AtomicSwap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := create(s.swaps, "swap", sw.SwapID, string(sw.Status), sw); err != nil {
		return err
	}
	s.swaps.addIndex(sw.Initiator, sw.SwapID)
	s.swaps.addIndex(sw.Participant, sw.SwapID)
	return nil
}

func (s *Store) GetSwap(_ context.Context, id string) (*types.AtomicSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[types.AtomicSwap](s.swaps, "swap", id)
}

func (s *Store) UpdateSwap(_ context.Context, sw *types.AtomicSwap, prev types.SwapStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := put(s.swaps, "swap", sw.SwapID, string(prev), string(sw.Status), sw); err != nil {
		return err
	}
	s.swaps.addIndex(sw.Participant, sw.SwapID)
	return nil
}

func (s *Store) ListSwaps(_ context.Context, status types.SwapStatus) ([]*types.AtomicSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.AtomicSwap](s.swaps, s.swaps.ids(), string(status))
}

func (s *Store) ListSwapsByUser(_ context.Context, address string) ([]*types.AtomicSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.AtomicSwap](s.swaps, s.swaps.indexed(address), "")
}

func (s *Store) CreateProposal(_ context.Context, p *types.SwapProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := create(s.proposals, "proposal", p.ProposalID, string(p.Status), p); err != nil {
		return err
	}
	s.proposals.addIndex(p.Proposer, p.ProposalID)
	s.proposals.addIndex(p.Participant, p.ProposalID)
	return nil
}

func (s *Store) GetProposal(_ context.Context, id string) (*types.SwapProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[types.SwapProposal](s.proposals, "proposal", id)
}

func (s *Store) UpdateProposal(_ context.Context, p *types.SwapProposal, prev types.ProposalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.proposals, "proposal", p.ProposalID, string(prev), string(p.Status), p)
}

func (s *Store) ListProposalsByUser(_ context.Context, address string) ([]*types.SwapProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.SwapProposal](s.proposals, s.proposals.indexed(address), "")
}

// issued proofs never change, their status is always "issued"
const proofStatus = "issued"

func (s *Store) CreateProof(_ context.Context, p *types.IssuedProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := create(s.proofs, "proof", p.ProofID, proofStatus, p); err != nil {
		return err
	}
	s.proofs.addIndex(p.Issuer, p.ProofID)
	return nil
}

func (s *Store) GetProof(_ context.Context, id string) (*types.IssuedProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[types.IssuedProof](s.proofs, "proof", id)
}

func (s *Store) ListProofsByIssuer(_ context.Context, issuer string) ([]*types.IssuedProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.IssuedProof](s.proofs, s.proofs.indexed(issuer), "")
}

func (s *Store) CreateRelayer(_ context.Context, r *types.Relayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return create(s.relayers, "relayer", r.RelayerID, string(r.Status), r)
}

func (s *Store) GetRelayer(_ context.Context, id string) (*types.Relayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[types.Relayer](s.relayers, "relayer", id)
}

func (s *Store) UpdateRelayer(_ context.Context, r *types.Relayer, prev types.RelayerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.relayers, "relayer", r.RelayerID, string(prev), string(r.Status), r)
}

func (s *Store) ListRelayers(_ context.Context, status types.RelayerStatus) ([]*types.Relayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.Relayer](s.relayers, s.relayers.ids(), string(status))
}

// queues are configuration, their status is always "open"
const queueStatus = "open"

func (s *Store) CreateQueue(_ context.Context, q *types.MessageQueue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return create(s.queues, "queue", q.QueueID, queueStatus, q)
}

func (s *Store) GetQueue(_ context.Context, id string) (*types.MessageQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[types.MessageQueue](s.queues, "queue", id)
}

func (s *Store) ListQueues(_ context.Context) ([]*types.MessageQueue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list[types.MessageQueue](s.queues, s.queues.ids(), "")
}
