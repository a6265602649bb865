// Package batchstore owns the set of registered batches of a pool and every
// validated mutation path into them. Batch content changes only through this
// package; the pool owns admission-level state (paid capacity, status).
package batchstore

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/automaton-market/poolnode/x/registry"
	"github.com/automaton-market/poolnode/x/types"
)

// Config captures the dependencies of a Store.
type Config struct {
	Logger   zerolog.Logger
	Registry registry.Registry

	// PaidCapacity returns the pool's currently paid batch capacity.
	PaidCapacity func() uint64
	// PoolStatus returns the pool's current derived status.
	PoolStatus func() types.PoolStatus
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// ChangeRecord is the before/after snapshot emitted on every successful
// mutation for observability.
type ChangeRecord struct {
	BatchID     types.BatchID
	Op          string
	CheckBefore *types.CheckSpec
	CheckAfter  *types.CheckSpec
	ExecBefore  *types.ExecSpec
	ExecAfter   *types.ExecSpec
}

// Store is the work definition store. All operations are safe for concurrent
// use; each runs to completion under the store lock.
type Store struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	registry     registry.Registry
	paidCapacity func() uint64
	poolStatus   func() types.PoolStatus
	now          func() time.Time

	order   []types.BatchID
	batches map[types.BatchID]*types.Batch
}

// New constructs a Store. Registry, PaidCapacity and PoolStatus are required.
func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		logger:       cfg.Logger.With().Str("component", "batchstore").Logger(),
		registry:     cfg.Registry,
		paidCapacity: cfg.PaidCapacity,
		poolStatus:   cfg.PoolStatus,
		now:          cfg.Now,
		batches:      make(map[types.BatchID]*types.Batch),
	}
}

// Register admits a new batch. It fails on the zero identifier, a duplicate
// identifier, exhausted paid capacity, a non-open pool, or a spec that fails
// structural or registry-restriction validation.
func (s *Store) Register(id types.BatchID, check types.CheckSpec, exec types.ExecSpec) (ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == (types.BatchID{}) {
		return ChangeRecord{}, ErrZeroBatchID
	}
	if _, ok := s.batches[id]; ok {
		return ChangeRecord{}, ErrBatchExists
	}
	if uint64(len(s.batches)) >= s.paidCapacity() {
		return ChangeRecord{}, ErrCapacityExceeded
	}
	if st := s.poolStatus(); st != types.PoolStatusOpen && st != types.PoolStatusNotice {
		return ChangeRecord{}, ErrPoolNotOpen
	}
	if err := s.validate(check, exec, true); err != nil {
		return ChangeRecord{}, err
	}

	batch := types.Batch{ID: id, Check: check, Exec: exec, CreatedAt: s.now()}
	clone := batch.Clone()
	s.batches[id] = &clone
	s.order = append(s.order, id)

	return s.record(id, "register", nil, &clone.Check, nil, &clone.Exec), nil
}

// Unregister destroys a batch, compacting the identifier order list.
func (s *Store) Unregister(id types.BatchID) (ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return ChangeRecord{}, ErrBatchNotFound
	}
	prev := batch.Clone()
	delete(s.batches, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return s.record(id, "unregister", &prev.Check, nil, &prev.Exec, nil), nil
}

// Update replaces a batch's check and execution specs wholesale, applying the
// same structural and restriction validation as Register.
func (s *Store) Update(id types.BatchID, check types.CheckSpec, exec types.ExecSpec) (ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return ChangeRecord{}, ErrBatchNotFound
	}
	if st := s.poolStatus(); st != types.PoolStatusOpen && st != types.PoolStatusNotice {
		return ChangeRecord{}, ErrPoolNotOpen
	}
	if err := s.validate(check, exec, true); err != nil {
		return ChangeRecord{}, err
	}

	prev := batch.Clone()
	next := types.Batch{ID: id, Check: check, Exec: exec, CreatedAt: batch.CreatedAt, LastExecutedAt: batch.LastExecutedAt}
	clone := next.Clone()
	s.batches[id] = &clone

	return s.record(id, "update", &prev.Check, &clone.Check, &prev.Exec, &clone.Exec), nil
}

// AppendItems appends items to a batch's item list. The merged batch is
// revalidated against current registry restrictions; duplicate check-payload
// detection is not applied to item-level edits.
func (s *Store) AppendItems(id types.BatchID, items ...types.WorkItem) (ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return ChangeRecord{}, ErrBatchNotFound
	}
	prev := batch.Clone()

	next := batch.Clone()
	for _, it := range items {
		next.Check.Items = append(next.Check.Items, it.Clone())
	}
	if err := s.validate(next.Check, next.Exec, false); err != nil {
		return ChangeRecord{}, err
	}
	s.batches[id] = &next

	return s.record(id, "append-items", &prev.Check, &next.Check, nil, nil), nil
}

// SetItemAt replaces the item at index. With guard set, expected must equal
// the stored item's current content hash or the edit fails, preventing
// lost updates between concurrent managers.
func (s *Store) SetItemAt(id types.BatchID, index int, item types.WorkItem, guard bool, expected common.Hash) (ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return ChangeRecord{}, ErrBatchNotFound
	}
	if index < 0 || index >= len(batch.Check.Items) {
		return ChangeRecord{}, ErrIndexOutOfRange
	}
	if guard {
		if actual := batch.Check.Items[index].ContentHash(); actual != expected {
			return ChangeRecord{}, &HashMismatchError{Expected: expected, Actual: actual}
		}
	}

	prev := batch.Clone()
	next := batch.Clone()
	next.Check.Items[index] = item.Clone()
	if err := s.validate(next.Check, next.Exec, false); err != nil {
		return ChangeRecord{}, err
	}
	s.batches[id] = &next

	return s.record(id, "set-item", &prev.Check, &next.Check, nil, nil), nil
}

// RemoveItemAt removes the item at index, with the same optional hash guard
// as SetItemAt.
func (s *Store) RemoveItemAt(id types.BatchID, index int, guard bool, expected common.Hash) (ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[id]
	if !ok {
		return ChangeRecord{}, ErrBatchNotFound
	}
	if index < 0 || index >= len(batch.Check.Items) {
		return ChangeRecord{}, ErrIndexOutOfRange
	}
	if guard {
		if actual := batch.Check.Items[index].ContentHash(); actual != expected {
			return ChangeRecord{}, &HashMismatchError{Expected: expected, Actual: actual}
		}
	}

	prev := batch.Clone()
	next := batch.Clone()
	next.Check.Items = append(next.Check.Items[:index], next.Check.Items[index+1:]...)
	if err := s.validate(next.Check, next.Exec, false); err != nil {
		return ChangeRecord{}, err
	}
	s.batches[id] = &next

	return s.record(id, "remove-item", &prev.Check, &next.Check, nil, nil), nil
}

// MarkExecuted stamps the batch's last execution time. Called by the protocol
// engine after a successful perform.
func (s *Store) MarkExecuted(id types.BatchID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch, ok := s.batches[id]; ok {
		batch.LastExecutedAt = at
	}
}

// List returns the registered batch identifiers in registration order.
func (s *Store) List() []types.BatchID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.BatchID(nil), s.order...)
}

// Get returns a copy of the batch.
func (s *Store) Get(id types.BatchID) (types.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return types.Batch{}, ErrBatchNotFound
	}
	return batch.Clone(), nil
}

// GetAll returns copies of every batch in registration order.
func (s *Store) GetAll() []types.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Batch, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.batches[id].Clone())
	}
	return out
}

// Count returns the number of registered batches.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}

// Exists reports whether a batch is registered.
func (s *Store) Exists(id types.BatchID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	return ok && batch.Exists()
}

func (s *Store) record(id types.BatchID, op string, checkBefore, checkAfter *types.CheckSpec, execBefore, execAfter *types.ExecSpec) ChangeRecord {
	rec := ChangeRecord{
		BatchID:     id,
		Op:          op,
		CheckBefore: checkBefore,
		CheckAfter:  checkAfter,
		ExecBefore:  execBefore,
		ExecAfter:   execAfter,
	}
	evt := s.logger.Info().Str("batch_id", id.Hex()).Str("op", op)
	if checkAfter != nil {
		evt = evt.Int("items", len(checkAfter.Items)).Uint64("check_gas", checkAfter.AggregateGasLimit)
	}
	if execAfter != nil {
		evt = evt.Uint64("exec_gas", execAfter.AggregateGasLimit).Bool("enabled", execAfter.Enabled)
	}
	evt.Msg("batch changed")
	return rec
}
