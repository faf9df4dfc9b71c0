package engine

import (
	"sync"

	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/pkg/types"
)

type stateKey struct {
	ownerID string
	ref     types.RecordRef
}

// stateTracker holds the in-memory sync state of every record the engine has
// touched. Records it has never seen are Unembedded.
type stateTracker struct {
	mu     sync.Mutex
	states map[stateKey]types.SyncState

	// Runs currently embedding each record.
	inflight map[stateKey]int
}

func newStateTracker() *stateTracker {
	return &stateTracker{
		states:   make(map[stateKey]types.SyncState),
		inflight: make(map[stateKey]int),
	}
}

// begin registers a run for a record.
func (t *stateTracker) begin(ownerID string, ref types.RecordRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[stateKey{ownerID, ref}]++
}

// end unregisters a run and reports how many other runs for the record are
// still in flight.
func (t *stateTracker) end(ownerID string, ref types.RecordRef) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stateKey{ownerID, ref}
	n := t.inflight[key] - 1
	if n <= 0 {
		delete(t.inflight, key)
		return 0
	}
	t.inflight[key] = n
	return n
}

func (t *stateTracker) get(ownerID string, ref types.RecordRef) types.SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[stateKey{ownerID, ref}]; ok {
		return s
	}
	return types.SyncUnembedded
}

// set moves a record to next and returns the previous state. changed is
// false when the record was already in next.
func (t *stateTracker) set(ownerID string, ref types.RecordRef, next types.SyncState) (prev types.SyncState, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := stateKey{ownerID, ref}
	prev, ok := t.states[key]
	if !ok {
		prev = types.SyncUnembedded
	}
	if prev == next {
		return prev, false
	}
	if !types.IsValidSyncTransition(prev, next) {
		// Concurrent runs for one record can interleave; the store CAS keeps
		// the data correct, so only note it.
		log.Debug().Str("owner_id", ownerID).Str("record", ref.String()).
			Str("from", string(prev)).Str("to", string(next)).Msg("unexpected sync transition")
	}
	if next == types.SyncUnembedded {
		delete(t.states, key)
	} else {
		t.states[key] = next
	}
	return prev, true
}

// forget drops a record and returns its last state.
func (t *stateTracker) forget(ownerID string, ref types.RecordRef) types.SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := stateKey{ownerID, ref}
	prev, ok := t.states[key]
	if !ok {
		return types.SyncUnembedded
	}
	delete(t.states, key)
	return prev
}

// counts tallies the tracked states of one owner.
func (t *stateTracker) counts(ownerID string) map[types.SyncState]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[types.SyncState]int)
	for k, s := range t.states {
		if k.ownerID == ownerID {
			out[s]++
		}
	}
	return out
}
