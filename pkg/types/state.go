package types

// SyncState is the embedding lifecycle state of a single record.
type SyncState string

// Sync state constants for per-record embedding tracking
const (
	SyncUnembedded SyncState = "unembedded" // No fresh vector; eligible for (re)embedding
	SyncEmbedding  SyncState = "embedding"  // A computation is in flight
	SyncEmbedded   SyncState = "embedded"   // Stored vector matches current content
	SyncFailed     SyncState = "failed"     // Last computation failed; reverts to unembedded
)

// ValidSyncStates contains all valid sync state values
var ValidSyncStates = []SyncState{
	SyncUnembedded,
	SyncEmbedding,
	SyncEmbedded,
	SyncFailed,
}

// IsValidSyncState checks if the given state is a known sync state.
func IsValidSyncState(state SyncState) bool {
	for _, valid := range ValidSyncStates {
		if state == valid {
			return true
		}
	}
	return false
}

// IsValidSyncTransition validates sync state transitions.
//
// Valid transitions:
//
//	unembedded -> embedding
//	embedding  -> embedded | failed | unembedded
//	embedded   -> embedding | unembedded
//	failed     -> unembedded | embedding
//
// embedding -> unembedded covers results discarded because the record's
// content changed while the computation was in flight, and records that
// vanished before processing. embedded -> unembedded happens when the vector
// is cleared.
func IsValidSyncTransition(current, next SyncState) bool {
	switch current {
	case SyncUnembedded:
		return next == SyncEmbedding
	case SyncEmbedding:
		return next == SyncEmbedded || next == SyncFailed || next == SyncUnembedded
	case SyncEmbedded:
		return next == SyncEmbedding || next == SyncUnembedded
	case SyncFailed:
		return next == SyncUnembedded || next == SyncEmbedding
	default:
		return false
	}
}
