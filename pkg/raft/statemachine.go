package raft

import "context"

// StateMachine is the replicated application a Node drives. Apply is
// called once per committed EntryApply entry, strictly in index order.
// Implementations must be deterministic: the same sequence of Apply
// calls must produce the same state (and the same results) on every
// node.
type StateMachine interface {
	// Apply applies operation (as submitted to Node.Submit) to the
	// state machine and returns its result.
	Apply(ctx context.Context, index LogIndex, operation []byte) (result []byte, err error)

	// TakeSnapshot serializes current state machine state as of the
	// last applied index, chunked to at most chunkSize bytes each.
	TakeSnapshot(ctx context.Context, chunkSize int) (chunks [][]byte, err error)

	// InstallSnapshot replaces state machine state with the
	// concatenation of a full chunk sequence previously produced by
	// TakeSnapshot (on this or another node).
	InstallSnapshot(ctx context.Context, index LogIndex, data []byte) error

	// RunOperation executes a read-only operation against current
	// state without going through consensus; used by all three query
	// policies once their consistency precondition is satisfied.
	RunOperation(ctx context.Context, operation []byte) (result []byte, err error)
}
