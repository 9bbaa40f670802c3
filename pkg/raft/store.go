package raft

import "context"

// Store is the durable-persistence collaborator a Node relies on for
// crash recovery. Implementations must make persistLogEntry and
// persistSnapshotChunk durable no later than the following flush call;
// Node never assumes fsync-per-call semantics, only flush-per-batch.
//
// Any error returned by a Store method is fatal: the Node wraps it in
// a StoreError, transitions to StatusTerminated, and stops.
type Store interface {
	// Open recovers previously persisted state, if any. term is 0 and
	// members is nil on a brand-new node. snapshotData is
	// the concatenation of every chunk of the latest complete snapshot,
	// in chunk order, or nil if no snapshot has been taken yet.
	Open(ctx context.Context) (term Term, votedFor string, members *GroupMembers, entries []LogEntry, snapshotIndex LogIndex, snapshotTerm Term, snapshotData []byte, err error)

	// PersistInitialMembers records the group's starting membership;
	// called exactly once, before any entry is appended, on a
	// brand-new node.
	PersistInitialMembers(ctx context.Context, members *GroupMembers) error

	// PersistTerm records the current term and the node this node
	// voted for in that term (votedFor may be empty).
	PersistTerm(ctx context.Context, term Term, votedFor string) error

	// PersistLogEntry appends entry to the durable log. Callers persist
	// entries in index order and call Flush before acting on them.
	PersistLogEntry(ctx context.Context, entry LogEntry) error

	// PersistSnapshotChunk durably records one chunk of an
	// in-progress snapshot transfer or local snapshot.
	PersistSnapshotChunk(ctx context.Context, chunk SnapshotChunk) error

	// TruncateLogEntriesFrom discards persisted entries at or after
	// idx, used to resolve a log conflict with a new leader.
	TruncateLogEntriesFrom(ctx context.Context, idx LogIndex) error

	// TruncateSnapshotChunksUntil discards persisted log entries and
	// partial snapshot state up to and including idx, called once a
	// snapshot through idx has been fully installed.
	TruncateSnapshotChunksUntil(ctx context.Context, idx LogIndex) error

	// Flush durably commits every call made since the last Flush.
	// Node treats Flush as its only blocking boundary (spec.md §5).
	Flush(ctx context.Context) error
}

// Sizer is an optional interface a Store may implement to report its
// on-disk size, enabling the size-triggered snapshot path in addition
// to the required count-triggered one (SPEC_FULL.md §3 item 3).
type Sizer interface {
	SizeBytes() (int64, error)
}
