package raft

import "context"

// QueryPolicy selects the consistency/latency tradeoff for a read-only
// operation, per spec.md §4.5.7.
type QueryPolicy int

const (
	// QueryLinearizable confirms a heartbeat quorum before running the
	// operation, guaranteeing the read observes every write committed
	// before the query was issued.
	QueryLinearizable QueryPolicy = iota
	// QueryLeaderLocal runs against the leader's local state
	// immediately, without confirming quorum; may return stale data if
	// this node is a deposed leader that hasn't noticed yet.
	QueryLeaderLocal
	// QueryEventual runs against any node's local state once its
	// commit index has reached the caller's minCommitIndex, waiting up
	// to the caller's deadline otherwise.
	QueryEventual
)

// queryCoordinator tracks in-flight linearizable read barriers (keyed
// by a node-wide query sequence number) and eventual-consistency waiters
// (keyed by the commit index they are waiting for).
type queryCoordinator struct {
	nextSeqNo uint64

	barrierAcks    map[uint64]map[string]bool
	barrierResult  map[uint64]*pendingEntry
	barrierNeeded  map[uint64]int

	waiters map[LogIndex][]*pendingEntry
}

func newQueryCoordinator() *queryCoordinator {
	return &queryCoordinator{
		barrierAcks:   make(map[uint64]map[string]bool),
		barrierResult: make(map[uint64]*pendingEntry),
		barrierNeeded: make(map[uint64]int),
		waiters:       make(map[LogIndex][]*pendingEntry),
	}
}

func (q *queryCoordinator) pendingBarrierFor(followerID string) (uint64, bool) {
	for seq, acks := range q.barrierAcks {
		if !acks[followerID] {
			return seq, true
		}
	}
	return 0, false
}

func (q *queryCoordinator) ackBarrier(followerID string, seq uint64) {
	acks, ok := q.barrierAcks[seq]
	if !ok {
		return
	}
	acks[followerID] = true
	if len(acks) >= q.barrierNeeded[seq] {
		entry, ok := q.barrierResult[seq]
		if ok {
			entry.ch <- pendingResult{}
		}
		delete(q.barrierAcks, seq)
		delete(q.barrierResult, seq)
		delete(q.barrierNeeded, seq)
	}
}

func (q *queryCoordinator) noteCommitIndex(idx LogIndex) {
	for commitIdx, entries := range q.waiters {
		if commitIdx > idx {
			continue
		}
		for _, e := range entries {
			e.ch <- pendingResult{}
		}
		delete(q.waiters, commitIdx)
	}
}

func (q *queryCoordinator) failAll(err error) {
	for _, e := range q.barrierResult {
		e.ch <- pendingResult{err: err}
	}
	for seq := range q.barrierAcks {
		delete(q.barrierAcks, seq)
	}
	for idx, entries := range q.waiters {
		for _, e := range entries {
			e.ch <- pendingResult{err: err}
		}
		delete(q.waiters, idx)
	}
}

// queryHandle is returned by Node.Query so the caller's Group can block
// until the channel resolves, then run the operation locally.
type queryHandle struct {
	ch chan pendingResult
}

// beginQuery validates the request against the chosen policy and
// returns a queryHandle the caller waits on before invoking
// StateMachine.RunOperation. Grounded on teacher node.go's
// Read/confirmLeadership/checkReadIndices (linearizable) and raft.go's
// ReadIndex, generalized to all three policies.
func (n *Node) beginQuery(ctx context.Context, policy QueryPolicy, minCommitIndex LogIndex) (*queryHandle, error) {
	if n.isTerminated() {
		return nil, ErrGroupTerminated
	}
	switch policy {
	case QueryLinearizable:
		if n.role != RoleLeader {
			return nil, &NotLeaderError{Leader: n.leaderHint}
		}
		seq := n.nextQuerySeqNo + 1
		n.nextQuerySeqNo = seq
		entry := &pendingEntry{term: n.term, ch: make(chan pendingResult, 1)}
		needed := n.currentMembers().QuorumSize() - 1 // followers besides self
		if needed <= 0 {
			entry.ch <- pendingResult{}
			return &queryHandle{ch: entry.ch}, nil
		}
		n.queries.barrierAcks[seq] = map[string]bool{}
		n.queries.barrierResult[seq] = entry
		n.queries.barrierNeeded[seq] = needed
		n.replicateToAll(ctx)
		return &queryHandle{ch: entry.ch}, nil
	case QueryLeaderLocal:
		if n.role != RoleLeader {
			return nil, &NotLeaderError{Leader: n.leaderHint}
		}
		ch := make(chan pendingResult, 1)
		ch <- pendingResult{}
		return &queryHandle{ch: ch}, nil
	case QueryEventual:
		ch := make(chan pendingResult, 1)
		if n.commitIndex >= minCommitIndex {
			ch <- pendingResult{}
			return &queryHandle{ch: ch}, nil
		}
		entry := &pendingEntry{ch: ch}
		n.queries.waiters[minCommitIndex] = append(n.queries.waiters[minCommitIndex], entry)
		return &queryHandle{ch: ch}, nil
	default:
		return nil, &InvalidArgumentError{Reason: "unknown query policy"}
	}
}
