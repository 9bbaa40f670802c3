package raft

import "context"

// Submit appends operation as an EntryApply entry if this node is
// leader, returning a pendingEntry the caller's Group blocks on until
// the entry commits (or is abandoned). Grounded on teacher raft.go's
// Propose.
func (n *Node) Submit(ctx context.Context, operation []byte) (*pendingEntry, error) {
	if n.isTerminated() {
		return nil, ErrGroupTerminated
	}
	if n.status == StatusTerminatingGroup {
		return nil, ErrCannotReplicate
	}
	if n.role != RoleLeader {
		return nil, &NotLeaderError{Leader: n.leaderHint}
	}
	if len(n.pending.byIndex) >= n.config.MaxPendingLogEntryCount {
		return nil, ErrCannotReplicate
	}
	if int(n.raftLog.LastIndex()-n.commitIndex) >= n.config.MaxUncommittedLogEntryCount {
		return nil, ErrCannotReplicate
	}
	entry := LogEntry{Index: n.raftLog.LastIndex() + 1, Term: n.term, Kind: EntryApply, Operation: operation}
	pe := n.pending.register(entry.Index, entry.Term)
	if err := n.appendAndPersist(ctx, entry); err != nil {
		delete(n.pending.byIndex, entry.Index)
		return nil, err
	}
	return pe, nil
}

// Query begins a read-only operation under the given consistency
// policy. The returned handle resolves once the policy's precondition
// is satisfied; the caller then runs the operation via
// StateMachine.RunOperation.
func (n *Node) Query(ctx context.Context, policy QueryPolicy, minCommitIndex LogIndex) (*queryHandle, error) {
	return n.beginQuery(ctx, policy, minCommitIndex)
}

// ChangeMembership proposes a new effective membership set, enforcing
// the single-server-at-a-time invariant via expectedGroupMembersCommitIndex
// (spec.md §4.5.6).
func (n *Node) ChangeMembership(ctx context.Context, expectedCommitIndex LogIndex, next GroupMembers) (*pendingEntry, error) {
	if n.isTerminated() {
		return nil, ErrGroupTerminated
	}
	if n.role != RoleLeader {
		return nil, &NotLeaderError{Leader: n.leaderHint}
	}
	nc := next.clone()
	if err := n.members.beginChange(expectedCommitIndex, nc); err != nil {
		return nil, err
	}
	entry := LogEntry{Index: n.raftLog.LastIndex() + 1, Term: n.term, Kind: EntryMembershipChange, Members: nc}
	n.members.markInFlight(entry.Index, nc)
	n.status = StatusUpdatingMembership
	// A newly added voter must start receiving replication immediately,
	// before this entry itself can commit — the entry cannot reach
	// quorum under the new membership until the new member has it.
	for _, m := range nc.Members {
		if m.ID == n.id {
			continue
		}
		if _, ok := n.followers[m.ID]; !ok {
			n.followers[m.ID] = &followerState{nextIndex: n.raftLog.LastIndex() + 1}
		}
	}
	pe := n.pending.register(entry.Index, entry.Term)
	if err := n.appendAndPersist(ctx, entry); err != nil {
		delete(n.pending.byIndex, entry.Index)
		n.members.abortInFlight()
		n.status = StatusActive
		return nil, err
	}
	return pe, nil
}

// TerminateGroupOp proposes a TerminateGroup entry. The node moves to
// StatusTerminatingGroup as soon as the entry is appended (back to
// StatusActive if the append fails); each node that later applies the
// entry as the last entry of its log moves to StatusTerminated
// (spec.md §4.5.8).
func (n *Node) TerminateGroupOp(ctx context.Context) (*pendingEntry, error) {
	if n.isTerminated() {
		return nil, ErrGroupTerminated
	}
	if n.role != RoleLeader {
		return nil, &NotLeaderError{Leader: n.leaderHint}
	}
	entry := LogEntry{Index: n.raftLog.LastIndex() + 1, Term: n.term, Kind: EntryTerminateGroup}
	pe := n.pending.register(entry.Index, entry.Term)
	n.status = StatusTerminatingGroup
	n.terminateLogIndex = entry.Index
	if err := n.appendAndPersist(ctx, entry); err != nil {
		delete(n.pending.byIndex, entry.Index)
		n.status = StatusActive
		n.terminateLogIndex = 0
		return nil, err
	}
	return pe, nil
}
