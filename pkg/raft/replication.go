package raft

import (
	"context"
	"time"
)

// leaderTick emits heartbeats/replication batches to followers due for
// one, and steps down if no quorum has acknowledged within
// LeaderHeartbeatTimeout (spec.md §4.5.9 failure semantics: a leader
// that cannot confirm a quorum is still reachable must not keep
// serving linearizable reads or accepting writes it cannot guarantee).
func (n *Node) leaderTick(ctx context.Context, now time.Time) error {
	acked := 1 // self
	for _, fs := range n.followers {
		if now.Sub(fs.lastAckTime) <= n.config.LeaderHeartbeatTimeout {
			acked++
		}
		if now.Sub(fs.lastAckTime) >= n.config.LeaderHeartbeatPeriod || fs.lastAckTime.IsZero() {
			n.replicateToFollower(ctx, fs)
		}
	}
	if acked < n.currentMembers().QuorumSize() {
		n.log.Warnw("leader lost quorum contact, stepping down", "term", n.term)
		return n.becomeFollower(ctx, n.term, "")
	}
	return nil
}

func (n *Node) replicateToAll(ctx context.Context) {
	for id := range n.followers {
		if fs, ok := n.followerByID(id); ok {
			n.replicateToFollower(ctx, fs)
		}
	}
}

func (n *Node) followerByID(id string) (*followerState, bool) {
	fs, ok := n.followers[id]
	return fs, ok
}

// replicateToFollower sends either a chunked InstallSnapshot (if the
// follower's nextIndex has already been compacted away) or a batched
// AppendEntries. Grounded on teacher raft.go's replicateToFollower.
func (n *Node) replicateToFollower(ctx context.Context, fs *followerState) {
	ep, ok := n.followerEndpoint(fs)
	if !ok {
		return
	}
	if fs.nextIndex <= n.raftLog.SnapshotIndex() && !fs.snapshotInFlight {
		n.startSnapshotTransfer(ctx, ep, fs)
		return
	}

	prevIndex := fs.nextIndex - 1
	prevTerm, ok := n.raftLog.TermAt(prevIndex)
	if !ok {
		n.startSnapshotTransfer(ctx, ep, fs)
		return
	}

	entries := n.raftLog.EntriesFrom(fs.nextIndex, n.config.AppendEntriesRequestBatchSize)
	fs.inFlightSeqNo++
	req := AppendEntriesRequest{
		Term:              n.term,
		LeaderID:          n.id,
		PrevLogIndex:      prevIndex,
		PrevLogTerm:       prevTerm,
		Entries:           entries,
		LeaderCommitIndex: n.commitIndex,
		FlowControlSeqNo:  fs.inFlightSeqNo,
	}
	if q, ok := n.queries.pendingBarrierFor(ep.ID); ok {
		req.QuerySeqNo = q
	}
	_ = n.transport.Send(ctx, ep, Message{AppendEntriesRequest: &req})
}

func (n *Node) followerEndpoint(fs *followerState) (Endpoint, bool) {
	for id, f := range n.followers {
		if f == fs {
			return n.currentMembers().endpoint(id)
		}
	}
	return Endpoint{}, false
}

// handleAppendEntriesRequest is the follower side: log consistency
// check, conflict resolution, append, commit-index advance. Grounded
// on teacher raft.go's HandleAppendEntries.
func (n *Node) handleAppendEntriesRequest(ctx context.Context, from Endpoint, req *AppendEntriesRequest) error {
	if req.Term < n.term {
		return n.transport.Send(ctx, from, Message{AppendEntriesFailure: &AppendEntriesFailureResponse{Term: n.term, FollowerID: n.id, FlowControlSeqNo: req.FlowControlSeqNo}})
	}
	if req.Term > n.term || n.role != RoleFollower {
		if err := n.becomeFollower(ctx, req.Term, req.LeaderID); err != nil {
			return err
		}
	} else {
		n.leaderID = req.LeaderID
		n.resetElectionDeadline()
	}
	n.lastLeaderHeartbeatRecv = n.clock.Now()

	if req.PrevLogIndex > 0 {
		term, ok := n.raftLog.TermAt(req.PrevLogIndex)
		if !ok || term != req.PrevLogTerm {
			conflictIdx, conflictTerm := n.findConflictHint(req.PrevLogIndex)
			return n.transport.Send(ctx, from, Message{AppendEntriesFailure: &AppendEntriesFailureResponse{
				Term: n.term, FollowerID: n.id, FlowControlSeqNo: req.FlowControlSeqNo,
				ConflictIndex: conflictIdx, ConflictTerm: conflictTerm,
			}})
		}
	}

	for _, e := range req.Entries {
		if existingTerm, ok := n.raftLog.TermAt(e.Index); ok {
			if existingTerm == e.Term {
				continue
			}
			if n.members.changeInFlight && e.Index <= n.members.changeLogIndex {
				n.members.abortInFlight()
			}
			if n.status == StatusTerminatingGroup && n.terminateLogIndex != 0 && e.Index <= n.terminateLogIndex {
				n.status = StatusActive
				n.terminateLogIndex = 0
			}
			n.raftLog.TruncateFrom(e.Index)
			if err := n.store.TruncateLogEntriesFrom(ctx, e.Index); err != nil {
				return n.fail("TruncateLogEntriesFrom", err)
			}
		}
		n.raftLog.Append(e)
		if err := n.store.PersistLogEntry(ctx, e); err != nil {
			return n.fail("PersistLogEntry", err)
		}
		if e.Kind == EntryMembershipChange && e.Members != nil {
			n.members.markInFlight(e.Index, e.Members)
		}
		if e.Kind == EntryTerminateGroup {
			n.status = StatusTerminatingGroup
			n.terminateLogIndex = e.Index
		}
	}
	if err := n.store.Flush(ctx); err != nil {
		return n.fail("Flush", err)
	}

	if req.LeaderCommitIndex > n.commitIndex {
		newCommit := req.LeaderCommitIndex
		if last := n.raftLog.LastIndex(); newCommit > last {
			newCommit = last
		}
		n.advanceCommitIndex(ctx, newCommit)
	}

	resp := AppendEntriesSuccessResponse{
		Term: n.term, FollowerID: n.id, MatchIndex: n.raftLog.LastIndex(),
		FlowControlSeqNo: req.FlowControlSeqNo, QuerySeqNo: req.QuerySeqNo,
	}
	return n.transport.Send(ctx, from, Message{AppendEntriesSuccess: &resp})
}

// findConflictHint implements the teacher's ConflictIndex/ConflictTerm
// fast-backtrack optimization (SPEC_FULL.md §3 item 2).
func (n *Node) findConflictHint(prevIndex LogIndex) (LogIndex, Term) {
	if prevIndex > n.raftLog.LastIndex() {
		return n.raftLog.LastIndex() + 1, 0
	}
	term, ok := n.raftLog.TermAt(prevIndex)
	if !ok {
		return n.raftLog.SnapshotIndex() + 1, n.raftLog.SnapshotTerm()
	}
	idx := prevIndex
	for idx > n.raftLog.SnapshotIndex()+1 {
		t, ok := n.raftLog.TermAt(idx - 1)
		if !ok || t != term {
			break
		}
		idx--
	}
	return idx, term
}

func (n *Node) handleAppendEntriesSuccess(ctx context.Context, from Endpoint, resp *AppendEntriesSuccessResponse) error {
	if resp.Term > n.term {
		return n.becomeFollower(ctx, resp.Term, "")
	}
	if n.role != RoleLeader || resp.Term != n.term {
		return nil
	}
	fs, ok := n.followers[resp.FollowerID]
	if !ok || resp.FlowControlSeqNo != fs.inFlightSeqNo {
		return nil
	}
	fs.lastAckTime = n.clock.Now()
	if resp.MatchIndex > fs.matchIndex {
		fs.matchIndex = resp.MatchIndex
	}
	fs.nextIndex = fs.matchIndex + 1
	if resp.QuerySeqNo != 0 {
		n.queries.ackBarrier(from.ID, resp.QuerySeqNo)
	}
	n.maybeAdvanceCommitIndex(ctx)
	if n.raftLog.EntriesFrom(fs.nextIndex, 1) != nil {
		n.replicateToFollower(ctx, fs)
	}
	return nil
}

func (n *Node) handleAppendEntriesFailure(ctx context.Context, from Endpoint, resp *AppendEntriesFailureResponse) error {
	if resp.Term > n.term {
		return n.becomeFollower(ctx, resp.Term, "")
	}
	if n.role != RoleLeader || resp.Term != n.term {
		return nil
	}
	fs, ok := n.followers[resp.FollowerID]
	if !ok || resp.FlowControlSeqNo != fs.inFlightSeqNo {
		return nil
	}
	next := resp.ConflictIndex
	if resp.ConflictTerm != 0 {
		for idx := resp.ConflictIndex; idx <= n.raftLog.LastIndex(); idx++ {
			t, ok := n.raftLog.TermAt(idx)
			if !ok || t != resp.ConflictTerm {
				break
			}
			next = idx + 1
		}
	}
	if next < 1 {
		next = 1
	}
	fs.nextIndex = next
	n.replicateToFollower(ctx, fs)
	return nil
}

// maybeAdvanceCommitIndex recomputes the majority matchIndex across
// voting members and advances commitIndex if it increased, subject to
// the Raft restriction that a leader may only commit entries from its
// own term directly (older-term entries commit as a side effect).
// Grounded on teacher raft.go's updateCommitIndex (sort-based majority
// index).
func (n *Node) maybeAdvanceCommitIndex(ctx context.Context) {
	matches := []LogIndex{n.raftLog.LastIndex()} // self always matches its own last index
	for _, m := range n.currentMembers().Members {
		if m.ID == n.id {
			continue
		}
		if fs, ok := n.followers[m.ID]; ok {
			matches = append(matches, fs.matchIndex)
		} else {
			matches = append(matches, 0)
		}
	}
	sortDesc(matches)
	majorityIdx := matches[n.currentMembers().QuorumSize()-1]
	if majorityIdx <= n.commitIndex {
		return
	}
	if t, ok := n.raftLog.TermAt(majorityIdx); !ok || t != n.term {
		return
	}
	n.advanceCommitIndex(ctx, majorityIdx)
}

func sortDesc(s []LogIndex) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] < s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// advanceCommitIndex moves commitIndex forward and applies every newly
// committed entry to the state machine in order.
func (n *Node) advanceCommitIndex(ctx context.Context, to LogIndex) {
	if to <= n.commitIndex {
		return
	}
	n.commitIndex = to
	n.queries.noteCommitIndex(n.commitIndex)
	for idx := n.lastApplied + 1; idx <= n.commitIndex; idx++ {
		entry, ok := n.raftLog.EntryAt(idx)
		if !ok {
			break
		}
		n.applyEntry(ctx, entry)
		n.lastApplied = idx
	}
	if n.shouldSnapshot() {
		n.takeLocalSnapshot(ctx)
	}
}

func (n *Node) applyEntry(ctx context.Context, entry LogEntry) {
	switch entry.Kind {
	case EntryApply:
		result, err := n.sm.Apply(ctx, entry.Index, entry.Operation)
		n.pending.resolve(entry.Index, result, err)
	case EntryMembershipChange:
		n.members.commit(entry.Index)
		if n.status == StatusUpdatingMembership {
			n.status = StatusActive
		}
		n.pending.resolve(entry.Index, nil, nil)
		if n.role == RoleLeader {
			for _, m := range entry.Members.Members {
				if m.ID == n.id {
					continue
				}
				if _, ok := n.followers[m.ID]; !ok {
					n.followers[m.ID] = &followerState{nextIndex: n.raftLog.LastIndex() + 1}
				}
			}
			for id := range n.followers {
				if !entry.Members.Contains(id) {
					delete(n.followers, id)
				}
			}
		}
	case EntryTerminateGroup:
		n.status = StatusTerminatingGroup
		n.terminateLogIndex = 0
		n.pending.resolve(entry.Index, nil, nil)
	case EntryNoop, EntryNewTerm:
		n.pending.resolve(entry.Index, nil, nil)
	}
	if n.status == StatusTerminatingGroup && entry.Index == n.raftLog.LastIndex() {
		n.status = StatusTerminated
	}
}
