package raft

import "context"

// takeLocalSnapshot asks the state machine for a fresh chunked
// snapshot and compacts the log through lastApplied. Grounded on
// teacher raft.go's takeSnapshot / wal.go's SaveSnapshot.
func (n *Node) takeLocalSnapshot(ctx context.Context) {
	chunks, err := n.sm.TakeSnapshot(ctx, n.config.SnapshotChunkSize)
	if err != nil {
		n.log.Warnw("snapshot failed", "error", err)
		return
	}
	idx := n.lastApplied
	term, ok := n.raftLog.TermAt(idx)
	if !ok {
		return
	}
	for i, data := range chunks {
		chunk := SnapshotChunk{
			SnapshotIndex: idx,
			SnapshotTerm:  term,
			ChunkIndex:    i,
			ChunkCount:    len(chunks),
			Data:          data,
		}
		if i == len(chunks)-1 {
			chunk.Members = n.currentMembers().clone()
		}
		if err := n.store.PersistSnapshotChunk(ctx, chunk); err != nil {
			n.fail("PersistSnapshotChunk", err)
			return
		}
	}
	if err := n.store.Flush(ctx); err != nil {
		n.fail("Flush", err)
		return
	}
	n.raftLog.CompactThrough(idx, term)
	if err := n.store.TruncateSnapshotChunksUntil(ctx, idx); err != nil {
		n.fail("TruncateSnapshotChunksUntil", err)
		return
	}
	if err := n.store.Flush(ctx); err != nil {
		n.fail("Flush", err)
	}
}

// startSnapshotTransfer begins sending a follower the current snapshot
// one chunk at a time. The chunks are serialized once here, as of
// lastApplied, and pinned on fs together with that index and its term
// for the life of the transfer: if a new local snapshot is taken while
// chunks are still in flight, this follower still receives the
// generation it started with rather than a mix of two (§4.5.5). When
// TransferSnapshotsFromFollowersEnabled is set, each request also
// carries a SourceHint naming a voting peer whose matchIndex has
// reached the leader's snapshot index; the receiving node does not act
// on the hint, so every chunk is still sent by the leader.
func (n *Node) startSnapshotTransfer(ctx context.Context, to Endpoint, fs *followerState) {
	chunks, err := n.sm.TakeSnapshot(ctx, n.config.SnapshotChunkSize)
	if err != nil {
		return
	}
	term, ok := n.raftLog.TermAt(n.lastApplied)
	if !ok {
		return
	}
	fs.snapshotInFlight = true
	fs.snapshotChunks = chunks
	fs.snapshotIndex = n.lastApplied
	fs.snapshotTerm = term
	fs.snapshotMembers = n.currentMembers().clone()
	n.sendSnapshotChunk(ctx, to, fs, 0)
}

func (n *Node) sendSnapshotChunk(ctx context.Context, to Endpoint, fs *followerState, chunkIndex int) {
	if chunkIndex >= len(fs.snapshotChunks) {
		return
	}
	chunk := SnapshotChunk{
		SnapshotIndex: fs.snapshotIndex,
		SnapshotTerm:  fs.snapshotTerm,
		ChunkIndex:    chunkIndex,
		ChunkCount:    len(fs.snapshotChunks),
		Data:          fs.snapshotChunks[chunkIndex],
	}
	if chunkIndex == len(fs.snapshotChunks)-1 {
		chunk.Members = fs.snapshotMembers
	}
	req := InstallSnapshotRequest{Term: n.term, LeaderID: n.id, Chunk: chunk}
	if n.config.TransferSnapshotsFromFollowersEnabled {
		if hint := n.pickSnapshotSourceHint(to); hint != nil {
			req.SourceHint = hint
		}
	}
	_ = n.transport.Send(ctx, to, Message{InstallSnapshotRequest: &req})
}

func (n *Node) pickSnapshotSourceHint(exclude Endpoint) *Endpoint {
	for _, m := range n.currentMembers().Members {
		if m.ID == n.id || m.ID == exclude.ID {
			continue
		}
		if fs, ok := n.followers[m.ID]; ok && fs.matchIndex >= n.raftLog.SnapshotIndex() {
			ep := m
			return &ep
		}
	}
	return nil
}

// handleInstallSnapshotRequest is the follower side: append each
// chunk's Data, in arrival order, to a buffer keyed by SnapshotIndex
// and, when the chunk whose ChunkIndex is ChunkCount-1 arrives, install
// the concatenated buffer and adopt the snapshot's membership. It does
// not check that every earlier chunk was received, and it ignores
// SourceHint.
func (n *Node) handleInstallSnapshotRequest(ctx context.Context, from Endpoint, req *InstallSnapshotRequest) error {
	if req.Term < n.term {
		return n.transport.Send(ctx, from, Message{InstallSnapshotResp: &InstallSnapshotResponse{Term: n.term, FollowerID: n.id, ChunkIndex: req.Chunk.ChunkIndex, Success: false}})
	}
	if req.Term > n.term || n.role != RoleFollower {
		if err := n.becomeFollower(ctx, req.Term, req.LeaderID); err != nil {
			return err
		}
	}
	n.resetElectionDeadline()
	n.leaderID = req.LeaderID

	if err := n.store.PersistSnapshotChunk(ctx, req.Chunk); err != nil {
		return n.fail("PersistSnapshotChunk", err)
	}
	if err := n.store.Flush(ctx); err != nil {
		return n.fail("Flush", err)
	}

	n.appendSnapshotChunkData(req.Chunk.SnapshotIndex, req.Chunk.Data)

	if req.Chunk.ChunkIndex == req.Chunk.ChunkCount-1 {
		data := n.snapshotChunkBuffer(req.Chunk.SnapshotIndex)
		if err := n.sm.InstallSnapshot(ctx, req.Chunk.SnapshotIndex, data); err != nil {
			n.log.Warnw("install snapshot failed", "error", err)
		} else {
			n.raftLog.CompactThrough(req.Chunk.SnapshotIndex, req.Chunk.SnapshotTerm)
			if req.Chunk.Members != nil {
				n.members = newMembershipCoordinator(req.Chunk.Members)
			}
			if err := n.store.TruncateSnapshotChunksUntil(ctx, req.Chunk.SnapshotIndex); err != nil {
				return n.fail("TruncateSnapshotChunksUntil", err)
			}
			if err := n.store.Flush(ctx); err != nil {
				return n.fail("Flush", err)
			}
			if req.Chunk.SnapshotIndex > n.lastApplied {
				n.lastApplied = req.Chunk.SnapshotIndex
			}
			if req.Chunk.SnapshotIndex > n.commitIndex {
				n.commitIndex = req.Chunk.SnapshotIndex
			}
			n.clearSnapshotChunkBuffer(req.Chunk.SnapshotIndex)
		}
	}
	return n.transport.Send(ctx, from, Message{InstallSnapshotResp: &InstallSnapshotResponse{Term: n.term, FollowerID: n.id, ChunkIndex: req.Chunk.ChunkIndex, Success: true}})
}

// snapshotChunkBuffers accumulates in-progress transfers keyed by
// snapshot index so handleInstallSnapshotRequest can hand
// StateMachine.InstallSnapshot the full concatenated payload once the
// last chunk lands.
func (n *Node) snapshotChunkBuffer(snapshotIndex LogIndex) []byte {
	return n.pendingSnapshotData[snapshotIndex]
}

func (n *Node) clearSnapshotChunkBuffer(snapshotIndex LogIndex) {
	delete(n.pendingSnapshotData, snapshotIndex)
}

func (n *Node) appendSnapshotChunkData(snapshotIndex LogIndex, data []byte) {
	if n.pendingSnapshotData == nil {
		n.pendingSnapshotData = make(map[LogIndex][]byte)
	}
	n.pendingSnapshotData[snapshotIndex] = append(n.pendingSnapshotData[snapshotIndex], data...)
}

func (n *Node) handleInstallSnapshotResponse(ctx context.Context, from Endpoint, resp *InstallSnapshotResponse) error {
	if resp.Term > n.term {
		return n.becomeFollower(ctx, resp.Term, "")
	}
	if n.role != RoleLeader || resp.Term != n.term {
		return nil
	}
	fs, ok := n.followers[resp.FollowerID]
	if !ok {
		return nil
	}
	if !resp.Success {
		fs.snapshotInFlight = false
		fs.snapshotChunks = nil
		return nil
	}
	if resp.ChunkIndex+1 < len(fs.snapshotChunks) {
		n.sendSnapshotChunk(ctx, from, fs, resp.ChunkIndex+1)
		return nil
	}
	fs.snapshotInFlight = false
	fs.matchIndex = fs.snapshotIndex
	fs.nextIndex = fs.matchIndex + 1
	fs.snapshotChunks = nil
	n.maybeAdvanceCommitIndex(ctx)
	return nil
}
