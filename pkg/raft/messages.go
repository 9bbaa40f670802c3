package raft

import "context"

// VoteRequest is sent by a candidate to solicit a vote.
type VoteRequest struct {
	Term         Term
	CandidateID  string
	LastLogIndex LogIndex
	LastLogTerm  Term
	// Sticky is true when the candidate was prompted by an existing
	// leader's TransferLeadership call rather than its own election
	// timeout. A voter that has heard from a leader recently rejects
	// vote requests with Sticky==false (disruption avoidance, spec.md
	// §4.4/§4.5.2); Sticky==true bypasses that check.
	Sticky bool
}

// VoteResponse answers a VoteRequest.
type VoteResponse struct {
	Term        Term
	VoteGranted bool
	VoterID     string
}

// AppendEntriesRequest replicates log entries, or (Entries == nil)
// serves as a heartbeat / linearizable-read barrier.
type AppendEntriesRequest struct {
	Term              Term
	LeaderID          string
	PrevLogIndex      LogIndex
	PrevLogTerm       Term
	Entries           []LogEntry
	LeaderCommitIndex LogIndex

	// FlowControlSeqNo lets the leader pipeline multiple in-flight
	// batches per follower while still being able to tell which
	// responses correspond to which request (spec.md §4.5.4).
	FlowControlSeqNo uint64

	// QuerySeqNo, when non-zero, asks the follower to treat this
	// AppendEntries as a linearizable-read barrier tagged with this
	// sequence number; the follower echoes it back once processed.
	QuerySeqNo uint64
}

// AppendEntriesSuccessResponse acknowledges successful replication.
type AppendEntriesSuccessResponse struct {
	Term             Term
	FollowerID       string
	MatchIndex       LogIndex
	FlowControlSeqNo uint64
	QuerySeqNo       uint64
}

// AppendEntriesFailureResponse reports a log-consistency mismatch, with
// hints the leader can use to backtrack nextIndex in a single round
// trip (SPEC_FULL.md §3 item 2).
type AppendEntriesFailureResponse struct {
	Term             Term
	FollowerID       string
	FlowControlSeqNo uint64

	// ConflictIndex is the first index in the follower's log with term
	// ConflictTerm (or, if the follower's log is too short, one past
	// its last index with ConflictTerm == 0).
	ConflictIndex LogIndex
	ConflictTerm  Term
}

// InstallSnapshotRequest transfers one SnapshotChunk.
type InstallSnapshotRequest struct {
	Term     Term
	LeaderID string
	Chunk    SnapshotChunk

	// SourceHint is set by the leader when
	// TransferSnapshotsFromFollowersEnabled is on, naming a voting peer
	// whose matchIndex has reached the leader's snapshot index. The
	// receiving node does not read it; chunks are only ever sent by the
	// leader (SPEC_FULL.md §4).
	SourceHint *Endpoint
}

// InstallSnapshotResponse acknowledges a chunk.
type InstallSnapshotResponse struct {
	Term          Term
	FollowerID    string
	ChunkIndex    int
	Success       bool
}

// TriggerLeaderElectionRequest asks a follower to immediately start an
// election, bypassing its randomized timeout; used by
// transferLeadership.
type TriggerLeaderElectionRequest struct {
	Term Term
}

// Message is the union of every wire message a Node can receive via
// HandleMessage. Exactly one field is non-nil.
type Message struct {
	VoteRequest            *VoteRequest
	VoteResponse           *VoteResponse
	AppendEntriesRequest   *AppendEntriesRequest
	AppendEntriesSuccess   *AppendEntriesSuccessResponse
	AppendEntriesFailure   *AppendEntriesFailureResponse
	InstallSnapshotRequest *InstallSnapshotRequest
	InstallSnapshotResp    *InstallSnapshotResponse
	TriggerElection        *TriggerLeaderElectionRequest
}

// Transport is the opaque message carrier a Group uses to reach other
// group members. Send is fire-and-forget: responses, if any, arrive as
// a later inbound Message via the receiving Group's mailbox, not as a
// return value.
type Transport interface {
	Send(ctx context.Context, to Endpoint, msg Message) error
}
