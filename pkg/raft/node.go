package raft

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// followerState is the leader's per-follower replication bookkeeping.
// Grounded on the teacher's NodeState nextIndex/matchIndex maps
// (state.go) and node.go's flow-control sequence handling.
type followerState struct {
	nextIndex        LogIndex
	matchIndex       LogIndex
	inFlightSeqNo    uint64
	lastAckTime      time.Time
	snapshotInFlight bool

	// snapshotChunks, snapshotIndex, snapshotTerm, and snapshotMembers
	// pin one local-snapshot generation for the life of an in-progress
	// transfer, so a TakeSnapshot taken while chunks are still being
	// sent can never leak a mismatched generation into the same
	// transfer (§4.5.5).
	snapshotChunks  [][]byte
	snapshotIndex   LogIndex
	snapshotTerm    Term
	snapshotMembers *GroupMembers
}

// Node is the single-threaded Raft protocol core described by spec.md
// §5: every exported method here runs to completion without
// suspending, and must only ever be invoked from one goroutine at a
// time (Group provides that goroutine via its mailbox).
type Node struct {
	id     string
	self   Endpoint
	config Config

	store     Store
	sm        StateMachine
	transport Transport
	clock     Clock
	rng       RandomSource
	log       *zap.SugaredLogger

	term     Term
	votedFor string
	role     Role
	status   NodeStatus

	raftLog *RaftLog
	members *membershipCoordinator

	commitIndex LogIndex
	lastApplied LogIndex

	leaderID   string
	leaderHint *Endpoint

	electionDeadline time.Time
	stickyUntil      time.Time
	transferTarget   string

	followers    map[string]*followerState
	votesGranted map[string]bool

	pending *pendingTable
	queries *queryCoordinator

	uncommittedCount int

	nextQuerySeqNo uint64

	lastLeaderHeartbeatRecv time.Time

	terminateRequested bool
	terminateLogIndex  LogIndex

	lastReportTime time.Time

	pendingSnapshotData map[LogIndex][]byte

	onReport func(RaftNodeReport)
}

// NewNode constructs a Node, recovering persisted state from store.
// bootstrapMembers seeds the group's initial membership on a brand-new
// node (one with no previously persisted members); it is ignored once
// a group has already recorded members, so passing the same peer list
// on every restart of an existing node is harmless. A nil
// bootstrapMembers defaults a first boot to a singleton group
// containing only self.
func NewNode(ctx context.Context, self Endpoint, config Config, store Store, sm StateMachine, transport Transport, clock Clock, rng RandomSource, bootstrapMembers *GroupMembers, logger *zap.SugaredLogger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	term, votedFor, members, entries, snapIdx, snapTerm, snapData, err := store.Open(ctx)
	if err != nil {
		return nil, &StoreError{Op: "Open", Err: err}
	}
	if members == nil {
		members = bootstrapMembers
		if members == nil {
			members = &GroupMembers{Members: []Endpoint{self}}
		}
		if err := store.PersistInitialMembers(ctx, members); err != nil {
			return nil, &StoreError{Op: "PersistInitialMembers", Err: err}
		}
		if err := store.Flush(ctx); err != nil {
			return nil, &StoreError{Op: "Flush", Err: err}
		}
	}

	rl := newRaftLog()
	rl.snapshotIndex = snapIdx
	rl.snapshotTerm = snapTerm
	rl.entries = entries

	n := &Node{
		id:        self.ID,
		self:      self,
		config:    config,
		store:     store,
		sm:        sm,
		transport: transport,
		clock:     clock,
		rng:       rng,
		log:       logger,
		term:      term,
		votedFor:  votedFor,
		role:      RoleFollower,
		status:    StatusActive,
		raftLog:   rl,
		members:   newMembershipCoordinator(members),
		followers: make(map[string]*followerState),
		pending:   newPendingTable(),
		queries:   newQueryCoordinator(),
	}
	if snapIdx > 0 {
		if len(snapData) > 0 {
			if err := sm.InstallSnapshot(ctx, snapIdx, snapData); err != nil {
				return nil, &StoreError{Op: "InstallSnapshot", Err: err}
			}
		}
		n.commitIndex = snapIdx
		n.lastApplied = snapIdx
	}
	n.resetElectionDeadline()
	return n, nil
}

func (n *Node) Role() Role           { return n.role }
func (n *Node) Status() NodeStatus   { return n.status }
func (n *Node) Term() Term           { return n.term }
func (n *Node) CommitIndex() LogIndex { return n.commitIndex }
func (n *Node) ID() string           { return n.id }

func (n *Node) resetElectionDeadline() {
	span := n.config.LeaderElectionTimeoutMaxMillis - n.config.LeaderElectionTimeoutMinMillis
	jitter := 0
	if span > 0 {
		jitter = n.rng.Intn(span)
	}
	timeout := time.Duration(n.config.LeaderElectionTimeoutMinMillis+jitter) * time.Millisecond
	n.electionDeadline = n.clock.Now().Add(timeout)
}

func (n *Node) currentMembers() *GroupMembers {
	return n.members.effective
}

func (n *Node) isTerminated() bool {
	return n.status == StatusTerminated
}

// shouldSnapshot reports whether a local snapshot is due: either the
// configured commit-count threshold since the last snapshot has been
// reached, or the Store reports (via the optional Sizer interface) an
// on-disk size past a heuristic multiple of one chunk, whichever comes
// first (SPEC_FULL.md §3 item 3).
func (n *Node) shouldSnapshot() bool {
	if n.config.CommitCountToTakeSnapshot > 0 && int(n.commitIndex-n.raftLog.SnapshotIndex()) >= n.config.CommitCountToTakeSnapshot {
		return true
	}
	sizer, ok := n.store.(Sizer)
	if !ok || n.config.SnapshotChunkSize <= 0 {
		return false
	}
	size, err := sizer.SizeBytes()
	if err != nil {
		return false
	}
	return size >= int64(n.config.SnapshotChunkSize)*8
}

func (n *Node) fail(op string, err error) error {
	se := &StoreError{Op: op, Err: err}
	n.status = StatusTerminated
	n.pending.failAll(se)
	n.queries.failAll(se)
	n.log.Errorw("store failure, terminating node", "op", op, "error", err)
	return se
}

// becomeFollower transitions to Follower in term newTerm, clearing any
// leader-only state. Grounded on teacher raft.go's stepDown.
func (n *Node) becomeFollower(ctx context.Context, newTerm Term, leader string) error {
	stepDown := n.role == RoleLeader
	if newTerm > n.term {
		n.votedFor = ""
	}
	n.term = newTerm
	n.role = RoleFollower
	n.leaderID = leader
	if leader != "" {
		if ep, ok := n.currentMembers().endpoint(leader); ok {
			n.leaderHint = &ep
		}
	}
	n.resetElectionDeadline()
	if stepDown {
		n.followers = make(map[string]*followerState)
		n.pending.failAll(ErrIndeterminateState)
		n.queries.failAll(ErrIndeterminateState)
	}
	if err := n.store.PersistTerm(ctx, n.term, n.votedFor); err != nil {
		return n.fail("PersistTerm", err)
	}
	if err := n.store.Flush(ctx); err != nil {
		return n.fail("Flush", err)
	}
	return nil
}

func (n *Node) becomeLeader(ctx context.Context) error {
	n.role = RoleLeader
	n.leaderID = n.id
	n.leaderHint = &n.self
	n.followers = make(map[string]*followerState)
	for _, m := range n.currentMembers().Members {
		if m.ID == n.id {
			continue
		}
		n.followers[m.ID] = &followerState{nextIndex: n.raftLog.LastIndex() + 1, lastAckTime: n.clock.Now()}
	}
	n.log.Infow("became leader", "term", n.term)

	entry := LogEntry{Index: n.raftLog.LastIndex() + 1, Term: n.term, Kind: EntryNoop}
	if n.config.EnableNewTermOperation {
		entry.Kind = EntryNewTerm
	}
	return n.appendAndPersist(ctx, entry)
}

func (n *Node) appendAndPersist(ctx context.Context, entry LogEntry) error {
	n.raftLog.Append(entry)
	if err := n.store.PersistLogEntry(ctx, entry); err != nil {
		return n.fail("PersistLogEntry", err)
	}
	if err := n.store.Flush(ctx); err != nil {
		return n.fail("Flush", err)
	}
	if n.role == RoleLeader {
		n.replicateToAll(ctx)
		n.maybeAdvanceCommitIndex(ctx)
	}
	return nil
}

// HandleMessage dispatches one inbound wire message. Exactly one field
// of msg is expected to be set.
func (n *Node) HandleMessage(ctx context.Context, from Endpoint, msg Message) error {
	if n.isTerminated() {
		return ErrGroupTerminated
	}
	switch {
	case msg.VoteRequest != nil:
		return n.handleVoteRequest(ctx, from, msg.VoteRequest)
	case msg.VoteResponse != nil:
		return n.handleVoteResponse(ctx, from, msg.VoteResponse)
	case msg.AppendEntriesRequest != nil:
		return n.handleAppendEntriesRequest(ctx, from, msg.AppendEntriesRequest)
	case msg.AppendEntriesSuccess != nil:
		return n.handleAppendEntriesSuccess(ctx, from, msg.AppendEntriesSuccess)
	case msg.AppendEntriesFailure != nil:
		return n.handleAppendEntriesFailure(ctx, from, msg.AppendEntriesFailure)
	case msg.InstallSnapshotRequest != nil:
		return n.handleInstallSnapshotRequest(ctx, from, msg.InstallSnapshotRequest)
	case msg.InstallSnapshotResp != nil:
		return n.handleInstallSnapshotResponse(ctx, from, msg.InstallSnapshotResp)
	case msg.TriggerElection != nil:
		return n.handleTriggerElection(ctx, msg.TriggerElection)
	default:
		return fmt.Errorf("raft: empty message from %s", from)
	}
}

// Tick advances time-driven state: election timeouts on followers and
// candidates, heartbeat emission and read-barrier checks on leaders.
// Grounded on the teacher's timer-driven goroutines, collapsed into an
// explicit poll the Group's mailbox loop calls periodically.
func (n *Node) Tick(ctx context.Context, now time.Time) error {
	if n.isTerminated() {
		return nil
	}
	switch n.role {
	case RoleFollower, RoleCandidate:
		if now.After(n.electionDeadline) {
			return n.startElection(ctx, false)
		}
	case RoleLeader:
		if err := n.leaderTick(ctx, now); err != nil {
			return err
		}
	}
	if n.config.RaftNodeReportPublishPeriod > 0 && now.Sub(n.lastReportTime) >= n.config.RaftNodeReportPublishPeriod {
		n.lastReportTime = now
		n.publishReport()
	}
	return nil
}
