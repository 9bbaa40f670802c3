// Package raft implements a single-group Raft consensus engine: leader
// election, log replication, chunked snapshotting, single-server
// membership changes, and three read-consistency policies over a
// pluggable Store and StateMachine.
package raft

import "fmt"

// Term is a Raft election term. Terms are totally ordered and only
// ever increase.
type Term uint64

// LogIndex addresses a position in the replicated log. Index 0 is the
// sentinel "before the first entry" position.
type LogIndex uint64

// Endpoint identifies a group member for transport purposes.
type Endpoint struct {
	ID      string
	Address string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.ID, e.Address)
}

// EntryKind distinguishes the payload carried by a LogEntry.
type EntryKind int

const (
	// EntryNoop is appended by a new leader to commit a barrier entry
	// for its own term before it starts accepting client operations.
	EntryNoop EntryKind = iota
	// EntryApply carries an opaque operation for the StateMachine.
	EntryApply
	// EntryMembershipChange carries a new GroupMembers effective set.
	EntryMembershipChange
	// EntryTerminateGroup marks the group for termination once committed.
	EntryTerminateGroup
	// EntryNewTerm is appended when enableNewTermOperation is set, so a
	// new leader can establish its term without waiting on a client op.
	EntryNewTerm
)

func (k EntryKind) String() string {
	switch k {
	case EntryNoop:
		return "Noop"
	case EntryApply:
		return "Apply"
	case EntryMembershipChange:
		return "MembershipChange"
	case EntryTerminateGroup:
		return "TerminateGroup"
	case EntryNewTerm:
		return "NewTerm"
	default:
		return "Unknown"
	}
}

// LogEntry is one slot of the replicated log.
type LogEntry struct {
	Index LogIndex
	Term  Term
	Kind  EntryKind

	// Operation carries the gob-encoded client operation when Kind is
	// EntryApply; nil otherwise.
	Operation []byte

	// Members carries the new effective membership set when Kind is
	// EntryMembershipChange.
	Members *GroupMembers
}

// SnapshotChunk is one piece of a (possibly multi-chunk) state machine
// snapshot transferred out of band from the log.
type SnapshotChunk struct {
	SnapshotIndex LogIndex
	SnapshotTerm  Term
	ChunkIndex    int
	ChunkCount    int
	Data          []byte

	// Members is the membership in effect as of SnapshotIndex, carried
	// on the final chunk so a follower installing the snapshot can
	// adopt it atomically with the state machine data.
	Members *GroupMembers
}

// NodeStatus is the lifecycle stage of a group member.
type NodeStatus int

const (
	StatusInitial NodeStatus = iota
	StatusActive
	StatusUpdatingMembership
	StatusTerminatingGroup
	StatusTerminated
)

func (s NodeStatus) String() string {
	switch s {
	case StatusInitial:
		return "Initial"
	case StatusActive:
		return "Active"
	case StatusUpdatingMembership:
		return "UpdatingMembership"
	case StatusTerminatingGroup:
		return "TerminatingGroup"
	case StatusTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Role is the Raft role a node currently plays.
type Role int

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
	RoleLearner
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	case RoleLearner:
		return "Learner"
	default:
		return "Unknown"
	}
}
