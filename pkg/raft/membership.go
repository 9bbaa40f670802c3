package raft

// GroupMembers is one membership set of a group: voting Members,
// non-voting Learners, and a Version bumped on every change.
// membershipCoordinator holds two of them: committed, the membership as
// of the highest committed EntryMembershipChange, and effective, the
// membership currently in force, which may be ahead of committed while
// a single change is being replicated but not yet committed. A second
// change cannot begin until the prior one's effective set has itself
// committed.
type GroupMembers struct {
	Members  []Endpoint
	Learners []Endpoint
	Version  uint64
}

func (g GroupMembers) clone() *GroupMembers {
	out := GroupMembers{Version: g.Version}
	out.Members = append(out.Members, g.Members...)
	out.Learners = append(out.Learners, g.Learners...)
	return &out
}

// Voters returns the voting member set (Learners excluded).
func (g GroupMembers) Voters() []Endpoint {
	return g.Members
}

// QuorumSize is the majority size over the voting members.
func (g GroupMembers) QuorumSize() int {
	return len(g.Members)/2 + 1
}

// Contains reports whether id is a voting member or learner.
func (g GroupMembers) Contains(id string) bool {
	for _, e := range g.Members {
		if e.ID == id {
			return true
		}
	}
	for _, e := range g.Learners {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (g GroupMembers) IsVoter(id string) bool {
	for _, e := range g.Members {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (g GroupMembers) endpoint(id string) (Endpoint, bool) {
	for _, e := range g.Members {
		if e.ID == id {
			return e, true
		}
	}
	for _, e := range g.Learners {
		if e.ID == id {
			return e, true
		}
	}
	return Endpoint{}, false
}

// membershipCoordinator enforces the single-server-at-a-time invariant
// from spec.md §4.5.6: a new ChangeMembership call is rejected while a
// previously submitted EntryMembershipChange has not yet committed, and
// every submission is validated against the caller's
// expectedGroupMembersCommitIndex so stale callers fail fast instead of
// racing a change they never saw.
type membershipCoordinator struct {
	committed          *GroupMembers
	committedAtIndex   LogIndex
	effective          *GroupMembers
	changeInFlight     bool
	changeLogIndex     LogIndex
}

func newMembershipCoordinator(initial *GroupMembers) *membershipCoordinator {
	return &membershipCoordinator{
		committed: initial.clone(),
		effective: initial.clone(),
	}
}

// beginChange validates a proposed membership change and stamps next
// with the following Version; it returns ErrCannotReplicate while a
// change is in flight and an InvalidArgumentError for a stale
// expectedCommitIndex. It does not mutate the coordinator; the caller
// (api.go's ChangeMembership) records the change with markInFlight.
func (m *membershipCoordinator) beginChange(expectedCommitIndex LogIndex, next *GroupMembers) error {
	if m.changeInFlight {
		return ErrCannotReplicate
	}
	if expectedCommitIndex != m.committedAtIndex {
		return &InvalidArgumentError{Reason: "expectedGroupMembersCommitIndex stale"}
	}
	next.Version = m.effective.Version + 1
	return nil
}

func (m *membershipCoordinator) markInFlight(idx LogIndex, next *GroupMembers) {
	m.changeInFlight = true
	m.changeLogIndex = idx
	m.effective = next.clone()
}

func (m *membershipCoordinator) abortInFlight() {
	if m.changeInFlight {
		m.effective = m.committed.clone()
		m.changeInFlight = false
		m.changeLogIndex = 0
	}
}

// commit marks the membership change at idx as committed, provided it
// matches the in-flight change. Called as the commit index advances
// past an EntryMembershipChange.
func (m *membershipCoordinator) commit(idx LogIndex) {
	if m.changeInFlight && idx == m.changeLogIndex {
		m.committed = m.effective.clone()
		m.committedAtIndex = idx
		m.changeInFlight = false
		m.changeLogIndex = 0
	}
}
