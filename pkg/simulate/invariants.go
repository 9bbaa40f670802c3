package simulate

import (
	"context"
	"fmt"
	"sync"

	"github.com/quorumdb/raft/pkg/raft"
)

// CommittedEntry is one (index, term, nodeID) observation collected
// from a node's applied log, the unit the checks below reason about.
// Grounded directly on teacher pkg/testing/invariant_checker.go's
// CommittedEntry.
type CommittedEntry struct {
	Index  raft.LogIndex
	Term   raft.Term
	NodeID string
}

// Violation describes one broken safety property.
type Violation struct {
	Type        string
	Description string
}

// InvariantChecker accumulates CommittedEntry observations from every
// node in a cluster and checks them against these invariants from
// spec.md §8: election safety, log matching / state machine safety (by
// term per committed index), monotonic commit, term consistency. It
// has no leader completeness check. Grounded directly on teacher
// pkg/testing/invariant_checker.go's InvariantChecker.
type InvariantChecker struct {
	mu          sync.Mutex
	committed   map[string][]CommittedEntry // by node ID, append-only in index order
	leaderTerms map[raft.Term]string        // term -> leader ID, for election safety
	violations  []Violation
}

func NewInvariantChecker() *InvariantChecker {
	return &InvariantChecker{
		committed:   make(map[string][]CommittedEntry),
		leaderTerms: make(map[raft.Term]string),
	}
}

func (c *InvariantChecker) RecordCommit(nodeID string, index raft.LogIndex, term raft.Term) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed[nodeID] = append(c.committed[nodeID], CommittedEntry{Index: index, Term: term, NodeID: nodeID})
}

// RecordLeader records that nodeID believes itself leader in term;
// used by checkElectionSafety to flag two simultaneous leaders in one
// term.
func (c *InvariantChecker) RecordLeader(nodeID string, term raft.Term) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.leaderTerms[term]; ok && existing != nodeID {
		c.violations = append(c.violations, Violation{
			Type:        "ElectionSafety",
			Description: fmt.Sprintf("term %d has two leaders: %s and %s", term, existing, nodeID),
		})
		return
	}
	c.leaderTerms[term] = nodeID
}

// CollectFromCluster walks every node's current report and records its
// leadership claim. It does not record committed entries; those are
// fed in with RecordCommit. Grounded on teacher
// pkg/testing/invariant_checker.go's CollectFromNodes.
func (c *InvariantChecker) CollectFromCluster(ctx context.Context, cluster *Cluster) {
	for _, n := range cluster.Nodes {
		r, err := n.Group.Report(ctx)
		if err != nil {
			continue
		}
		if r.Role == raft.RoleLeader {
			c.RecordLeader(n.ID, r.Term)
		}
	}
}

// CheckSafetyInvariants runs every check and returns accumulated
// violations (including any recorded earlier via RecordLeader).
func (c *InvariantChecker) CheckSafetyInvariants() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	violations := append([]Violation(nil), c.violations...)
	violations = append(violations, c.checkLogMatchingSafety()...)
	violations = append(violations, c.checkMonotonicCommit()...)
	violations = append(violations, c.checkTermConsistency()...)
	return violations
}

// checkLogMatchingSafety verifies that whenever two nodes have
// committed an entry at the same index, its term agrees (the Raft Log
// Matching Property extended to committed entries, i.e. State Machine
// Safety). Grounded directly on teacher's checkLogMatchingSafety.
func (c *InvariantChecker) checkLogMatchingSafety() []Violation {
	byIndex := make(map[raft.LogIndex]map[raft.Term][]string)
	for node, entries := range c.committed {
		for _, e := range entries {
			m, ok := byIndex[e.Index]
			if !ok {
				m = make(map[raft.Term][]string)
				byIndex[e.Index] = m
			}
			m[e.Term] = append(m[e.Term], node)
		}
	}
	var out []Violation
	for idx, terms := range byIndex {
		if len(terms) > 1 {
			out = append(out, Violation{
				Type:        "LogMatchingSafety",
				Description: fmt.Sprintf("index %d committed with conflicting terms: %v", idx, terms),
			})
		}
	}
	return out
}

// checkMonotonicCommit verifies each node's own commit sequence is
// non-decreasing in index. Grounded directly on teacher's
// checkMonotonicCommit.
func (c *InvariantChecker) checkMonotonicCommit() []Violation {
	var out []Violation
	for node, entries := range c.committed {
		for i := 1; i < len(entries); i++ {
			if entries[i].Index < entries[i-1].Index {
				out = append(out, Violation{
					Type:        "MonotonicCommit",
					Description: fmt.Sprintf("node %s commit index regressed from %d to %d", node, entries[i-1].Index, entries[i].Index),
				})
			}
		}
	}
	return out
}

// checkTermConsistency verifies that within one node's committed
// sequence, term never decreases as index increases. Grounded directly
// on teacher's checkTermConsistency.
func (c *InvariantChecker) checkTermConsistency() []Violation {
	var out []Violation
	for node, entries := range c.committed {
		for i := 1; i < len(entries); i++ {
			if entries[i].Term < entries[i-1].Term {
				out = append(out, Violation{
					Type:        "TermConsistency",
					Description: fmt.Sprintf("node %s term regressed from %d to %d between indexes %d and %d", node, entries[i-1].Term, entries[i].Term, entries[i-1].Index, entries[i].Index),
				})
			}
		}
	}
	return out
}

// Clear resets all recorded observations.
func (c *InvariantChecker) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = make(map[string][]CommittedEntry)
	c.leaderTerms = make(map[raft.Term]string)
	c.violations = nil
}
