package simulate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quorumdb/raft/pkg/raft"
)

func TestInvariantCheckerFlagsConflictingTerms(t *testing.T) {
	c := NewInvariantChecker()
	c.RecordCommit("a", 1, 1)
	c.RecordCommit("b", 1, 2)

	violations := c.CheckSafetyInvariants()
	assert.NotEmpty(t, violations)
	assert.Equal(t, "LogMatchingSafety", violations[0].Type)
}

func TestInvariantCheckerFlagsTermRegression(t *testing.T) {
	c := NewInvariantChecker()
	c.RecordCommit("a", 1, 5)
	c.RecordCommit("a", 2, 3)

	violations := c.CheckSafetyInvariants()
	found := false
	for _, v := range violations {
		if v.Type == "TermConsistency" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestInvariantCheckerFlagsTwoLeadersInOneTerm(t *testing.T) {
	c := NewInvariantChecker()
	c.RecordLeader("a", 1)
	c.RecordLeader("b", 1)

	violations := c.CheckSafetyInvariants()
	found := false
	for _, v := range violations {
		if v.Type == "ElectionSafety" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestLinearizabilityCheckerFlagsPhantomRead(t *testing.T) {
	c := NewLinearizabilityChecker()
	c.RecordWrite("k", "v1", true)
	c.RecordRead("k", "v1", true)
	c.RecordRead("k", "ghost", true)

	violations := c.CheckLinearizability()
	assert.Len(t, violations, 1)
	assert.Equal(t, "Linearizability", violations[0].Type)
}

func TestDeterministicTransportDropsOnPartition(t *testing.T) {
	tr := NewDeterministicTransport(1)
	tr.Register("a", noopReceiver{})
	tr.Register("b", noopReceiver{})
	tr.Partition("a")

	_ = tr.TransportFor("a").Send(context.Background(), raft.Endpoint{ID: "b"}, raft.Message{})
	history := tr.GetMessageHistory()
	if assert.Len(t, history, 1) {
		assert.True(t, history[0].Dropped)
	}
}

type noopReceiver struct{}

func (noopReceiver) HandleMessage(ctx context.Context, from raft.Endpoint, msg raft.Message) {}
