package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupMembersQuorumSize(t *testing.T) {
	g := GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	assert.Equal(t, 2, g.QuorumSize())

	g2 := GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}}
	assert.Equal(t, 3, g2.QuorumSize())
}

func TestMembershipCoordinatorRejectsConcurrentChange(t *testing.T) {
	initial := &GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	mc := newMembershipCoordinator(initial)

	next := &GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}}
	require.NoError(t, mc.beginChange(0, next))
	mc.markInFlight(5, next)

	next2 := &GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}}}
	err := mc.beginChange(0, next2)
	assert.ErrorIs(t, err, ErrCannotReplicate)
}

func TestMembershipCoordinatorRejectsStaleExpectedIndex(t *testing.T) {
	initial := &GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	mc := newMembershipCoordinator(initial)
	mc.committedAtIndex = 10

	next := &GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}}}
	err := mc.beginChange(3, next)
	require.Error(t, err)
	var iae *InvalidArgumentError
	assert.ErrorAs(t, err, &iae)
}

func TestMembershipCoordinatorCommitCompletesChange(t *testing.T) {
	initial := &GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	mc := newMembershipCoordinator(initial)

	next := &GroupMembers{Members: []Endpoint{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}}
	require.NoError(t, mc.beginChange(0, next))
	mc.markInFlight(5, next)
	mc.commit(5)

	assert.False(t, mc.changeInFlight)
	assert.Equal(t, LogIndex(5), mc.committedAtIndex)
	assert.Len(t, mc.committed.Members, 4)
}
