package simulate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumdb/raft/pkg/kv"
	"github.com/quorumdb/raft/pkg/raft"
)

func testConfig() raft.Config {
	c := raft.DefaultConfig()
	c.LeaderElectionTimeoutMinMillis = 10
	c.LeaderElectionTimeoutMaxMillis = 20
	c.LeaderHeartbeatPeriod = 3 * time.Millisecond
	c.LeaderHeartbeatTimeout = 200 * time.Millisecond
	c.CommitCountToTakeSnapshot = 5
	return c
}

func submitSet(t *testing.T, ctx context.Context, leader *raft.Group, key, value string) {
	t.Helper()
	cmd, err := kv.EncodeCommand(kv.Command{Type: kv.CommandSet, Key: key, Value: []byte(value)})
	require.NoError(t, err)
	_, err = leader.Submit(ctx, cmd)
	require.NoError(t, err)
}

func TestScenarioSingletonCommit(t *testing.T) {
	ctx := context.Background()
	c, err := NewCluster(ctx, 1, 1, testConfig())
	require.NoError(t, err)
	defer c.Stop()

	leader, ok := c.WaitForLeader(ctx, 15*time.Millisecond, 200)
	require.True(t, ok, "singleton group must elect itself leader without peer votes")

	submitSet(t, ctx, leader.Group, "k", "v")

	r, err := leader.Group.Report(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r.CommitIndex, raft.LogIndex(2)) // NewTerm entry + the Set entry
}

func TestScenarioLeaderElectionAfterLeaderLoss(t *testing.T) {
	ctx := context.Background()
	c, err := NewCluster(ctx, 3, 2, testConfig())
	require.NoError(t, err)
	defer c.Stop()

	first, ok := c.WaitForLeader(ctx, 15*time.Millisecond, 400)
	require.True(t, ok)

	c.Transport.Partition(first.ID)
	c.AdvanceTime(500 * time.Millisecond)

	deadline := time.Now().Add(3 * time.Second)
	var second *ClusterNode
	for time.Now().Before(deadline) {
		for _, n := range c.Nodes {
			if n.ID == first.ID {
				continue
			}
			r, err := n.Group.Report(ctx)
			if err == nil && r.Role == raft.RoleLeader {
				second = n
				break
			}
		}
		if second != nil {
			break
		}
		c.AdvanceTime(15 * time.Millisecond)
		time.Sleep(2 * time.Millisecond)
	}
	require.NotNil(t, second, "a surviving node must be elected after the original leader is partitioned")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestScenarioMembershipGrow(t *testing.T) {
	ctx := context.Background()
	c, err := NewCluster(ctx, 3, 3, testConfig())
	require.NoError(t, err)
	defer c.Stop()

	leader, ok := c.WaitForLeader(ctx, 15*time.Millisecond, 400)
	require.True(t, ok)

	r, err := leader.Group.Report(ctx)
	require.NoError(t, err)

	next := r.Members
	next.Members = append(append([]raft.Endpoint(nil), next.Members...), raft.Endpoint{ID: "node-extra", Address: "sim://node-extra"})

	err = leader.Group.ChangeMembership(ctx, 0, next)
	require.NoError(t, err)

	r2, err := leader.Group.Report(ctx)
	require.NoError(t, err)
	assert.Len(t, r2.Members.Members, 4)
}

func TestScenarioStaleAppendRejected(t *testing.T) {
	ctx := context.Background()
	c, err := NewCluster(ctx, 3, 4, testConfig())
	require.NoError(t, err)
	defer c.Stop()

	leader, ok := c.WaitForLeader(ctx, 15*time.Millisecond, 400)
	require.True(t, ok)
	term := mustReport(t, ctx, leader.Group).Term

	var follower *ClusterNode
	for _, n := range c.Nodes {
		if n.ID != leader.ID {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	stale := raft.Message{AppendEntriesRequest: &raft.AppendEntriesRequest{
		Term:     term - 1,
		LeaderID: leader.ID,
	}}
	// term-1 underflows to a very large Term when term==0, which cannot
	// happen once a leader exists (winning an election bumps term to >=1).
	follower.Group.HandleMessage(ctx, raft.Endpoint{ID: leader.ID}, stale)

	time.Sleep(20 * time.Millisecond)
	r, err := follower.Group.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, term, r.Term, "a stale-term AppendEntries must not change the follower's term")
}

// TestScenarioSnapshotCatchUp exercises spec.md §4.5.5 end to end: a
// partitioned follower falls far enough behind that the leader
// compacts its log past the follower's nextIndex, so rejoining forces
// an InstallSnapshot chunk transfer rather than ordinary AppendEntries
// catch-up.
func TestScenarioSnapshotCatchUp(t *testing.T) {
	ctx := context.Background()
	c, err := NewCluster(ctx, 3, 5, testConfig())
	require.NoError(t, err)
	defer c.Stop()

	leader, ok := c.WaitForLeader(ctx, 15*time.Millisecond, 400)
	require.True(t, ok)

	var follower *ClusterNode
	for _, n := range c.Nodes {
		if n.ID != leader.ID {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	c.Transport.Partition(follower.ID)
	c.AdvanceTime(50 * time.Millisecond)

	const keyCount = 25 // well past CommitCountToTakeSnapshot=5, several compactions
	for i := 0; i < keyCount; i++ {
		submitSet(t, ctx, leader.Group, fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}

	r, err := leader.Group.Report(ctx)
	require.NoError(t, err)
	require.Greater(t, r.CommitIndex, raft.LogIndex(keyCount), "leader must have compacted past the follower's stale nextIndex")

	c.Transport.Heal(follower.ID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && follower.Store.Size() < keyCount {
		c.AdvanceTime(15 * time.Millisecond)
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, keyCount, follower.Store.Size(), "follower must catch up via InstallSnapshot after healing")

	followerReport, err := follower.Group.Report(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, followerReport.CommitIndex, r.CommitIndex, "follower's commit index must converge with the leader's")
}

func mustReport(t *testing.T, ctx context.Context, g *raft.Group) raft.RaftNodeReport {
	t.Helper()
	r, err := g.Report(ctx)
	require.NoError(t, err)
	return r
}
