package simulate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quorumdb/raft/pkg/kv"
	"github.com/quorumdb/raft/pkg/raft"
	"github.com/quorumdb/raft/pkg/store/memory"
)

// ClusterNode bundles everything a single simulated node needs.
type ClusterNode struct {
	ID    string
	Node  *raft.Node
	Group *raft.Group
	Store *kv.Store
}

// Cluster is a multi-node in-memory Raft deployment wired through a
// DeterministicTransport, for scenario tests exercising the
// properties in spec.md §8. Grounded directly on teacher
// pkg/testing/cluster.go's TestCluster.
type Cluster struct {
	Nodes     []*ClusterNode
	Transport *DeterministicTransport
	Clock     *ManualClock
}

// NewCluster builds an n-node cluster, each backed by a memory.Store
// and a kv.Store state machine, wired through a shared
// DeterministicTransport with seed for reproducibility.
func NewCluster(ctx context.Context, n int, seed int64, config raft.Config) (*Cluster, error) {
	transport := NewDeterministicTransport(seed)
	clock := NewManualClock(time.Unix(0, 0))

	members := &raft.GroupMembers{}
	eps := make([]raft.Endpoint, n)
	for i := 0; i < n; i++ {
		eps[i] = raft.Endpoint{ID: fmt.Sprintf("sim-node-%d", i), Address: fmt.Sprintf("sim://node-%d", i)}
	}
	members.Members = eps

	c := &Cluster{Transport: transport, Clock: clock}
	for i := 0; i < n; i++ {
		st := memory.New()
		if err := st.PersistInitialMembers(ctx, members); err != nil {
			return nil, err
		}
		sm := kv.NewStore()
		rng := PinnedRandom{Value: i * 37}
		tr := transport.TransportFor(eps[i].ID)
		node, err := raft.NewNode(ctx, eps[i], config, st, sm, tr, clock, rng, members, zap.NewNop().Sugar())
		if err != nil {
			return nil, err
		}
		group := raft.NewGroup(node, time.Millisecond, clock, zap.NewNop().Sugar())
		transport.Register(eps[i].ID, group)
		c.Nodes = append(c.Nodes, &ClusterNode{ID: eps[i].ID, Node: node, Group: group, Store: sm})
	}
	return c, nil
}

// AdvanceTime moves the shared clock forward by d; the Group
// goroutines observe it on their next Tick.
func (c *Cluster) AdvanceTime(d time.Duration) {
	c.Clock.Advance(d)
}

// Leader returns the first node currently reporting RoleLeader, if
// any.
func (c *Cluster) Leader(ctx context.Context) (*ClusterNode, bool) {
	for _, n := range c.Nodes {
		r, err := n.Group.Report(ctx)
		if err == nil && r.Role == raft.RoleLeader && r.Status != raft.StatusTerminated {
			return n, true
		}
	}
	return nil, false
}

// WaitForLeader polls until a leader emerges or maxIterations elapse,
// advancing the clock by step each iteration. Grounded on teacher
// pkg/testing/simulator.go's WaitForLeader.
func (c *Cluster) WaitForLeader(ctx context.Context, step time.Duration, maxIterations int) (*ClusterNode, bool) {
	for i := 0; i < maxIterations; i++ {
		if n, ok := c.Leader(ctx); ok {
			return n, true
		}
		c.AdvanceTime(step)
		time.Sleep(time.Millisecond)
	}
	return c.Leader(ctx)
}

// Stop halts every node's Group goroutine.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		n.Group.Stop()
	}
}
