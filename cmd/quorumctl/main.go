// Command quorumctl drives a local, in-process quorumdb/raft cluster
// for scripted demos, using the local transport rather than talking to
// a running quorumd process over the network. No teacher precedent for
// a CLI exists in the retrieval pack; grounded in ChuLiYu-raft-recovery's
// spf13/cobra usage (see DESIGN.md).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quorumdb/raft/pkg/kv"
	"github.com/quorumdb/raft/pkg/raft"
	"github.com/quorumdb/raft/pkg/store/memory"
	"github.com/quorumdb/raft/pkg/transport/local"
)

func main() {
	nodes := 3
	ctx := context.Background()

	root := &cobra.Command{
		Use:   "quorumctl",
		Short: "Run an in-process quorumdb/raft cluster for a scripted demo",
	}
	root.PersistentFlags().IntVar(&nodes, "nodes", 3, "cluster size")

	demo := &cobra.Command{
		Use:   "demo",
		Short: "Start a cluster, wait for a leader, set and get one key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(ctx, nodes)
		},
	}

	root.AddCommand(demo)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDemo(ctx context.Context, n int) error {
	network := local.NewNetwork()
	config := raft.DefaultConfig()
	config.LeaderElectionTimeoutMinMillis = 100
	config.LeaderElectionTimeoutMaxMillis = 200
	config.LeaderHeartbeatPeriod = 30 * time.Millisecond

	members := &raft.GroupMembers{}
	eps := make([]raft.Endpoint, n)
	for i := 0; i < n; i++ {
		eps[i] = raft.Endpoint{ID: fmt.Sprintf("node-%d", i), Address: fmt.Sprintf("local://node-%d", i)}
	}
	members.Members = eps

	type bundle struct {
		group *raft.Group
		sm    *kv.Store
	}
	bundles := make([]*bundle, n)
	for i := 0; i < n; i++ {
		st := memory.New()
		if err := st.PersistInitialMembers(ctx, members); err != nil {
			return err
		}
		sm := kv.NewStore()
		holder := &handlerHolder{}
		transport := local.NewTransport(eps[i].ID, network, holder)
		node, err := raft.NewNode(ctx, eps[i], config, st, sm, transport, raft.SystemClock{}, raft.NewSystemRandom(int64(i)), members, zap.NewNop().Sugar())
		if err != nil {
			return err
		}
		g := raft.NewGroup(node, 10*time.Millisecond, raft.SystemClock{}, zap.NewNop().Sugar())
		holder.group = g
		bundles[i] = &bundle{group: g, sm: sm}
	}
	defer func() {
		for _, b := range bundles {
			b.group.Stop()
		}
	}()

	var leader *raft.Group
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, b := range bundles {
			r, err := b.group.Report(ctx)
			if err == nil && r.Role == raft.RoleLeader {
				leader = b.group
				break
			}
		}
		if leader != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if leader == nil {
		return fmt.Errorf("no leader elected within deadline")
	}

	clientID := uuid.NewString()
	setCmd, _ := kv.EncodeCommand(kv.Command{Type: kv.CommandSet, Key: "hello", Value: []byte("world"), ClientID: clientID, RequestID: 1})
	if _, err := leader.Submit(ctx, setCmd); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}

	getCmd, _ := kv.EncodeCommand(kv.Command{Type: kv.CommandGet, Key: "hello"})
	raw, err := leader.Query(ctx, raft.QueryLinearizable, 0, getCmd)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	result, err := kv.DecodeResult(raw)
	if err != nil {
		return err
	}
	fmt.Printf("hello = %q (found=%v)\n", string(result.Value), result.Found)
	return nil
}

type handlerHolder struct {
	group *raft.Group
}

func (h *handlerHolder) HandleMessage(ctx context.Context, from raft.Endpoint, msg raft.Message) {
	if h.group != nil {
		h.group.HandleMessage(ctx, from, msg)
	}
}
