// Package local is an in-process raft.Transport for tests and single-
// binary demos, delivering messages by direct function call instead of
// over a network. Grounded on the teacher's pkg/rpc/transport.go
// LocalTransport (register/disconnect/partition/latency).
package local

import (
	"context"
	"sync"
	"time"

	"github.com/quorumdb/raft/pkg/raft"
)

type receiver interface {
	HandleMessage(ctx context.Context, from raft.Endpoint, msg raft.Message)
}

// Network is a shared in-process message fabric. Multiple Transport
// values (one per node) register against the same Network so they can
// reach each other.
type Network struct {
	mu         sync.Mutex
	receivers  map[string]receiver
	disconnect map[string]map[string]bool
	latency    time.Duration
}

func NewNetwork() *Network {
	return &Network{
		receivers:  make(map[string]receiver),
		disconnect: make(map[string]map[string]bool),
	}
}

func (n *Network) Register(id string, r receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers[id] = r
}

// SetLatency applies a fixed delivery delay to every send, simulating
// network latency in demos/tests that want it.
func (n *Network) SetLatency(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latency = d
}

// Disconnect drops messages between a and b in both directions until
// Connect is called.
func (n *Network) Disconnect(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setLinkLocked(a, b, true)
	n.setLinkLocked(b, a, true)
}

func (n *Network) Connect(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setLinkLocked(a, b, false)
	n.setLinkLocked(b, a, false)
}

func (n *Network) setLinkLocked(from, to string, down bool) {
	m, ok := n.disconnect[from]
	if !ok {
		m = make(map[string]bool)
		n.disconnect[from] = m
	}
	m[to] = down
}

func (n *Network) isDown(from, to string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.disconnect[from][to]
}

func (n *Network) dispatch(from, to string, msg raft.Message) {
	n.mu.Lock()
	r, ok := n.receivers[to]
	latency := n.latency
	n.mu.Unlock()
	if !ok {
		return
	}
	fromEp := raft.Endpoint{ID: from}
	if latency > 0 {
		time.Sleep(latency)
	}
	r.HandleMessage(context.Background(), fromEp, msg)
}

// Transport is one node's raft.Transport handle onto a shared Network.
type Transport struct {
	id      string
	network *Network
}

var _ raft.Transport = (*Transport)(nil)

func NewTransport(id string, network *Network, r receiver) *Transport {
	network.Register(id, r)
	return &Transport{id: id, network: network}
}

func (t *Transport) Send(ctx context.Context, to raft.Endpoint, msg raft.Message) error {
	if t.network.isDown(t.id, to.ID) {
		return nil
	}
	go t.network.dispatch(t.id, to.ID, msg)
	return nil
}
