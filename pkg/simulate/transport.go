package simulate

import (
	"context"
	"math/rand"
	"sync"

	"github.com/quorumdb/raft/pkg/raft"
)

type receiver interface {
	HandleMessage(ctx context.Context, from raft.Endpoint, msg raft.Message)
}

// NetworkCondition describes the fault behavior of the link between
// two nodes. Grounded directly on teacher pkg/testing/simulator.go's
// NetworkCondition.
type NetworkCondition struct {
	DropRate    float64
	Partitioned bool
}

// MessageRecord is one entry in a DeterministicTransport's delivery
// history, used by tests to assert on message flow. Grounded on
// teacher pkg/testing/simulator.go's MessageRecord.
type MessageRecord struct {
	From      string
	To        string
	Delivered bool
	Dropped   bool
}

// DeterministicTransport is a fault-injecting raft.Transport shared by
// every node in a simulated cluster: it can drop messages by rate,
// partition nodes from each other, and records every attempted send.
// Grounded directly on teacher pkg/testing/simulator.go's
// DeterministicTransport.
type DeterministicTransport struct {
	mu         sync.Mutex
	receivers  map[string]receiver
	conditions map[string]map[string]*NetworkCondition
	rng        *rand.Rand
	history    []MessageRecord
}

func NewDeterministicTransport(seed int64) *DeterministicTransport {
	return &DeterministicTransport{
		receivers:  make(map[string]receiver),
		conditions: make(map[string]map[string]*NetworkCondition),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (t *DeterministicTransport) Register(id string, r receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receivers[id] = r
}

func (t *DeterministicTransport) SetNetworkCondition(from, to string, c NetworkCondition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.conditions[from]
	if !ok {
		m = make(map[string]*NetworkCondition)
		t.conditions[from] = m
	}
	cc := c
	m[to] = &cc
}

// Partition marks nodeID as unreachable from, and unable to reach,
// every other registered node.
func (t *DeterministicTransport) Partition(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for other := range t.receivers {
		if other == nodeID {
			continue
		}
		t.setConditionLocked(nodeID, other, true)
		t.setConditionLocked(other, nodeID, true)
	}
}

func (t *DeterministicTransport) Heal(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for other := range t.receivers {
		if other == nodeID {
			continue
		}
		t.setConditionLocked(nodeID, other, false)
		t.setConditionLocked(other, nodeID, false)
	}
}

func (t *DeterministicTransport) HealAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for from, m := range t.conditions {
		for to := range m {
			t.setConditionLocked(from, to, false)
		}
	}
}

func (t *DeterministicTransport) setConditionLocked(from, to string, partitioned bool) {
	m, ok := t.conditions[from]
	if !ok {
		m = make(map[string]*NetworkCondition)
		t.conditions[from] = m
	}
	c, ok := m[to]
	if !ok {
		c = &NetworkCondition{}
		m[to] = c
	}
	c.Partitioned = partitioned
}

func (t *DeterministicTransport) shouldDrop(from, to string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conditions[from][to]
	if !ok {
		return false
	}
	if c.Partitioned {
		return true
	}
	if c.DropRate > 0 && t.rng.Float64() < c.DropRate {
		return true
	}
	return false
}

func (t *DeterministicTransport) record(from, to string, dropped bool) {
	t.mu.Lock()
	t.history = append(t.history, MessageRecord{From: from, To: to, Delivered: !dropped, Dropped: dropped})
	t.mu.Unlock()
}

// GetMessageHistory returns every send attempted so far.
func (t *DeterministicTransport) GetMessageHistory() []MessageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]MessageRecord(nil), t.history...)
}

// TransportFor returns a raft.Transport bound to nodeID, sending
// through this shared fabric.
func (t *DeterministicTransport) TransportFor(nodeID string) raft.Transport {
	return &boundTransport{id: nodeID, net: t}
}

type boundTransport struct {
	id  string
	net *DeterministicTransport
}

func (b *boundTransport) Send(ctx context.Context, to raft.Endpoint, msg raft.Message) error {
	drop := b.net.shouldDrop(b.id, to.ID)
	b.net.record(b.id, to.ID, drop)
	if drop {
		return nil
	}
	b.net.mu.Lock()
	r, ok := b.net.receivers[to.ID]
	b.net.mu.Unlock()
	if !ok {
		return raft.ErrUnknownNode
	}
	go r.HandleMessage(context.Background(), raft.Endpoint{ID: b.id}, msg)
	return nil
}
