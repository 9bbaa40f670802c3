package raft

// RaftNodeReport is a point-in-time snapshot of a node's protocol
// state, published periodically per RaftNodeReportPublishPeriod and
// available on demand via Node.Report (spec.md §6).
type RaftNodeReport struct {
	ID          string
	Role        Role
	Status      NodeStatus
	Term        Term
	CommitIndex LogIndex
	LastApplied LogIndex
	LastLogIndex LogIndex
	LeaderID    string
	Members     GroupMembers
}

// Report returns the current RaftNodeReport.
func (n *Node) Report() RaftNodeReport {
	return RaftNodeReport{
		ID:           n.id,
		Role:         n.role,
		Status:       n.status,
		Term:         n.term,
		CommitIndex:  n.commitIndex,
		LastApplied:  n.lastApplied,
		LastLogIndex: n.raftLog.LastIndex(),
		LeaderID:     n.leaderID,
		Members:      *n.currentMembers(),
	}
}

// publishReport is called from Tick on the configured period and hands
// the report to the callback registered with OnReport; cmd/quorumd
// uses that callback to refresh its Prometheus gauges.
func (n *Node) publishReport() {
	if n.onReport != nil {
		n.onReport(n.Report())
	}
}

// OnReport registers a callback invoked every time a RaftNodeReport is
// published. cmd/quorumd's registerMetrics uses this to feed
// Prometheus gauges.
func (n *Node) OnReport(fn func(RaftNodeReport)) {
	n.onReport = fn
}
