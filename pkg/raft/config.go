package raft

import "time"

// Config holds the tunables named in spec.md §6's configuration table.
type Config struct {
	LeaderElectionTimeoutMinMillis int
	LeaderElectionTimeoutMaxMillis int
	LeaderHeartbeatPeriod          time.Duration
	LeaderHeartbeatTimeout         time.Duration
	CommitCountToTakeSnapshot      int
	MaxUncommittedLogEntryCount    int
	MaxPendingLogEntryCount        int
	AppendEntriesRequestBatchSize  int
	EnableNewTermOperation         bool
	RaftNodeReportPublishPeriod    time.Duration
	TransferSnapshotsFromFollowersEnabled bool

	// SnapshotChunkSize bounds the size of each SnapshotChunk.Data
	// produced by StateMachine.TakeSnapshot.
	SnapshotChunkSize int
}

// DefaultConfig mirrors the teacher's DefaultConfig shape (NodeConfig
// with sane timeouts for a single local cluster), extended with every
// field of the spec.md §6 configuration table that Config carries.
func DefaultConfig() Config {
	return Config{
		LeaderElectionTimeoutMinMillis:         150,
		LeaderElectionTimeoutMaxMillis:         300,
		LeaderHeartbeatPeriod:                  50 * time.Millisecond,
		LeaderHeartbeatTimeout:                 500 * time.Millisecond,
		CommitCountToTakeSnapshot:              1000,
		MaxUncommittedLogEntryCount:            10000,
		MaxPendingLogEntryCount:                1000,
		AppendEntriesRequestBatchSize:          100,
		EnableNewTermOperation:                 true,
		RaftNodeReportPublishPeriod:            5 * time.Second,
		TransferSnapshotsFromFollowersEnabled:  false,
		SnapshotChunkSize:                      1 << 20,
	}
}
