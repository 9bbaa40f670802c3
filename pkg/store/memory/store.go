// Package memory is a volatile raft.Store used by tests and the
// deterministic simulator, where durability across process restarts is
// not needed. Grounded on the teacher's node.go code path that keeps
// Raft state purely in memory when no WAL is configured.
package memory

import (
	"context"
	"sync"

	"github.com/quorumdb/raft/pkg/raft"
)

// Store is a raft.Store backed by plain in-process slices and maps.
type Store struct {
	mu           sync.Mutex
	term         raft.Term
	votedFor     string
	members      *raft.GroupMembers
	entries      []raft.LogEntry
	snapIdx      raft.LogIndex
	snapTerm     raft.Term
	snapData     []byte
	pendingChunk map[int][]byte
	pendingIdx   raft.LogIndex
}

var _ raft.Store = (*Store)(nil)

func New() *Store {
	return &Store{}
}

func (s *Store) Open(ctx context.Context) (raft.Term, string, *raft.GroupMembers, []raft.LogEntry, raft.LogIndex, raft.Term, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([]raft.LogEntry(nil), s.entries...)
	return s.term, s.votedFor, s.members, entries, s.snapIdx, s.snapTerm, append([]byte(nil), s.snapData...), nil
}

func (s *Store) PersistInitialMembers(ctx context.Context, members *raft.GroupMembers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members = members
	return nil
}

func (s *Store) PersistTerm(ctx context.Context, term raft.Term, votedFor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	s.votedFor = votedFor
	return nil
}

func (s *Store) PersistLogEntry(ctx context.Context, entry raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *Store) PersistSnapshotChunk(ctx context.Context, chunk raft.SnapshotChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingChunk == nil || s.pendingIdx != chunk.SnapshotIndex {
		s.pendingChunk = make(map[int][]byte, chunk.ChunkCount)
		s.pendingIdx = chunk.SnapshotIndex
	}
	s.pendingChunk[chunk.ChunkIndex] = chunk.Data
	if len(s.pendingChunk) != chunk.ChunkCount {
		return nil
	}
	assembled := make([]byte, 0)
	for i := 0; i < chunk.ChunkCount; i++ {
		assembled = append(assembled, s.pendingChunk[i]...)
	}
	s.snapIdx = chunk.SnapshotIndex
	s.snapTerm = chunk.SnapshotTerm
	s.snapData = assembled
	s.pendingChunk = nil
	return nil
}

func (s *Store) TruncateLogEntriesFrom(ctx context.Context, idx raft.LogIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries[:0:0]
	for _, e := range s.entries {
		if e.Index >= idx {
			break
		}
		out = append(out, e)
	}
	s.entries = out
	return nil
}

func (s *Store) TruncateSnapshotChunksUntil(ctx context.Context, idx raft.LogIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []raft.LogEntry
	for _, e := range s.entries {
		if e.Index > idx {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.pendingChunk = nil
	return nil
}

func (s *Store) Flush(ctx context.Context) error { return nil }
