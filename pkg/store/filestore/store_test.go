package filestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumdb/raft/pkg/raft"
)

func TestFilestoreRecoversAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := New(dir)
	_, _, _, _, _, _, _, err := s.Open(ctx)
	require.NoError(t, err)

	members := &raft.GroupMembers{Members: []raft.Endpoint{{ID: "a"}, {ID: "b"}}}
	require.NoError(t, s.PersistInitialMembers(ctx, members))
	require.NoError(t, s.PersistTerm(ctx, 3, "a"))
	require.NoError(t, s.PersistLogEntry(ctx, raft.LogEntry{Index: 1, Term: 1, Kind: raft.EntryNoop}))
	require.NoError(t, s.PersistLogEntry(ctx, raft.LogEntry{Index: 2, Term: 3, Kind: raft.EntryApply, Operation: []byte("op")}))
	require.NoError(t, s.Flush(ctx))

	s2 := New(dir)
	term, votedFor, gotMembers, entries, snapIdx, snapTerm, snapData, err := s2.Open(ctx)
	require.NoError(t, err)

	assert.Equal(t, raft.Term(3), term)
	assert.Equal(t, "a", votedFor)
	require.NotNil(t, gotMembers)
	assert.Len(t, gotMembers.Members, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, raft.LogIndex(2), entries[1].Index)
	assert.Equal(t, raft.LogIndex(0), snapIdx)
	assert.Equal(t, raft.Term(0), snapTerm)
	assert.Nil(t, snapData)
}

func TestFilestoreRecoversSnapshotAfterCompaction(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := New(dir)
	_, _, _, _, _, _, _, err := s.Open(ctx)
	require.NoError(t, err)

	for i := raft.LogIndex(1); i <= 3; i++ {
		require.NoError(t, s.PersistLogEntry(ctx, raft.LogEntry{Index: i, Term: 1}))
	}
	payload := []byte("snapshot-payload")
	require.NoError(t, s.PersistSnapshotChunk(ctx, raft.SnapshotChunk{
		SnapshotIndex: 3, SnapshotTerm: 1, ChunkIndex: 0, ChunkCount: 1, Data: payload,
	}))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.TruncateSnapshotChunksUntil(ctx, 3))

	s2 := New(dir)
	_, _, _, entries, snapIdx, snapTerm, snapData, err := s2.Open(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, raft.LogIndex(3), snapIdx)
	assert.Equal(t, raft.Term(1), snapTerm)
	assert.Equal(t, payload, snapData)
}

func TestFilestoreTruncateLogEntriesFrom(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := New(dir)
	_, _, _, _, _, _, _, err := s.Open(ctx)
	require.NoError(t, err)

	for i := raft.LogIndex(1); i <= 3; i++ {
		require.NoError(t, s.PersistLogEntry(ctx, raft.LogEntry{Index: i, Term: 1}))
	}
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.TruncateLogEntriesFrom(ctx, 2))

	s2 := New(dir)
	_, _, _, entries, _, _, _, err := s2.Open(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, raft.LogIndex(1), entries[0].Index)
}
