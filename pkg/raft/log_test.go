package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaftLogAppendAndLookup(t *testing.T) {
	l := newRaftLog()
	l.Append(LogEntry{Index: 1, Term: 1, Kind: EntryNoop})
	l.Append(LogEntry{Index: 2, Term: 1, Kind: EntryApply})
	l.Append(LogEntry{Index: 3, Term: 2, Kind: EntryApply})

	assert.Equal(t, LogIndex(3), l.LastIndex())
	assert.Equal(t, Term(2), l.LastTerm())

	term, ok := l.TermAt(2)
	require.True(t, ok)
	assert.Equal(t, Term(1), term)

	_, ok = l.TermAt(99)
	assert.False(t, ok)
}

func TestRaftLogTruncateFrom(t *testing.T) {
	l := newRaftLog()
	l.Append(LogEntry{Index: 1, Term: 1}, LogEntry{Index: 2, Term: 1}, LogEntry{Index: 3, Term: 1})
	l.TruncateFrom(2)
	assert.Equal(t, LogIndex(1), l.LastIndex())
}

func TestRaftLogIsUpToDate(t *testing.T) {
	l := newRaftLog()
	l.Append(LogEntry{Index: 1, Term: 2})

	assert.True(t, l.IsUpToDate(1, 2))
	assert.True(t, l.IsUpToDate(5, 3))
	assert.False(t, l.IsUpToDate(0, 1))
	assert.False(t, l.IsUpToDate(0, 2))
}

func TestRaftLogCompactThrough(t *testing.T) {
	l := newRaftLog()
	l.Append(LogEntry{Index: 1, Term: 1}, LogEntry{Index: 2, Term: 1}, LogEntry{Index: 3, Term: 2})
	l.CompactThrough(2, 1)

	assert.Equal(t, LogIndex(2), l.SnapshotIndex())
	assert.Equal(t, Term(1), l.SnapshotTerm())
	assert.Equal(t, LogIndex(3), l.LastIndex())

	term, ok := l.TermAt(2)
	require.True(t, ok)
	assert.Equal(t, Term(1), term)
}

func TestRaftLogEntriesFromRespectsBatchSize(t *testing.T) {
	l := newRaftLog()
	for i := LogIndex(1); i <= 5; i++ {
		l.Append(LogEntry{Index: i, Term: 1})
	}
	entries := l.EntriesFrom(2, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, LogIndex(2), entries[0].Index)
	assert.Equal(t, LogIndex(3), entries[1].Index)
}
