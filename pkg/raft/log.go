package raft

// RaftLog is the in-memory window of LogEntry values not yet subsumed
// by a snapshot. Entries below snapshotIndex have been compacted away;
// their term is remembered as snapshotTerm so AppendEntries consistency
// checks still work at the snapshot boundary.
type RaftLog struct {
	entries       []LogEntry // entries[i] has Index == snapshotIndex+1+i
	snapshotIndex LogIndex
	snapshotTerm  Term
}

func newRaftLog() *RaftLog {
	return &RaftLog{}
}

// LastIndex is the index of the last entry in the log, or the snapshot
// index if the log holds no entries beyond the snapshot.
func (l *RaftLog) LastIndex() LogIndex {
	if len(l.entries) == 0 {
		return l.snapshotIndex
	}
	return l.entries[len(l.entries)-1].Index
}

// LastTerm is the term of LastIndex.
func (l *RaftLog) LastTerm() Term {
	if len(l.entries) == 0 {
		return l.snapshotTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// SnapshotIndex and SnapshotTerm describe the compaction boundary.
func (l *RaftLog) SnapshotIndex() LogIndex { return l.snapshotIndex }
func (l *RaftLog) SnapshotTerm() Term      { return l.snapshotTerm }

func (l *RaftLog) arrayIndex(idx LogIndex) (int, bool) {
	if idx <= l.snapshotIndex {
		return 0, false
	}
	pos := int(idx-l.snapshotIndex) - 1
	if pos < 0 || pos >= len(l.entries) {
		return 0, false
	}
	return pos, true
}

// TermAt returns the term of the entry at idx, or (0, false) if idx is
// outside the retained window (but not necessarily invalid: idx ==
// snapshotIndex resolves via snapshotTerm).
func (l *RaftLog) TermAt(idx LogIndex) (Term, bool) {
	if idx == l.snapshotIndex {
		return l.snapshotTerm, true
	}
	if pos, ok := l.arrayIndex(idx); ok {
		return l.entries[pos].Term, true
	}
	return 0, false
}

// EntryAt returns the entry at idx, if retained.
func (l *RaftLog) EntryAt(idx LogIndex) (LogEntry, bool) {
	if pos, ok := l.arrayIndex(idx); ok {
		return l.entries[pos], true
	}
	return LogEntry{}, false
}

// Append adds entries to the tail of the log. Callers are responsible
// for persisting them via Store before they are considered durable.
func (l *RaftLog) Append(entries ...LogEntry) {
	l.entries = append(l.entries, entries...)
}

// TruncateFrom discards every entry at or after idx, used when a
// follower's log conflicts with the leader's.
func (l *RaftLog) TruncateFrom(idx LogIndex) {
	pos, ok := l.arrayIndex(idx)
	if !ok {
		if idx > l.LastIndex() {
			return
		}
		pos = 0
	}
	l.entries = l.entries[:pos]
}

// EntriesFrom returns a copy of entries[from:] (from inclusive), capped
// at max entries (0 means unlimited).
func (l *RaftLog) EntriesFrom(from LogIndex, max int) []LogEntry {
	pos, ok := l.arrayIndex(from)
	if !ok {
		if from <= l.snapshotIndex {
			pos = 0
		} else {
			return nil
		}
	}
	end := len(l.entries)
	if max > 0 && pos+max < end {
		end = pos + max
	}
	out := make([]LogEntry, end-pos)
	copy(out, l.entries[pos:end])
	return out
}

// IsUpToDate reports whether a candidate's (lastIndex, lastTerm) is at
// least as up to date as this log, per the Raft election restriction.
func (l *RaftLog) IsUpToDate(lastIndex LogIndex, lastTerm Term) bool {
	myTerm := l.LastTerm()
	if lastTerm != myTerm {
		return lastTerm > myTerm
	}
	return lastIndex >= l.LastIndex()
}

// CompactThrough drops all entries up to and including idx, recording
// term as the new snapshot boundary term. Called after a snapshot has
// been durably persisted through idx.
func (l *RaftLog) CompactThrough(idx LogIndex, term Term) {
	if idx <= l.snapshotIndex {
		return
	}
	if pos, ok := l.arrayIndex(idx); ok {
		l.entries = append([]LogEntry(nil), l.entries[pos+1:]...)
	} else {
		l.entries = nil
	}
	l.snapshotIndex = idx
	l.snapshotTerm = term
}
