// Package filestore is a durable raft.Store backed by a single
// append-mostly log file, a small state file, and a snapshot file,
// using the same CRC32-checksummed record framing as the teacher's
// WAL for the log. Grounded directly on the teacher's pkg/wal/wal.go,
// adapted from one Save(term, votedFor, entries) call that rewrites
// the whole file on every change into the Store interface's
// incremental persist calls: log entries are appended as framed
// records, the term/votedFor/members header is rewritten wholesale on
// change, and a complete snapshot is written to its own file once all
// of its chunks have arrived so log compaction can never discard it.
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/quorumdb/raft/pkg/raft"
)

const (
	logFileName      = "raft.log"
	stateFileName    = "raft.state"
	snapshotFileName = "raft.snapshot"
	recordHeaderSize = 8 // 4-byte CRC32 + 4-byte length, matching the teacher's record format
)

// persistedState is the small header file holding term/votedFor/
// members/snapshot boundary, rewritten wholesale on every PersistTerm
// or PersistInitialMembers call — rare compared to log appends, so a
// full rewrite is cheap, exactly as in the teacher's wal.go.
type persistedState struct {
	Term          raft.Term
	VotedFor      string
	Members       *raft.GroupMembers
	SnapshotIndex raft.LogIndex
	SnapshotTerm  raft.Term
}

// record is one framed LogEntry in the log file. Snapshot chunks are
// never written here: they live in their own durable snapshot file (see
// persistedSnapshot) so log compaction can never discard them.
type record struct {
	Entry raft.LogEntry
}

// persistedSnapshot is the whole-file contents of raft.snapshot: the
// latest complete local-or-installed snapshot, assembled from its
// chunks and written atomically once all chunks have arrived.
type persistedSnapshot struct {
	Index raft.LogIndex
	Term  raft.Term
	Data  []byte
}

// Store is a raft.Store durable across process restarts.
type Store struct {
	mu      sync.Mutex
	dir     string
	logPath string
	logFile *os.File
	state   persistedState

	entries       []raft.LogEntry // mirrors on-disk content for TruncateLogEntriesFrom bookkeeping
	pendingWrites [][]byte        // buffered encoded records awaiting Flush

	chunkBuf      map[int][]byte // chunks of the snapshot currently being assembled
	chunkBufIndex raft.LogIndex
	chunkBufCount int

	pendingSnapshot *persistedSnapshot // assembled, durably written on the next Flush
}

var _ raft.Store = (*Store)(nil)

// New returns a Store rooted at dir. Open creates dir if needed.
func New(dir string) *Store {
	return &Store{dir: dir, logPath: filepath.Join(dir, logFileName)}
}

func (s *Store) statePath() string    { return filepath.Join(s.dir, stateFileName) }
func (s *Store) snapshotPath() string { return filepath.Join(s.dir, snapshotFileName) }

// Open recovers previously persisted state, if any, and leaves the log
// file open for appending. The returned snapshotData is the payload of
// the latest complete snapshot written by a prior PersistSnapshotChunk
// sequence followed by Flush, or nil if none has ever completed.
func (s *Store) Open(ctx context.Context) (raft.Term, string, *raft.GroupMembers, []raft.LogEntry, raft.LogIndex, raft.Term, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: mkdir: %w", err)
	}

	if data, err := os.ReadFile(s.statePath()); err == nil {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s.state); err != nil {
			return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: decode state: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: read state: %w", err)
	}

	var snapshotData []byte
	if data, err := os.ReadFile(s.snapshotPath()); err == nil {
		var ps persistedSnapshot
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ps); err != nil {
			return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: decode snapshot: %w", err)
		}
		snapshotData = ps.Data
	} else if !os.IsNotExist(err) {
		return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: read snapshot: %w", err)
	}

	f, err := os.OpenFile(s.logPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: open log: %w", err)
	}
	s.logFile = f

	recs, err := readRecords(f)
	if err != nil {
		return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: read log: %w", err)
	}
	for _, r := range recs {
		s.entries = append(s.entries, r.Entry)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return 0, "", nil, nil, 0, 0, nil, fmt.Errorf("filestore: seek log: %w", err)
	}

	entries := append([]raft.LogEntry(nil), s.entries...)
	return s.state.Term, s.state.VotedFor, s.state.Members, entries, s.state.SnapshotIndex, s.state.SnapshotTerm, snapshotData, nil
}

func readRecords(f *os.File) ([]record, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r := bufio.NewReader(f)
	var out []record
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				break
			}
			return out, nil // truncated trailing record: stop, keep what we have (matches teacher's tolerant recovery)
		}
		crc := binary.BigEndian.Uint32(header[:4])
		length := binary.BigEndian.Uint32(header[4:])
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			break
		}
		if crc32.ChecksumIEEE(buf) != crc {
			break
		}
		var rec record
		if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&rec); err != nil {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func encodeRecord(rec record) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(rec); err != nil {
		return nil, err
	}
	body := payload.Bytes()
	header := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint32(header[:4], crc32.ChecksumIEEE(body))
	binary.BigEndian.PutUint32(header[4:], uint32(len(body)))
	return append(header, body...), nil
}

func (s *Store) writeState() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.state); err != nil {
		return err
	}
	tmp := s.statePath() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath())
}

func (s *Store) PersistInitialMembers(ctx context.Context, members *raft.GroupMembers) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Members = members
	return s.writeState()
}

func (s *Store) PersistTerm(ctx context.Context, term raft.Term, votedFor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Term = term
	s.state.VotedFor = votedFor
	return s.writeState()
}

func (s *Store) PersistLogEntry(ctx context.Context, entry raft.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := encodeRecord(record{Entry: entry})
	if err != nil {
		return err
	}
	s.pendingWrites = append(s.pendingWrites, enc)
	s.entries = append(s.entries, entry)
	return nil
}

// PersistSnapshotChunk buffers chunk in memory, keyed by ChunkIndex; it
// becomes durable only once every chunk of its SnapshotIndex generation
// has arrived and Flush is next called, avoiding a half-written
// snapshot file on crash.
func (s *Store) PersistSnapshotChunk(ctx context.Context, chunk raft.SnapshotChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunkBuf == nil || s.chunkBufIndex != chunk.SnapshotIndex {
		s.chunkBuf = make(map[int][]byte, chunk.ChunkCount)
		s.chunkBufIndex = chunk.SnapshotIndex
		s.chunkBufCount = chunk.ChunkCount
	}
	s.chunkBuf[chunk.ChunkIndex] = chunk.Data
	if len(s.chunkBuf) != s.chunkBufCount {
		return nil
	}
	data := make([]byte, 0)
	for i := 0; i < s.chunkBufCount; i++ {
		data = append(data, s.chunkBuf[i]...)
	}
	s.pendingSnapshot = &persistedSnapshot{Index: chunk.SnapshotIndex, Term: chunk.SnapshotTerm, Data: data}
	s.chunkBuf = nil
	return nil
}

// TruncateLogEntriesFrom rewrites the log file keeping only entries
// with Index < idx, matching the teacher's TruncateAfter semantics but
// named (and indexed) per spec.md's Store contract.
func (s *Store) TruncateLogEntriesFrom(ctx context.Context, idx raft.LogIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []raft.LogEntry
	for _, e := range s.entries {
		if e.Index >= idx {
			break
		}
		kept = append(kept, e)
	}
	s.entries = kept
	s.pendingWrites = nil
	return s.rewriteLogLocked()
}

// TruncateSnapshotChunksUntil compacts the log file, dropping entries
// at or before idx now that a snapshot covering them is durable on
// disk (in raft.snapshot, written by Flush, independent of this file).
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
	return s.rewriteLogLocked()
}

func (s *Store) rewriteLogLocked() error {
	if err := s.logFile.Truncate(0); err != nil {
		return err
	}
	if _, err := s.logFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, e := range s.entries {
		enc, err := encodeRecord(record{Entry: e})
		if err != nil {
			return err
		}
		buf.Write(enc)
	}
	if _, err := s.logFile.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.logFile.Sync()
}

// Flush durably writes every buffered log-entry record and fsyncs the
// log file, then (if a snapshot finished assembling since the last
// Flush) atomically writes it to raft.snapshot and updates the state
// file's snapshot boundary. This is the Node's only blocking boundary
// per spec.md §5.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingWrites) > 0 {
		for _, enc := range s.pendingWrites {
			if _, err := s.logFile.Write(enc); err != nil {
				return err
			}
		}
		s.pendingWrites = s.pendingWrites[:0]
		if err := s.logFile.Sync(); err != nil {
			return err
		}
	}
	if s.pendingSnapshot != nil {
		if err := s.writeSnapshot(s.pendingSnapshot); err != nil {
			return err
		}
		s.state.SnapshotIndex = s.pendingSnapshot.Index
		s.state.SnapshotTerm = s.pendingSnapshot.Term
		if err := s.writeState(); err != nil {
			return err
		}
		s.pendingSnapshot = nil
	}
	return nil
}

func (s *Store) writeSnapshot(ps *persistedSnapshot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ps); err != nil {
		return err
	}
	tmp := s.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath())
}

// SizeBytes implements raft.Sizer, enabling size-triggered
// snapshotting in addition to the required count-triggered path.
func (s *Store) SizeBytes() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.logFile.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
