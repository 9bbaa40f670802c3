package kv

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"

	"github.com/quorumdb/raft/pkg/raft"
)

// clientSession remembers the last request a client issued so a
// retried Submit (e.g. after a leadership change left the outcome
// indeterminate) is applied at most once. Grounded directly on
// teacher pkg/kv/store.go's ClientSession.
type clientSession struct {
	LastRequestID uint64
	LastResult    Result
}

// Store is an in-memory, replicated key/value raft.StateMachine.
// Grounded on teacher pkg/kv/store.go, generalized from a concrete
// type used directly by one Raft implementation into an implementation
// of the raft.StateMachine interface so it can be swapped for another
// state machine without touching pkg/raft.
type Store struct {
	mu       sync.Mutex
	data     map[string][]byte
	sessions map[string]*clientSession
}

var _ raft.StateMachine = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		data:     make(map[string][]byte),
		sessions: make(map[string]*clientSession),
	}
}

func (s *Store) Apply(ctx context.Context, index raft.LogIndex, operation []byte) ([]byte, error) {
	cmd, err := decodeCommand(operation)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.ClientID != "" {
		if sess, ok := s.sessions[cmd.ClientID]; ok && sess.LastRequestID == cmd.RequestID {
			return encodeResult(sess.LastResult), nil
		}
	}

	var result Result
	switch cmd.Type {
	case CommandSet:
		s.data[cmd.Key] = cmd.Value
		result = Result{Found: true}
	case CommandDelete:
		_, existed := s.data[cmd.Key]
		delete(s.data, cmd.Key)
		result = Result{Found: existed}
	case CommandGet:
		v, ok := s.data[cmd.Key]
		result = Result{Found: ok, Value: v}
	}

	if cmd.ClientID != "" {
		s.sessions[cmd.ClientID] = &clientSession{LastRequestID: cmd.RequestID, LastResult: result}
	}
	return encodeResult(result), nil
}

func (s *Store) RunOperation(ctx context.Context, operation []byte) ([]byte, error) {
	cmd, err := decodeCommand(operation)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[cmd.Key]
	return encodeResult(Result{Found: ok, Value: v}), nil
}

// snapshotPayload mirrors teacher pkg/kv/store.go's anonymous
// {Data, Sessions} struct used by Snapshot/Restore.
type snapshotPayload struct {
	Data     map[string][]byte
	Sessions map[string]*clientSession
}

func (s *Store) TakeSnapshot(ctx context.Context, chunkSize int) ([][]byte, error) {
	s.mu.Lock()
	payload := snapshotPayload{Data: copyData(s.data), Sessions: copySessions(s.sessions)}
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}
	full := buf.Bytes()
	if chunkSize <= 0 {
		chunkSize = len(full)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}
	var chunks [][]byte
	for off := 0; off < len(full); off += chunkSize {
		end := off + chunkSize
		if end > len(full) {
			end = len(full)
		}
		chunks = append(chunks, full[off:end])
	}
	if len(chunks) == 0 {
		chunks = [][]byte{{}}
	}
	return chunks, nil
}

func (s *Store) InstallSnapshot(ctx context.Context, index raft.LogIndex, data []byte) error {
	var payload snapshotPayload
	if len(data) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if payload.Data == nil {
		payload.Data = make(map[string][]byte)
	}
	if payload.Sessions == nil {
		payload.Sessions = make(map[string]*clientSession)
	}
	s.data = payload.Data
	s.sessions = payload.Sessions
	return nil
}

// Size reports the number of keys currently stored, used by the
// simulation tests to check that a node has caught up.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func copyData(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func copySessions(m map[string]*clientSession) map[string]*clientSession {
	out := make(map[string]*clientSession, len(m))
	for k, v := range m {
		cp := *v
		out[k] = &cp
	}
	return out
}
