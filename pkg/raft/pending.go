package raft

// pendingResult is delivered to a caller blocked on Submit/Query once
// the corresponding log entry commits (or is known never to commit).
type pendingResult struct {
	value []byte
	err   error
}

// pendingEntry tracks one outstanding client operation awaiting commit,
// keyed by the log index it was appended at. Grounded on the teacher's
// pendingMu/pending map[uint64]chan ApplyResult in raft.go.
type pendingEntry struct {
	index LogIndex
	term  Term
	ch    chan pendingResult
}

// pendingTable is the Group's registry of outstanding requests. It is
// only ever touched from the single actor goroutine, so it needs no
// locking of its own.
type pendingTable struct {
	byIndex map[LogIndex]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{byIndex: make(map[LogIndex]*pendingEntry)}
}

func (p *pendingTable) register(index LogIndex, term Term) *pendingEntry {
	e := &pendingEntry{index: index, term: term, ch: make(chan pendingResult, 1)}
	p.byIndex[index] = e
	return e
}

func (p *pendingTable) resolve(index LogIndex, value []byte, err error) {
	if e, ok := p.byIndex[index]; ok {
		e.ch <- pendingResult{value: value, err: err}
		delete(p.byIndex, index)
	}
}

// resolveIndeterminate fails every pending entry whose term no longer
// matches currentTerm (a new term began while they were outstanding)
// with ErrIndeterminateState, per spec.md §7.
func (p *pendingTable) resolveIndeterminate(currentTerm Term) {
	for idx, e := range p.byIndex {
		if e.term != currentTerm {
			e.ch <- pendingResult{err: ErrIndeterminateState}
			delete(p.byIndex, idx)
		}
	}
}

func (p *pendingTable) failAll(err error) {
	for idx, e := range p.byIndex {
		e.ch <- pendingResult{err: err}
		delete(p.byIndex, idx)
	}
}
