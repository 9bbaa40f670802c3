package simulate

import "sync"

// OpType distinguishes a read from a write in a recorded history.
type OpType int

const (
	OpRead OpType = iota
	OpWrite
)

// Operation is one client operation's invocation/completion record.
// Grounded directly on teacher pkg/testing/linearizability_checker.go's
// Operation.
type Operation struct {
	ID        int
	Type      OpType
	Key       string
	Value     string
	ReadValue string
	Success   bool
}

// LinearizabilityChecker performs a Jepsen-style single-key check:
// every successful read's value must belong to the set of values
// written to that key up to that point in the recorded history.
// Grounded directly on teacher
// pkg/testing/linearizability_checker.go's JepsenStyleChecker.
type LinearizabilityChecker struct {
	mu  sync.Mutex
	ops []Operation
}

func NewLinearizabilityChecker() *LinearizabilityChecker {
	return &LinearizabilityChecker{}
}

func (c *LinearizabilityChecker) RecordWrite(key, value string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, Operation{ID: len(c.ops), Type: OpWrite, Key: key, Value: value, Success: success})
}

func (c *LinearizabilityChecker) RecordRead(key, readValue string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, Operation{ID: len(c.ops), Type: OpRead, Key: key, ReadValue: readValue, Success: success})
}

// CheckLinearizability walks the recorded history in order and flags
// any successful read whose value was never written to that key by a
// successful write recorded earlier.
func (c *LinearizabilityChecker) CheckLinearizability() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	written := make(map[string]map[string]bool)
	var violations []Violation
	for _, op := range c.ops {
		switch op.Type {
		case OpWrite:
			if !op.Success {
				continue
			}
			m, ok := written[op.Key]
			if !ok {
				m = make(map[string]bool)
				written[op.Key] = m
			}
			m[op.Value] = true
		case OpRead:
			if !op.Success {
				continue
			}
			if !written[op.Key][op.ReadValue] {
				violations = append(violations, Violation{
					Type:        "Linearizability",
					Description: "read of key " + op.Key + " returned a value never written before it",
				})
			}
		}
	}
	return violations
}

func (c *LinearizabilityChecker) Operations() []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Operation(nil), c.ops...)
}
