package raft

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type inboundMessage struct {
	from Endpoint
	msg  Message
}

type submitRequest struct {
	ctx       context.Context
	operation []byte
	reply     chan pendingResult
}

type queryRequest struct {
	ctx            context.Context
	policy         QueryPolicy
	minCommitIndex LogIndex
	operation      []byte
	reply          chan pendingResult
}

type membershipRequest struct {
	ctx                 context.Context
	expectedCommitIndex LogIndex
	next                GroupMembers
	reply               chan pendingResult
}

type transferRequest struct {
	ctx    context.Context
	target string
	reply  chan error
}

type terminateRequest struct {
	ctx   context.Context
	reply chan pendingResult
}

type reportRequest struct {
	reply chan RaftNodeReport
}

// Group is the single-goroutine mailbox runtime that owns a Node,
// satisfying spec.md §5's concurrency model: Node methods only ever
// run on Group's one goroutine, which dequeues work from channels and
// suspends only there — never mid-operation. Grounded on the shape of
// teacher raft.go's run() select loop, generalized to dispatch into
// Node instead of holding protocol fields itself.
type Group struct {
	node *Node

	inbound    chan inboundMessage
	submits    chan submitRequest
	queries    chan queryRequest
	membership chan membershipRequest
	transfers  chan transferRequest
	terminates chan terminateRequest
	reports    chan reportRequest

	tickInterval time.Duration
	clock        Clock
	stop         chan struct{}
	done         chan struct{}

	log *zap.SugaredLogger
}

// NewGroup wraps node in a mailbox runtime and starts its goroutine.
// clock supplies the timestamp passed to Node.Tick on every poll; it
// must be the same Clock the Node was constructed with so election
// deadlines (computed against that Clock) are compared against
// matching values — production callers pass SystemClock{}, simulated
// clusters pass a shared ManualClock so Tick observes the same
// artificial time resetElectionDeadline used.
func NewGroup(node *Node, tickInterval time.Duration, clock Clock, logger *zap.SugaredLogger) *Group {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	g := &Group{
		node:         node,
		inbound:      make(chan inboundMessage, 256),
		submits:      make(chan submitRequest, 64),
		queries:      make(chan queryRequest, 64),
		membership:   make(chan membershipRequest, 8),
		transfers:    make(chan transferRequest, 4),
		terminates:   make(chan terminateRequest, 4),
		reports:      make(chan reportRequest, 4),
		tickInterval: tickInterval,
		clock:        clock,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		log:          logger,
	}
	go g.run()
	return g
}

func (g *Group) run() {
	defer close(g.done)
	ticker := time.NewTicker(g.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if err := g.node.Tick(context.Background(), g.clock.Now()); err != nil {
				g.log.Errorw("tick error", "error", err)
			}
		case im := <-g.inbound:
			if err := g.node.HandleMessage(context.Background(), im.from, im.msg); err != nil {
				g.log.Debugw("handle message error", "error", err)
			}
		case req := <-g.submits:
			pe, err := g.node.Submit(req.ctx, req.operation)
			if err != nil {
				req.reply <- pendingResult{err: err}
				continue
			}
			go g.forward(pe.ch, req.reply)
		case req := <-g.queries:
			qh, err := g.node.Query(req.ctx, req.policy, req.minCommitIndex)
			if err != nil {
				req.reply <- pendingResult{err: err}
				continue
			}
			go g.runQueryAfterBarrier(req, qh)
		case req := <-g.membership:
			pe, err := g.node.ChangeMembership(req.ctx, req.expectedCommitIndex, req.next)
			if err != nil {
				req.reply <- pendingResult{err: err}
				continue
			}
			go g.forward(pe.ch, req.reply)
		case req := <-g.transfers:
			req.reply <- g.node.TransferLeadership(req.ctx, req.target)
		case req := <-g.terminates:
			pe, err := g.node.TerminateGroupOp(req.ctx)
			if err != nil {
				req.reply <- pendingResult{err: err}
				continue
			}
			go g.forward(pe.ch, req.reply)
		case req := <-g.reports:
			req.reply <- g.node.Report()
		}
	}
}

func (g *Group) forward(src chan pendingResult, dst chan pendingResult) {
	dst <- <-src
}

func (g *Group) runQueryAfterBarrier(req queryRequest, qh *queryHandle) {
	res := <-qh.ch
	if res.err != nil {
		req.reply <- res
		return
	}
	result, err := g.node.sm.RunOperation(req.ctx, req.operation)
	req.reply <- pendingResult{value: result, err: err}
}

// Deliver enqueues an inbound wire message for processing by the
// Group's goroutine. Transport implementations call this on receipt.
func (g *Group) Deliver(from Endpoint, msg Message) {
	select {
	case g.inbound <- inboundMessage{from: from, msg: msg}:
	case <-g.stop:
	}
}

// Submit appends operation to the replicated log and blocks until it
// commits, fails, or ctx is done.
func (g *Group) Submit(ctx context.Context, operation []byte) ([]byte, error) {
	reply := make(chan pendingResult, 1)
	select {
	case g.submits <- submitRequest{ctx: ctx, operation: operation, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Query runs a read-only operation under the given consistency policy.
func (g *Group) Query(ctx context.Context, policy QueryPolicy, minCommitIndex LogIndex, operation []byte) ([]byte, error) {
	reply := make(chan pendingResult, 1)
	select {
	case g.queries <- queryRequest{ctx: ctx, policy: policy, minCommitIndex: minCommitIndex, operation: operation, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ChangeMembership proposes next as the group's new effective
// membership, failing fast if expectedCommitIndex is stale.
func (g *Group) ChangeMembership(ctx context.Context, expectedCommitIndex LogIndex, next GroupMembers) error {
	reply := make(chan pendingResult, 1)
	select {
	case g.membership <- membershipRequest{ctx: ctx, expectedCommitIndex: expectedCommitIndex, next: next, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TransferLeadership asks this group's leader to hand off to target.
func (g *Group) TransferLeadership(ctx context.Context, target string) error {
	reply := make(chan error, 1)
	select {
	case g.transfers <- transferRequest{ctx: ctx, target: target, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TerminateGroup proposes the group's termination and blocks until
// the termination entry commits.
func (g *Group) TerminateGroup(ctx context.Context) error {
	reply := make(chan pendingResult, 1)
	select {
	case g.terminates <- terminateRequest{ctx: ctx, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-reply:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage is the entry point Transport implementations use
// instead of Deliver when they want the wait for mailbox space bounded
// by ctx: like Deliver it blocks until the message is enqueued or the
// Group stops, and it also gives up when ctx is done.
func (g *Group) HandleMessage(ctx context.Context, from Endpoint, msg Message) {
	select {
	case g.inbound <- inboundMessage{from: from, msg: msg}:
	case <-ctx.Done():
	case <-g.stop:
	}
}

// Report returns the current RaftNodeReport.
func (g *Group) Report(ctx context.Context) (RaftNodeReport, error) {
	reply := make(chan RaftNodeReport, 1)
	select {
	case g.reports <- reportRequest{reply: reply}:
	case <-ctx.Done():
		return RaftNodeReport{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return RaftNodeReport{}, ctx.Err()
	}
}

// Stop halts the Group's goroutine. It does not wait for pending
// requests to resolve; callers should TerminateGroup first for a clean
// shutdown.
func (g *Group) Stop() {
	close(g.stop)
	<-g.done
}
