package raft

import "context"

// startElection transitions to Candidate, votes for itself, and
// broadcasts VoteRequest to every voting peer. sticky is carried
// verbatim onto the outgoing VoteRequest: true means this candidate was
// prompted by an existing leader's TriggerLeaderElectionRequest
// (TransferLeadership), which lets voters bypass disruption-avoidance
// (spec.md §4.4); false is an ordinary timeout-driven election, which
// voters may still reject if they have heard from a leader recently.
// Grounded on teacher raft.go's startElection.
func (n *Node) startElection(ctx context.Context, sticky bool) error {
	n.term++
	n.role = RoleCandidate
	n.votedFor = n.id
	n.leaderID = ""
	n.resetElectionDeadline()
	if err := n.store.PersistTerm(ctx, n.term, n.votedFor); err != nil {
		return n.fail("PersistTerm", err)
	}
	if err := n.store.Flush(ctx); err != nil {
		return n.fail("Flush", err)
	}
	n.votesGranted = map[string]bool{n.id: true}
	n.log.Infow("starting election", "term", n.term)

	if len(n.currentMembers().Members) == 1 && n.currentMembers().Members[0].ID == n.id {
		// Singleton group: our own vote is already a quorum.
		return n.becomeLeader(ctx)
	}

	req := VoteRequest{
		Term:         n.term,
		CandidateID:  n.id,
		LastLogIndex: n.raftLog.LastIndex(),
		LastLogTerm:  n.raftLog.LastTerm(),
		Sticky:       sticky,
	}
	for _, m := range n.currentMembers().Members {
		if m.ID == n.id {
			continue
		}
		_ = n.transport.Send(ctx, m, Message{VoteRequest: &req})
	}
	return nil
}

func (n *Node) handleVoteRequest(ctx context.Context, from Endpoint, req *VoteRequest) error {
	if req.Term < n.term {
		return n.transport.Send(ctx, from, Message{VoteResponse: &VoteResponse{Term: n.term, VoteGranted: false, VoterID: n.id}})
	}

	// Disruption avoidance (spec.md §4.4/§4.5.2): a candidate that was
	// not prompted by an existing leader (Sticky==false) is rejected if
	// we have heard from a valid leader recently. The check runs before
	// adopting the candidate's term, so the known leader is still
	// recorded. Sticky==true (the candidate was prompted by
	// TransferLeadership) bypasses it, as does a candidate this node
	// itself named as its transfer target.
	if !req.Sticky && n.transferTarget != req.CandidateID {
		if n.clock.Now().Before(n.electionDeadline) && n.leaderID != "" {
			return n.transport.Send(ctx, from, Message{VoteResponse: &VoteResponse{Term: n.term, VoteGranted: false, VoterID: n.id}})
		}
	}

	if req.Term > n.term {
		if err := n.becomeFollower(ctx, req.Term, ""); err != nil {
			return err
		}
	}

	canVote := n.votedFor == "" || n.votedFor == req.CandidateID
	granted := canVote && n.raftLog.IsUpToDate(req.LastLogIndex, req.LastLogTerm)
	if granted {
		n.votedFor = req.CandidateID
		if err := n.store.PersistTerm(ctx, n.term, n.votedFor); err != nil {
			return n.fail("PersistTerm", err)
		}
		if err := n.store.Flush(ctx); err != nil {
			return n.fail("Flush", err)
		}
		n.resetElectionDeadline()
	}
	return n.transport.Send(ctx, from, Message{VoteResponse: &VoteResponse{Term: n.term, VoteGranted: granted, VoterID: n.id}})
}

func (n *Node) handleVoteResponse(ctx context.Context, from Endpoint, resp *VoteResponse) error {
	if resp.Term > n.term {
		return n.becomeFollower(ctx, resp.Term, "")
	}
	if n.role != RoleCandidate || resp.Term != n.term || !resp.VoteGranted {
		return nil
	}
	if n.votesGranted == nil {
		n.votesGranted = map[string]bool{}
	}
	n.votesGranted[resp.VoterID] = true
	if len(n.votesGranted) >= n.currentMembers().QuorumSize() {
		return n.becomeLeader(ctx)
	}
	return nil
}

func (n *Node) handleTriggerElection(ctx context.Context, req *TriggerLeaderElectionRequest) error {
	if req.Term < n.term {
		return nil
	}
	n.electionDeadline = n.clock.Now()
	return n.startElection(ctx, true)
}

// TransferLeadership asks the target to start an election immediately,
// marking it as the pre-approved sticky-bypass candidate so its vote
// request is not rejected by disruption avoidance (SPEC_FULL.md §4).
func (n *Node) TransferLeadership(ctx context.Context, target string) error {
	if n.role != RoleLeader {
		return &NotLeaderError{Leader: n.leaderHint}
	}
	if target == n.id {
		return nil
	}
	ep, ok := n.currentMembers().endpoint(target)
	if !ok {
		return ErrUnknownNode
	}
	n.transferTarget = target
	return n.transport.Send(ctx, ep, Message{TriggerElection: &TriggerLeaderElectionRequest{Term: n.term}})
}
