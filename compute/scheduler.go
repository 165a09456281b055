package compute

import (
	"math/rand"
	"sort"

	"github.com/hanzoai/compute/common"
)

// Strategy selects which {piece, peer} pairs the scheduler proposes next
// (spec §4.2). Modeled on consensus/istanbul/validator's ProposerPolicy
// enum dispatch.
type Strategy int

const (
	Rarest Strategy = iota
	Random
	ReputationWeighted
	Hybrid
)

// Assignment pairs a piece with the peer chosen to compute it.
type Assignment struct {
	PieceID common.PieceID
	PeerID  common.PeerID
}

// TaskLookup resolves a piece's owning task, so the scheduler can apply
// per-task filtering (required_model, min_reputation, TEE) while still
// picking pieces rarest-first across the whole swarm.
type TaskLookup func(common.TaskID) (*Task, bool)

// Scheduler consumes an immutable snapshot of (available peers, piece
// manager) and emits assignments bounded by maxAssignments (spec §4.2). A
// single Schedule call fully resources each chosen piece up to its
// redundancy before moving to the next, so that one post-submission
// scheduling pass (spec §4.5) produces every assignment a fresh piece
// needs.
type Scheduler struct {
	Strategy       Strategy
	MaxAssignments int
	TaskOf         TaskLookup
}

func NewScheduler(strategy Strategy, maxAssignments int, taskOf TaskLookup) *Scheduler {
	return &Scheduler{Strategy: strategy, MaxAssignments: maxAssignments, TaskOf: taskOf}
}

// eligibleFor applies the filtering rules in order (spec §4.2): Connected|Busy,
// current_load < max_concurrent_tasks, reputation >= min_reputation, model
// support if required, TEE availability if required — resolved from the
// piece's owning task.
func (s *Scheduler) eligibleFor(peers []*Peer, piece *Piece) []*Peer {
	task, ok := s.TaskOf(piece.TaskID)
	if !ok {
		return nil
	}
	out := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		if p.State != Connected && p.State != Busy {
			continue
		}
		if p.CurrentLoad >= p.Capabilities.MaxConcurrentTasks {
			continue
		}
		if p.Reputation < task.MinReputation {
			continue
		}
		if task.Type.RequiresModel() && task.Model != "" && !p.Capabilities.SupportsModel(task.Model) {
			continue
		}
		if task.RequiresTEE && !p.Capabilities.TEEAvailable {
			continue
		}
		out = append(out, p)
	}
	return out
}

// peerLess implements the tie-break for equal-reputation peers: lower
// current load first, then lexicographic peer id (spec §4.2).
func peerLess(a, b *Peer) bool {
	if a.Reputation != b.Reputation {
		return a.Reputation > b.Reputation
	}
	if a.CurrentLoad != b.CurrentLoad {
		return a.CurrentLoad < b.CurrentLoad
	}
	return a.ID < b.ID
}

// takenSet tracks, within a single Schedule call, the peers already picked
// for a piece — both previously assigned (in mgr) and assigned earlier in
// this same pass — so redundancy is filled without mutating mgr mid-pass.
type takenSet map[common.PeerID]bool

func takenFor(piece *Piece) takenSet {
	t := make(takenSet, piece.AssignedPeers.Size())
	for _, raw := range piece.AssignedPeers.List() {
		t[raw.(common.PeerID)] = true
	}
	return t
}

func (t takenSet) has(id common.PeerID) bool { return t[id] }

// Schedule proposes assignments for pending pieces of mgr against the given
// peer snapshot, per the configured Strategy.
func (s *Scheduler) Schedule(mgr *Manager, peers []*Peer) []Assignment {
	switch s.Strategy {
	case Rarest:
		return s.scheduleRarest(mgr, peers)
	case Random:
		return s.scheduleRandom(mgr, peers)
	case ReputationWeighted:
		return s.scheduleReputationWeighted(mgr, peers)
	default: // Hybrid
		return s.scheduleHybrid(mgr, peers)
	}
}

func (s *Scheduler) scheduleRarest(mgr *Manager, peers []*Peer) []Assignment {
	var out []Assignment
	for _, piece := range mgr.GetRarestPending(s.MaxAssignments) {
		eligible := s.eligibleFor(peers, piece)
		sorted := make([]*Peer, len(eligible))
		copy(sorted, eligible)
		sort.Slice(sorted, func(i, j int) bool { return peerLess(sorted[i], sorted[j]) })

		taken := takenFor(piece)
		need := piece.Redundancy - piece.AssignedPeers.Size()
		for _, p := range sorted {
			if len(out) >= s.MaxAssignments || need <= 0 {
				break
			}
			if taken.has(p.ID) {
				continue
			}
			out = append(out, Assignment{PieceID: piece.ID, PeerID: p.ID})
			taken[p.ID] = true
			need--
		}
		if len(out) >= s.MaxAssignments {
			break
		}
	}
	return out
}

func (s *Scheduler) scheduleRandom(mgr *Manager, peers []*Peer) []Assignment {
	var out []Assignment
	for _, piece := range mgr.GetRarestPending(s.MaxAssignments) {
		eligible := s.eligibleFor(peers, piece)
		rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })

		taken := takenFor(piece)
		need := piece.Redundancy - piece.AssignedPeers.Size()
		for _, p := range eligible {
			if len(out) >= s.MaxAssignments || need <= 0 {
				break
			}
			if taken.has(p.ID) {
				continue
			}
			out = append(out, Assignment{PieceID: piece.ID, PeerID: p.ID})
			taken[p.ID] = true
			need--
		}
		if len(out) >= s.MaxAssignments {
			break
		}
	}
	return out
}

// weightedPick samples from eligible with probability proportional to
// reputation^2 (spec §4.2 ReputationWeighted), skipping already-taken peers.
func weightedPick(eligible []*Peer, taken takenSet) *Peer {
	total := 0.0
	candidates := make([]*Peer, 0, len(eligible))
	weights := make([]float64, 0, len(eligible))
	for _, p := range eligible {
		if taken.has(p.ID) {
			continue
		}
		w := p.Reputation * p.Reputation
		if w <= 0 {
			continue
		}
		candidates = append(candidates, p)
		weights = append(weights, w)
		total += w
	}
	if len(candidates) == 0 {
		return nil
	}
	r := rand.Float64() * total
	for i, w := range weights {
		r -= w
		if r <= 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func (s *Scheduler) scheduleReputationWeighted(mgr *Manager, peers []*Peer) []Assignment {
	return s.scheduleWeighted(mgr, peers)
}

func (s *Scheduler) scheduleHybrid(mgr *Manager, peers []*Peer) []Assignment {
	return s.scheduleWeighted(mgr, peers)
}

// scheduleWeighted backs both ReputationWeighted and Hybrid: rarest pieces
// first, reputation-weighted peer selection within each (spec §4.2).
func (s *Scheduler) scheduleWeighted(mgr *Manager, peers []*Peer) []Assignment {
	var out []Assignment
	for _, piece := range mgr.GetRarestPending(s.MaxAssignments) {
		eligible := s.eligibleFor(peers, piece)
		taken := takenFor(piece)
		need := piece.Redundancy - piece.AssignedPeers.Size()
		for need > 0 && len(out) < s.MaxAssignments {
			peer := weightedPick(eligible, taken)
			if peer == nil {
				break
			}
			out = append(out, Assignment{PieceID: piece.ID, PeerID: peer.ID})
			taken[peer.ID] = true
			need--
		}
		if len(out) >= s.MaxAssignments {
			break
		}
	}
	return out
}
