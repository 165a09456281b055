package compute

import (
	"sort"
	"sync"

	set "gopkg.in/fatih/set.v0"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/log"
	"github.com/hanzoai/compute/params"
)

var logger = log.NewModuleLogger(log.Compute)

// PieceState is the per-piece state machine (spec §4.1).
type PieceState int

const (
	Pending PieceState = iota
	Assigned
	InProgress
	Computed
	Verified
	Failed
)

func (s PieceState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Assigned:
		return "Assigned"
	case InProgress:
		return "InProgress"
	case Computed:
		return "Computed"
	case Verified:
		return "Verified"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Piece is mutable, keyed by "<task_id>:<index>" (spec §3).
type Piece struct {
	ID            common.PieceID
	TaskID        common.TaskID
	Index         int
	InputHash     common.Hash
	State         PieceState
	AssignedPeers *set.Set // of common.PeerID
	Results       map[common.PeerID]common.Hash
	ResultData    map[common.PeerID][]byte
	VerifiedData  []byte
	Redundancy    int
	Deadline      *int64
	Priority      int
	RetryCount    int
}

func newPiece(taskID common.TaskID, index int, input []byte, redundancy, priority int, deadline *int64) *Piece {
	return &Piece{
		ID:            common.NewPieceID(taskID, index),
		TaskID:        taskID,
		Index:         index,
		InputHash:     common.Blake3Hash(input),
		State:         Pending,
		AssignedPeers: set.New(),
		Results:       make(map[common.PeerID]common.Hash),
		ResultData:    make(map[common.PeerID][]byte),
		Redundancy:    redundancy,
		Deadline:      deadline,
		Priority:      priority,
	}
}

// Manager owns the Pieces table and its two indices (pieces_by_state,
// availability), kept consistent on every transition (spec §4.1 invariant).
// Grounded on work/worker.go's mutex-guarded indexed bookkeeping.
type Manager struct {
	mu           sync.RWMutex
	pieces       map[common.PieceID]*Piece
	tasksPieces  map[common.TaskID][]common.PieceID
	byState      map[PieceState]*set.Set // state -> set of PieceID
	availability map[common.PieceID]int  // piece id -> |results|
}

func NewManager() *Manager {
	m := &Manager{
		pieces:       make(map[common.PieceID]*Piece),
		tasksPieces:  make(map[common.TaskID][]common.PieceID),
		byState:      make(map[PieceState]*set.Set),
		availability: make(map[common.PieceID]int),
	}
	for _, s := range []PieceState{Pending, Assigned, InProgress, Computed, Verified, Failed} {
		m.byState[s] = set.New()
	}
	return m
}

// CreatePieces splits input into task.NumPieces chunks (ceiling-divide,
// last chunk may be shorter, minimum 1 byte) and registers them Pending.
func (m *Manager) CreatePieces(task *Task, input []byte) []*Piece {
	m.mu.Lock()
	defer m.mu.Unlock()

	chunkSize := task.ChunkSize()
	if chunkSize < 1 {
		chunkSize = 1
	}
	pieces := make([]*Piece, 0, task.NumPieces)
	for i := 0; i < task.NumPieces; i++ {
		start := i * chunkSize
		if start > len(input) {
			start = len(input)
		}
		end := start + chunkSize
		if end > len(input) {
			end = len(input)
		}
		p := newPiece(task.ID, i, input[start:end], task.Redundancy, 0, task.Deadline)
		m.pieces[p.ID] = p
		m.tasksPieces[task.ID] = append(m.tasksPieces[task.ID], p.ID)
		m.byState[Pending].Add(p.ID)
		m.availability[p.ID] = 0
		pieces = append(pieces, p)
	}
	logger.Info("pieces created", "task", task.ID, "count", len(pieces))
	return pieces
}

// GetRarestPending returns pending pieces sorted by ascending availability,
// ties broken by descending priority then ascending index (spec §4.1).
func (m *Manager) GetRarestPending(limit int) []*Piece {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// A piece still needs scheduling while it has fewer assigned peers
	// than its redundancy requires, even after the first assign_peer has
	// flipped it from Pending to Assigned.
	var pieces []*Piece
	for _, raw := range m.byState[Pending].List() {
		pieces = append(pieces, m.pieces[raw.(common.PieceID)])
	}
	for _, raw := range m.byState[Assigned].List() {
		p := m.pieces[raw.(common.PieceID)]
		if p.AssignedPeers.Size() < p.Redundancy {
			pieces = append(pieces, p)
		}
	}
	sort.Slice(pieces, func(i, j int) bool {
		ai, aj := m.availability[pieces[i].ID], m.availability[pieces[j].ID]
		if ai != aj {
			return ai < aj
		}
		if pieces[i].Priority != pieces[j].Priority {
			return pieces[i].Priority > pieces[j].Priority
		}
		return pieces[i].Index < pieces[j].Index
	})
	if limit > 0 && limit < len(pieces) {
		pieces = pieces[:limit]
	}
	return pieces
}

func (m *Manager) transition(p *Piece, to PieceState) {
	m.byState[p.State].Remove(p.ID)
	p.State = to
	m.byState[to].Add(p.ID)
}

// AssignPeer moves Pending -> Assigned on the first assignment and records
// the peer under assigned_peers.
func (m *Manager) AssignPeer(pieceID common.PieceID, peer common.PeerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pieces[pieceID]
	if !ok {
		return common.New(common.KindNotFound, "piece %s not found", pieceID)
	}
	if p.AssignedPeers.Has(peer) {
		return common.New(common.KindAlreadyExists, "peer %s already assigned to %s", peer, pieceID)
	}
	p.AssignedPeers.Add(peer)
	if p.State == Pending {
		m.transition(p, Assigned)
	}
	return nil
}

// RecordResult stores a peer's result hash/data and advances
// Assigned/InProgress -> Computed once |results| >= redundancy (spec §4.1).
func (m *Manager) RecordResult(pieceID common.PieceID, peer common.PeerID, hash common.Hash, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pieces[pieceID]
	if !ok {
		return common.New(common.KindNotFound, "piece %s not found", pieceID)
	}
	if !p.AssignedPeers.Has(peer) {
		return common.New(common.KindInvalidData, "peer %s not assigned to %s", peer, pieceID)
	}
	if _, exists := p.Results[peer]; exists {
		return common.New(common.KindAlreadyExists, "peer %s already reported a result for %s", peer, pieceID)
	}
	p.Results[peer] = hash
	p.ResultData[peer] = data
	m.availability[pieceID] = len(p.Results)
	if len(p.Results) >= p.Redundancy && (p.State == Assigned || p.State == InProgress) {
		m.transition(p, Computed)
	}
	return nil
}

// MarkVerified moves Computed -> Verified, storing the canonical data.
func (m *Manager) MarkVerified(pieceID common.PieceID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pieces[pieceID]
	if !ok {
		return common.New(common.KindNotFound, "piece %s not found", pieceID)
	}
	p.VerifiedData = data
	m.transition(p, Verified)
	return nil
}

// MarkFailed moves any state -> Failed.
func (m *Manager) MarkFailed(pieceID common.PieceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pieces[pieceID]
	if !ok {
		return common.New(common.KindNotFound, "piece %s not found", pieceID)
	}
	m.transition(p, Failed)
	return nil
}

// ResetForRetry returns a piece to Pending, clearing assignments/results
// and incrementing retry_count (spec §4.1).
func (m *Manager) ResetForRetry(pieceID common.PieceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pieces[pieceID]
	if !ok {
		return common.New(common.KindNotFound, "piece %s not found", pieceID)
	}
	p.AssignedPeers = set.New()
	p.Results = make(map[common.PeerID]common.Hash)
	p.ResultData = make(map[common.PeerID][]byte)
	p.RetryCount++
	m.availability[pieceID] = 0
	m.transition(p, Pending)
	return nil
}

// Get returns a piece by id.
func (m *Manager) Get(pieceID common.PieceID) (*Piece, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pieces[pieceID]
	return p, ok
}

// PiecesOf returns every piece belonging to a task, in index order.
func (m *Manager) PiecesOf(taskID common.TaskID) []*Piece {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.tasksPieces[taskID]
	out := make([]*Piece, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.pieces[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// TaskProgress returns (verified, total) pieces for a task (spec §4.1).
func (m *Manager) TaskProgress(taskID common.TaskID) (verified, total int) {
	pieces := m.PiecesOf(taskID)
	total = len(pieces)
	for _, p := range pieces {
		if p.State == Verified {
			verified++
		}
	}
	return
}

// IsTaskComplete reports whether every piece of a task is Verified (P3).
func (m *Manager) IsTaskComplete(taskID common.TaskID) bool {
	verified, total := m.TaskProgress(taskID)
	return total > 0 && verified == total
}

// RemoveTask drops every piece of a task from all indices and primary
// storage (spec §5 cancellation semantics).
func (m *Manager) RemoveTask(taskID common.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.tasksPieces[taskID] {
		p := m.pieces[id]
		if p == nil {
			continue
		}
		m.byState[p.State].Remove(id)
		delete(m.pieces, id)
		delete(m.availability, id)
	}
	delete(m.tasksPieces, taskID)
}

// AgePending bumps the effective priority of pieces that have sat Pending
// across at least one aging interval, to prevent starvation under Rarest
// scheduling when many equally-rare pieces exist (original_source
// supplement, not present in the distilled spec).
func (m *Manager) AgePending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, raw := range m.byState[Pending].List() {
		id := raw.(common.PieceID)
		if p, ok := m.pieces[id]; ok {
			p.Priority += params.PieceAgingBoost
		}
	}
}
