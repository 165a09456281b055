package compute

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/event"
	"github.com/hanzoai/compute/params"
)

// Config parameterizes a Swarm; defaults mirror spec §4.2/§4.5.
type Config struct {
	MaxPeers       int
	MaxAssignments int
	DefaultRedundancy int
	MaxRetries     int
	TaskTimeout    time.Duration
	Strategy       Strategy
	Method         VerificationMethod
	LocalPeerID    common.PeerID
}

func DefaultConfig() Config {
	return Config{
		MaxPeers:          params.DefaultMaxPeers,
		MaxAssignments:    params.DefaultMaxAssignments,
		DefaultRedundancy: params.DefaultRedundancy,
		MaxRetries:        params.DefaultMaxRetries,
		TaskTimeout:       params.DefaultTaskTimeout,
		Strategy:          Hybrid,
		Method:            MajorityConsensus,
	}
}

type taskOutcome struct {
	data []byte
	err  error
}

// Swarm is the top-level coordinator ingesting tasks, driving the Piece
// Manager/Scheduler/Peer Registry/Verifier, and exposing completion.
// Grounded on work/worker.go's newWorker/update/wait goroutine shape, with
// event.Feed replacing the teacher's event.TypeMux mining-result fan-out.
type Swarm struct {
	cfg Config

	mu       sync.Mutex
	running  int32
	tasks    map[common.TaskID]*Task
	outcomes map[common.TaskID]*taskOutcome
	waiters  map[common.TaskID][]chan struct{}

	peers     *PeerRegistry
	pieces    *Manager
	scheduler *Scheduler
	verifier  *Verifier

	feed  event.Feed
	scope event.SubscriptionScope
}

func NewSwarm(cfg Config, oracle AttestationOracle) *Swarm {
	pieces := NewManager()
	s := &Swarm{
		cfg:      cfg,
		tasks:    make(map[common.TaskID]*Task),
		outcomes: make(map[common.TaskID]*taskOutcome),
		waiters:  make(map[common.TaskID][]chan struct{}),
		peers:    NewPeerRegistry(cfg.MaxPeers),
		pieces:   pieces,
		verifier: NewVerifier(oracle),
	}
	s.scheduler = NewScheduler(cfg.Strategy, cfg.MaxAssignments, s.lookupTask)
	return s
}

func (s *Swarm) lookupTask(id common.TaskID) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Start marks the swarm running; Stop halts acceptance of new work. Both
// are idempotent, mirroring the teacher worker's atomic start/stop guard.
func (s *Swarm) Start() { atomic.StoreInt32(&s.running, 1) }
func (s *Swarm) Stop()  { atomic.StoreInt32(&s.running, 0); s.scope.Close() }
func (s *Swarm) IsRunning() bool { return atomic.LoadInt32(&s.running) == 1 }

// Subscribe returns a channel fed with every swarm event (spec §4.5,
// "single stream, at-least-once").
func (s *Swarm) Subscribe() (<-chan *Event, event.Subscription) {
	ch := make(chan *Event, 256)
	sub := s.scope.Track(s.feed.Subscribe(ch))
	return ch, sub
}

func (s *Swarm) emit(ev *Event) {
	s.feed.Send(ev)
}

// AddPeer registers a peer, rejecting at capacity (spec §4.5).
func (s *Swarm) AddPeer(p *Peer) error {
	if err := s.peers.Add(p); err != nil {
		return err
	}
	s.emit(&Event{Kind: EventPeerConnected, PeerID: p.ID})
	return nil
}

// RemovePeer deregisters a peer.
func (s *Swarm) RemovePeer(id common.PeerID) {
	s.peers.Remove(id)
	s.emit(&Event{Kind: EventPeerDisconnected, PeerID: id})
}

// SubmitTask ingests a task, idempotent on task.ID: resubmission returns
// the existing id without re-splitting or re-scheduling (spec §4.5).
func (s *Swarm) SubmitTask(task *Task, inputChunks []byte) (common.TaskID, error) {
	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return task.ID, nil
	}
	if task.Redundancy <= 0 {
		task.Redundancy = s.cfg.DefaultRedundancy
	}
	task.Creator = s.cfg.LocalPeerID
	encoded := append(task.CanonicalEncoding(), inputChunks...)
	task.Input = encoded
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.pieces.CreatePieces(task, encoded)
	s.emit(&Event{Kind: EventTaskSubmitted, TaskID: task.ID})
	s.dispatch()
	return task.ID, nil
}

// dispatch calls the scheduler once and applies its assignments, emitting
// PieceAssigned events (spec §4.5).
func (s *Swarm) dispatch() {
	peers := s.peers.Snapshot()
	for _, a := range s.scheduler.Schedule(s.pieces, peers) {
		if err := s.pieces.AssignPeer(a.PieceID, a.PeerID); err != nil {
			continue
		}
		s.emit(&Event{Kind: EventPieceAssigned, PieceID: a.PieceID, PeerID: a.PeerID})
	}
}

// SubmitResult records a peer's result, verifying synchronously once the
// piece is ready, and propagates task completion/failure (spec §4.5).
func (s *Swarm) SubmitResult(r Result) error {
	pieceID := common.NewPieceID(r.TaskID, r.PieceIndex)
	piece, ok := s.pieces.Get(pieceID)
	if !ok {
		return common.New(common.KindNotFound, "piece %s not found", pieceID)
	}
	if err := s.pieces.RecordResult(pieceID, r.ComputedBy, r.ResultHash, r.Data); err != nil {
		return err
	}
	s.emit(&Event{Kind: EventPieceResultReceived, PieceID: pieceID, PeerID: r.ComputedBy})

	if piece.State != Computed {
		return nil
	}
	return s.verifyAndAdvance(piece)
}

func (s *Swarm) verifyAndAdvance(piece *Piece) error {
	result := s.verifier.Verify(s.cfg.Method, piece)
	for peerID, delta := range result.ReputationDelta() {
		_ = s.peers.UpdateReputation(peerID, delta)
	}

	if result.Success {
		if err := s.pieces.MarkVerified(piece.ID, result.VerifiedData); err != nil {
			return err
		}
		s.emit(&Event{Kind: EventPieceVerified, PieceID: piece.ID})

		for _, peerID := range result.MatchingPeers {
			reward := 0.0
			if task, ok := s.lookupTask(piece.TaskID); ok {
				_, total := s.pieces.TaskProgress(task.ID)
				if total > 0 {
					reward = task.Reward / float64(total) / float64(len(result.MatchingPeers))
				}
			}
			_ = s.peers.RecordSuccess(peerID, 0, reward)
		}

		if s.pieces.IsTaskComplete(piece.TaskID) {
			s.completeTask(piece.TaskID)
		}
		return nil
	}

	for _, peerID := range result.NonMatching {
		_ = s.peers.RecordFailure(peerID)
	}
	_ = s.pieces.ResetForRetry(piece.ID)
	if piece.RetryCount > s.cfg.MaxRetries {
		_ = s.pieces.MarkFailed(piece.ID)
		s.failTask(piece.TaskID, "max retries exceeded")
		return nil
	}
	s.dispatch()
	return nil
}

func (s *Swarm) completeTask(taskID common.TaskID) {
	pieces := s.pieces.PiecesOf(taskID)
	var out []byte
	for _, p := range pieces {
		out = append(out, p.VerifiedData...)
	}
	s.mu.Lock()
	s.outcomes[taskID] = &taskOutcome{data: out}
	waiters := s.waiters[taskID]
	delete(s.waiters, taskID)
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	s.emit(&Event{Kind: EventTaskCompleted, TaskID: taskID})
}

func (s *Swarm) failTask(taskID common.TaskID, reason string) {
	s.mu.Lock()
	s.outcomes[taskID] = &taskOutcome{err: common.New(common.KindVerificationFailed, reason)}
	waiters := s.waiters[taskID]
	delete(s.waiters, taskID)
	s.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	s.emit(&Event{Kind: EventTaskFailed, TaskID: taskID, Reason: reason})
}

// AwaitResult blocks until taskID completes, fails, or task_timeout_secs
// elapses (spec §4.5).
func (s *Swarm) AwaitResult(taskID common.TaskID, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = s.cfg.TaskTimeout
	}
	s.mu.Lock()
	if out, ok := s.outcomes[taskID]; ok {
		s.mu.Unlock()
		return out.data, out.err
	}
	done := make(chan struct{})
	s.waiters[taskID] = append(s.waiters[taskID], done)
	s.mu.Unlock()

	select {
	case <-done:
		s.mu.Lock()
		out := s.outcomes[taskID]
		s.mu.Unlock()
		return out.data, out.err
	case <-time.After(timeout):
		return nil, common.New(common.KindTimeout, "task %s timed out", taskID)
	}
}

// GetTaskProgress reports (verified, total) pieces for a task.
func (s *Swarm) GetTaskProgress(taskID common.TaskID) (verified, total int) {
	return s.pieces.TaskProgress(taskID)
}

// Stats summarizes swarm-wide counters for get_stats (spec §4.5).
type Stats struct {
	Peers       int
	Tasks       int
	TasksDone   int
	TasksFailed int
}

func (s *Swarm) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Peers: s.peers.Len(), Tasks: len(s.tasks)}
	for _, o := range s.outcomes {
		if o.err != nil {
			st.TasksFailed++
		} else {
			st.TasksDone++
		}
	}
	return st
}

// Maintain runs the periodic housekeeping the original_source carried but
// the distillation left implicit: piece-priority aging and peer heartbeat
// sweeps. Intended to be driven by a ticker from the embedding binary.
func (s *Swarm) Maintain(now time.Time) {
	s.pieces.AgePending()
	for _, id := range s.peers.Sweep(now) {
		s.emit(&Event{Kind: EventPeerDisconnected, PeerID: id})
	}
}

// RemoveTask cancels a task: all pieces are dropped from indices; in-flight
// results for removed pieces are discarded on arrival (spec §5).
func (s *Swarm) RemoveTask(taskID common.TaskID) {
	s.pieces.RemoveTask(taskID)
	s.mu.Lock()
	delete(s.tasks, taskID)
	delete(s.outcomes, taskID)
	delete(s.waiters, taskID)
	s.mu.Unlock()
}
