package compute

import (
	"sync"
	"time"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/params"
)

// PeerState tracks connection lifecycle (spec §3).
type PeerState int

const (
	Connecting PeerState = iota
	Connected
	Busy
	Disconnecting
	Disconnected
	Banned
)

func (s PeerState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Busy:
		return "Busy"
	case Disconnecting:
		return "Disconnecting"
	case Disconnected:
		return "Disconnected"
	case Banned:
		return "Banned"
	default:
		return "Unknown"
	}
}

// Capabilities describes what a peer can compute (spec §3).
type Capabilities struct {
	SupportedModels    map[string]bool
	MaxConcurrentTasks int
	TEEAvailable       bool
}

func (c Capabilities) SupportsModel(model string) bool {
	if model == "" {
		return true
	}
	return c.SupportedModels[model]
}

// Peer tracks capabilities, reputation, load and connection state (spec §3).
type Peer struct {
	ID           common.PeerID
	Address      string
	Capabilities Capabilities
	State        PeerState
	Reputation   float64
	Completed    int
	Failed       int
	CurrentLoad  int
	LastSeen     time.Time
	AvgLatencyMs float64
	RewardShare  float64

	zeroStrikes []time.Time // times reputation hit 0, for the ban window
}

// PeerRegistry owns the Peers table (spec §4.3). Grounded on the teacher's
// networks/p2p peer bookkeeping idiom and node/cn/peer.go's per-peer state.
type PeerRegistry struct {
	mu      sync.RWMutex
	peers   map[common.PeerID]*Peer
	maxSize int
}

func NewPeerRegistry(maxSize int) *PeerRegistry {
	if maxSize <= 0 {
		maxSize = params.DefaultMaxPeers
	}
	return &PeerRegistry{peers: make(map[common.PeerID]*Peer), maxSize: maxSize}
}

// Add registers a new peer, rejecting once the registry is at capacity
// (spec §4.5: CapacityExceeded{current,max}).
func (r *PeerRegistry) Add(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) >= r.maxSize {
		return common.CapacityExceeded(len(r.peers), r.maxSize)
	}
	if p.Reputation == 0 && p.State == Connecting {
		p.Reputation = params.ReputationDefault
	}
	p.LastSeen = time.Now()
	r.peers[p.ID] = p
	return nil
}

func (r *PeerRegistry) Remove(id common.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

func (r *PeerRegistry) Get(id common.PeerID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Snapshot returns a copy of every peer, used by the scheduler as the
// immutable snapshot it consumes (spec §4.2).
func (r *PeerRegistry) Snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (r *PeerRegistry) UpdateState(id common.PeerID, state PeerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return common.New(common.KindNotFound, "peer %s not found", id)
	}
	p.State = state
	p.LastSeen = time.Now()
	return nil
}

// UpdateReputation applies delta, clamped to [0,100] (spec §4.3, P6).
func (r *PeerRegistry) UpdateReputation(id common.PeerID, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return common.New(common.KindNotFound, "peer %s not found", id)
	}
	p.Reputation += delta
	if p.Reputation > params.ReputationMax {
		p.Reputation = params.ReputationMax
	}
	if p.Reputation < params.ReputationMin {
		p.Reputation = params.ReputationMin
		now := time.Now()
		p.zeroStrikes = append(p.zeroStrikes, now)
		cutoff := now.Add(-params.BanWindow)
		kept := p.zeroStrikes[:0]
		for _, t := range p.zeroStrikes {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		p.zeroStrikes = kept
		if len(p.zeroStrikes) >= params.BanStrikesWithinWindow {
			p.State = Banned
			logger.Warn("peer banned", "peer", id, "strikes", len(p.zeroStrikes))
		}
	}
	return nil
}

// RecordSuccess increments completed, updates the moving-average latency
// and adds the peer's reward share (spec §4.3).
func (r *PeerRegistry) RecordSuccess(id common.PeerID, computeTimeMs int64, reward float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return common.New(common.KindNotFound, "peer %s not found", id)
	}
	p.Completed++
	const alpha = 0.2
	if p.AvgLatencyMs == 0 {
		p.AvgLatencyMs = float64(computeTimeMs)
	} else {
		p.AvgLatencyMs = alpha*float64(computeTimeMs) + (1-alpha)*p.AvgLatencyMs
	}
	p.RewardShare += reward
	p.LastSeen = time.Now()
	return nil
}

// RecordFailure increments failed and drives reputation decay via the
// caller-supplied delta (applied separately by the verifier's diff map).
func (r *PeerRegistry) RecordFailure(id common.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return common.New(common.KindNotFound, "peer %s not found", id)
	}
	p.Failed++
	p.LastSeen = time.Now()
	return nil
}

// Heartbeat refreshes a peer's last-seen timestamp.
func (r *PeerRegistry) Heartbeat(id common.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return common.New(common.KindNotFound, "peer %s not found", id)
	}
	p.LastSeen = time.Now()
	return nil
}

// Sweep disconnects peers that have missed PeerHeartbeatMaxMisses
// consecutive heartbeat windows (original_source supplement: the
// distillation only specified explicit disconnects).
func (r *PeerRegistry) Sweep(now time.Time) []common.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	timeout := time.Duration(params.PeerHeartbeatMaxMisses) * params.PeerHeartbeatTimeout
	var dropped []common.PeerID
	for id, p := range r.peers {
		if p.State == Disconnected || p.State == Banned {
			continue
		}
		if now.Sub(p.LastSeen) > timeout {
			p.State = Disconnected
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
