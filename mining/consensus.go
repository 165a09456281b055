package mining

import (
	"math"
	"sync"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/log"
	"github.com/hanzoai/compute/params"
)

var logger = log.NewModuleLogger(log.Consensus)

// ValidatorID identifies a validator by its hex-encoded public key.
type ValidatorID string

// ConsensusState tracks a proposed block's progress toward finality
// (spec §4.6).
type ConsensusState int

const (
	Unvoted ConsensusState = iota
	PreferenceVoted
	CommitPending
	Accepted
	Rejected
)

func (s ConsensusState) String() string {
	switch s {
	case Unvoted:
		return "Unvoted"
	case PreferenceVoted:
		return "PreferenceVoted"
	case CommitPending:
		return "CommitPending"
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// blockVotes tracks one block's ballots across the repeated-k finality
// pattern: accepted once it collects ceil(quorum*k) commit votes in each of
// FinalityDepth successive polling rounds (spec §4.6).
type blockVotes struct {
	preference map[ValidatorID]bool
	commit     map[ValidatorID]bool
	state      ConsensusState
	quorumRounds int
}

// Consensus is the BFT validator-set backend: round-robin proposer
// selection and Preference/Commit/Cancel vote bookkeeping. Grounded on
// consensus/istanbul/backend/backend.go's validator set and commit/
// preference vote handling.
type Consensus struct {
	mu           sync.Mutex
	validators   []ValidatorID
	quorum       float64
	lastProposer ValidatorID
	lastHeight   uint64
	votes        map[common.Hash]*blockVotes
}

func NewConsensus(validators []ValidatorID) *Consensus {
	return &Consensus{
		validators: validators,
		quorum:     params.QuorumThreshold,
		votes:      make(map[common.Hash]*blockVotes),
	}
}

func (c *Consensus) quorumCount() int {
	return int(math.Ceil(c.quorum * float64(len(c.validators))))
}

// ProposerFor returns the round-robin proposer for height, deterministic
// from (height, seed) (spec §4.6). A validator that proposed the
// immediately preceding height is skipped once under proposerCooldown,
// guarding against seed collisions re-selecting it back to back
// (original_source supplement).
func (c *Consensus) ProposerFor(height uint64, seed uint64) ValidatorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.validators) == 0 {
		return ""
	}
	idx := int((height + seed) % uint64(len(c.validators)))
	candidate := c.validators[idx]
	if params.ProposerCooldown > 0 && candidate == c.lastProposer && height == c.lastHeight+1 {
		idx = (idx + 1) % len(c.validators)
		candidate = c.validators[idx]
	}
	return candidate
}

// NoteProposed records that validator proposed at height, for the next
// ProposerFor cooldown check.
func (c *Consensus) NoteProposed(height uint64, validator ValidatorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeight = height
	c.lastProposer = validator
}

func (c *Consensus) votesFor(hash common.Hash) *blockVotes {
	v, ok := c.votes[hash]
	if !ok {
		v = &blockVotes{preference: map[ValidatorID]bool{}, commit: map[ValidatorID]bool{}}
		c.votes[hash] = v
	}
	return v
}

// RecordPreference records a Preference vote, moving Unvoted -> PreferenceVoted
// once quorum preferences are collected (spec §4.6).
func (c *Consensus) RecordPreference(hash common.Hash, voter ValidatorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.votesFor(hash)
	if v.state == Rejected || v.state == Accepted {
		return
	}
	v.preference[voter] = true
	if v.state == Unvoted && len(v.preference) >= c.quorumCount() {
		v.state = PreferenceVoted
	}
}

// RecordCommit records a Commit vote; Commit votes require prior Preference
// from the same voter (spec §4.6).
func (c *Consensus) RecordCommit(hash common.Hash, voter ValidatorID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.votesFor(hash)
	if v.state == Rejected || v.state == Accepted {
		return nil
	}
	if !v.preference[voter] {
		return common.New(common.KindInvalidData, "commit vote from %s without prior preference", voter)
	}
	v.commit[voter] = true
	if v.state == PreferenceVoted {
		v.state = CommitPending
	}
	return nil
}

// RecordCancel marks a block Rejected, triggering re-proposal at the same
// height (spec §4.6).
func (c *Consensus) RecordCancel(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.votesFor(hash)
	v.state = Rejected
}

// PollRound advances the repeated-k finality counter for a CommitPending
// block: Accepted once it has collected quorum commit votes across
// FinalityDepth consecutive calls (spec §4.6).
func (c *Consensus) PollRound(hash common.Hash) ConsensusState {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.votesFor(hash)
	if v.state != CommitPending && v.state != Accepted {
		return v.state
	}
	if len(v.commit) >= c.quorumCount() {
		v.quorumRounds++
		if v.quorumRounds >= params.FinalityDepth {
			v.state = Accepted
			logger.Info("block accepted", "hash", hash, "rounds", v.quorumRounds)
		}
	} else {
		v.quorumRounds = 0
	}
	return v.state
}

// State returns a block's current consensus state.
func (c *Consensus) State(hash common.Hash) ConsensusState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.votes[hash]; ok {
		return v.state
	}
	return Unvoted
}
