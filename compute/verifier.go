package compute

import (
	"math"
	"sort"

	"github.com/hanzoai/compute/common"
	"github.com/hanzoai/compute/params"
)

// VerificationMethod selects how a piece's collected results are reconciled
// into a single verified result (spec §4.4).
type VerificationMethod int

const (
	HashMatch VerificationMethod = iota
	MajorityConsensus
	SupermajorityConsensus
	ByzantineFaultTolerant
	TeeAttestation
	NoVerification
)

// AttestationOracle is the pluggable external collaborator the spec's
// TeeAttestation method delegates to (spec §1: "the Verifier only needs a
// pluggable attestation oracle").
type AttestationOracle interface {
	VerifyAttestation(peer common.PeerID, data []byte) bool
}

// VerificationResult is the pure output of applying a method to a piece's
// results (spec §4.4, §9: "the verifier returns a pure diff map").
type VerificationResult struct {
	Success        bool
	Method         VerificationMethod
	VerifiedHash   *common.Hash
	VerifiedData   []byte
	MatchingPeers  []common.PeerID
	NonMatching    []common.PeerID
	Confidence     float64
}

// ReputationDelta returns the pure reputation diff map the swarm applies
// atomically after verification (spec §4.4, §9): matching peers get
// +5*confidence, non-matching get -10*(1-confidence).
func (v VerificationResult) ReputationDelta() map[common.PeerID]float64 {
	deltas := make(map[common.PeerID]float64, len(v.MatchingPeers)+len(v.NonMatching))
	for _, p := range v.MatchingPeers {
		deltas[p] = params.ReputationMatchGain * v.Confidence
	}
	for _, p := range v.NonMatching {
		deltas[p] = -params.ReputationMismatchLoss * (1 - v.Confidence)
	}
	return deltas
}

// Verifier applies a VerificationMethod to a piece's results. Pure/stateless
// except for the injected AttestationOracle, mirroring the
// consensus.Engine.VerifyHeader separation of verification from side
// effects.
type Verifier struct {
	Oracle AttestationOracle
}

func NewVerifier(oracle AttestationOracle) *Verifier {
	return &Verifier{Oracle: oracle}
}

// Verify reconciles piece.Results under method (spec §4.4).
func (v *Verifier) Verify(method VerificationMethod, piece *Piece) VerificationResult {
	switch method {
	case HashMatch:
		return v.hashMatch(piece)
	case MajorityConsensus:
		return v.consensus(piece, params.MajorityThreshold)
	case SupermajorityConsensus:
		return v.consensus(piece, params.SupermajorityThreshold)
	case ByzantineFaultTolerant:
		if len(piece.Results) < params.BFTMinPeers {
			return v.allNonMatching(piece, method)
		}
		return v.consensus(piece, params.SupermajorityThreshold)
	case TeeAttestation:
		return v.teeAttestation(piece)
	default: // NoVerification
		return v.trustFirst(piece)
	}
}

func (v *Verifier) hashMatch(piece *Piece) VerificationResult {
	peers, hashes := sortedResults(piece)
	if len(peers) == 0 {
		return v.allNonMatching(piece, HashMatch)
	}
	first := hashes[0]
	for _, h := range hashes[1:] {
		if h != first {
			return v.allNonMatching(piece, HashMatch)
		}
	}
	return VerificationResult{
		Success:       true,
		Method:        HashMatch,
		VerifiedHash:  &first,
		VerifiedData:  piece.ResultData[peers[0]],
		MatchingPeers: peers,
		Confidence:    1.0,
	}
}

// consensus picks the modal hash, succeeding iff its support meets
// ceil(threshold * total). Ties in modal selection are broken
// deterministically by lexicographic hash (spec §4.4).
func (v *Verifier) consensus(piece *Piece, threshold float64) VerificationResult {
	peers, hashes := sortedResults(piece)
	total := len(peers)
	if total == 0 {
		return v.allNonMatching(piece, MajorityConsensus)
	}
	counts := make(map[common.Hash]int)
	for _, h := range hashes {
		counts[h]++
	}
	modal, modalCount := pickModal(counts)
	need := int(math.Ceil(threshold * float64(total)))

	confidence := float64(modalCount) / float64(total)
	result := VerificationResult{
		Method:     MajorityConsensus,
		Confidence: confidence,
	}
	if threshold >= params.SupermajorityThreshold {
		result.Method = SupermajorityConsensus
	}
	if modalCount >= need {
		result.Success = true
		result.VerifiedHash = &modal
	}
	for _, p := range peers {
		if piece.Results[p] == modal {
			result.MatchingPeers = append(result.MatchingPeers, p)
		} else {
			result.NonMatching = append(result.NonMatching, p)
		}
	}
	if result.Success && len(result.MatchingPeers) > 0 {
		result.VerifiedData = piece.ResultData[result.MatchingPeers[0]]
	}
	return result
}

func (v *Verifier) teeAttestation(piece *Piece) VerificationResult {
	peers, _ := sortedResults(piece)
	var survivors []common.PeerID
	var nonAttested []common.PeerID
	for _, p := range peers {
		if v.Oracle != nil && v.Oracle.VerifyAttestation(p, piece.ResultData[p]) {
			survivors = append(survivors, p)
		} else {
			nonAttested = append(nonAttested, p)
		}
	}
	if len(survivors) == 0 {
		r := v.allNonMatching(piece, TeeAttestation)
		return r
	}
	counts := make(map[common.Hash]int)
	for _, p := range survivors {
		counts[piece.Results[p]]++
	}
	modal, modalCount := pickModal(counts)
	need := int(math.Ceil(params.TeeConsensusThreshold * float64(len(survivors))))
	confidence := float64(modalCount) / float64(len(peers))

	result := VerificationResult{
		Method:      TeeAttestation,
		Confidence:  confidence,
		NonMatching: append([]common.PeerID{}, nonAttested...),
	}
	for _, p := range survivors {
		if piece.Results[p] == modal {
			result.MatchingPeers = append(result.MatchingPeers, p)
		} else {
			result.NonMatching = append(result.NonMatching, p)
		}
	}
	if modalCount >= need {
		result.Success = true
		result.VerifiedHash = &modal
		if len(result.MatchingPeers) > 0 {
			result.VerifiedData = piece.ResultData[result.MatchingPeers[0]]
		}
	}
	return result
}

func (v *Verifier) trustFirst(piece *Piece) VerificationResult {
	peers, hashes := sortedResults(piece)
	if len(peers) == 0 {
		return v.allNonMatching(piece, NoVerification)
	}
	first := hashes[0]
	return VerificationResult{
		Success:       true,
		Method:        NoVerification,
		VerifiedHash:  &first,
		VerifiedData:  piece.ResultData[peers[0]],
		MatchingPeers: []common.PeerID{peers[0]},
		NonMatching:   peers[1:],
		Confidence:    1.0 / float64(len(peers)),
	}
}

func (v *Verifier) allNonMatching(piece *Piece, method VerificationMethod) VerificationResult {
	peers, _ := sortedResults(piece)
	return VerificationResult{
		Success:     false,
		Method:      method,
		NonMatching: peers,
		Confidence:  0,
	}
}

func sortedResults(piece *Piece) ([]common.PeerID, []common.Hash) {
	peers := make([]common.PeerID, 0, len(piece.Results))
	for p := range piece.Results {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	hashes := make([]common.Hash, len(peers))
	for i, p := range peers {
		hashes[i] = piece.Results[p]
	}
	return peers, hashes
}

// pickModal returns the most frequent hash, breaking ties by lexicographic
// hash value for replay-equivalence across observers (spec §4.4).
func pickModal(counts map[common.Hash]int) (common.Hash, int) {
	var best common.Hash
	bestCount := -1
	for h, c := range counts {
		if c > bestCount || (c == bestCount && h.String() < best.String()) {
			best, bestCount = h, c
		}
	}
	return best, bestCount
}
