// Package params collects the protocol constants named throughout spec.md:
// reward coefficients, consensus thresholds, WASM resource defaults and EVM
// destination chain tags. Mirrors the teacher's params package (protocol
// constants as typed vars/consts, not parsed config) in shape, generalized
// from klaytn's chain-config constants to this protocol's.
package params

import "time"

// Mining reward coefficients (spec §4.6): pure functions of MiningRewardType
// payloads, α·bytes_shared, β·compute_units, γ·hosting_hours, δ·tokens_served,
// and a flat ε for model_registration.
const (
	RewardAlphaDataSharing      = 0.0001
	RewardBetaComputeProvision  = 0.001
	RewardGammaModelHosting     = 0.01
	RewardDeltaInferenceServing = 0.00001
	RewardEpsilonModelRegister  = 1.0
)

// Consensus parameters (spec §4.6).
const (
	QuorumThreshold  = 0.69
	ValidatorSetSize = 20
	BlockTimeDefault = 500 * time.Millisecond
	FinalityDepth    = 2
	// ProposerCooldown prevents the same validator proposing twice in a
	// row under seed collisions (original_source hanzo-mining supplement).
	ProposerCooldown = 1
)

// Verification thresholds (spec §4.4).
const (
	MajorityThreshold      = 0.5
	SupermajorityThreshold = 0.67
	TeeConsensusThreshold  = 0.5
	BFTMinPeers            = 4
)

// Reputation tuning (spec §4.4, §4.3).
const (
	ReputationDefault       = 50
	ReputationMax           = 100
	ReputationMin           = 0
	ReputationMatchGain     = 5.0
	ReputationMismatchLoss  = 10.0
	BanStrikesWithinWindow  = 2
	BanWindow               = 24 * time.Hour
)

// Swarm/scheduler defaults (spec §4.2, §4.5).
const (
	DefaultRedundancy       = 3
	DefaultMaxRetries       = 3
	DefaultTaskTimeout      = 300 * time.Second
	DefaultMaxPeers         = 1000
	DefaultMaxAssignments   = 64
	AwaitResultPollInterval = 100 * time.Millisecond
	// PieceAgingInterval is how often AgePending bumps the effective
	// priority of a pending piece under Rarest scheduling (original_source
	// supplement, prevents starvation).
	PieceAgingInterval = 5 * time.Second
	PieceAgingBoost    = 1
	// PeerHeartbeatTimeout disconnects peers that miss this many
	// consecutive heartbeats (original_source supplement).
	PeerHeartbeatTimeout   = 30 * time.Second
	PeerHeartbeatMaxMisses = 3
)

// WASM runtime defaults (spec §4.9).
const (
	WasmMaxMemoryBytes    = 256 * 1024 * 1024
	WasmMaxExecutionTime  = 30 * time.Second
	WasmFuelLimit         = 1_000_000_000
	WasmMinMemoryPages    = 1
	WasmMaxMemoryPages    = 256
	WasmStringifyOffset   = 0x2000
	WasmAllocBase         = 0x3000
	WasmMaxStringReadLen  = 4096
)

// ChainTag identifies an EVM teleport destination (spec §6).
type ChainTag uint32

const (
	LuxCChain ChainTag = 96369
	ZooEvm    ChainTag = 200200
	HanzoEvm  ChainTag = 36963

	LuxCChainTestnet ChainTag = 96368
	ZooEvmTestnet    ChainTag = 200201
	HanzoEvmTestnet  ChainTag = 36964
)

func (c ChainTag) String() string {
	switch c {
	case LuxCChain:
		return "lux"
	case ZooEvm:
		return "zoo"
	case HanzoEvm:
		return "hanzo"
	case LuxCChainTestnet:
		return "lux-testnet"
	case ZooEvmTestnet:
		return "zoo-testnet"
	case HanzoEvmTestnet:
		return "hanzo-testnet"
	default:
		return "unknown"
	}
}

// ChainTagByName resolves a --to= CLI flag value to a ChainTag.
func ChainTagByName(name string) (ChainTag, bool) {
	switch name {
	case "lux":
		return LuxCChain, true
	case "zoo":
		return ZooEvm, true
	case "hanzo":
		return HanzoEvm, true
	default:
		return 0, false
	}
}

// TeleportFeeBps is the protocol fee deducted from a teleported amount
// before minting on the destination chain (original_source supplement).
const TeleportFeeBps = 10

// ABI selectors exposed by the bridge's reduced destination contract (spec
// §6): registerMiner, claimRewards, bridgeTokens, heartbeat. Kept as
// function signatures here; keccak selectors are computed at call time via
// go-ethereum/crypto so they stay correct if the signatures ever change.
const (
	ABIRegisterMinerSig = "registerMiner(bytes)"
	ABIClaimRewardsSig  = "claimRewards(bytes)"
	ABIBridgeTokensSig  = "bridgeTokens(address,uint256,bytes)"
	ABIHeartbeatSig     = "heartbeat(bytes)"
)
