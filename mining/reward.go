package mining

import "github.com/hanzoai/compute/params"

// ComputeReward is a pure function of a SubmitProof payload's
// MiningRewardType, mirroring contracts/reward/reward.go's separation of
// reward computation from custody (spec §4.6, §9: "Behavior is pure data").
func ComputeReward(p *SubmitProofPayload) uint64 {
	if p == nil {
		return 0
	}
	switch p.Type {
	case RewardDataSharing:
		return uint64(params.RewardAlphaDataSharing * float64(p.BytesShared))
	case RewardComputeProvision:
		return uint64(params.RewardBetaComputeProvision * float64(p.ComputeUnits))
	case RewardModelHosting:
		return uint64(params.RewardGammaModelHosting * p.HostingHours)
	case RewardInferenceServing:
		return uint64(params.RewardDeltaInferenceServing * float64(p.TokensServed))
	case RewardModelRegistration:
		return uint64(params.RewardEpsilonModelRegister)
	default:
		return 0
	}
}
