package txcart

// StepType identifies a wizard step that produces a transaction
type StepType string

const (
	StepSelectVesting  StepType = "select-vesting"
	StepSetOperator    StepType = "set-operator"
	StepUpgradeStaker  StepType = "upgrade-staker"
	StepApprove        StepType = "approve"
	StepStake          StepType = "stake"
	StepDelegate       StepType = "delegate"
	StepDeployStaker   StepType = "deploy-staker"
	StepClaimRewards   StepType = "claim-rewards"
	StepWithdrawStaker StepType = "withdraw-staker"
)

var stepNames = map[StepType]string{
	StepSelectVesting:  "Select vesting position",
	StepSetOperator:    "Set operator",
	StepUpgradeStaker:  "Upgrade staker implementation",
	StepApprove:        "Approve token spend",
	StepStake:          "Stake",
	StepDelegate:       "Delegate",
	StepDeployStaker:   "Deploy staker",
	StepClaimRewards:   "Claim rewards",
	StepWithdrawStaker: "Withdraw from staker",
}

// StepName returns the human label of a step type. Unknown types render as the raw tag.
func StepName(s StepType) string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return string(s)
}
