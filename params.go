package main

import "time"

// Relaunch defaults. Centralized so main/store/blockloop stay consistent.
const (
	DefaultDataDir        = "./lac-data"
	DefaultListenPort     = 7420
	DefaultAPIPort        = 7421
	DefaultWalletFilename = "lac.wallet.dat"
)

// Block production (§4.4, §4.7).
const (
	BlockInterval          = 10 * time.Second
	CleanupInterval        = 60 * time.Second
	PeerSyncInterval       = 30 * time.Second
	MaxTxsPerBlock         = 50
	MaxEphemeralMsgsPerBlock = 20
	MempoolCap             = 1000
)

// PoET consensus (§4.5).
const (
	BlockReward           = 190.0
	WinnersPerBlock       = 19
	SpeedWinners          = 12
	LotteryWinners        = 7
	RewardPerWinner       = 10.0
	TargetBlockTime       = 10.0 // seconds
	DifficultyInterval    = 100  // blocks
	MinBalanceForMining   = 50.0
	MaxWinsPerAddress     = 3
	DominationThreshold   = 20 // wins in last 100 blocks
	DominationPenalty     = 1.5
	EarlyAdopterSupply    = 10_000_000.0
	EarlyAdopterBoost     = 1.50
	NewbiePeriod          = 30 * 24 * time.Hour
	NewbieBoost           = 1.20
	RecentWinsWindow      = 100 // blocks
	MinDifficulty         = 0.1
	MaxDifficulty         = 100.0
	DifficultyAdjustClamp = 0.25 // max ±25%
)

// waitTimeRange holds (min, max) seconds for a mining level.
type waitTimeRange struct{ Min, Max float64 }

// WaitTimes is indexed by account level 0..7 (§4.5).
var WaitTimes = [8]waitTimeRange{
	{12, 20}, {10, 18}, {8, 16}, {7, 14},
	{6, 12}, {5, 10}, {4, 8}, {3, 6},
}

// balanceBonusTier is a (threshold, bonus) pair, checked in descending order.
type balanceBonusTier struct {
	Threshold float64
	Bonus     float64
}

var BalanceBonusTiers = []balanceBonusTier{
	{10000, 0.10},
	{1000, 0.05},
	{50, 0.00},
}

// VEIL (§4.3).
const (
	VeilFee         = 1.0
	VeilMinPhantoms = 4
	VeilMaxPhantoms = 10
	RingMinSize     = 7
	RingMaxSize     = 15
)

// STASH (§4.3).
const StashDepositFee = 2.0

var StashDenominations = [4]float64{100, 1000, 10000, 100000}

// Zero-History (§4.6).
const (
	L3RetentionAge = 30 * 24 * time.Hour
	L2RetentionAge = 90 * 24 * time.Hour

	MinWitnessesDev  = 3
	MinWitnessesProd = 100
	WitnessThreshold = 0.67
	WitnessDeadline  = 5 * time.Minute

	CommitmentIntervalDev  = 10
	CommitmentIntervalProd = 1000

	ValidatorStakeL5 = 1000.0
	ValidatorStakeL6 = 5000.0

	CommitmentRewardL5 = 0.4
	CommitmentRewardL6 = 0.5
	WitnessReward      = 0.01

	FraudPunishmentBanDays = 15
	FraudRewardAmount      = 300.0
	FraudProofMaxSize      = 2048

	CheckpointRetentionYears = 10
	CheckpointDecimateAfter1Year  = 10
	CheckpointDecimateAfter5Years = 100
)

// Mining history cap per account (§3).
const MiningHistoryCap = 10000
