package main

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
)

// MiningRegistration is one account's entry into a PoET round (§4.5).
type MiningRegistration struct {
	Address string
	WaitTime float64
}

// deterministicFraction derives a reproducible value in [0, 1) from the
// given seed parts, used to turn a PoET wait-time range into a single
// number every node computes identically.
func deterministicFraction(parts ...string) float64 {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	n := binary.BigEndian.Uint64(sum[:8])
	return float64(n) / float64(^uint64(0))
}

// balanceBonusFor returns the wait-time discount for balance, checked from
// the highest threshold down (§4.5).
func balanceBonusFor(balance float64) float64 {
	for _, tier := range BalanceBonusTiers {
		if balance >= tier.Threshold {
			return tier.Bonus
		}
	}
	return 0
}

// ComputeWaitTime returns how long acc must simulate waiting this round,
// seeded by roundSeed (typically the previous block hash) so every node
// derives the same value without coordination (§4.5).
func ComputeWaitTime(acc *Account, roundSeed string, recentWins int) float64 {
	level := acc.Level
	if level < 0 {
		level = 0
	}
	if level > 7 {
		level = 7
	}
	r := WaitTimes[level]

	frac := deterministicFraction(acc.Address, roundSeed)
	wait := r.Min + frac*(r.Max-r.Min)

	wait *= (1 - balanceBonusFor(acc.Balance))
	wait *= dominationMultiplier(recentWins)
	return wait
}

// dominationMultiplier ramps linearly from 1.0 (at or below
// DominationThreshold) to DominationPenalty, reached once recentWins is 5
// above the threshold, rather than stepping straight to the full penalty
// the instant the threshold is crossed (§4.5).
func dominationMultiplier(recentWins int) float64 {
	if recentWins <= DominationThreshold {
		return 1.0
	}
	over := float64(recentWins - DominationThreshold)
	mult := 1.0 + over*0.1
	if mult > DominationPenalty {
		mult = DominationPenalty
	}
	return mult
}

// ComputeLotteryWeight returns acc's weight in the lottery draw, boosted
// for early-adopter-era accounts and brand-new accounts (§4.5).
func ComputeLotteryWeight(acc *Account, now int64, totalEmitted float64) float64 {
	weight := 1.0
	if totalEmitted < EarlyAdopterSupply {
		weight *= EarlyAdopterBoost
	}
	if acc.AccountAge(now) < int64(NewbiePeriod.Seconds()) {
		weight *= NewbieBoost
	}
	return weight
}

// winnerSelection tracks per-address win counts while assembling a block's
// winner list, enforcing the per-block per-address cap (§4.5).
type winnerSelection struct {
	winners []WinnerRecord
	counts  map[string]int
}

func newWinnerSelection() *winnerSelection {
	return &winnerSelection{counts: make(map[string]int)}
}

func (w *winnerSelection) tryAdd(address, kind string) bool {
	if w.counts[address] >= MaxWinsPerAddress {
		return false
	}
	w.counts[address]++
	w.winners = append(w.winners, WinnerRecord{Address: address, Kind: kind, Reward: RewardPerWinner})
	return true
}

// SelectWinners runs one PoET round to completion: the fastest registrants
// fill the speed slots, then a weighted lottery draw fills the remaining
// slots, capped at WinnersPerBlock overall (§4.5). The lottery draws only
// from registrants that took no speed slot, and each draw removes the
// drawn registrant, so an address wins at most one slot per block.
func SelectWinners(s *Store, registrations []MiningRegistration, roundSeed string, now int64) []WinnerRecord {
	sel := newWinnerSelection()

	bySpeed := append([]MiningRegistration(nil), registrations...)
	sort.Slice(bySpeed, func(i, j int) bool { return bySpeed[i].WaitTime < bySpeed[j].WaitTime })

	used := make(map[string]bool)
	for _, reg := range bySpeed {
		if len(sel.winners) >= SpeedWinners {
			break
		}
		if sel.tryAdd(reg.Address, "speed") {
			used[reg.Address] = true
		}
	}

	remaining := make([]MiningRegistration, 0, len(registrations))
	for _, reg := range registrations {
		if !used[reg.Address] {
			remaining = append(remaining, reg)
		}
	}

	lotterySeed := deterministicFraction("lottery", roundSeed)
	rng := rand.New(rand.NewSource(int64(lotterySeed * 1e15)))

	lotterySlots := WinnersPerBlock - len(sel.winners)
	for i := 0; i < lotterySlots && len(remaining) > 0; i++ {
		weights := make([]float64, len(remaining))
		total := 0.0
		for j, reg := range remaining {
			acc := s.Accounts[reg.Address]
			if acc == nil {
				continue
			}
			weights[j] = ComputeLotteryWeight(acc, now, s.TotalEmitted)
			total += weights[j]
		}
		if total <= 0 {
			break
		}
		pick := rng.Float64() * total
		idx := 0
		cum := 0.0
		for j, w := range weights {
			cum += w
			if pick <= cum {
				idx = j
				break
			}
		}
		reg := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)
		if !sel.tryAdd(reg.Address, "lottery") {
			i--
			if len(remaining) == 0 {
				break
			}
		}
	}

	return sel.winners
}

// PayWinners credits each winner's reward, records the win in their mining
// history, and emits the total reward into circulation (§4.5).
func PayWinners(s *Store, winners []WinnerRecord, height uint64, now int64) {
	for _, w := range winners {
		acc := s.GetOrCreateAccount(w.Address, now)
		acc.Balance += w.Reward
		acc.RecordMiningWin(MiningHistoryEntry{
			Height:    height,
			Kind:      w.Kind,
			Reward:    w.Reward,
			Timestamp: now,
		})
		s.TotalEmitted += w.Reward
	}
}

// EligibleRegistrations returns a MiningRegistration for every account that
// currently qualifies to mine (§4.5: minimum balance, computed wait time).
func EligibleRegistrations(s *Store, roundSeed string, currentHeight uint64) []MiningRegistration {
	regs := make([]MiningRegistration, 0, len(s.Accounts))
	for addr, acc := range s.Accounts {
		if !acc.EligibleForMining() {
			continue
		}
		recentWins := acc.RecentWins(currentHeight, RecentWinsWindow)
		wait := ComputeWaitTime(acc, roundSeed, recentWins)
		regs = append(regs, MiningRegistration{Address: addr, WaitTime: wait})
	}
	return regs
}

// AdjustDifficulty recomputes difficulty every DifficultyInterval blocks by
// comparing the observed average block time to TargetBlockTime, moving at
// most DifficultyAdjustClamp in either direction and staying within
// [MinDifficulty, MaxDifficulty] (§4.5).
func AdjustDifficulty(current, observedAvgBlockTime float64) float64 {
	if observedAvgBlockTime <= 0 {
		return current
	}
	ratio := observedAvgBlockTime / TargetBlockTime

	minRatio := 1 - DifficultyAdjustClamp
	maxRatio := 1 + DifficultyAdjustClamp
	if ratio < minRatio {
		ratio = minRatio
	}
	if ratio > maxRatio {
		ratio = maxRatio
	}

	adjusted := current / ratio

	if adjusted < MinDifficulty {
		adjusted = MinDifficulty
	}
	if adjusted > MaxDifficulty {
		adjusted = MaxDifficulty
	}
	return adjusted
}

// AverageBlockTime computes the mean spacing between the last n blocks'
// timestamps (n+1 blocks considered), used as AdjustDifficulty's input.
func AverageBlockTime(chain []*Block, n int) (float64, error) {
	if len(chain) < 2 {
		return 0, fmt.Errorf("need at least 2 blocks to measure spacing")
	}
	start := len(chain) - n - 1
	if start < 0 {
		start = 0
	}
	window := chain[start:]
	if len(window) < 2 {
		return 0, fmt.Errorf("not enough blocks in window")
	}
	span := float64(window[len(window)-1].Timestamp - window[0].Timestamp)
	return span / float64(len(window)-1), nil
}
