package main

import "testing"

func TestShouldTriggerCommitment(t *testing.T) {
	if !ShouldTriggerCommitment(10, 10) {
		t.Fatalf("height 10 at interval 10 should trigger")
	}
	if ShouldTriggerCommitment(15, 10) {
		t.Fatalf("height 15 at interval 10 should not trigger")
	}
	if ShouldTriggerCommitment(0, 10) {
		t.Fatalf("height 0 should never trigger (genesis)")
	}
}

func TestBuildCommitment_FirstLinksToGenesis(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 100

	z := NewZeroHistoryState()
	commitment := z.BuildCommitment(s, 0, 1000)
	if commitment.PreviousCommitment != s.Chain[0].Hash {
		t.Fatalf("first commitment should anchor to genesis hash, got %s", commitment.PreviousCommitment)
	}
}

func TestBuildCommitment_SecondLinksToFirst(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()

	first := z.BuildCommitment(s, 0, 1000)
	z.Commitments = append(z.Commitments, first)

	second := z.BuildCommitment(s, 1, 2000)
	if second.PreviousCommitment != first.CommitmentHash {
		t.Fatalf("second commitment should link to first, got %s want %s", second.PreviousCommitment, first.CommitmentHash)
	}
}

func TestWitnessRound_FinalizesAtThreshold(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	candidate := z.BuildCommitment(s, 0, 1000)

	round := OpenWitnessRound(candidate, 2, 1000)
	if round.ReadyToFinalize(3) {
		t.Fatalf("round should not be ready before any signatures")
	}

	if err := round.SubmitWitnessSignature("lac1v1", "seed1", 1001); err != nil {
		t.Fatalf("SubmitWitnessSignature: %v", err)
	}
	if err := round.SubmitWitnessSignature("lac1v2", "seed2", 1002); err != nil {
		t.Fatalf("SubmitWitnessSignature: %v", err)
	}
	if !round.ReadyToFinalize(3) {
		t.Fatalf("round should be ready once the 2 required signatures are in")
	}

	leader := &ValidatorRecord{Address: "lac1v1", Level: 5}
	commitment := z.Finalize(s, round, leader, 1003)
	if len(commitment.Witnesses) != 2 {
		t.Fatalf("finalized commitment has %d witnesses, want 2", len(commitment.Witnesses))
	}
	for _, sig := range commitment.Witnesses {
		if !VerifyWitnessSignature(commitment.CommitmentHash, sig) {
			t.Fatalf("witness signature from %s failed to verify", sig.Validator)
		}
	}

	if diff := s.Accounts["lac1v1"].Balance - (CommitmentRewardL5 + WitnessReward); diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("leader balance = %v, want %v", s.Accounts["lac1v1"].Balance, CommitmentRewardL5+WitnessReward)
	}
	if s.Accounts["lac1v2"].Balance != WitnessReward {
		t.Fatalf("witness balance = %v, want %v", s.Accounts["lac1v2"].Balance, WitnessReward)
	}
	if leader.CommitmentsCreated != 1 {
		t.Fatalf("leader commitments_created = %d, want 1", leader.CommitmentsCreated)
	}
}

func TestFinalize_CreditsCommitmentRewardL6ForHigherLevelLeader(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	candidate := z.BuildCommitment(s, 0, 1000)
	round := OpenWitnessRound(candidate, 1, 1000)
	if err := round.SubmitWitnessSignature("lac1v1", "seed1", 1001); err != nil {
		t.Fatalf("SubmitWitnessSignature: %v", err)
	}

	leader := &ValidatorRecord{Address: "lac1v1", Level: 6}
	commitment := z.Finalize(s, round, leader, 1003)
	want := CommitmentRewardL6 + WitnessReward
	if s.Accounts["lac1v1"].Balance != want {
		t.Fatalf("leader balance = %v, want %v", s.Accounts["lac1v1"].Balance, want)
	}
	_ = commitment
}

func TestApplyFraudProof_BansWitnessesAndRewardsReporter(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	commitment := &StateCommitment{
		Height:     5,
		Witnesses:  []WitnessSignature{{Validator: "lac1v1"}, {Validator: "lac1v2"}},
	}
	s.Validators["lac1v1"] = &ValidatorRecord{Address: "lac1v1"}
	s.Validators["lac1v2"] = &ValidatorRecord{Address: "lac1v2"}

	fp := &FraudProof{Kind: "invalid_merkle", Height: 5, ReportedBy: "lac1reporter", CreatedAt: 1000}
	z.ApplyFraudProof(s, fp, commitment)

	if s.Accounts["lac1reporter"].Balance != FraudRewardAmount {
		t.Fatalf("reporter balance = %v, want %v", s.Accounts["lac1reporter"].Balance, FraudRewardAmount)
	}
	for _, addr := range []string{"lac1v1", "lac1v2"} {
		v := s.Validators[addr]
		if v.FraudReports != 1 {
			t.Fatalf("%s fraud_reports = %d, want 1", addr, v.FraudReports)
		}
		if v.BannedUntil <= 1000 {
			t.Fatalf("%s was not banned", addr)
		}
	}
	if len(z.FraudProofs) != 1 {
		t.Fatalf("fraud proof was not recorded, got %d", len(z.FraudProofs))
	}
}

func TestApplyFraudProof_DoubleSignOnlyBansNamedValidator(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	s.Validators["lac1v1"] = &ValidatorRecord{Address: "lac1v1"}
	s.Validators["lac1v2"] = &ValidatorRecord{Address: "lac1v2"}

	sigA := WitnessSignature{Validator: "lac1v1", Signature: "aa"}
	sigB := WitnessSignature{Validator: "lac1v1", Signature: "bb"}
	fp := DetectDoubleSign("lac1v1", sigA, sigB, 5, "lac1reporter", 1000)
	if fp == nil {
		t.Fatalf("expected a double-sign fraud proof")
	}
	z.ApplyFraudProof(s, fp, nil)

	if s.Validators["lac1v1"].BannedUntil <= 1000 {
		t.Fatalf("double-signing validator was not banned")
	}
	if s.Validators["lac1v2"].BannedUntil != 0 {
		t.Fatalf("uninvolved validator must not be banned")
	}
}

func TestWitnessRound_RejectsSignatureAfterDeadline(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	candidate := z.BuildCommitment(s, 0, 1000)
	round := OpenWitnessRound(candidate, 1, 1000)

	err := round.SubmitWitnessSignature("lac1v1", "seed1", round.Deadline+1)
	if err == nil {
		t.Fatalf("expected expired round to reject signature")
	}
}

func TestWitnessRound_RejectsDuplicateValidator(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	candidate := z.BuildCommitment(s, 0, 1000)
	round := OpenWitnessRound(candidate, 1, 1000)

	if err := round.SubmitWitnessSignature("lac1v1", "seed1", 1001); err != nil {
		t.Fatalf("SubmitWitnessSignature: %v", err)
	}
	if err := round.SubmitWitnessSignature("lac1v1", "seed1", 1002); err == nil {
		t.Fatalf("expected duplicate validator signature to be rejected")
	}
}

func TestDetectInvalidMerkle_FlagsTamperedCommitment(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	commitment := z.BuildCommitment(s, 0, 1000)
	commitment.MerkleRoot = "tampered"

	fp := DetectInvalidMerkle(s, commitment, "lac1reporter", 1000)
	if fp == nil {
		t.Fatalf("expected fraud proof for tampered merkle root")
	}
	if fp.Kind != "invalid_merkle" {
		t.Fatalf("fraud proof kind = %s, want invalid_merkle", fp.Kind)
	}
	if !fp.withinSizeLimit() {
		t.Fatalf("fraud proof exceeds size limit")
	}
}

func TestDetectInvalidMerkle_NoFraudWhenConsistent(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	z := NewZeroHistoryState()
	commitment := z.BuildCommitment(s, 0, 1000)

	if fp := DetectInvalidMerkle(s, commitment, "lac1reporter", 1000); fp != nil {
		t.Fatalf("expected no fraud proof for a consistent commitment, got %+v", fp)
	}
}

func TestAdvanceTiers_ClassifiesByAge(t *testing.T) {
	z := NewZeroHistoryState()
	now := int64(1000 * 24 * 60 * 60)
	chain := []*Block{
		{Index: 0, Timestamp: now},
		{Index: 1, Timestamp: now - int64(L2RetentionAge.Seconds()) - 1000},
	}
	z.AdvanceTiers(chain, now)

	if z.TierFor(0) != TierL3 {
		t.Fatalf("recent block should be L3, got %d", z.TierFor(0))
	}
	if z.TierFor(1) != TierL2 {
		t.Fatalf("old block with no commitment should stay L2, got %d", z.TierFor(1))
	}
}
