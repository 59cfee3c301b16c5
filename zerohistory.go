package main

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Storage tiers (§4.6).
const (
	TierL3 = 3 // full block body, age < L3RetentionAge
	TierL2 = 2 // older than L3RetentionAge; body still held (only L1 bodies are discarded)
	TierL1 = 1 // commitment only, body discarded
)

// ValidatorRecord tracks one zero-history commitment validator (§4.6: L5/L6
// accounts may stake to become witnesses).
type ValidatorRecord struct {
	Address            string  `json:"address"`
	Level              int     `json:"level"`
	Stake              float64 `json:"stake"`
	Reputation         float64 `json:"reputation"`
	BannedUntil        int64   `json:"banned_until,omitempty"`
	CommitmentsCreated uint64  `json:"commitments_created"`
	FraudReports       uint64  `json:"fraud_reports"`
	LastActive         int64   `json:"last_active,omitempty"`
}

func (v *ValidatorRecord) isBanned(now int64) bool {
	return v.BannedUntil > now
}

// WitnessSignature is one validator's real Ed25519 signature over a
// commitment hash.
type WitnessSignature struct {
	Validator string `json:"validator"`
	PubKey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// StateCommitment is one finalized L1 commitment (§4.6).
type StateCommitment struct {
	Height             uint64             `json:"height"`
	CommitmentHash     string             `json:"commitment_hash"`
	MerkleRoot         string             `json:"merkle_root"`
	UtxoRoot           string             `json:"utxo_root"`
	PreviousCommitment string             `json:"previous_commitment"`
	Witnesses          []WitnessSignature `json:"witnesses"`
	FinalizedAt        int64              `json:"finalized_at"`
}

// WitnessRound is an in-flight commitment awaiting enough witness
// signatures before the deadline (§4.6: 5-minute window, 67% threshold).
type WitnessRound struct {
	Height         uint64             `json:"height"`
	CommitmentHash string             `json:"commitment_hash"`
	MerkleRoot     string             `json:"merkle_root"`
	UtxoRoot       string             `json:"utxo_root"`
	PrevCommitment string             `json:"previous_commitment"`
	OpenedAt       int64              `json:"opened_at"`
	Deadline       int64              `json:"deadline"`
	Required       int                `json:"required"`
	Signatures     []WitnessSignature `json:"signatures"`
	Finalized      bool               `json:"finalized"`
}

// FraudProof is evidence a validator (or observer) produced showing a
// commitment or block is invalid (§4.6). withinSizeLimit reports whether
// its evidence, kind and reporter fit in FraudProofMaxSize bytes; proofs
// over that size are not truncated or rejected by ApplyFraudProof.
type FraudProof struct {
	Kind       string `json:"kind"` // invalid_merkle | invalid_utxo | invalid_state | double_sign
	Height     uint64 `json:"height"`
	Evidence   string `json:"evidence"`
	ReportedBy string `json:"reported_by"`
	CreatedAt  int64  `json:"created_at"`
	// Validator names the single validator at fault, when one is known
	// (double_sign). Left empty for commitment-level faults, where every
	// witness on the offending commitment shares the blame.
	Validator string `json:"validator,omitempty"`
}

// Checkpoint is one retained snapshot reference under the decimating
// retention schedule (§4.6).
type Checkpoint struct {
	Height    uint64 `json:"height"`
	StateRoot string `json:"state_root"`
	CreatedAt int64  `json:"created_at"`
}

// ZeroHistoryState is the store's tiered-storage bookkeeping: which heights
// are still full blocks, which have been pruned to a commitment, the
// commitment chain itself, any in-flight witness round, fraud proofs filed,
// and the retained checkpoint schedule.
type ZeroHistoryState struct {
	Tiers                 map[uint64]int     `json:"tiers"`
	Commitments           []*StateCommitment `json:"commitments"`
	PendingWitnessRound   *WitnessRound      `json:"pending_witness_round,omitempty"`
	FraudProofs           []*FraudProof      `json:"fraud_proofs"`
	Checkpoints           []*Checkpoint      `json:"checkpoints"`
	LastCommitmentHeight  uint64             `json:"last_commitment_height"`
}

// NewZeroHistoryState returns an empty tiered-storage bookkeeping state.
func NewZeroHistoryState() *ZeroHistoryState {
	return &ZeroHistoryState{
		Tiers: make(map[uint64]int),
	}
}

// ensureInitialized repairs nil maps that result from unmarshaling a
// zero-value JSON document (e.g. `null` for an empty Go map).
func (z *ZeroHistoryState) ensureInitialized() {
	if z.Tiers == nil {
		z.Tiers = make(map[uint64]int)
	}
}

// TierFor reports the current storage tier of height, defaulting to L3 for
// any height not yet classified (a freshly produced block).
func (z *ZeroHistoryState) TierFor(height uint64) int {
	if t, ok := z.Tiers[height]; ok {
		return t
	}
	return TierL3
}

// AdvanceTiers reclassifies heights based on age relative to now, per
// §4.6's lifecycle: L3 while younger than L3RetentionAge; between
// L3RetentionAge and L2RetentionAge, L2 if a commitment covers it and L3
// otherwise; older than L2RetentionAge, L1 if a commitment covers it and
// L2 otherwise.
func (z *ZeroHistoryState) AdvanceTiers(chain []*Block, now int64) {
	l3Cutoff := now - int64(L3RetentionAge.Seconds())
	l2Cutoff := now - int64(L2RetentionAge.Seconds())

	for _, b := range chain {
		switch {
		case b.Timestamp >= l3Cutoff:
			z.Tiers[b.Index] = TierL3
		case b.Timestamp >= l2Cutoff:
			if z.hasCommitmentCovering(b.Index) {
				z.Tiers[b.Index] = TierL2
			} else {
				z.Tiers[b.Index] = TierL3
			}
		default:
			if z.hasCommitmentCovering(b.Index) {
				z.Tiers[b.Index] = TierL1
			} else {
				z.Tiers[b.Index] = TierL2
			}
		}
	}
}

func (z *ZeroHistoryState) hasCommitmentCovering(height uint64) bool {
	for _, c := range z.Commitments {
		if c.Height >= height {
			return true
		}
	}
	return false
}

// PruneBody returns true if the block body at height should be discarded
// from the in-memory chain (kept only as a commitment reference).
func (z *ZeroHistoryState) PruneBody(height uint64) bool {
	return z.TierFor(height) == TierL1
}

// genesisCommitmentAnchor is the previous_commitment value for the very
// first commitment in the chain: there is no prior commitment to link to,
// so it anchors to the genesis block's own hash instead of an empty string.
func genesisCommitmentAnchor(chain []*Block) string {
	if len(chain) == 0 {
		return ""
	}
	return chain[0].Hash
}

// merkleRootOf computes a simple deterministic root over transaction
// hashes: sorted leaf hashes, repeatedly paired and hashed until one root
// remains. An odd leaf is carried forward unpaired.
func merkleRootOf(leaves []string) string {
	if len(leaves) == 0 {
		sum := sha3.Sum256([]byte("EMPTY_MERKLE"))
		return hexEncode(sum[:])
	}
	level := append([]string(nil), leaves...)
	sort.Strings(level)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				sum := sha3.Sum256([]byte(level[i] + level[i+1]))
				next = append(next, hexEncode(sum[:]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

// utxoRootOf hashes every account's address and balance into a single root,
// standing in for the UTXO set root in this account-based ledger.
func utxoRootOf(accounts map[string]*Account) string {
	leaves := make([]string, 0, len(accounts))
	for addr, acc := range accounts {
		leaves = append(leaves, fmt.Sprintf("%s:%.8f", addr, acc.Balance))
	}
	return merkleRootOf(leaves)
}

// ShouldTriggerCommitment reports whether height is a commitment boundary
// under interval (§4.6: every commitment_interval blocks).
func ShouldTriggerCommitment(height uint64, interval uint64) bool {
	return interval > 0 && height > 0 && height%interval == 0
}

// BuildCommitment assembles the next L1 commitment candidate for height,
// linking it to the previous commitment (or, for the first commitment
// ever produced, to the genesis block hash).
func (z *ZeroHistoryState) BuildCommitment(s *Store, height uint64, now int64) *StateCommitment {
	txHashes := make([]string, 0)
	for _, b := range s.Chain {
		if b.Index > height {
			break
		}
		for _, tx := range b.Transactions {
			h, err := tx.CanonicalHash()
			if err == nil {
				txHashes = append(txHashes, hexEncode(h[:]))
			}
		}
	}

	prev := genesisCommitmentAnchor(s.Chain)
	if len(z.Commitments) > 0 {
		prev = z.Commitments[len(z.Commitments)-1].CommitmentHash
	}

	merkleRoot := merkleRootOf(txHashes)
	utxoRoot := utxoRootOf(s.Accounts)
	sum := sha3.Sum256([]byte(fmt.Sprintf("%d:%s:%s:%s", height, merkleRoot, utxoRoot, prev)))

	return &StateCommitment{
		Height:             height,
		CommitmentHash:     hexEncode(sum[:]),
		MerkleRoot:         merkleRoot,
		UtxoRoot:           utxoRoot,
		PreviousCommitment: prev,
		FinalizedAt:        0,
	}
}

// OpenWitnessRound starts collecting signatures for candidate, with a
// deadline WitnessDeadline seconds after now (§4.6).
func OpenWitnessRound(candidate *StateCommitment, required int, now int64) *WitnessRound {
	return &WitnessRound{
		Height:         candidate.Height,
		CommitmentHash: candidate.CommitmentHash,
		MerkleRoot:     candidate.MerkleRoot,
		UtxoRoot:       candidate.UtxoRoot,
		PrevCommitment: candidate.PreviousCommitment,
		OpenedAt:       now,
		Deadline:       now + int64(WitnessDeadline.Seconds()),
		Required:       required,
	}
}

// SubmitWitnessSignature has validatorSeed sign the round's commitment hash
// with a real Ed25519 signature and appends it, rejecting expired rounds
// and duplicate validators.
func (r *WitnessRound) SubmitWitnessSignature(validatorAddress, validatorSeed string, now int64) error {
	if r.Finalized {
		return fmt.Errorf("witness round already finalized")
	}
	if now > r.Deadline {
		return fmt.Errorf("witness round expired")
	}
	for _, sig := range r.Signatures {
		if sig.Validator == validatorAddress {
			return fmt.Errorf("validator %s already witnessed this round", validatorAddress)
		}
	}

	priv, pub := DeriveEd25519KeyPair(validatorSeed)
	msg := []byte(r.CommitmentHash)
	sig := ed25519.Sign(priv, msg)

	r.Signatures = append(r.Signatures, WitnessSignature{
		Validator: validatorAddress,
		PubKey:    hexEncode(pub),
		Signature: hexEncode(sig),
	})
	return nil
}

// ReadyToFinalize reports whether the round has crossed WitnessThreshold of
// totalValidators (§4.6: 67%), or met required as a floor when there are
// too few validators to reach the percentage.
func (r *WitnessRound) ReadyToFinalize(totalValidators int) bool {
	if len(r.Signatures) >= r.Required {
		return true
	}
	if totalValidators == 0 {
		return false
	}
	return float64(len(r.Signatures))/float64(totalValidators) >= WitnessThreshold
}

// Finalize closes the round into a StateCommitment, appends it to the
// commitment chain, and pays the reward split spec.md:173/300 describes:
// leader credited CommitmentRewardL5 or L6 depending on level, each witness
// credited WitnessReward.
func (z *ZeroHistoryState) Finalize(s *Store, r *WitnessRound, leader *ValidatorRecord, now int64) *StateCommitment {
	r.Finalized = true
	commitment := &StateCommitment{
		Height:             r.Height,
		CommitmentHash:     r.CommitmentHash,
		MerkleRoot:         r.MerkleRoot,
		UtxoRoot:           r.UtxoRoot,
		PreviousCommitment: r.PrevCommitment,
		Witnesses:          r.Signatures,
		FinalizedAt:        now,
	}
	z.Commitments = append(z.Commitments, commitment)
	z.LastCommitmentHeight = r.Height

	if leader != nil {
		reward := CommitmentRewardL5
		if leader.Level >= 6 {
			reward = CommitmentRewardL6
		}
		leaderAcc := s.GetOrCreateAccount(leader.Address, now)
		leaderAcc.Balance += reward
		s.TotalEmitted += reward
		leader.CommitmentsCreated++
		leader.LastActive = now
	}

	for _, sig := range r.Signatures {
		witnessAcc := s.GetOrCreateAccount(sig.Validator, now)
		witnessAcc.Balance += WitnessReward
		s.TotalEmitted += WitnessReward
		if v, ok := s.Validators[sig.Validator]; ok {
			v.LastActive = now
		}
	}

	return commitment
}

// VerifyWitnessSignature checks one witness signature against the
// commitment hash it claims to attest.
func VerifyWitnessSignature(commitmentHash string, sig WitnessSignature) bool {
	pub, err := hexDecode(sig.PubKey)
	if err != nil {
		return false
	}
	signature, err := hexDecode(sig.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(commitmentHash), signature)
}

// DetectInvalidMerkle recomputes the merkle root for height from the live
// chain and compares it against the committed value, producing a fraud
// proof on mismatch (§4.6: invalid_merkle).
func DetectInvalidMerkle(s *Store, commitment *StateCommitment, reportedBy string, now int64) *FraudProof {
	txHashes := make([]string, 0)
	for _, b := range s.Chain {
		if b.Index > commitment.Height {
			break
		}
		for _, tx := range b.Transactions {
			h, err := tx.CanonicalHash()
			if err == nil {
				txHashes = append(txHashes, hexEncode(h[:]))
			}
		}
	}
	recomputed := merkleRootOf(txHashes)
	if recomputed == commitment.MerkleRoot {
		return nil
	}
	return &FraudProof{
		Kind:       "invalid_merkle",
		Height:     commitment.Height,
		Evidence:   fmt.Sprintf("committed=%s recomputed=%s", commitment.MerkleRoot, recomputed),
		ReportedBy: reportedBy,
		CreatedAt:  now,
	}
}

// DetectInvalidUtxo recomputes the account-balance root for height and
// compares it against the committed value (§4.6: invalid_utxo).
func DetectInvalidUtxo(s *Store, commitment *StateCommitment, reportedBy string, now int64) *FraudProof {
	recomputed := utxoRootOf(s.Accounts)
	if recomputed == commitment.UtxoRoot {
		return nil
	}
	return &FraudProof{
		Kind:       "invalid_utxo",
		Height:     commitment.Height,
		Evidence:   fmt.Sprintf("committed=%s recomputed=%s", commitment.UtxoRoot, recomputed),
		ReportedBy: reportedBy,
		CreatedAt:  now,
	}
}

// DetectDoubleSign reports a fraud proof when the same validator has two
// distinct, individually-valid witness signatures for the same height
// across competing commitment hashes.
func DetectDoubleSign(validatorAddress string, a, b WitnessSignature, height uint64, reportedBy string, now int64) *FraudProof {
	if a.Validator != validatorAddress || b.Validator != validatorAddress {
		return nil
	}
	if a.Signature == b.Signature {
		return nil
	}
	return &FraudProof{
		Kind:       "double_sign",
		Height:     height,
		Evidence:   fmt.Sprintf("validator=%s sigA=%s sigB=%s", validatorAddress, a.Signature, b.Signature),
		ReportedBy: reportedBy,
		CreatedAt:  now,
		Validator:  validatorAddress,
	}
}

// ApplyFraudProof records fp, pays the reporter FraudRewardAmount, and bans
// the validator(s) at fault for FraudPunishmentBanDays, bumping their
// fraud_reports counter (§4.6). If fp names a specific validator (e.g.
// double_sign) only that validator is punished; otherwise every witness on
// the implicated commitment is, since a bad merkle or utxo root is a fault
// of the whole witness set that signed it.
func (z *ZeroHistoryState) ApplyFraudProof(s *Store, fp *FraudProof, commitment *StateCommitment) {
	if fp == nil {
		return
	}
	z.FraudProofs = append(z.FraudProofs, fp)

	reporter := s.GetOrCreateAccount(fp.ReportedBy, fp.CreatedAt)
	reporter.Balance += FraudRewardAmount
	s.TotalEmitted += FraudRewardAmount

	banUntil := fp.CreatedAt + int64(FraudPunishmentBanDays*24*60*60)
	punish := func(address string) {
		if v, ok := s.Validators[address]; ok {
			v.BannedUntil = banUntil
			v.FraudReports++
		}
	}

	if fp.Validator != "" {
		punish(fp.Validator)
		return
	}
	if commitment != nil {
		for _, w := range commitment.Witnesses {
			punish(w.Validator)
		}
	}
}

// VerifyCandidate recomputes both roots of a just-built commitment
// candidate against the store it claims to summarize, the way a witness
// verifies a proposal before signing it (§4.6). Returns the first
// mismatch found, or nil if the candidate is internally consistent.
func VerifyCandidate(s *Store, candidate *StateCommitment, reportedBy string, now int64) *FraudProof {
	if fp := DetectInvalidMerkle(s, candidate, reportedBy, now); fp != nil {
		return fp
	}
	return DetectInvalidUtxo(s, candidate, reportedBy, now)
}

func (fp *FraudProof) withinSizeLimit() bool {
	return len(fp.Evidence)+len(fp.Kind)+len(fp.ReportedBy) <= FraudProofMaxSize
}

// RecordCheckpoint appends a checkpoint and then applies the decimating
// retention schedule: after 1 year only every 10th checkpoint survives,
// after 5 years only every 100th (§4.6).
func (z *ZeroHistoryState) RecordCheckpoint(height uint64, stateRoot string, now int64) {
	z.Checkpoints = append(z.Checkpoints, &Checkpoint{Height: height, StateRoot: stateRoot, CreatedAt: now})
	z.decimateCheckpoints(now)
}

func (z *ZeroHistoryState) decimateCheckpoints(now int64) {
	oneYear := int64(365 * 24 * 60 * 60)
	fiveYears := oneYear * 5
	tenYears := oneYear * 10

	kept := make([]*Checkpoint, 0, len(z.Checkpoints))
	for i, c := range z.Checkpoints {
		age := now - c.CreatedAt
		switch {
		case age > tenYears:
			continue
		case age > fiveYears:
			if i%CheckpointDecimateAfter5Years == 0 {
				kept = append(kept, c)
			}
		case age > oneYear:
			if i%CheckpointDecimateAfter1Year == 0 {
				kept = append(kept, c)
			}
		default:
			kept = append(kept, c)
		}
	}
	z.Checkpoints = kept
}

// SelectValidators returns active (unbanned) validators eligible to witness
// a commitment round (§4.6: L5 accounts staking at least ValidatorStakeL5,
// L6 accounts staking at least ValidatorStakeL6), ordered by level and then
// reputation, highest first.
func SelectValidators(validators map[string]*ValidatorRecord, now int64) []*ValidatorRecord {
	selected := make([]*ValidatorRecord, 0, len(validators))
	for _, v := range validators {
		if v.isBanned(now) || v.Level < 5 {
			continue
		}
		if (v.Level == 5 && v.Stake < ValidatorStakeL5) || (v.Level >= 6 && v.Stake < ValidatorStakeL6) {
			continue
		}
		selected = append(selected, v)
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Level != selected[j].Level {
			return selected[i].Level > selected[j].Level
		}
		return selected[i].Reputation > selected[j].Reputation
	})
	return selected
}
