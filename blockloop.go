package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/lacproject/lac/p2p"
)

// BlockLoop runs the three periodic tasks described in §4.7 from a single
// goroutine: block production every BlockInterval, ephemeral cleanup every
// CleanupInterval, and peer sync every PeerSyncInterval. All three share a
// single coarse lock on the store; none holds it across I/O.
type BlockLoop struct {
	store  *Store
	node   *p2p.Node
	params RuntimeParams
}

// RuntimeParams carries the dev/prod knobs that differ from the hardcoded
// defaults in params.go (§4.6: commitment_interval and min_witnesses are
// configurable per network).
type RuntimeParams struct {
	CommitmentInterval uint64
	MinWitnesses       int
}

// DevRuntimeParams returns the small, fast-iterating values used for local
// development and tests.
func DevRuntimeParams() RuntimeParams {
	return RuntimeParams{CommitmentInterval: CommitmentIntervalDev, MinWitnesses: MinWitnessesDev}
}

// ProdRuntimeParams returns the production-scale values.
func ProdRuntimeParams() RuntimeParams {
	return RuntimeParams{CommitmentInterval: CommitmentIntervalProd, MinWitnesses: MinWitnessesProd}
}

// NewBlockLoop wires a store to an (optional) p2p node.
func NewBlockLoop(store *Store, node *p2p.Node, params RuntimeParams) *BlockLoop {
	return &BlockLoop{store: store, node: node, params: params}
}

// Run blocks until ctx is cancelled, dispatching the three tasks from one
// select loop, one tick at a time.
func (bl *BlockLoop) Run(ctx context.Context) {
	if bl.node != nil {
		bl.node.SetBlockHandler(bl.handleIncomingBlock)
	}

	blockTicker := time.NewTicker(BlockInterval)
	cleanupTicker := time.NewTicker(CleanupInterval)
	syncTicker := time.NewTicker(PeerSyncInterval)
	defer blockTicker.Stop()
	defer cleanupTicker.Stop()
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-blockTicker.C:
			if err := bl.produceBlock(); err != nil {
				log.Printf("block production failed: %v", err)
			}
		case <-cleanupTicker.C:
			bl.cleanup()
		case <-syncTicker.C:
			bl.syncPeers(ctx)
		}
	}
}

// produceBlock runs one PoET round end to end: mine, assemble, apply,
// persist, prune, commit-if-due, broadcast (§4.7).
func (bl *BlockLoop) produceBlock() error {
	now := time.Now().Unix()

	bl.store.Lock()
	tip := bl.store.Tip()
	height := tip.Index + 1

	registrations := EligibleRegistrations(bl.store, tip.Hash, tip.Index)
	winners := SelectWinners(bl.store, registrations, tip.Hash, now)
	PayWinners(bl.store, winners, height, now)

	difficulty := tip.Difficulty
	if ShouldTriggerCommitment(height, uint64(DifficultyInterval)) {
		if avg, err := AverageBlockTime(bl.store.Chain, DifficultyInterval); err == nil {
			difficulty = AdjustDifficulty(difficulty, avg)
		}
	}

	block, err := AssembleBlock(bl.store, now, difficulty, winners)
	if err != nil {
		bl.store.Unlock()
		return err
	}
	if err := ApplyBlock(bl.store, block); err != nil {
		bl.store.Unlock()
		return err
	}

	bl.store.ZeroHistory.AdvanceTiers(bl.store.Chain, now)
	bl.pruneTieredBodies()

	var committed *StateCommitment
	if ShouldTriggerCommitment(height, bl.params.CommitmentInterval) {
		committed = bl.runCommitmentRound(height, now)
	}

	chainSnapshot := append([]*Block(nil), bl.store.Chain...)
	bl.store.Unlock()

	if err := bl.store.SaveAll(); err != nil {
		log.Printf("failed to persist store after block %d: %v", block.Index, err)
	}

	if committed != nil {
		log.Printf("zero-history commitment finalized at height %d with %d witnesses", committed.Height, len(committed.Witnesses))
	}

	bl.broadcastBlock(chainSnapshot[len(chainSnapshot)-1])
	return nil
}

// runCommitmentRound audits the previously finalized commitment, builds
// the next candidate and self-verifies it, has the selected validator set
// witness it synchronously (the production deployment would wait
// asynchronously for the 5-minute deadline; the in-process round here
// collects whatever validators are registered immediately), and finalizes
// it once the threshold is met, paying out the leader/witness rewards and
// recording a retained checkpoint (§4.6).
func (bl *BlockLoop) runCommitmentRound(height uint64, now int64) *StateCommitment {
	z := bl.store.ZeroHistory
	bl.auditLastCommitment(now)

	candidate := z.BuildCommitment(bl.store, height, now)
	if fp := VerifyCandidate(bl.store, candidate, "self", now); fp != nil {
		log.Printf("commitment candidate at height %d failed self-verification: %s", height, fp.Evidence)
		return nil
	}

	validators := SelectValidators(bl.store.Validators, now)
	if len(validators) == 0 {
		return nil
	}
	leader := validators[0]

	round := OpenWitnessRound(candidate, bl.params.MinWitnesses, now)
	for _, v := range validators {
		_ = round.SubmitWitnessSignature(v.Address, "VALIDATOR_SEED:"+v.Address, now)
	}

	if !round.ReadyToFinalize(len(validators)) {
		z.PendingWitnessRound = round
		return nil
	}
	z.PendingWitnessRound = nil
	commitment := z.Finalize(bl.store, round, leader, now)
	z.RecordCheckpoint(commitment.Height, commitment.UtxoRoot, now)
	return commitment
}

// auditLastCommitment re-verifies the most recently finalized commitment's
// merkle root against the (immutable, since it only depends on transaction
// hashes up to that height) live chain, banning its witnesses and paying
// the reporter if it no longer matches (§4.6).
func (bl *BlockLoop) auditLastCommitment(now int64) {
	z := bl.store.ZeroHistory
	if len(z.Commitments) == 0 {
		return
	}
	last := z.Commitments[len(z.Commitments)-1]
	if fp := DetectInvalidMerkle(bl.store, last, "network", now); fp != nil {
		log.Printf("fraud detected in commitment at height %d: %s", last.Height, fp.Evidence)
		z.ApplyFraudProof(bl.store, fp, last)
	}
}

// pruneTieredBodies discards transaction bodies for blocks that have
// reached L1, keeping only the hash and index needed for chain linkage.
func (bl *BlockLoop) pruneTieredBodies() {
	for _, b := range bl.store.Chain {
		if bl.store.ZeroHistory.PruneBody(b.Index) && len(b.Transactions) > 0 {
			b.Transactions = nil
			b.EphemeralMsgs = nil
		}
	}
}

func (bl *BlockLoop) broadcastBlock(b *Block) {
	if bl.node == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		log.Printf("failed to marshal block %d for broadcast: %v", b.Index, err)
		return
	}
	bl.node.BroadcastBlock(data)
}

// handleIncomingBlock validates and applies a block received from a peer.
func (bl *BlockLoop) handleIncomingBlock(from peer.ID, data []byte) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		log.Printf("failed to unmarshal block from %s: %v", from.String(), err)
		return
	}

	bl.store.Lock()
	defer bl.store.Unlock()

	tip := bl.store.Tip()
	if b.Index != tip.Index+1 || b.PreviousHash != tip.Hash {
		return
	}
	recomputed, err := b.ComputeHash()
	if err != nil || recomputed != b.Hash {
		return
	}
	if err := ApplyBlock(bl.store, &b); err != nil {
		log.Printf("rejected block %d from %s: %v", b.Index, from.String(), err)
	}
}

// cleanup runs the 60-second maintenance pass (§4.7): it expires ephemeral
// messages and persists the remainder. Dead-man-switch triggers are not
// evaluated here.
func (bl *BlockLoop) cleanup() {
	now := time.Now().Unix()

	bl.store.Lock()
	ExpireEphemeralMessages(bl.store, now, int64(CleanupInterval.Seconds())*10)
	bl.store.Unlock()

	if err := bl.store.SaveEphemeral(); err != nil {
		log.Printf("failed to persist ephemeral messages: %v", err)
	}
}

// syncPeers runs on the 30-second peer-sync tick (§4.7). It does not
// request or compare chains from peers: blocks from peers arrive only
// through the broadcast handler that Run registers, and a peer's block is
// accepted only if it extends the local tip directly.
func (bl *BlockLoop) syncPeers(ctx context.Context) {
	if bl.node == nil {
		return
	}
	_ = ctx
}
