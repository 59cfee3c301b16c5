package main

import "fmt"

// SubmitToMempool validates tx structurally and appends it to the FIFO
// mempool, dropping the oldest entry if the queue is already at capacity
// (§4.4: cap MempoolCap, drop-oldest-on-overflow).
func SubmitToMempool(s *Store, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("rejected: %w", err)
	}
	if len(s.Mempool) >= MempoolCap {
		s.Mempool = s.Mempool[1:]
	}
	s.Mempool = append(s.Mempool, tx)
	return nil
}

// SubmitPendingTx enqueues a transaction that must be included in the very
// next block only; AssembleBlock adds the whole pending queue after the
// capped mempool slice.
func SubmitPendingTx(s *Store, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("rejected: %w", err)
	}
	s.PendingTxs = append(s.PendingTxs, tx)
	return nil
}

// AssembleBlock builds the next block's contents from the mempool, pending
// one-shot transactions, and ephemeral message queue, then clears the
// queues that were drained (§4.4: transactions = mempool[:50] + pending_txs,
// ephemeral_msgs = ephemeral[:20]).
func AssembleBlock(s *Store, now int64, difficulty float64, winners []WinnerRecord) (*Block, error) {
	tip := s.Tip()
	if tip == nil {
		return nil, fmt.Errorf("chain has no tip")
	}

	take := len(s.Mempool)
	if take > MaxTxsPerBlock {
		take = MaxTxsPerBlock
	}
	txs := make([]*Transaction, 0, take+len(s.PendingTxs))
	txs = append(txs, s.Mempool[:take]...)
	txs = append(txs, s.PendingTxs...)

	msgTake := len(s.Ephemeral)
	if msgTake > MaxEphemeralMsgsPerBlock {
		msgTake = MaxEphemeralMsgsPerBlock
	}
	msgs := append([]*EphemeralMessage(nil), s.Ephemeral[:msgTake]...)

	b := &Block{
		Index:         tip.Index + 1,
		Timestamp:     now,
		PreviousHash:  tip.Hash,
		Transactions:  txs,
		EphemeralMsgs: msgs,
		Nonce:         0,
		Difficulty:    difficulty,
		Winners:       winners,
	}
	hash, err := b.ComputeHash()
	if err != nil {
		return nil, err
	}
	b.Hash = hash

	s.Mempool = s.Mempool[take:]
	s.PendingTxs = nil
	s.Ephemeral = s.Ephemeral[msgTake:]

	return b, nil
}

// ExpireEphemeralMessages drops ephemeral messages older than maxAge
// seconds (§4.7: 60-second cleanup loop).
func ExpireEphemeralMessages(s *Store, now int64, maxAgeSecs int64) {
	kept := make([]*EphemeralMessage, 0, len(s.Ephemeral))
	for _, m := range s.Ephemeral {
		if now-m.Timestamp <= maxAgeSecs {
			kept = append(kept, m)
		}
	}
	s.Ephemeral = kept
}
