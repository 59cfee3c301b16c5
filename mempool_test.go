package main

import "testing"

func TestSubmitToMempool_DropsOldestOnOverflow(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	for i := 0; i < MempoolCap+5; i++ {
		tx := &Transaction{Type: TxFaucet, To: "lac1a", Amount: 1}
		if err := SubmitToMempool(s, tx); err != nil {
			t.Fatalf("SubmitToMempool: %v", err)
		}
	}
	if len(s.Mempool) != MempoolCap {
		t.Fatalf("mempool length = %d, want %d", len(s.Mempool), MempoolCap)
	}
}

func TestSubmitToMempool_RejectsInvalidTransaction(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	err := SubmitToMempool(s, &Transaction{Type: TxTransfer, From: "lac1a", To: "lac1b", Amount: 0})
	if err == nil {
		t.Fatalf("expected validation error for zero-amount transfer")
	}
}

func TestAssembleBlock_CapsTransactionsAndMessages(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	for i := 0; i < MaxTxsPerBlock+10; i++ {
		_ = SubmitToMempool(s, &Transaction{Type: TxFaucet, To: "lac1a", Amount: 1})
	}
	for i := 0; i < MaxEphemeralMsgsPerBlock+10; i++ {
		s.Ephemeral = append(s.Ephemeral, &EphemeralMessage{ID: "m", Timestamp: int64(i)})
	}

	b, err := AssembleBlock(s, 1000, 1.0, nil)
	if err != nil {
		t.Fatalf("AssembleBlock: %v", err)
	}
	if len(b.Transactions) != MaxTxsPerBlock {
		t.Fatalf("got %d transactions, want %d", len(b.Transactions), MaxTxsPerBlock)
	}
	if len(b.EphemeralMsgs) != MaxEphemeralMsgsPerBlock {
		t.Fatalf("got %d ephemeral messages, want %d", len(b.EphemeralMsgs), MaxEphemeralMsgsPerBlock)
	}
	if len(s.Mempool) != 10 {
		t.Fatalf("mempool should retain the overflow: got %d, want 10", len(s.Mempool))
	}
}

func TestAssembleBlock_IncludesPendingTxsBeyondCap(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	for i := 0; i < MaxTxsPerBlock+10; i++ {
		_ = SubmitToMempool(s, &Transaction{Type: TxFaucet, To: "lac1a", Amount: 1})
	}
	pending := &Transaction{Type: TxFaucet, To: "lac1a", Amount: 1}
	if err := SubmitPendingTx(s, pending); err != nil {
		t.Fatalf("SubmitPendingTx: %v", err)
	}

	b, err := AssembleBlock(s, 1000, 1.0, nil)
	if err != nil {
		t.Fatalf("AssembleBlock: %v", err)
	}
	if len(b.Transactions) != MaxTxsPerBlock+1 {
		t.Fatalf("expected pending tx to be included beyond the cap, got %d transactions", len(b.Transactions))
	}
	if len(s.PendingTxs) != 0 {
		t.Fatalf("pending queue should be drained after assembly")
	}
}

func TestExpireEphemeralMessages_DropsOldEntries(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.Ephemeral = []*EphemeralMessage{
		{ID: "old", Timestamp: 0},
		{ID: "new", Timestamp: 1000},
	}
	ExpireEphemeralMessages(s, 1000, 100)
	if len(s.Ephemeral) != 1 || s.Ephemeral[0].ID != "new" {
		t.Fatalf("expected only the recent message to survive, got %+v", s.Ephemeral)
	}
}
