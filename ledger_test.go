package main

import "testing"

func mustApply(t *testing.T, s *Store, tx *Transaction, height uint64) {
	t.Helper()
	if err := ApplyTransaction(s, tx, height); err != nil {
		t.Fatalf("ApplyTransaction(%s): %v", tx.Type, err)
	}
}

func TestApplyFaucet_CreditsAndEmits(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	mustApply(t, s, &Transaction{Type: TxFaucet, To: "lac1a", Amount: 50}, 1)

	if s.Accounts["lac1a"].Balance != 50 {
		t.Fatalf("balance = %v, want 50", s.Accounts["lac1a"].Balance)
	}
	if s.TotalEmitted != 50 {
		t.Fatalf("total emitted = %v, want 50", s.TotalEmitted)
	}
}

func TestApplyTransfer_RejectsInsufficientBalance(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 10

	err := ApplyTransaction(s, &Transaction{Type: TxTransfer, From: "lac1a", To: "lac1b", Amount: 20}, 1)
	if err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestApplyStashDeposit_ThenWithdraw(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 1100

	depositTx, key, err := BuildStashDeposit(s, "lac1a", 1, 100)
	if err != nil {
		t.Fatalf("BuildStashDeposit: %v", err)
	}
	if depositTx.From != "anonymous" {
		t.Fatalf("deposit public from = %q, want \"anonymous\"", depositTx.From)
	}
	if depositTx.RealFrom != "lac1a" {
		t.Fatalf("deposit real_from = %q, want lac1a", depositTx.RealFrom)
	}
	mustApply(t, s, depositTx, 1)

	if s.Accounts["lac1a"].Balance != 1100-1000-StashDepositFee {
		t.Fatalf("balance after deposit = %v", s.Accounts["lac1a"].Balance)
	}
	if s.StashTotalBalance != 1000 {
		t.Fatalf("stash total = %v, want 1000", s.StashTotalBalance)
	}

	withdrawTx, err := BuildStashWithdraw(s, key, "lac1b", 200)
	if err != nil {
		t.Fatalf("BuildStashWithdraw: %v", err)
	}
	if withdrawTx.From != "stash_pool" {
		t.Fatalf("withdraw public from = %q, want \"stash_pool\"", withdrawTx.From)
	}
	if withdrawTx.RealTo != "lac1b" {
		t.Fatalf("withdraw real_to = %q, want lac1b", withdrawTx.RealTo)
	}
	if withdrawTx.To == "lac1b" {
		t.Fatalf("withdraw public to must not be the real recipient address")
	}
	mustApply(t, s, withdrawTx, 2)

	if s.Accounts["lac1b"].Balance != 1000 {
		t.Fatalf("recipient balance = %v, want 1000", s.Accounts["lac1b"].Balance)
	}
	if s.StashTotalBalance != 0 {
		t.Fatalf("stash total after withdraw = %v, want 0", s.StashTotalBalance)
	}

	if _, err := BuildStashWithdraw(s, key, "lac1c", 300); err == nil {
		t.Fatalf("expected replay of spent stash key to fail")
	}
}

func TestApplyTimelock_PendingActivateAndCancel(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 100

	pending := &Transaction{Type: TxTimelockPending, From: "lac1a", Amount: 50, UnlockHeight: 10, TimelockID: "t1", Timestamp: 1}
	mustApply(t, s, pending, 1)
	if s.Accounts["lac1a"].Balance != 50 {
		t.Fatalf("balance after lock = %v, want 50", s.Accounts["lac1a"].Balance)
	}
	if s.TotalLocked != 50 {
		t.Fatalf("total locked = %v, want 50", s.TotalLocked)
	}

	activate := &Transaction{Type: TxTimelockActivated, TimelockID: "t1", Timestamp: 2}
	if err := ApplyTransaction(s, activate, 5); err == nil {
		t.Fatalf("expected activation before unlock height to fail")
	}
	mustApply(t, s, activate, 10)
	if s.Accounts["lac1a"].Balance != 100 {
		t.Fatalf("balance after activation = %v, want 100", s.Accounts["lac1a"].Balance)
	}
	if s.TotalLocked != 0 {
		t.Fatalf("total locked after activation = %v, want 0", s.TotalLocked)
	}

	mustApply(t, s, &Transaction{Type: TxTimelockPending, From: "lac1a", Amount: 30, UnlockHeight: 20, TimelockID: "t2", Timestamp: 3}, 11)
	mustApply(t, s, &Transaction{Type: TxTimelockCancelled, From: "lac1a", TimelockID: "t2", Timestamp: 4}, 12)
	if s.Accounts["lac1a"].Balance != 100 {
		t.Fatalf("balance after cancel = %v, want 100", s.Accounts["lac1a"].Balance)
	}
	if s.TotalLocked != 0 {
		t.Fatalf("total locked after cancel = %v, want 0", s.TotalLocked)
	}
}

func TestApplyUsernameRegister_RejectsDuplicate(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0)
	s.GetOrCreateAccount("lac1b", 0)

	mustApply(t, s, &Transaction{Type: TxUsernameRegister, From: "lac1a", Username: "alice"}, 1)

	err := ApplyTransaction(s, &Transaction{Type: TxUsernameRegister, From: "lac1b", Username: "alice"}, 1)
	if err == nil {
		t.Fatalf("expected duplicate username rejection")
	}
}
