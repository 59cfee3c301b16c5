package main

import "testing"

func TestBuildVeilTransfer_RejectsInsufficientBalance(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 0.5

	if _, err := BuildVeilTransfer(s, "seedA", "lac1a", "lac1b", 5, 100); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
}

func TestBuildVeilTransfer_ProducesPhantomEscortAndVerifies(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 1000
	for i := 0; i < 5; i++ {
		addr, _ := DeriveAddress(stashFillerSeed(i))
		s.GetOrCreateAccount(addr, 0).Balance = 100
	}

	txs, err := BuildVeilTransfer(s, "seedA", "lac1a", "lac1b", 10, 1000)
	if err != nil {
		t.Fatalf("BuildVeilTransfer: %v", err)
	}
	if len(txs) < VeilMinPhantoms+1 || len(txs) > VeilMaxPhantoms+1 {
		t.Fatalf("got %d legs, want between %d and %d", len(txs), VeilMinPhantoms+1, VeilMaxPhantoms+1)
	}

	realCount := 0
	for _, tx := range txs {
		if tx.Type != TxVeilTransfer {
			t.Fatalf("leg has wrong type %q", tx.Type)
		}
		canonical, err := tx.CanonicalHash()
		if err != nil {
			t.Fatalf("CanonicalHash: %v", err)
		}
		if err := VerifyRing(tx.Ring, canonical[:]); err != nil {
			t.Fatalf("leg ring signature failed to verify: %v", err)
		}
		if !tx.IsPhantom {
			realCount++
		}
	}
	if realCount != 1 {
		t.Fatalf("expected exactly 1 real leg, got %d", realCount)
	}
}

func TestApplyVeilTransfer_RejectsKeyImageReplay(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 1000
	s.GetOrCreateAccount("lac1b", 0)

	txs, err := BuildVeilTransfer(s, "seedA", "lac1a", "lac1b", 10, 1000)
	if err != nil {
		t.Fatalf("BuildVeilTransfer: %v", err)
	}

	for _, tx := range txs {
		if err := ApplyTransaction(s, tx, 1); err != nil {
			t.Fatalf("apply veil leg: %v", err)
		}
	}

	// Replaying the exact same transaction set must fail: every key image
	// was already recorded.
	for _, tx := range txs {
		if err := ApplyTransaction(s, tx, 2); err == nil {
			t.Fatalf("expected replayed veil leg to be rejected")
		}
		break
	}
}

func TestParseStashKey_RoundTrips(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 1100

	depositTx, key, err := BuildStashDeposit(s, "lac1a", 1, 100)
	if err != nil {
		t.Fatalf("BuildStashDeposit: %v", err)
	}
	if depositTx.From != "anonymous" {
		t.Fatalf("deposit public from = %q, want \"anonymous\"", depositTx.From)
	}

	code, secretHex, err := ParseStashKey(key)
	if err != nil {
		t.Fatalf("ParseStashKey: %v", err)
	}
	if code != 1 {
		t.Fatalf("code = %d, want 1", code)
	}
	if len(secretHex) != 64 {
		t.Fatalf("secret hex length = %d, want 64", len(secretHex))
	}
}

func TestParseStashKey_AcceptsLegacyFormat(t *testing.T) {
	legacy := `stash_{"v":1,"n":2,"s":"ab12"}`
	code, secretHex, err := ParseStashKey(legacy)
	if err != nil {
		t.Fatalf("ParseStashKey: %v", err)
	}
	if code != 2 {
		t.Fatalf("code = %d, want 2", code)
	}
	if secretHex != "ab12" {
		t.Fatalf("secretHex = %q, want ab12", secretHex)
	}
}

func TestBuildStashWithdraw_HidesRealRecipient(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.GetOrCreateAccount("lac1a", 0).Balance = 1100

	depositTx, key, err := BuildStashDeposit(s, "lac1a", 1, 100)
	if err != nil {
		t.Fatalf("BuildStashDeposit: %v", err)
	}
	if err := ApplyTransaction(s, depositTx, 1); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}

	withdrawTx, err := BuildStashWithdraw(s, key, "lac1b", 200)
	if err != nil {
		t.Fatalf("BuildStashWithdraw: %v", err)
	}
	if withdrawTx.From != "stash_pool" {
		t.Fatalf("withdraw public from = %q, want \"stash_pool\"", withdrawTx.From)
	}
	if withdrawTx.To == "lac1b" {
		t.Fatalf("public to must be a one-time hint, not the real recipient")
	}
	if withdrawTx.RealTo != "lac1b" {
		t.Fatalf("real_to = %q, want lac1b", withdrawTx.RealTo)
	}
}

func stashFillerSeed(i int) string {
	return "FILLER_ACCOUNT_SEED_" + string(rune('A'+i))
}
