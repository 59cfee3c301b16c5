package main

import "fmt"

// Timelock status values (§3).
const (
	TimelockPending   = "pending"
	TimelockActivated = "activated"
	TimelockCancelled = "cancelled"
)

// TimelockEntry escrows a balance until unlockHeight is reached or the owner
// cancels it (§3: timelock_pending / timelock_activated / timelock_cancelled).
type TimelockEntry struct {
	ID           string  `json:"id"`
	Owner        string  `json:"owner"`
	Amount       float64 `json:"amount"`
	UnlockHeight uint64  `json:"unlock_height"`
	Status       string  `json:"status"`
}

// ApplyBlock validates and applies every transaction in b against s in
// order, then appends b to the chain. Zero-history tier bookkeeping is not
// done here. The caller must hold s's lock.
func ApplyBlock(s *Store, b *Block) error {
	for _, tx := range b.Transactions {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("block %d: invalid transaction: %w", b.Index, err)
		}
		if err := ApplyTransaction(s, tx, b.Index); err != nil {
			return fmt.Errorf("block %d: %w", b.Index, err)
		}
	}
	s.Chain = append(s.Chain, b)
	return nil
}

// ApplyTransaction mutates store state for a single transaction. It assumes
// tx has already passed Validate; it still re-checks everything that
// depends on mutable ledger state (balances, key images, nullifiers).
func ApplyTransaction(s *Store, tx *Transaction, height uint64) error {
	switch tx.Type {
	case TxFaucet:
		return applyFaucet(s, tx)
	case TxTransfer:
		return applyTransfer(s, tx)
	case TxVeilTransfer:
		return applyVeilTransfer(s, tx)
	case TxStashDeposit:
		return applyStashDeposit(s, tx)
	case TxStashWithdraw:
		return applyStashWithdraw(s, tx)
	case TxBurnLevelUpgrade:
		return applyBurnLevelUpgrade(s, tx)
	case TxBurnNicknameChange:
		return applyBurnNicknameChange(s, tx)
	case TxUsernameRegister:
		return applyUsernameRegister(s, tx)
	case TxReferralBonus:
		return applyReferralBonus(s, tx)
	case TxTimelockPending:
		return applyTimelockPending(s, tx, height)
	case TxTimelockActivated:
		return applyTimelockActivated(s, tx, height)
	case TxTimelockCancelled:
		return applyTimelockCancelled(s, tx)
	case TxDMSRegister:
		return applyDMSRegister(s, tx)
	case TxDMSTrigger:
		return applyDMSTrigger(s, tx)
	case TxDiceMint:
		return applyDiceMint(s, tx)
	case TxDiceBurn:
		return applyDiceBurn(s, tx)
	default:
		return fmt.Errorf("unknown transaction type %q", tx.Type)
	}
}

func applyFaucet(s *Store, tx *Transaction) error {
	acc := s.GetOrCreateAccount(tx.To, tx.Timestamp)
	acc.Balance += tx.Amount
	acc.TxCount++
	acc.LastActivity = tx.Timestamp
	s.TotalEmitted += tx.Amount
	return nil
}

func applyTransfer(s *Store, tx *Transaction) error {
	sender, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown sender %s", tx.From)
	}
	total := tx.Amount + tx.Fee
	if sender.Balance < total {
		return fmt.Errorf("insufficient balance")
	}
	recipient := s.GetOrCreateAccount(tx.To, tx.Timestamp)

	sender.Balance -= total
	sender.TxCount++
	sender.LastActivity = tx.Timestamp
	recipient.Balance += tx.Amount
	recipient.TxCount++
	recipient.LastActivity = tx.Timestamp
	s.TotalBurned += tx.Fee
	return nil
}

func applyVeilTransfer(s *Store, tx *Transaction) error {
	if tx.Ring == nil {
		return fmt.Errorf("veil_transfer missing ring signature")
	}
	canonical, err := tx.CanonicalHash()
	if err != nil {
		return err
	}
	if err := VerifyRing(tx.Ring, canonical[:]); err != nil {
		return fmt.Errorf("ring signature rejected: %w", err)
	}

	kiHex := hexEncode(tx.Ring.KeyImage[:])
	if s.KeyImages[kiHex] {
		return fmt.Errorf("key image already spent (double spend)")
	}
	s.KeyImages[kiHex] = true

	if tx.IsPhantom {
		return nil
	}

	sender, ok := s.Accounts[tx.RealFrom]
	if !ok {
		return fmt.Errorf("unknown veil sender %s", tx.RealFrom)
	}
	total := tx.RealAmount + tx.Fee
	if sender.Balance < total {
		return fmt.Errorf("insufficient balance for veil transfer")
	}
	recipient := s.GetOrCreateAccount(tx.RealTo, tx.Timestamp)

	sender.Balance -= total
	sender.TxCount++
	sender.LastActivity = tx.Timestamp
	recipient.Balance += tx.RealAmount
	recipient.TxCount++
	recipient.LastActivity = tx.Timestamp
	s.TotalBurned += tx.Fee
	return nil
}

func applyStashDeposit(s *Store, tx *Transaction) error {
	sender, ok := s.Accounts[tx.RealFrom]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.RealFrom)
	}
	if tx.NominalCode < 0 || tx.NominalCode >= len(StashDenominations) {
		return fmt.Errorf("invalid stash nominal code %d", tx.NominalCode)
	}
	amount := StashDenominations[tx.NominalCode]
	total := amount + tx.Fee
	if sender.Balance < total {
		return fmt.Errorf("insufficient balance for stash deposit")
	}
	if _, exists := s.StashDeposits[tx.NullifierHash]; exists {
		return fmt.Errorf("duplicate stash nullifier hash")
	}

	sender.Balance -= total
	sender.TxCount++
	sender.LastActivity = tx.Timestamp
	s.StashDeposits[tx.NullifierHash] = &StashDeposit{
		NullifierHash: tx.NullifierHash,
		NominalCode:   tx.NominalCode,
		Amount:        amount,
		DepositedAt:   tx.Timestamp,
	}
	s.StashTotalBalance += amount
	s.TotalBurned += tx.Fee
	return nil
}

func applyStashWithdraw(s *Store, tx *Transaction) error {
	if s.SpentNullifiers[tx.Nullifier] {
		return fmt.Errorf("stash note already spent")
	}
	deposit, ok := s.StashDeposits[tx.NullifierHash]
	if !ok || deposit.Spent {
		return fmt.Errorf("no matching stash deposit")
	}
	if deposit.Amount != tx.Amount {
		return fmt.Errorf("withdraw amount does not match deposit denomination")
	}

	deposit.Spent = true
	s.SpentNullifiers[tx.Nullifier] = true
	s.StashTotalBalance -= deposit.Amount

	recipient := s.GetOrCreateAccount(tx.RealTo, tx.Timestamp)
	recipient.Balance += deposit.Amount
	recipient.TxCount++
	recipient.LastActivity = tx.Timestamp
	return nil
}

func applyBurnLevelUpgrade(s *Store, tx *Transaction) error {
	acc, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.From)
	}
	if tx.NewLevel <= acc.Level || tx.NewLevel > 7 {
		return fmt.Errorf("invalid level upgrade from %d to %d", acc.Level, tx.NewLevel)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for level upgrade burn")
	}
	acc.Balance -= tx.Fee
	acc.Level = tx.NewLevel
	acc.TxCount++
	acc.LastActivity = tx.Timestamp
	s.TotalBurned += tx.Fee
	return nil
}

func applyBurnNicknameChange(s *Store, tx *Transaction) error {
	acc, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.From)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for nickname change burn")
	}
	if tx.Username == "" {
		return fmt.Errorf("burn_nickname_change requires a username")
	}
	if err := checkUsernameAvailable(s, tx.Username, tx.From); err != nil {
		return err
	}
	acc.Balance -= tx.Fee
	acc.Username = tx.Username
	acc.TxCount++
	acc.LastActivity = tx.Timestamp
	s.TotalBurned += tx.Fee
	return nil
}

func applyUsernameRegister(s *Store, tx *Transaction) error {
	acc, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.From)
	}
	if acc.Username != "" {
		return fmt.Errorf("account already has a username")
	}
	if err := checkUsernameAvailable(s, tx.Username, tx.From); err != nil {
		return err
	}
	acc.Username = tx.Username
	acc.TxCount++
	acc.LastActivity = tx.Timestamp
	return nil
}

func checkUsernameAvailable(s *Store, username, exceptAddress string) error {
	for addr, acc := range s.Accounts {
		if addr == exceptAddress {
			continue
		}
		if acc.Username == username {
			return fmt.Errorf("username %q already taken", username)
		}
	}
	return nil
}

func applyReferralBonus(s *Store, tx *Transaction) error {
	recipient := s.GetOrCreateAccount(tx.To, tx.Timestamp)
	recipient.Balance += tx.Amount
	recipient.TxCount++
	recipient.LastActivity = tx.Timestamp
	s.TotalEmitted += tx.Amount
	return nil
}

func applyTimelockPending(s *Store, tx *Transaction, height uint64) error {
	sender, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.From)
	}
	if sender.Balance < tx.Amount {
		return fmt.Errorf("insufficient balance to timelock")
	}
	if tx.UnlockHeight <= height {
		return fmt.Errorf("unlock_height must be in the future")
	}
	if _, exists := s.Timelocks[tx.TimelockID]; exists {
		return fmt.Errorf("duplicate timelock id %s", tx.TimelockID)
	}

	sender.Balance -= tx.Amount
	sender.TxCount++
	sender.LastActivity = tx.Timestamp
	s.Timelocks[tx.TimelockID] = &TimelockEntry{
		ID:           tx.TimelockID,
		Owner:        tx.From,
		Amount:       tx.Amount,
		UnlockHeight: tx.UnlockHeight,
		Status:       TimelockPending,
	}
	s.TotalLocked += tx.Amount
	return nil
}

func applyTimelockActivated(s *Store, tx *Transaction, height uint64) error {
	entry, ok := s.Timelocks[tx.TimelockID]
	if !ok || entry.Status != TimelockPending {
		return fmt.Errorf("no pending timelock %s", tx.TimelockID)
	}
	if height < entry.UnlockHeight {
		return fmt.Errorf("timelock %s not yet unlockable", tx.TimelockID)
	}

	entry.Status = TimelockActivated
	s.TotalLocked -= entry.Amount

	recipient := s.GetOrCreateAccount(entry.Owner, tx.Timestamp)
	recipient.Balance += entry.Amount
	recipient.TxCount++
	recipient.LastActivity = tx.Timestamp
	return nil
}

func applyTimelockCancelled(s *Store, tx *Transaction) error {
	entry, ok := s.Timelocks[tx.TimelockID]
	if !ok || entry.Status != TimelockPending {
		return fmt.Errorf("no pending timelock %s", tx.TimelockID)
	}
	if entry.Owner != tx.From {
		return fmt.Errorf("only the owner may cancel a timelock")
	}

	entry.Status = TimelockCancelled
	s.TotalLocked -= entry.Amount

	owner := s.GetOrCreateAccount(entry.Owner, tx.Timestamp)
	owner.Balance += entry.Amount
	owner.TxCount++
	owner.LastActivity = tx.Timestamp
	return nil
}

func applyDMSRegister(s *Store, tx *Transaction) error {
	acc, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.From)
	}
	acc.DeadManSwitch = &DeadManSwitchConfig{
		Enabled:            true,
		TimeoutSecs:        int64(tx.UnlockHeight), // reused as a seconds duration for this variant
		BeneficiaryAddress: tx.BeneficiaryAddress,
	}
	acc.TxCount++
	acc.LastActivity = tx.Timestamp
	return nil
}

func applyDMSTrigger(s *Store, tx *Transaction) error {
	owner, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.From)
	}
	if owner.DeadManSwitch == nil || !owner.DeadManSwitch.Enabled {
		return fmt.Errorf("account %s has no active dead-man switch", tx.From)
	}
	elapsed := tx.Timestamp - owner.LastActivity
	if elapsed < owner.DeadManSwitch.TimeoutSecs {
		return fmt.Errorf("dead-man switch has not yet timed out")
	}

	beneficiary := s.GetOrCreateAccount(owner.DeadManSwitch.BeneficiaryAddress, tx.Timestamp)
	beneficiary.Balance += owner.Balance
	owner.Balance = 0
	owner.DeadManSwitch.Enabled = false
	return nil
}

func applyDiceMint(s *Store, tx *Transaction) error {
	recipient := s.GetOrCreateAccount(tx.To, tx.Timestamp)
	recipient.Balance += tx.DiceAmount
	recipient.TxCount++
	recipient.LastActivity = tx.Timestamp
	s.TotalEmitted += tx.DiceAmount
	return nil
}

func applyDiceBurn(s *Store, tx *Transaction) error {
	sender, ok := s.Accounts[tx.From]
	if !ok {
		return fmt.Errorf("unknown account %s", tx.From)
	}
	if sender.Balance < tx.DiceAmount {
		return fmt.Errorf("insufficient balance for dice burn")
	}
	sender.Balance -= tx.DiceAmount
	sender.TxCount++
	sender.LastActivity = tx.Timestamp
	s.TotalBurned += tx.DiceAmount
	return nil
}
