package main

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Transaction kinds (§3).
const (
	TxTransfer            = "transfer"
	TxVeilTransfer         = "veil_transfer"
	TxStashDeposit         = "stash_deposit"
	TxStashWithdraw        = "stash_withdraw"
	TxFaucet               = "faucet"
	TxBurnLevelUpgrade     = "burn_level_upgrade"
	TxBurnNicknameChange   = "burn_nickname_change"
	TxUsernameRegister     = "username_register"
	TxReferralBonus        = "referral_bonus"
	TxTimelockPending      = "timelock_pending"
	TxTimelockActivated    = "timelock_activated"
	TxTimelockCancelled    = "timelock_cancelled"
	TxDMSRegister          = "dms_register"
	TxDMSTrigger           = "dms_trigger"
	TxDiceMint             = "dice_mint"
	TxDiceBurn             = "dice_burn"
)

// Transaction is a tagged-variant envelope. Only the fields relevant to
// Type are populated; apply-time dispatch (ApplyTransaction) exhaustively
// switches on Type.
type Transaction struct {
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	Fee       float64 `json:"fee,omitempty"`

	// transfer
	From   string  `json:"from,omitempty"`
	To     string  `json:"to,omitempty"`
	Amount float64 `json:"amount,omitempty"`

	// veil_transfer (public fields are From="anonymous", To=OTA, Amount=0;
	// the Real* fields are kept only for the originating node's own
	// reconciliation and must never be gossiped or persisted to peers).
	RealFrom     string         `json:"real_from,omitempty"`
	RealTo       string         `json:"real_to,omitempty"`
	RealAmount   float64        `json:"real_amount,omitempty"`
	Ring         *RingSignature `json:"ring,omitempty"`
	EphemeralPub string         `json:"ephemeral_pub,omitempty"`
	PayloadHash  string         `json:"payload_hash,omitempty"`
	IsPhantom    bool           `json:"is_phantom,omitempty"`

	// stash_deposit / stash_withdraw
	NominalCode   int    `json:"nominal_code,omitempty"`
	NullifierHash string `json:"nullifier_hash,omitempty"`
	Nullifier     string `json:"nullifier,omitempty"`

	// username_register
	Username string `json:"username,omitempty"`

	// burn_level_upgrade
	NewLevel int `json:"new_level,omitempty"`

	// timelock_*
	UnlockHeight uint64 `json:"unlock_height,omitempty"`
	TimelockID   string `json:"timelock_id,omitempty"`

	// dms_*
	BeneficiaryAddress string `json:"beneficiary_address,omitempty"`

	// dice_mint / dice_burn
	DiceAmount float64 `json:"dice_amount,omitempty"`

	Signature string `json:"signature,omitempty"`
	PubKey    string `json:"pubkey,omitempty"`
}

// CanonicalMap returns the JSON-compatible map used for signing and for
// computing CanonicalHash, matching §6: the object with its signature
// fields (`signature`, `pubkey`, and a veil leg's `ring`) removed, sorted
// keys, no whitespace.
func (tx *Transaction) CanonicalMap() (map[string]interface{}, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	delete(m, "signature")
	delete(m, "pubkey")
	delete(m, "ring")
	return m, nil
}

// CanonicalHash computes the sha3-256 of the transaction's canonical
// encoding (§6: transaction canonical hash for signing).
func (tx *Transaction) CanonicalHash() ([32]byte, error) {
	m, err := tx.CanonicalMap()
	if err != nil {
		return [32]byte{}, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return [32]byte{}, err
	}
	return sha3.Sum256(data), nil
}

// IsPublic reports whether a transaction's From/To/Amount are meaningful to
// an outside observer (i.e. not a privacy variant whose public fields are
// deliberately empty/zeroed placeholders).
func (tx *Transaction) IsPublic() bool {
	switch tx.Type {
	case TxVeilTransfer, TxStashDeposit, TxStashWithdraw:
		return false
	default:
		return true
	}
}

// Validate performs structural (stateless) validation shared by every
// variant before state-dependent checks run in ApplyTransaction.
func (tx *Transaction) Validate() error {
	switch tx.Type {
	case TxTransfer:
		if tx.From == "" || tx.To == "" {
			return fmt.Errorf("transfer requires from and to")
		}
		if tx.Amount <= 0 {
			return fmt.Errorf("transfer amount must be positive")
		}
	case TxVeilTransfer:
		if tx.From != "anonymous" {
			return fmt.Errorf("veil_transfer public from must be \"anonymous\"")
		}
		if tx.Amount != 0 {
			return fmt.Errorf("veil_transfer public amount must be 0")
		}
		if !tx.IsPhantom {
			if tx.RealFrom == "" || tx.RealTo == "" || tx.RealAmount <= 0 {
				return fmt.Errorf("veil_transfer missing real fields")
			}
		}
	case TxStashDeposit:
		if tx.From != "anonymous" {
			return fmt.Errorf("stash_deposit public from must be \"anonymous\"")
		}
		if tx.NominalCode < 0 || tx.NominalCode > 3 {
			return fmt.Errorf("invalid stash nominal code %d", tx.NominalCode)
		}
		if tx.NullifierHash == "" {
			return fmt.Errorf("stash_deposit requires nullifier_hash")
		}
		if tx.RealFrom == "" {
			return fmt.Errorf("stash_deposit missing real_from")
		}
	case TxStashWithdraw:
		if tx.From != "stash_pool" {
			return fmt.Errorf("stash_withdraw public from must be \"stash_pool\"")
		}
		if tx.Nullifier == "" {
			return fmt.Errorf("stash_withdraw requires nullifier")
		}
		if tx.RealTo == "" {
			return fmt.Errorf("stash_withdraw missing real_to")
		}
	case TxFaucet:
		if tx.To == "" || tx.Amount <= 0 {
			return fmt.Errorf("faucet requires to and a positive amount")
		}
	case TxUsernameRegister:
		if tx.Username == "" {
			return fmt.Errorf("username_register requires username")
		}
	default:
		// Other variants (burn_*, referral_bonus, timelock_*, dms_*,
		// dice_*) are accepted structurally; their state-dependent checks
		// live in ApplyTransaction.
	}
	return nil
}
