package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// StashDeposit records one active STASH note keyed by its nullifier hash
// (§4.3). The underlying secret is never persisted; only its hash is.
type StashDeposit struct {
	NullifierHash string  `json:"nullifier_hash"`
	NominalCode   int     `json:"nominal_code"`
	Amount        float64 `json:"amount"`
	DepositedAt   int64   `json:"deposited_at"`
	Spent         bool    `json:"spent"`
}

// veilRingKeyPairFor derives the discrete-log ring identity an address
// presents to ring signatures. Like address derivation itself, it is
// reproducible from the address alone so any node can assemble a ring of
// decoys without those accounts' cooperation.
func veilRingKeyPairFor(address string) (priv *big.Int, pub []byte) {
	return DeriveRingKeyPair("VEIL_RING:" + address)
}

func veilStealthKeysFor(address string) (scanPub, spendPub [32]byte) {
	_, scanPub = DeriveX25519KeyPair(address, "VEIL_SCAN")
	_, spendPub = DeriveX25519KeyPair(address, "VEIL_SPEND")
	return
}

// stashStealthKeysFor mirrors veilStealthKeysFor but under a distinct
// domain label so a STASH one-time hint address never collides with a
// VEIL one derived from the same underlying address.
func stashStealthKeysFor(address string) (scanPub, spendPub [32]byte) {
	_, scanPub = DeriveX25519KeyPair(address, "STASH_SCAN")
	_, spendPub = DeriveX25519KeyPair(address, "STASH_SPEND")
	return
}

// randIntRange returns a uniformly random integer in [min, max] inclusive.
func randIntRange(min, max int) (int, error) {
	if max < min {
		return 0, fmt.Errorf("invalid range [%d, %d]", min, max)
	}
	span := int64(max-min) + 1
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, err
	}
	return min + int(n.Int64()), nil
}

func randomRingSize() (int, error) {
	return randIntRange(RingMinSize, RingMaxSize)
}

// selectRingMembers builds a ring containing selfPub plus decoys drawn from
// known accounts, padded with deterministic filler identities if the
// account set is too small to reach the chosen ring size (§4.3: 7-15
// members). It returns the ring and the index of selfPub within it.
func selectRingMembers(s *Store, selfAddress string, selfPub []byte, size int) ([][]byte, int, error) {
	ring := make([][]byte, 0, size)
	ring = append(ring, selfPub)

	for addr := range s.Accounts {
		if len(ring) >= size {
			break
		}
		if addr == selfAddress {
			continue
		}
		_, pub := veilRingKeyPairFor(addr)
		ring = append(ring, pub)
	}

	filler := 0
	for len(ring) < size {
		_, pub := veilRingKeyPairFor(fmt.Sprintf("RING_FILLER:%s:%d", selfAddress, filler))
		ring = append(ring, pub)
		filler++
	}

	signerIndex, err := randIntRange(0, len(ring)-1)
	if err != nil {
		return nil, 0, err
	}
	ring[0], ring[signerIndex] = ring[signerIndex], ring[0]
	return ring, signerIndex, nil
}

// utxoIDFor derives a deterministic per-spend identifier so the same
// (signer, intent) pair always yields the same key image, letting the
// double-spend check in ApplyTransaction catch replays (§4.3).
func utxoIDFor(fromAddress string, amount float64, timestamp int64, salt string) string {
	var amtBits [8]byte
	binary.BigEndian.PutUint64(amtBits[:], uint64(amount*1e8))
	return fmt.Sprintf("%s:%x:%d:%s", fromAddress, amtBits, timestamp, salt)
}

// buildVeilLeg constructs a single veil_transfer transaction: a real spend
// when isPhantom is false, or a decoy with no ledger effect otherwise. Both
// carry a genuine ring signature and key image so an outside observer
// cannot distinguish them (§4.3).
func buildVeilLeg(s *Store, signerSeed, fromAddress, toAddress string, amount float64, now int64, isPhantom bool) (*Transaction, error) {
	scanPub, spendPub := veilStealthKeysFor(toAddress)
	ota, ephemeralPub, err := DeriveStealthOTA(scanPub, spendPub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive stealth address: %w", err)
	}

	priv, pub := veilRingKeyPairFor(fromAddress)

	size, err := randomRingSize()
	if err != nil {
		return nil, err
	}
	ring, signerIndex, err := selectRingMembers(s, fromAddress, pub, size)
	if err != nil {
		return nil, err
	}

	salt := "real"
	if isPhantom {
		salt = "phantom"
	}
	utxoID := utxoIDFor(fromAddress, amount, now, salt)

	payload := []byte(fmt.Sprintf("%s->%s:%f:%d", fromAddress, toAddress, amount, now))
	payloadHash := sha256.Sum256(payload)

	tx := &Transaction{
		Type:         TxVeilTransfer,
		Timestamp:    now,
		Fee:          VeilFee,
		From:         "anonymous",
		To:           hexEncode(ota[:]),
		Amount:       0,
		EphemeralPub: hexEncode(ephemeralPub[:]),
		PayloadHash:  hexEncode(payloadHash[:]),
		IsPhantom:    isPhantom,
	}
	if !isPhantom {
		tx.RealFrom = fromAddress
		tx.RealTo = toAddress
		tx.RealAmount = amount
	}

	canonical, err := tx.CanonicalHash()
	if err != nil {
		return nil, err
	}
	sig, err := SignRing(priv, ring, signerIndex, canonical[:], utxoID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ring: %w", err)
	}
	tx.Ring = sig

	return tx, nil
}

// shuffleTransactions performs an in-place Fisher-Yates shuffle so a real
// veil leg cannot be identified by its position among its phantom escort.
func shuffleTransactions(txs []*Transaction) {
	for i := len(txs) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := int(jBig.Int64())
		txs[i], txs[j] = txs[j], txs[i]
	}
}

// BuildVeilTransfer assembles a real veil_transfer plus its phantom escort
// (§4.3): P additional decoy transactions with fresh one-time addresses,
// key images, and rings, shuffled together with the real leg.
func BuildVeilTransfer(s *Store, signerSeed, fromAddress, toAddress string, amount float64, now int64) ([]*Transaction, error) {
	sender, ok := s.Accounts[fromAddress]
	if !ok {
		return nil, fmt.Errorf("unknown sender account")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if sender.Balance < amount+VeilFee {
		return nil, fmt.Errorf("insufficient balance for veil transfer")
	}

	real, err := buildVeilLeg(s, signerSeed, fromAddress, toAddress, amount, now, false)
	if err != nil {
		return nil, err
	}

	phantomCount, err := randIntRange(VeilMinPhantoms, VeilMaxPhantoms)
	if err != nil {
		return nil, err
	}

	txs := make([]*Transaction, 0, phantomCount+1)
	txs = append(txs, real)
	for i := 0; i < phantomCount; i++ {
		phantomSeed := fmt.Sprintf("PHANTOM:%s:%d:%d", fromAddress, now, i)
		phantomAddr, err := DeriveAddress(phantomSeed)
		if err != nil {
			return nil, err
		}
		decoyTarget, err := DeriveAddress(phantomSeed + ":to")
		if err != nil {
			return nil, err
		}
		phantom, err := buildVeilLeg(s, phantomSeed, phantomAddr, decoyTarget, amount, now, true)
		if err != nil {
			return nil, err
		}
		txs = append(txs, phantom)
	}

	shuffleTransactions(txs)
	return txs, nil
}

// stashNullifier derives the nullifier for a STASH secret (§4.3:
// nu = H("STASH_NULL" || s)).
func stashNullifier(secretHex string) [32]byte {
	return sha256.Sum256([]byte("STASH_NULL:" + secretHex))
}

// BuildStashDeposit withdraws amount+fee from fromAddress and returns the
// deposit transaction plus the opaque withdrawal key the depositor must
// keep offline; it is never persisted or logged.
func BuildStashDeposit(s *Store, fromAddress string, nominalCode int, now int64) (*Transaction, string, error) {
	if nominalCode < 0 || nominalCode >= len(StashDenominations) {
		return nil, "", fmt.Errorf("invalid stash nominal code %d", nominalCode)
	}
	amount := StashDenominations[nominalCode]

	sender, ok := s.Accounts[fromAddress]
	if !ok {
		return nil, "", fmt.Errorf("unknown account")
	}
	if sender.Balance < amount+StashDepositFee {
		return nil, "", fmt.Errorf("insufficient balance for stash deposit")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", err
	}
	secretHex := hexEncode(secret)

	nullifier := stashNullifier(secretHex)
	nullifierHash := sha256.Sum256(nullifier[:])

	tx := &Transaction{
		Type:          TxStashDeposit,
		Timestamp:     now,
		Fee:           StashDepositFee,
		From:          "anonymous",
		RealFrom:      fromAddress,
		NominalCode:   nominalCode,
		NullifierHash: hexEncode(nullifierHash[:]),
	}
	key := fmt.Sprintf("STASH-%d-%s", nominalCode, secretHex)
	return tx, key, nil
}

// legacyStashKey is the pre-"STASH-<code>-<hex>" withdrawal key encoding,
// still accepted so notes issued under the old format remain spendable.
type legacyStashKey struct {
	V int    `json:"v"`
	N int    `json:"n"`
	S string `json:"s"`
}

// ParseStashKey splits an opaque withdrawal key. It accepts both the
// current "STASH-<code>-<secret_hex>" format and the legacy
// `stash_{"v":1,"n":<code>,"s":"<hex>"}` format.
func ParseStashKey(key string) (nominalCode int, secretHex string, err error) {
	if strings.HasPrefix(key, "stash_{") {
		var legacy legacyStashKey
		if err := json.Unmarshal([]byte(strings.TrimPrefix(key, "stash_")), &legacy); err != nil {
			return 0, "", fmt.Errorf("malformed legacy stash key: %w", err)
		}
		if legacy.N < 0 || legacy.N >= len(StashDenominations) {
			return 0, "", fmt.Errorf("invalid stash nominal code %d", legacy.N)
		}
		return legacy.N, legacy.S, nil
	}

	var code int
	var hex string
	n, scanErr := fmt.Sscanf(key, "STASH-%d-%s", &code, &hex)
	if scanErr != nil || n != 2 {
		return 0, "", fmt.Errorf("malformed stash key")
	}
	if code < 0 || code >= len(StashDenominations) {
		return 0, "", fmt.Errorf("invalid stash nominal code %d", code)
	}
	return code, hex, nil
}

// BuildStashWithdraw reconstructs the nullifier from key and, if unspent,
// returns a withdrawal transaction crediting toAddress with the
// denomination's full amount (withdrawal is fee-free, §4.3).
func BuildStashWithdraw(s *Store, key, toAddress string, now int64) (*Transaction, error) {
	code, secretHex, err := ParseStashKey(key)
	if err != nil {
		return nil, err
	}
	nullifier := stashNullifier(secretHex)
	nullifierHashArr := sha256.Sum256(nullifier[:])
	nullifierHash := hexEncode(nullifierHashArr[:])
	nullifierHex := hexEncode(nullifier[:])

	if s.SpentNullifiers[nullifierHex] {
		return nil, fmt.Errorf("stash note already spent")
	}
	deposit, ok := s.StashDeposits[nullifierHash]
	if !ok || deposit.Spent {
		return nil, fmt.Errorf("no matching stash deposit")
	}

	scanPub, spendPub := stashStealthKeysFor(toAddress)
	ota, ephemeralPub, err := DeriveStealthOTA(scanPub, spendPub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive stealth address: %w", err)
	}

	tx := &Transaction{
		Type:          TxStashWithdraw,
		Timestamp:     now,
		From:          "stash_pool",
		To:            hexEncode(ota[:]),
		RealTo:        toAddress,
		Amount:        StashDenominations[code],
		NominalCode:   code,
		Nullifier:     nullifierHex,
		NullifierHash: nullifierHash,
		EphemeralPub:  hexEncode(ephemeralPub[:]),
	}
	return tx, nil
}
