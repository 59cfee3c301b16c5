package main

import (
	"crypto/ed25519"
	"strings"
	"testing"
)

func TestDeriveEd25519KeyPair_Deterministic(t *testing.T) {
	priv1, pub1 := DeriveEd25519KeyPair("seed-a")
	priv2, pub2 := DeriveEd25519KeyPair("seed-a")
	if !priv1.Equal(priv2) || !pub1.Equal(pub2) {
		t.Fatalf("expected deterministic derivation for the same seed")
	}

	_, pub3 := DeriveEd25519KeyPair("seed-b")
	if pub1.Equal(pub3) {
		t.Fatalf("expected different seeds to produce different keys")
	}
}

func TestSignAndVerifyCanonical(t *testing.T) {
	priv, pub := DeriveEd25519KeyPair("seed-a")

	obj := map[string]interface{}{
		"type":   "transfer",
		"from":   "lac1abc",
		"to":     "lac1def",
		"amount": float64(10),
	}

	sig, err := SignCanonical(priv, obj)
	if err != nil {
		t.Fatalf("SignCanonical: %v", err)
	}

	// signature/pubkey fields must not affect the signed payload
	withExtras := map[string]interface{}{
		"type": "transfer", "from": "lac1abc", "to": "lac1def", "amount": float64(10),
		"signature": "ignored", "pubkey": "ignored",
	}
	if !VerifyCanonical(pub, withExtras, sig) {
		t.Fatalf("expected signature to verify regardless of signature/pubkey fields")
	}

	tampered := map[string]interface{}{
		"type": "transfer", "from": "lac1abc", "to": "lac1def", "amount": float64(11),
	}
	if VerifyCanonical(pub, tampered, sig) {
		t.Fatalf("expected signature verification to fail on tampered payload")
	}
}

func TestVerifyCanonical_FailsClosedOnBadPubKeySize(t *testing.T) {
	obj := map[string]interface{}{"a": 1}
	if VerifyCanonical(ed25519.PublicKey{}, obj, []byte("not-a-real-signature")) {
		t.Fatalf("expected verification to fail closed on malformed public key")
	}
}

func TestEncryptDecryptMessage_RoundTrips(t *testing.T) {
	senderPriv, senderPub := DeriveX25519KeyPair("seed-sender", "x25519")
	recipientPriv, recipientPub := DeriveX25519KeyPair("seed-recipient", "x25519")

	plaintext := []byte("hello from the sender")
	ciphertext, nonce, err := EncryptMessage(senderPriv, recipientPub, plaintext)
	if err != nil {
		t.Fatalf("EncryptMessage: %v", err)
	}
	if len(nonce) != 24 {
		t.Fatalf("expected a 24-byte XChaCha20-Poly1305 nonce, got %d", len(nonce))
	}

	got, err := DecryptMessage(recipientPriv, senderPub, nonce, ciphertext)
	if err != nil {
		t.Fatalf("DecryptMessage: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("plaintext mismatch: got %q", got)
	}
}

func TestDecryptMessage_RejectsTamperedCiphertext(t *testing.T) {
	senderPriv, _ := DeriveX25519KeyPair("seed-sender", "x25519")
	recipientPriv, recipientPub := DeriveX25519KeyPair("seed-recipient", "x25519")
	_, senderPub := DeriveX25519KeyPair("seed-sender", "x25519")

	ciphertext, nonce, err := EncryptMessage(senderPriv, recipientPub, []byte("secret"))
	if err != nil {
		t.Fatalf("EncryptMessage: %v", err)
	}
	ciphertext[0] ^= 0xFF

	if _, err := DecryptMessage(recipientPriv, senderPub, nonce, ciphertext); err == nil {
		t.Fatalf("expected decrypt to fail on tampered ciphertext")
	}
}

func TestStealthOTA_RecipientRescanMatches(t *testing.T) {
	scanPriv, scanPub := DeriveX25519KeyPair("seed-recipient", "stealth:scan")
	_, spendPub := DeriveX25519KeyPair("seed-recipient", "stealth:spend")

	ota, ephemeralPub, err := DeriveStealthOTA(scanPub, spendPub)
	if err != nil {
		t.Fatalf("DeriveStealthOTA: %v", err)
	}

	got, err := RescanStealthOTA(scanPriv, ephemeralPub, spendPub)
	if err != nil {
		t.Fatalf("RescanStealthOTA: %v", err)
	}
	if got != ota {
		t.Fatalf("recipient rescan did not match sender-derived OTA")
	}
}

func TestStealthOTA_WrongRecipientDoesNotMatch(t *testing.T) {
	_, scanPubA := DeriveX25519KeyPair("seed-a", "stealth:scan")
	_, spendPubA := DeriveX25519KeyPair("seed-a", "stealth:spend")
	scanPrivB, _ := DeriveX25519KeyPair("seed-b", "stealth:scan")

	ota, ephemeralPub, err := DeriveStealthOTA(scanPubA, spendPubA)
	if err != nil {
		t.Fatalf("DeriveStealthOTA: %v", err)
	}

	got, err := RescanStealthOTA(scanPrivB, ephemeralPub, spendPubA)
	if err != nil {
		t.Fatalf("RescanStealthOTA: %v", err)
	}
	if got == ota {
		t.Fatalf("unrelated recipient should not recover the same OTA")
	}
}

func TestSignRing_VerifiesAndCloses(t *testing.T) {
	seeds := []string{"ring-0", "ring-1", "ring-2", "ring-3", "ring-4", "ring-5", "ring-6"}
	ring := make([][]byte, len(seeds))
	for i, s := range seeds {
		_, pub := DeriveRingKeyPair(s)
		ring[i] = pub
	}

	signerIndex := 3
	priv, _ := DeriveRingKeyPair(seeds[signerIndex])

	sig, err := SignRing(priv, ring, signerIndex, []byte("veil transfer payload"), "utxo-1")
	if err != nil {
		t.Fatalf("SignRing: %v", err)
	}

	if err := VerifyRing(sig, []byte("veil transfer payload")); err != nil {
		t.Fatalf("VerifyRing: %v", err)
	}
}

func TestVerifyRing_RejectsTamperedMessage(t *testing.T) {
	seeds := []string{"ring-0", "ring-1", "ring-2"}
	ring := make([][]byte, len(seeds))
	for i, s := range seeds {
		_, pub := DeriveRingKeyPair(s)
		ring[i] = pub
	}
	priv, _ := DeriveRingKeyPair(seeds[1])

	sig, err := SignRing(priv, ring, 1, []byte("original"), "utxo-2")
	if err != nil {
		t.Fatalf("SignRing: %v", err)
	}

	if err := VerifyRing(sig, []byte("tampered")); err == nil {
		t.Fatalf("expected verification to fail for a tampered message")
	}
}

func TestVerifyRing_RejectsForgedSignature(t *testing.T) {
	seeds := []string{"ring-0", "ring-1", "ring-2"}
	ring := make([][]byte, len(seeds))
	for i, s := range seeds {
		_, pub := DeriveRingKeyPair(s)
		ring[i] = pub
	}

	// Attacker does not know any ring member's private key.
	outsiderPriv, _ := DeriveRingKeyPair("outsider")
	sig, err := SignRing(outsiderPriv, ring, 0, []byte("forged"), "utxo-3")
	if err == nil {
		t.Fatalf("expected SignRing to reject a private key that does not match ring[0]")
	}
	if !strings.Contains(err.Error(), "does not match") {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = sig
}

func TestGenerateKeyImage_DeterministicPerSignerAndUTXO(t *testing.T) {
	priv, pub := DeriveRingKeyPair("ring-0")

	ki1 := GenerateKeyImage(pub, priv, "utxo-a")
	ki2 := GenerateKeyImage(pub, priv, "utxo-a")
	if ki1 != ki2 {
		t.Fatalf("expected key image to be deterministic for the same signer and utxo id")
	}

	ki3 := GenerateKeyImage(pub, priv, "utxo-b")
	if ki1 == ki3 {
		t.Fatalf("expected different utxo ids to produce different key images")
	}
}

func TestSignRing_RejectsShortRing(t *testing.T) {
	priv, pub := DeriveRingKeyPair("ring-0")
	_, err := SignRing(priv, [][]byte{pub}, 0, []byte("msg"), "utxo")
	if err == nil || !strings.Contains(err.Error(), "at least 2") {
		t.Fatalf("expected short-ring rejection, got: %v", err)
	}
}
