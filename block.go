package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// EphemeralMessage is a short-lived, non-financial payload carried by a
// block (chat/group/reaction traffic is out of scope; the block loop only
// needs to move and expire these, not interpret them).
type EphemeralMessage struct {
	ID        string `json:"id"`
	Payload   string `json:"payload"` // opaque ciphertext, see EncryptMessage
	Nonce     string `json:"nonce"`
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

// WinnerRecord is one mining-reward line item for a produced block.
type WinnerRecord struct {
	Address string  `json:"address"`
	Kind    string  `json:"kind"` // "speed" | "lottery"
	Reward  float64 `json:"reward"`
}

// Block is a single ledger entry (§3).
type Block struct {
	Index          uint64             `json:"index"`
	Timestamp      int64              `json:"timestamp"`
	PreviousHash   string             `json:"previous_hash"`
	Transactions   []*Transaction     `json:"transactions"`
	EphemeralMsgs  []*EphemeralMessage `json:"ephemeral_msgs,omitempty"`
	Nonce          uint64             `json:"nonce"` // always 0 under PoET; retained for wire compatibility
	Hash           string             `json:"hash"`
	Difficulty     float64            `json:"difficulty"`
	Winners        []WinnerRecord     `json:"winners,omitempty"`
}

// canonicalBlockHashInput carries §6's required key set
// {index, prev, ts, txs, nonce}, with fields declared in sorted key order
// so that json.Marshal emits the keys sorted. txs is a count, not the full
// transaction bodies, matching the reference algorithm in §4.4.
type canonicalBlockHashInput struct {
	Index uint64 `json:"index"`
	Nonce uint64 `json:"nonce"`
	Prev  string `json:"prev"`
	Ts    int64  `json:"ts"`
	Txs   int    `json:"txs"`
}

// ComputeHash computes the canonical block hash: SHA-256 over a JSON
// object with sorted keys and no whitespace (§6).
func (b *Block) ComputeHash() (string, error) {
	input := canonicalBlockHashInput{
		Index: b.Index,
		Prev:  b.PreviousHash,
		Ts:    b.Timestamp,
		Txs:   len(b.Transactions),
		Nonce: b.Nonce,
	}
	data, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hexEncode(sum[:]), nil
}

func hexEncode(b []byte) string {
	const hexChars = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexChars[c>>4]
		out[i*2+1] = hexChars[c&0x0f]
	}
	return string(out)
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex character %q", c)
	}
}

// hexDecode is the inverse of hexEncode.
func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

// NewGenesisBlock returns the canonical height-0 block every chain starts
// from: empty, deterministic, and hashed the same way as any other block.
func NewGenesisBlock() (*Block, error) {
	b := &Block{
		Index:        0,
		Timestamp:    0,
		PreviousHash: "",
		Transactions: nil,
		Nonce:        0,
		Difficulty:   1.0,
	}
	hash, err := b.ComputeHash()
	if err != nil {
		return nil, err
	}
	b.Hash = hash
	return b, nil
}
