// Package wallet manages a node operator's LAC account seed at rest.
//
// Unlike a UTXO wallet there is nothing to scan for: an LAC account is
// fully determined by its seed (see the root package's address and key
// derivation), so the only thing worth persisting here is the seed
// itself, encrypted, plus a little bookkeeping.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// wipeBytes best-effort zeroes a byte slice.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// WalletData is the serializable wallet state.
type WalletData struct {
	Version   uint32 `json:"version"`
	Seed      string `json:"seed"`
	Address   string `json:"address"`
	Username  string `json:"username,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Wallet holds a single account's seed at rest, encrypted with a
// passphrase-derived key.
type Wallet struct {
	mu sync.RWMutex

	data     WalletData
	filename string
	password []byte

	deriveAddress func(seed string) (string, error)
}

// WalletConfig supplies the address-derivation function from the root
// package (kept out of this package to avoid an import cycle).
type WalletConfig struct {
	DeriveAddress func(seed string) (string, error)
}

func randomSeed() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", raw), nil
}

// NewWallet creates a new wallet with a freshly generated random seed.
func NewWallet(filename string, password []byte, cfg WalletConfig) (*Wallet, error) {
	seed, err := randomSeed()
	if err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return NewWalletFromSeed(filename, password, seed, cfg)
}

// NewWalletFromSeed creates a wallet from an existing seed (for recovery).
func NewWalletFromSeed(filename string, password []byte, seed string, cfg WalletConfig) (*Wallet, error) {
	if cfg.DeriveAddress == nil {
		return nil, errors.New("wallet: DeriveAddress is required")
	}

	address, err := cfg.DeriveAddress(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive address from seed: %w", err)
	}

	w := &Wallet{
		filename:      filename,
		password:      cloneBytes(password),
		deriveAddress: cfg.DeriveAddress,
	}
	w.data = WalletData{
		Version:   1,
		Seed:      seed,
		Address:   address,
		CreatedAt: time.Now().Unix(),
	}

	if err := w.Save(); err != nil {
		return nil, fmt.Errorf("failed to save new wallet: %w", err)
	}
	return w, nil
}

// LoadWallet loads an existing encrypted wallet file.
func LoadWallet(filename string, password []byte, cfg WalletConfig) (*Wallet, error) {
	encrypted, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %w", err)
	}

	plaintext, err := decrypt(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt wallet (wrong password?): %w", err)
	}
	defer wipeBytes(plaintext)

	var data WalletData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to parse wallet data: %w", err)
	}

	return &Wallet{
		data:          data,
		filename:      filename,
		password:      cloneBytes(password),
		deriveAddress: cfg.DeriveAddress,
	}, nil
}

// LoadOrCreateWallet loads an existing wallet or creates a new one.
func LoadOrCreateWallet(filename string, password []byte, cfg WalletConfig) (*Wallet, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return NewWallet(filename, password, cfg)
	}
	return LoadWallet(filename, password, cfg)
}

// Save encrypts and writes the wallet to disk.
func (w *Wallet) Save() error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	plaintext, err := json.MarshalIndent(w.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}
	defer wipeBytes(plaintext)

	encrypted, err := encrypt(plaintext, w.password)
	if err != nil {
		return fmt.Errorf("failed to encrypt wallet: %w", err)
	}

	if err := os.WriteFile(w.filename, encrypted, 0600); err != nil {
		return fmt.Errorf("failed to write wallet file: %w", err)
	}
	return nil
}

// Address returns the wallet's derived LAC address.
func (w *Wallet) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.Address
}

// Seed returns the raw account seed. Callers must treat this as highly
// sensitive: anyone with the seed controls the account.
func (w *Wallet) Seed() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.Seed
}

// SetUsername records the last-known registered username for display
// purposes; the username registry itself lives outside this package.
func (w *Wallet) SetUsername(username string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.data.Username = username
}

// Username returns the last-recorded username, if any.
func (w *Wallet) Username() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data.Username
}

// ============================================================================
// Encryption helpers (Argon2id + AES-GCM)
// ============================================================================

type kdfParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

const (
	walletEncMagicV1        = "LACWLT1" // 7 bytes
	walletEncFormatVersionV1 uint8 = 1

	walletEncSaltLen = 16
	walletEncKeyLen  = 32

	// Header = magic(7) + formatVer(1) + time(4) + memKiB(4) + threads(1) + reserved(3)
	walletEncHeaderLenV1 = 7 + 1 + 4 + 4 + 1 + 3
)

var defaultKDFParams = kdfParams{
	Time:    3,
	Memory:  256 * 1024, // 256 MiB
	Threads: 4,
}

func deriveKeyWithParams(password, salt []byte, p kdfParams) []byte {
	if p.Time == 0 {
		p.Time = defaultKDFParams.Time
	}
	if p.Memory == 0 {
		p.Memory = defaultKDFParams.Memory
	}
	if p.Threads == 0 {
		p.Threads = defaultKDFParams.Threads
	}
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, walletEncKeyLen)
}

func encrypt(plaintext, password []byte) ([]byte, error) {
	salt := make([]byte, walletEncSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	key := deriveKeyWithParams(password, salt, defaultKDFParams)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, walletEncHeaderLenV1+walletEncSaltLen+gcm.NonceSize()+len(ciphertext))
	off := 0
	copy(result[off:off+7], []byte(walletEncMagicV1))
	off += 7
	result[off] = walletEncFormatVersionV1
	off++
	binary.BigEndian.PutUint32(result[off:off+4], defaultKDFParams.Time)
	off += 4
	binary.BigEndian.PutUint32(result[off:off+4], defaultKDFParams.Memory)
	off += 4
	result[off] = defaultKDFParams.Threads
	off++
	off += 3 // reserved
	copy(result[off:off+walletEncSaltLen], salt)
	off += walletEncSaltLen
	copy(result[off:off+gcm.NonceSize()], nonce)
	off += gcm.NonceSize()
	copy(result[off:], ciphertext)

	return result, nil
}

func decrypt(data, password []byte) ([]byte, error) {
	if len(data) < walletEncHeaderLenV1+walletEncSaltLen {
		return nil, errors.New("ciphertext too short")
	}
	if string(data[:7]) != walletEncMagicV1 {
		return nil, errors.New("unrecognized wallet file format")
	}

	formatVer := data[7]
	if formatVer != walletEncFormatVersionV1 {
		return nil, fmt.Errorf("unsupported wallet encryption format version: %d", formatVer)
	}

	timeParam := binary.BigEndian.Uint32(data[8:12])
	memKiB := binary.BigEndian.Uint32(data[12:16])
	threads := data[16]

	off := walletEncHeaderLenV1
	if len(data) < off+walletEncSaltLen+12 {
		return nil, errors.New("ciphertext too short")
	}
	salt := data[off : off+walletEncSaltLen]
	off += walletEncSaltLen

	params := kdfParams{Time: timeParam, Memory: memKiB, Threads: threads}
	key := deriveKeyWithParams(password, salt, params)
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < off+nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce := data[off : off+nonceSize]
	ciphertext := data[off+nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
