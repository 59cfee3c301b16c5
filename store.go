package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/lacproject/lac/debug"
)

// Store is the single in-process entity owning all mutable ledger state
// (§4.2). Every mutator acquires mu for its critical section; disk I/O
// happens after the lock is released, against a snapshot taken while held.
type Store struct {
	mu debug.Mutex

	dataDir string

	Accounts map[string]*Account `json:"-"`
	Chain    []*Block            `json:"-"`

	Mempool    []*Transaction `json:"-"` // FIFO, cap MempoolCap
	PendingTxs []*Transaction `json:"-"` // next-block-only items

	Ephemeral []*EphemeralMessage `json:"-"`

	KeyImages     map[string]bool `json:"-"` // hex(key image) -> seen
	SpentNullifiers map[string]bool `json:"-"`

	StashDeposits    map[string]*StashDeposit `json:"-"` // nullifier_hash -> deposit
	StashTotalBalance float64                 `json:"-"`

	Validators map[string]*ValidatorRecord `json:"-"`

	Timelocks  map[string]*TimelockEntry `json:"-"`
	TotalLocked float64                  `json:"-"`

	ZeroHistory *ZeroHistoryState `json:"-"`

	TotalEmitted float64 `json:"-"`
	TotalBurned  float64 `json:"-"`
}

// fileChain etc. name each persisted JSON collection under dataDir.
const (
	fileChain      = "chain.json"
	fileAccounts   = "accounts.json"
	fileMempool    = "mempool.json"
	fileKeyImages  = "keyimages.json"
	fileStash      = "stash.json"
	fileValidators = "validators.json"
	fileZeroHist   = "zerohistory.json"
	fileEphemeral  = "ephemeral.json"
	fileTimelocks  = "timelocks.json"
)

// NewStore creates a fresh, empty store rooted at dataDir and writes a
// genesis block.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	genesis, err := NewGenesisBlock()
	if err != nil {
		return nil, fmt.Errorf("failed to build genesis block: %w", err)
	}

	s := &Store{
		mu:              debug.NewMutex("store"),
		dataDir:         dataDir,
		Accounts:        make(map[string]*Account),
		Chain:           []*Block{genesis},
		KeyImages:       make(map[string]bool),
		SpentNullifiers: make(map[string]bool),
		StashDeposits:   make(map[string]*StashDeposit),
		Validators:      make(map[string]*ValidatorRecord),
		Timelocks:       make(map[string]*TimelockEntry),
		ZeroHistory:     NewZeroHistoryState(),
	}
	return s, nil
}

// LoadOrCreateStore loads a persisted store from dataDir, or creates a new
// one if nothing is persisted yet.
func LoadOrCreateStore(dataDir string) (*Store, error) {
	if _, err := os.Stat(filepath.Join(dataDir, fileChain)); os.IsNotExist(err) {
		return NewStore(dataDir)
	}
	return LoadStore(dataDir)
}

// LoadStore reconstructs a store from its on-disk JSON collections. Each
// collection falls back to its `.backup` sibling on corruption, and to an
// empty value (with a logged error) if both are corrupt (§7).
func LoadStore(dataDir string) (*Store, error) {
	s := &Store{
		mu:              debug.NewMutex("store"),
		dataDir:         dataDir,
		Accounts:        make(map[string]*Account),
		KeyImages:       make(map[string]bool),
		SpentNullifiers: make(map[string]bool),
		StashDeposits:   make(map[string]*StashDeposit),
		Validators:      make(map[string]*ValidatorRecord),
		Timelocks:       make(map[string]*TimelockEntry),
	}

	if err := loadJSONWithBackup(dataDir, fileChain, &s.Chain); err != nil {
		return nil, err
	}
	if len(s.Chain) == 0 {
		genesis, err := NewGenesisBlock()
		if err != nil {
			return nil, err
		}
		s.Chain = []*Block{genesis}
	}

	if err := loadJSONWithBackup(dataDir, fileAccounts, &s.Accounts); err != nil {
		return nil, err
	}
	if s.Accounts == nil {
		s.Accounts = make(map[string]*Account)
	}

	if err := loadJSONWithBackup(dataDir, fileMempool, &s.Mempool); err != nil {
		return nil, err
	}
	if err := loadJSONWithBackup(dataDir, fileKeyImages, &s.KeyImages); err != nil {
		return nil, err
	}
	if s.KeyImages == nil {
		s.KeyImages = make(map[string]bool)
	}

	var stashDoc stashDocument
	if err := loadJSONWithBackup(dataDir, fileStash, &stashDoc); err != nil {
		return nil, err
	}
	s.StashDeposits = stashDoc.Deposits
	if s.StashDeposits == nil {
		s.StashDeposits = make(map[string]*StashDeposit)
	}
	s.SpentNullifiers = stashDoc.SpentNullifiers
	if s.SpentNullifiers == nil {
		s.SpentNullifiers = make(map[string]bool)
	}
	s.StashTotalBalance = stashDoc.TotalBalance

	if err := loadJSONWithBackup(dataDir, fileValidators, &s.Validators); err != nil {
		return nil, err
	}
	if s.Validators == nil {
		s.Validators = make(map[string]*ValidatorRecord)
	}

	var zh ZeroHistoryState
	if err := loadJSONWithBackup(dataDir, fileZeroHist, &zh); err != nil {
		return nil, err
	}
	s.ZeroHistory = &zh
	s.ZeroHistory.ensureInitialized()

	if err := loadJSONWithBackup(dataDir, fileEphemeral, &s.Ephemeral); err != nil {
		return nil, err
	}

	var timelockDoc timelockDocument
	if err := loadJSONWithBackup(dataDir, fileTimelocks, &timelockDoc); err != nil {
		return nil, err
	}
	s.Timelocks = timelockDoc.Entries
	if s.Timelocks == nil {
		s.Timelocks = make(map[string]*TimelockEntry)
	}
	s.TotalLocked = timelockDoc.TotalLocked

	var totals totalsDocument
	_ = loadJSONWithBackup(dataDir, "totals.json", &totals)
	s.TotalEmitted = totals.TotalEmitted
	s.TotalBurned = totals.TotalBurned

	return s, nil
}

type stashDocument struct {
	Deposits        map[string]*StashDeposit `json:"deposits"`
	SpentNullifiers map[string]bool          `json:"spent_nullifiers"`
	TotalBalance    float64                  `json:"total_balance"`
}

type totalsDocument struct {
	TotalEmitted float64 `json:"total_emitted"`
	TotalBurned  float64 `json:"total_burned"`
}

type timelockDocument struct {
	Entries     map[string]*TimelockEntry `json:"entries"`
	TotalLocked float64                   `json:"total_locked"`
}

// SaveAll persists every collection. Callers normally hold no lock when
// calling this: take a snapshot under mu, release, then call SaveAll on the
// snapshot copy, matching §5's "persistence may be called without the lock
// after a consistent snapshot was taken under the lock."
func (s *Store) SaveAll() error {
	if err := s.SaveChain(); err != nil {
		return err
	}
	if err := s.SaveAccounts(); err != nil {
		return err
	}
	if err := s.SaveMempool(); err != nil {
		return err
	}
	if err := s.SaveKeyImages(); err != nil {
		return err
	}
	if err := s.SaveStash(); err != nil {
		return err
	}
	if err := s.SaveValidators(); err != nil {
		return err
	}
	if err := s.SaveZeroHistory(); err != nil {
		return err
	}
	if err := s.SaveEphemeral(); err != nil {
		return err
	}
	if err := s.SaveTimelocks(); err != nil {
		return err
	}
	return s.saveJSON("totals.json", totalsDocument{TotalEmitted: s.TotalEmitted, TotalBurned: s.TotalBurned})
}

func (s *Store) SaveTimelocks() error {
	doc := timelockDocument{Entries: s.Timelocks, TotalLocked: s.TotalLocked}
	return s.saveJSON(fileTimelocks, doc)
}

// Per-collection savers let high-frequency updates (e.g. ephemeral messages)
// avoid paying the cost of re-serializing the whole chain.
func (s *Store) SaveChain() error      { return s.saveJSON(fileChain, s.Chain) }
func (s *Store) SaveAccounts() error   { return s.saveJSON(fileAccounts, s.Accounts) }
func (s *Store) SaveMempool() error    { return s.saveJSON(fileMempool, s.Mempool) }
func (s *Store) SaveKeyImages() error  { return s.saveJSON(fileKeyImages, s.KeyImages) }
func (s *Store) SaveValidators() error { return s.saveJSON(fileValidators, s.Validators) }
func (s *Store) SaveZeroHistory() error { return s.saveJSON(fileZeroHist, s.ZeroHistory) }
func (s *Store) SaveEphemeral() error  { return s.saveJSON(fileEphemeral, s.Ephemeral) }

func (s *Store) SaveStash() error {
	doc := stashDocument{
		Deposits:        s.StashDeposits,
		SpentNullifiers: s.SpentNullifiers,
		TotalBalance:    s.StashTotalBalance,
	}
	return s.saveJSON(fileStash, doc)
}

// saveJSON writes v to filename under dataDir using write -> flush -> fsync
// -> rename, keeping a rolling .backup sibling of whatever was there before.
func (s *Store) saveJSON(filename string, v interface{}) error {
	return atomicWriteJSON(filepath.Join(s.dataDir, filename), v)
}

func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open temp file for %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to fsync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".backup"); err != nil {
			log.Printf("failed to refresh backup for %s: %v", path, err)
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}

// loadJSONWithBackup loads filename under dataDir into v, falling back to
// the .backup sibling on corruption, and leaving v at its zero value (with
// a logged error) if both are corrupt or missing (§7 persistence errors).
func loadJSONWithBackup(dataDir, filename string, v interface{}) error {
	path := filepath.Join(dataDir, filename)

	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, v); jsonErr == nil {
			return nil
		}
		log.Printf("corrupted %s, falling back to backup: unmarshal failed", filename)
	} else if !os.IsNotExist(err) {
		log.Printf("failed to read %s: %v", filename, err)
	}

	backupData, err := os.ReadFile(path + ".backup")
	if err == nil {
		if jsonErr := json.Unmarshal(backupData, v); jsonErr == nil {
			log.Printf("loaded %s from backup", filename)
			return nil
		}
		log.Printf("backup for %s is also corrupt, starting empty", filename)
	}

	return nil
}

// Lock/Unlock expose the coarse lock to the block loop and its peers. There
// is exactly one lock in this process; no nested locking is permitted.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// Height returns the current chain height (index of the tip).
func (s *Store) Height() uint64 {
	if len(s.Chain) == 0 {
		return 0
	}
	return s.Chain[len(s.Chain)-1].Index
}

// Tip returns the current chain tip block, or nil if the chain is empty
// (which should never happen: genesis is always present).
func (s *Store) Tip() *Block {
	if len(s.Chain) == 0 {
		return nil
	}
	return s.Chain[len(s.Chain)-1]
}

// GetOrCreateAccount returns the account at address, creating it (balance 0,
// level 0) if it does not already exist.
func (s *Store) GetOrCreateAccount(address string, now int64) *Account {
	if acc, ok := s.Accounts[address]; ok {
		return acc
	}
	acc := NewAccount(address, now)
	s.Accounts[address] = acc
	return acc
}

// TotalAccountBalance sums every account's balance (used by the conservation
// invariant in §8).
func (s *Store) TotalAccountBalance() float64 {
	var total float64
	for _, acc := range s.Accounts {
		total += acc.Balance
	}
	return total
}

// CheckConservation verifies §8's universal conservation invariant:
// total_emitted - total_burned == sum(balances) + stash_pool.total_balance,
// with timelocked funds (TotalLocked) counted on the right-hand side.
func (s *Store) CheckConservation() error {
	lhs := s.TotalEmitted - s.TotalBurned
	rhs := s.TotalAccountBalance() + s.StashTotalBalance + s.TotalLocked
	const epsilon = 1e-6
	diff := lhs - rhs
	if diff < 0 {
		diff = -diff
	}
	if diff > epsilon {
		return fmt.Errorf("conservation violated: emitted-burned=%.8f, balances+stash+locked=%.8f", lhs, rhs)
	}
	return nil
}
