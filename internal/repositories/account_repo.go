package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BradenHooton/traveljournal/internal/models"
)

// AccountRepository keeps the account list in memory and mirrors it to a JSON
// file on Save. Records handed out are copies; callers write back through
// Add, Update, Delete or ReplaceAll.
type AccountRepository struct {
	mu       sync.RWMutex
	path     string
	accounts []*models.Account
}

func NewAccountRepository(path string) *AccountRepository {
	return &AccountRepository{
		path:     path,
		accounts: make([]*models.Account, 0),
	}
}

// Path returns the backing file location.
func (r *AccountRepository) Path() string {
	return r.path
}

// Load replaces the in-memory list with the contents of the backing file.
// A missing file yields an empty list and no error. Unreadable or malformed
// content also yields an empty list; the returned error is informational.
func (r *AccountRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = make([]*models.Account, 0)

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read accounts file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var accounts []*models.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return fmt.Errorf("failed to parse accounts file: %w", err)
	}

	for _, acc := range accounts {
		if acc != nil {
			r.accounts = append(r.accounts, acc)
		}
	}
	return nil
}

// Save writes the full list to the backing file, creating its directory.
// The file is replaced atomically so a failed write leaves the old content.
func (r *AccountRepository) Save() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.accounts, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode accounts: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write accounts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write accounts: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}

	return nil
}

// Exists reports whether an account with exactly this username is stored.
func (r *AccountRepository) Exists(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.indexOf(username) >= 0
}

// Get returns a copy of the account, or models.ErrNotFound.
func (r *AccountRepository) Get(username string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexOf(username)
	if idx < 0 {
		return nil, models.ErrNotFound
	}
	return r.accounts[idx].Clone(), nil
}

// Add appends the account. Uniqueness is the caller's responsibility.
func (r *AccountRepository) Add(acc *models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = append(r.accounts, acc.Clone())
}

// Update replaces the stored record with the same username. Unknown
// usernames are ignored.
func (r *AccountRepository) Update(acc *models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.indexOf(acc.Username); idx >= 0 {
		r.accounts[idx] = acc.Clone()
	}
}

// Delete removes the account and reports whether it was present.
func (r *AccountRepository) Delete(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(username)
	if idx < 0 {
		return false
	}
	r.accounts = append(r.accounts[:idx], r.accounts[idx+1:]...)
	return true
}

// GetAll returns a snapshot of every account.
func (r *AccountRepository) GetAll() []*models.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Account, len(r.accounts))
	for i, acc := range r.accounts {
		out[i] = acc.Clone()
	}
	return out
}

// ReplaceAll swaps the whole list for copies of accounts.
func (r *AccountRepository) ReplaceAll(accounts []*models.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = make([]*models.Account, 0, len(accounts))
	for _, acc := range accounts {
		if acc != nil {
			r.accounts = append(r.accounts, acc.Clone())
		}
	}
}

func (r *AccountRepository) indexOf(username string) int {
	for i, acc := range r.accounts {
		if acc.Username == username {
			return i
		}
	}
	return -1
}
