package atmxgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	_ Repository = (*FileStore)(nil)
)

// FileStore keeps the account set as a JSON object keyed by card number.
// Every save rewrites the whole file through a temporary file and a rename,
// so a crash mid-write leaves the previous snapshot in place.
type FileStore struct {
	path string
}

// snapshotRecord is one account as stored on disk. Balances are bare JSON
// numbers, like the rest of the accounts.json written by older banks.
type snapshotRecord struct {
	CardKey    string      `json:"card_key"`
	CardNumber string      `json:"card_number"`
	Pin        string      `json:"pin"`
	Balance    json.Number `json:"balance"`
	Name       string      `json:"name"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) LoadAccounts(_ context.Context) ([]Account, error) {
	bits, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}

	snap := map[string]snapshotRecord{}
	if err = json.Unmarshal(bits, &snap); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}

	accts := make([]Account, 0, len(snap))
	for num, rec := range snap {
		if rec.CardNumber != num {
			return nil, ErrCorruptSnapshot{Reason: fmt.Sprintf("record %q holds card number %q", num, rec.CardNumber)}
		}
		bal, err := decimal.NewFromString(rec.Balance.String())
		if err != nil {
			return nil, ErrCorruptSnapshot{Reason: fmt.Sprintf("balance of %s: %v", MaskCardNumber(num), err)}
		}
		accts = append(accts, Account{
			CardKey:    rec.CardKey,
			CardNumber: rec.CardNumber,
			Pin:        rec.Pin,
			Balance:    bal,
			Name:       rec.Name,
		})
	}
	sort.Slice(accts, func(i, j int) bool { return accts[i].CardNumber < accts[j].CardNumber })
	return accts, nil
}

func (s *FileStore) SaveAccounts(_ context.Context, accts []Account) error {
	snap := make(map[string]snapshotRecord, len(accts))
	for _, a := range accts {
		snap[a.CardNumber] = snapshotRecord{
			CardKey:    a.CardKey,
			CardNumber: a.CardNumber,
			Pin:        a.Pin,
			Balance:    json.Number(a.Balance.String()),
			Name:       a.Name,
		}
	}
	bits, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(bits); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
