package atmxgo

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=mocks/service.go -package=mocks

type Service interface {
	ValidateCardKey(ctx context.Context, req ValidateCardKeyReq) (string, error)
	CheckBalance(ctx context.Context, req CheckBalanceReq) (*decimal.Decimal, error)
	Withdraw(ctx context.Context, req WithdrawReq) (*decimal.Decimal, error)
	Accounts() int
}

var (
	_ Service = (*serviceImpl)(nil)
)

// NewService loads the account set from repo and returns the single store
// every session must share. An empty repository is seeded with
// SampleAccounts.
func NewService(ctx context.Context, repo Repository, log *zerolog.Logger) (*serviceImpl, error) {
	accts, err := repo.LoadAccounts(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		accts = SampleAccounts()
		if err = repo.SaveAccounts(ctx, accts); err != nil {
			return nil, fmt.Errorf("seeding sample accounts: %w", err)
		}
		log.Info().Int("accounts", len(accts)).Msg("seeded sample accounts")
	} else if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}

	svc := &serviceImpl{
		repo:     repo,
		log:      log,
		accts:    slices.Clone(accts),
		byNumber: make(map[string]int, len(accts)),
		byKey:    make(map[string]string, len(accts)),
	}
	for i, a := range svc.accts {
		switch {
		case a.CardNumber == "":
			return nil, ErrCorruptSnapshot{Reason: fmt.Sprintf("record %d has no card number", i)}
		case a.CardKey == "":
			return nil, ErrCorruptSnapshot{Reason: fmt.Sprintf("card %s has no card key", a.CardNumber)}
		case a.Balance.IsNegative():
			return nil, ErrCorruptSnapshot{Reason: fmt.Sprintf("card %s has a negative balance", a.CardNumber)}
		}
		if _, dup := svc.byNumber[a.CardNumber]; dup {
			return nil, ErrCorruptSnapshot{Reason: fmt.Sprintf("duplicate card number %s", a.CardNumber)}
		}
		if _, dup := svc.byKey[a.CardKey]; dup {
			return nil, ErrCorruptSnapshot{Reason: fmt.Sprintf("card key of %s is shared", a.CardNumber)}
		}
		svc.byNumber[a.CardNumber] = i
		svc.byKey[a.CardKey] = a.CardNumber
	}
	log.Info().Int("accounts", len(svc.accts)).Msg("account store ready")
	return svc, nil
}

// serviceImpl is the account store. mu is held shared by reads and
// exclusively for the whole check, persist and commit sequence of a
// withdrawal, which makes every operation linearizable.
type serviceImpl struct {
	mu       sync.RWMutex
	repo     Repository
	log      *zerolog.Logger
	accts    []Account
	byNumber map[string]int
	byKey    map[string]string
}

func (s *serviceImpl) ValidateCardKey(_ context.Context, req ValidateCardKeyReq) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	num, ok := s.byKey[req.CardKey]
	if !ok || req.CardKey == "" {
		return "", ErrInvalidCardKey
	}
	return num, nil
}

func (s *serviceImpl) CheckBalance(_ context.Context, req CheckBalanceReq) (*decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, err := s.authorize(req.CardNumber, req.Pin)
	if err != nil {
		return nil, err
	}
	bal := acct.Balance
	return &bal, nil
}

func (s *serviceImpl) Withdraw(ctx context.Context, req WithdrawReq) (*decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.authorize(req.CardNumber, req.Pin)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, ErrBadRequest{Fields: map[string]string{"amount": "must be positive"}}
	}
	if acct.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds
	}

	// Stage the new balance on a copy; memory changes only once it is durable.
	idx := s.byNumber[req.CardNumber]
	newBal := acct.Balance.Sub(req.Amount)
	staged := slices.Clone(s.accts)
	staged[idx].Balance = newBal
	if err = s.repo.SaveAccounts(ctx, staged); err != nil {
		s.log.Err(err).
			Str("method", "withdraw").
			Str("card", MaskCardNumber(req.CardNumber)).
			Msg("error persisting accounts, withdrawal not committed")
		return nil, fmt.Errorf("%w: persisting withdrawal: %v", ErrInternalServer, err)
	}
	s.accts[idx].Balance = newBal
	return &newBal, nil
}

func (s *serviceImpl) Accounts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accts)
}

// authorize must be called with mu held. An unknown card is reported before
// the PIN is looked at.
func (s *serviceImpl) authorize(cardNumber, pin string) (*Account, error) {
	idx, ok := s.byNumber[cardNumber]
	if !ok {
		return nil, ErrNotFound{CardNumber: cardNumber}
	}
	acct := &s.accts[idx]
	if subtle.ConstantTimeCompare([]byte(acct.Pin), []byte(pin)) != 1 {
		return nil, ErrInvalidPin
	}
	return acct, nil
}

// MaskCardNumber keeps only the last four digits.
func MaskCardNumber(num string) string {
	if len(num) <= 4 {
		return num
	}
	masked := make([]byte, len(num))
	for i := range masked[:len(num)-4] {
		masked[i] = 'x'
	}
	copy(masked[len(num)-4:], num[len(num)-4:])
	return string(masked)
}
