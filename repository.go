package atmxgo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repository.go -destination=mocks/repository.go -package=mocks

// Account is one bank account bound to one card.
type Account struct {
	CardKey    string          `json:"card_key"`
	CardNumber string          `json:"card_number"`
	Pin        string          `json:"pin"`
	Balance    decimal.Decimal `json:"balance"`
	Name       string          `json:"name"`
}

// Repository is the durable backing of the account store. SaveAccounts always
// receives the complete account set and must replace the stored one
// atomically: either every record is durable or none of the new values are.
type Repository interface {
	LoadAccounts(ctx context.Context) ([]Account, error)
	SaveAccounts(ctx context.Context, accts []Account) error
}

// SampleAccounts is the data a fresh installation starts with.
func SampleAccounts() []Account {
	return []Account{
		{
			CardKey:    "key123",
			CardNumber: "1234567890123456",
			Pin:        "1234",
			Balance:    decimal.New(100000, -2),
			Name:       "John Doe",
		},
		{
			CardKey:    "key456",
			CardNumber: "9876543210987654",
			Pin:        "4321",
			Balance:    decimal.New(50000, -2),
			Name:       "Jane Smith",
		},
	}
}

// OpenRepository returns the storage cfg selects. The returned close func
// releases it and is never nil.
func OpenRepository(ctx context.Context, cfg StorageConfig, log *zerolog.Logger) (Repository, func(), error) {
	switch cfg.Driver {
	case StoragePostgres:
		pgendpt, err := NewPostgresEndpoint(ctx, cfg.ConnStr, log)
		if err != nil {
			return nil, nil, fmt.Errorf("starting database: %w", err)
		}
		if err = pgendpt.InitSchema(ctx); err != nil {
			pgendpt.Close()
			return nil, nil, fmt.Errorf("initializing database schema: %w", err)
		}
		return pgendpt, pgendpt.Close, nil
	case StorageFile, "":
		return NewFileStore(cfg.SnapshotPath), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
