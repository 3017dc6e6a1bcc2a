package atmxgo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var pgSchemaSQL string

var (
	pgSelectAcctsSQL = `
		SELECT card_number, card_key, pin, balance::text, name
		FROM accounts
		ORDER BY card_number;
	`

	pgUpsertAcctSQL = `
		INSERT INTO accounts (card_number, card_key, pin, balance, name)
		VALUES ($1, $2, $3, $4::text::numeric, $5)
		ON CONFLICT (card_number) DO UPDATE
		SET card_key = EXCLUDED.card_key,
			pin = EXCLUDED.pin,
			balance = EXCLUDED.balance,
			name = EXCLUDED.name;
	`

	pgDeleteOtherAcctsSQL = `
		DELETE FROM accounts
		WHERE card_number <> ALL($1);
	`
)

// PostgresEndpoint stores the account set in a single table. A save runs in
// one transaction, so the table always holds a complete snapshot.
type PostgresEndpoint struct {
	pool *pgxpool.Pool
	log  *zerolog.Logger
}

var (
	_ Repository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(ctx context.Context, connStr string, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	endpt := &PostgresEndpoint{
		pool: pool,
		log:  log,
	}
	return endpt, err
}

func (pg *PostgresEndpoint) InitSchema(ctx context.Context) error {
	_, err := pg.pool.Exec(ctx, pgSchemaSQL)
	return err
}

func (pg *PostgresEndpoint) Close() {
	pg.pool.Close()
}

func (pg *PostgresEndpoint) LoadAccounts(ctx context.Context) ([]Account, error) {
	rows, err := pg.pool.Query(ctx, pgSelectAcctsSQL)
	if err != nil {
		return nil, err
	}
	accts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Account, error) {
		var (
			a    Account
			rbal string
		)
		if err := row.Scan(&a.CardNumber, &a.CardKey, &a.Pin, &rbal, &a.Name); err != nil {
			return a, err
		}
		bal, err := decimal.NewFromString(rbal)
		if err != nil {
			return a, fmt.Errorf("balance of %s: %w", MaskCardNumber(a.CardNumber), err)
		}
		a.Balance = bal
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	if len(accts) == 0 {
		return nil, ErrNoSnapshot
	}
	return accts, nil
}

func (pg *PostgresEndpoint) SaveAccounts(ctx context.Context, accts []Account) error {
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
				pg.log.Err(rerr).Msg("accounts snapshot rollback fail")
			}
		}
	}()

	nums := make([]string, 0, len(accts))
	batch := &pgx.Batch{}
	for _, a := range accts {
		nums = append(nums, a.CardNumber)
		batch.Queue(pgUpsertAcctSQL, a.CardNumber, a.CardKey, a.Pin, a.Balance.String(), a.Name)
	}
	batch.Queue(pgDeleteOtherAcctsSQL, nums)

	btresults := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err = btresults.Exec(); err != nil {
			btresults.Close()
			return err
		}
	}
	if err = btresults.Close(); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}
