package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const walletColumns = `user_id, address, key_fingerprint, created_at, last_connected_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	err := row.Scan(&w.UserID, &w.Address, &w.KeyFingerprint, &w.CreatedAt, &w.LastConnectedAt)
	return w, err
}

func (q *Queries) CreateWallet(ctx context.Context, w Wallet) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `
    INSERT INTO wallets (user_id, address, key_fingerprint, created_at, last_connected_at)
    VALUES ($1, $2, $3, $4, $5)
    RETURNING `+walletColumns, w.UserID, w.Address, w.KeyFingerprint, w.CreatedAt, w.LastConnectedAt))
}

func (q *Queries) GetWalletByUser(ctx context.Context, userID string) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

// GetWalletByAddress matches addresses case-insensitively.
func (q *Queries) GetWalletByAddress(ctx context.Context, address string) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE lower(address) = lower($1)`, address))
}

func (q *Queries) GetWalletByFingerprint(ctx context.Context, fingerprint string) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE key_fingerprint = $1`, fingerprint))
}

func (q *Queries) TouchWallet(ctx context.Context, userID string, at time.Time) (Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `
    UPDATE wallets SET last_connected_at = $2 WHERE user_id = $1
    RETURNING `+walletColumns, userID, at))
}

const transactionColumns = `id, user_id, hash, from_address, to_address, amount::text, type, status, order_id, event_id, balance_before::text, balance_after::text, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var amount, before, after string
	err := row.Scan(&t.ID, &t.UserID, &t.Hash, &t.FromAddress, &t.ToAddress, &amount, &t.Type, &t.Status, &t.OrderID, &t.EventID, &before, &after, &t.CreatedAt)
	t.Amount = parseDecimal(amount)
	t.BalanceBefore = parseDecimal(before)
	t.BalanceAfter = parseDecimal(after)
	return t, err
}

func (q *Queries) CreateTransaction(ctx context.Context, t Transaction) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, `
    INSERT INTO transactions (id, user_id, hash, from_address, to_address, amount, type, status, order_id, event_id, balance_before, balance_after, created_at)
    VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11::numeric, $12::numeric, $13)
    RETURNING `+transactionColumns,
		t.ID, t.UserID, t.Hash, t.FromAddress, t.ToAddress, t.Amount.String(), t.Type, t.Status, t.OrderID, t.EventID,
		t.BalanceBefore.String(), t.BalanceAfter.String(), t.CreatedAt))
}

func (q *Queries) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]Transaction, int, error) {
	var total int
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.db.Query(ctx, `
    SELECT `+transactionColumns+`
    FROM transactions
    WHERE user_id = $1
    ORDER BY created_at DESC, id
    LIMIT $2 OFFSET $3
  `, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// TransactionTotals sums confirmed credits and debits for a user.
func (q *Queries) TransactionTotals(ctx context.Context, userID string) (earned, spent decimal.Decimal, err error) {
	var in, out string
	err = q.db.QueryRow(ctx, `
    SELECT
      coalesce(sum(amount) FILTER (WHERE type = 'receive'), 0)::text,
      coalesce(sum(amount) FILTER (WHERE type = 'send'), 0)::text
    FROM transactions
    WHERE user_id = $1 AND status = 'confirmed'
  `, userID).Scan(&in, &out)
	return parseDecimal(in), parseDecimal(out), err
}
