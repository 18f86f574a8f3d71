package db

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	OrderPending   = "pending"
	OrderPaid      = "paid"
	OrderCancelled = "cancelled"
)

const orderColumns = `o.id, o.buyer_id, b.name, o.product_id, p.name, p.seller_id, o.quantity, o.total_price::text, o.status, o.tx_hash, o.created_at, o.updated_at, o.paid_at`

const orderFrom = ` FROM orders o JOIN users b ON b.id = o.buyer_id JOIN products p ON p.id = o.product_id`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var total string
	err := row.Scan(&o.ID, &o.BuyerID, &o.BuyerName, &o.ProductID, &o.ProductName, &o.SellerID, &o.Quantity, &total, &o.Status, &o.TxHash, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt)
	o.TotalPrice = parseDecimal(total)
	return o, err
}

type CreateOrderParams struct {
	ID         string
	BuyerID    string
	ProductID  string
	Quantity   int
	TotalPrice decimal.Decimal
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	_, err := q.db.Exec(ctx, `
    INSERT INTO orders (id, buyer_id, product_id, quantity, total_price, status)
    VALUES ($1, $2, $3, $4, $5::numeric, 'pending')
  `, arg.ID, arg.BuyerID, arg.ProductID, arg.Quantity, arg.TotalPrice.String())
	if err != nil {
		return Order{}, err
	}
	return q.GetOrder(ctx, arg.ID)
}

func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1`, id))
}

// GetOrderForUpdate locks the order row for payment or cancellation.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id string) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+orderFrom+` WHERE o.id = $1 FOR UPDATE OF o`, id))
}

func (q *Queries) MarkOrderPaid(ctx context.Context, id, txHash string, at time.Time) error {
	_, err := q.db.Exec(ctx, `
    UPDATE orders SET status = 'paid', tx_hash = $2, paid_at = $3, updated_at = now()
    WHERE id = $1 AND status = 'pending'
  `, id, txHash, at)
	return err
}

func (q *Queries) MarkOrderCancelled(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `UPDATE orders SET status = 'cancelled', updated_at = now() WHERE id = $1 AND status = 'pending'`, id)
	return err
}

// CancelPendingOrder cancels a pending order and returns its units to stock.
// It reports false when the order is no longer pending.
func (q *Queries) CancelPendingOrder(ctx context.Context, order Order) (bool, error) {
	if order.Status != OrderPending {
		return false, nil
	}
	if err := q.MarkOrderCancelled(ctx, order.ID); err != nil {
		return false, err
	}
	if err := q.AdjustStock(ctx, order.ProductID, order.Quantity); err != nil {
		return false, err
	}
	return true, nil
}

type OrderFilter struct {
	BuyerID  string
	SellerID string
	Status   string
}

func (q *Queries) ListOrders(ctx context.Context, filter OrderFilter, limit, offset int) ([]Order, int, error) {
	var clauses []string
	var args []interface{}
	if filter.BuyerID != "" {
		args = append(args, filter.BuyerID)
		clauses = append(clauses, "o.buyer_id = $"+strconv.Itoa(len(args)))
	}
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		clauses = append(clauses, "p.seller_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, "o.status = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := q.db.QueryRow(ctx, `SELECT count(*)`+orderFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.db.Query(ctx, `SELECT `+orderColumns+orderFrom+where+
		` ORDER BY o.created_at DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// ListStalePendingOrders returns ids of pending orders created before cutoff.
func (q *Queries) ListStalePendingOrders(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := q.db.Query(ctx, `
    SELECT id FROM orders
    WHERE status = 'pending' AND created_at < $1
    ORDER BY created_at
    LIMIT $2
  `, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type DashboardStats struct {
	Users           int
	Students        int
	Sellers         int
	PendingAccounts int
	Events          int
	ActiveEvents    int
	Products        int
	Orders          int
	PendingOrders   int
	PaidOrders      int
	CancelledOrders int
	Revenue         decimal.Decimal
	RewardsPaid     decimal.Decimal
}

func (q *Queries) GetDashboardStats(ctx context.Context) (DashboardStats, error) {
	var s DashboardStats
	var revenue, rewards string
	err := q.db.QueryRow(ctx, `
    SELECT
      (SELECT count(*) FROM users),
      (SELECT count(*) FROM users WHERE role = 'student'),
      (SELECT count(*) FROM users WHERE role = 'seller'),
      (SELECT count(*) FROM users WHERE account_status = 'pending'),
      (SELECT count(*) FROM events),
      (SELECT count(*) FROM events WHERE status IN ('upcoming', 'ongoing')),
      (SELECT count(*) FROM products WHERE active),
      (SELECT count(*) FROM orders),
      (SELECT count(*) FROM orders WHERE status = 'pending'),
      (SELECT count(*) FROM orders WHERE status = 'paid'),
      (SELECT count(*) FROM orders WHERE status = 'cancelled'),
      (SELECT coalesce(sum(total_price), 0)::text FROM orders WHERE status = 'paid'),
      (SELECT coalesce(sum(amount), 0)::text FROM transactions WHERE type = 'receive' AND event_id IS NOT NULL)
  `).Scan(&s.Users, &s.Students, &s.Sellers, &s.PendingAccounts, &s.Events, &s.ActiveEvents, &s.Products,
		&s.Orders, &s.PendingOrders, &s.PaidOrders, &s.CancelledOrders, &revenue, &rewards)
	s.Revenue = parseDecimal(revenue)
	s.RewardsPaid = parseDecimal(rewards)
	return s, err
}
