package db

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const productColumns = `p.id, p.seller_id, u.name, p.name, p.description, p.price::text, p.category, p.stock, p.image_key, p.thumbnail_key, p.active, p.created_at, p.updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var price string
	err := row.Scan(&p.ID, &p.SellerID, &p.SellerName, &p.Name, &p.Description, &price, &p.Category, &p.Stock, &p.ImageKey, &p.ThumbnailKey, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	p.Price = parseDecimal(price)
	return p, err
}

type ProductParams struct {
	ID          string
	SellerID    string
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Stock       int
}

func (q *Queries) CreateProduct(ctx context.Context, arg ProductParams) (Product, error) {
	_, err := q.db.Exec(ctx, `
    INSERT INTO products (id, seller_id, name, description, price, category, stock)
    VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
  `, arg.ID, arg.SellerID, arg.Name, arg.Description, arg.Price.String(), arg.Category, arg.Stock)
	if err != nil {
		return Product{}, err
	}
	return q.GetProduct(ctx, arg.ID)
}

func (q *Queries) UpdateProduct(ctx context.Context, arg ProductParams) (Product, error) {
	tag, err := q.db.Exec(ctx, `
    UPDATE products
    SET name = $2, description = $3, price = $4::numeric, category = $5, stock = $6, updated_at = now()
    WHERE id = $1 AND active
  `, arg.ID, arg.Name, arg.Description, arg.Price.String(), arg.Category, arg.Stock)
	if err != nil {
		return Product{}, err
	}
	if tag.RowsAffected() == 0 {
		return Product{}, pgx.ErrNoRows
	}
	return q.GetProduct(ctx, arg.ID)
}

func (q *Queries) SetProductImage(ctx context.Context, id string, imageKey, thumbnailKey *string) error {
	_, err := q.db.Exec(ctx, `UPDATE products SET image_key = $2, thumbnail_key = $3, updated_at = now() WHERE id = $1`, id, imageKey, thumbnailKey)
	return err
}

func (q *Queries) GetProduct(ctx context.Context, id string) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
    SELECT `+productColumns+`
    FROM products p JOIN users u ON u.id = p.seller_id
    WHERE p.id = $1
  `, id))
}

// GetProductForUpdate locks the product row while stock changes.
func (q *Queries) GetProductForUpdate(ctx context.Context, id string) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
    SELECT `+productColumns+`
    FROM products p JOIN users u ON u.id = p.seller_id
    WHERE p.id = $1
    FOR UPDATE OF p
  `, id))
}

func (q *Queries) AdjustStock(ctx context.Context, id string, delta int) error {
	_, err := q.db.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, delta)
	return err
}

// DeactivateProduct hides a product. Orders keep referencing it.
func (q *Queries) DeactivateProduct(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE products SET active = false, updated_at = now() WHERE id = $1 AND active`, id)
	return tag.RowsAffected(), err
}

type ProductFilter struct {
	SellerID string
	Category string
	Search   string
	InStock  bool
}

func (q *Queries) ListProducts(ctx context.Context, filter ProductFilter, limit, offset int) ([]Product, int, error) {
	clauses := []string{"p.active"}
	var args []interface{}
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		clauses = append(clauses, "p.seller_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, "p.category = $"+strconv.Itoa(len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		clauses = append(clauses, "(p.name ILIKE $"+n+" OR p.description ILIKE $"+n+")")
	}
	if filter.InStock {
		clauses = append(clauses, "p.stock > 0")
	}
	where := " WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM products p`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products p JOIN users u ON u.id = p.seller_id`+where+
		` ORDER BY p.created_at DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
