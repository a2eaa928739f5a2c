package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
)

const orderColumns = `
	id, user_id, status, lines, subtotal, discount, tax, shipping, total, amount_due,
	total_savings, currency, coupon_code, created_at
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o          models.Order
		linesJSON  []byte
		couponCode sql.NullString
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&linesJSON,
		&o.Pricing.Subtotal,
		&o.Pricing.Discount,
		&o.Pricing.Tax,
		&o.Pricing.Shipping,
		&o.Pricing.Total,
		&o.Pricing.AmountDue,
		&o.Pricing.TotalSavings,
		&o.Pricing.Currency,
		&couponCode,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return nil, errors.Wrap(err, "decode order lines")
	}
	if couponCode.Valid {
		o.CouponCode = couponCode.String
	}
	return &o, nil
}

// GetOrder retrieves an order by its ID.
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.logger.Debug("Fetching order by ID", logging.Fields{"order_id": id})

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to fetch order", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, errors.Wrap(err, "query order")
	}
	return order, nil
}

// ListOrders returns a page of a user's orders, newest first, with the total count.
func (s *PostgresStore) ListOrders(ctx context.Context, filter models.OrderListFilter) ([]*models.Order, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, filter.UserID).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, query, filter.UserID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan order")
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	s.logger.Debug("Orders listed", logging.Fields{
		"user_id": filter.UserID,
		"count":   len(orders),
		"total":   total,
	})
	return orders, total, nil
}

// CommitOrder claims the priced cart, decrements stock, redeems the coupon and
// inserts the order in a single transaction. A cart modified or already
// checked out since pricing yields errors.ErrCartChanged, a stock shortfall
// yields *errors.StockInsufficientError and a lost coupon race yields
// errors.ErrConcurrentUpdate; in every case nothing is written.
func (s *PostgresStore) CommitOrder(ctx context.Context, req CommitRequest) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin commit")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Error("Rollback failed", logging.Fields{
					"order_id": req.Order.ID,
					"error":    rbErr.Error(),
				})
			}
		}
	}()

	// A concurrent checkout of the same cart blocks on this row and then
	// matches nothing.
	if err = claimCart(ctx, tx, req.Order.UserID, req.CartUpdatedAt); err != nil {
		return err
	}

	for _, d := range req.Stock {
		if err = decrementStock(ctx, tx, d); err != nil {
			return err
		}
	}

	if req.Coupon != nil {
		if err = redeemCoupon(ctx, tx, *req.Coupon); err != nil {
			return err
		}
	}

	if err = insertOrder(ctx, tx, req.Order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit order")
	}

	s.logger.Info("Order committed", logging.Fields{
		"order_id":   req.Order.ID,
		"user_id":    req.Order.UserID,
		"amount_due": req.Order.Pricing.AmountDue.String(),
	})
	return nil
}

func claimCart(ctx context.Context, tx *sql.Tx, userID string, updatedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1 AND updated_at = $2`, userID, updatedAt)
	if err != nil {
		return errors.Wrap(err, "clear cart")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrCartChanged, "cart of %s", userID)
	}
	return nil
}

func decrementStock(ctx context.Context, tx *sql.Tx, d StockDecrement) error {
	table, err := catalogTable(d.Key.Type)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE `+table+` SET stock_quantity = stock_quantity - $2 WHERE id = $1 AND deleted_at IS NULL AND stock_quantity >= $2`,
		d.Key.ID, d.Quantity,
	)
	if err != nil {
		return errors.Wrapf(err, "decrement stock %s", d.Key)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Report what is actually left so the caller can show it.
	var available int
	err = tx.QueryRowContext(ctx, `SELECT stock_quantity FROM `+table+` WHERE id = $1 AND deleted_at IS NULL`, d.Key.ID).Scan(&available)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrapf(err, "read stock %s", d.Key)
	}
	return &errors.StockInsufficientError{RefID: d.Key.ID, Requested: d.Quantity, Available: available}
}

func redeemCoupon(ctx context.Context, tx *sql.Tx, r CouponRedemption) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1, used_by = array_append(used_by, $2), version = version + 1
		WHERE code = $1 AND version = $3 AND (usage_limit = 0 OR used_count < usage_limit)
	`, r.Code, r.UserID, r.Version)
	if err != nil {
		return errors.Wrapf(err, "redeem coupon %s", r.Code)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(errors.ErrConcurrentUpdate, "coupon %s changed since version %d", r.Code, r.Version)
	}
	return nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, o *models.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "encode order lines")
	}

	var couponCode interface{}
	if o.CouponCode != "" {
		couponCode = o.CouponCode
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		o.ID,
		o.UserID,
		o.Status,
		linesJSON,
		o.Pricing.Subtotal,
		o.Pricing.Discount,
		o.Pricing.Tax,
		o.Pricing.Shipping,
		o.Pricing.Total,
		o.Pricing.AmountDue,
		o.Pricing.TotalSavings,
		o.Pricing.Currency,
		couponCode,
		o.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}
