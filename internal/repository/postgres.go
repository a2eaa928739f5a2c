package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/pricing"
)

// OpenPostgres opens and pings a pooled PostgreSQL connection.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db, nil
}

// PostgresStore is the PostgreSQL-backed catalog, cart, coupon and order store.
type PostgresStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *sql.DB, logger *logging.Logger) *PostgresStore {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func catalogTable(t pricing.RefType) (string, error) {
	switch t {
	case pricing.RefTypeProduct:
		return "products", nil
	case pricing.RefTypeBundle:
		return "bundles", nil
	default:
		return "", errors.NewValidationError("ref_type", fmt.Sprintf("unknown catalog type %q", t))
	}
}

// GetRecords loads catalog records for keys, grouped by collection. Deleted
// and unknown records are left out of the result.
func (s *PostgresStore) GetRecords(ctx context.Context, keys []RecordKey) (map[RecordKey]*pricing.CatalogRecord, error) {
	byType := make(map[pricing.RefType][]string)
	for _, k := range keys {
		if !k.Type.Valid() {
			continue
		}
		byType[k.Type] = append(byType[k.Type], k.ID)
	}

	result := make(map[RecordKey]*pricing.CatalogRecord, len(keys))
	for _, t := range []pricing.RefType{pricing.RefTypeProduct, pricing.RefTypeBundle} {
		ids := byType[t]
		if len(ids) == 0 {
			continue
		}
		if err := s.loadRecords(ctx, t, ids, result); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("Catalog records loaded", logging.Fields{
		"requested": len(keys),
		"found":     len(result),
	})
	return result, nil
}

func (s *PostgresStore) loadRecords(ctx context.Context, t pricing.RefType, ids []string, into map[RecordKey]*pricing.CatalogRecord) error {
	table, err := catalogTable(t)
	if err != nil {
		return err
	}

	query := `
		SELECT id, name, base_price, original_price, tax_rate, variants, stock_quantity, updated_at
		FROM ` + table + `
		WHERE id = ANY($1) AND deleted_at IS NULL
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		s.logger.Error("Failed to load catalog records", logging.Fields{
			"table": table,
			"error": err.Error(),
		})
		return errors.Wrapf(err, "query %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec          pricing.CatalogRecord
			base, orig   sql.NullString
			taxRate      sql.NullFloat64
			variantsJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &base, &orig, &taxRate, &variantsJSON, &rec.StockQuantity, &rec.UpdatedAt); err != nil {
			return errors.Wrapf(err, "scan %s", table)
		}
		rec.Kind = t
		if rec.BasePrice, err = nullMoney(base); err != nil {
			return errors.Wrapf(err, "%s %s base_price", table, rec.ID)
		}
		if rec.OriginalPrice, err = nullMoney(orig); err != nil {
			return errors.Wrapf(err, "%s %s original_price", table, rec.ID)
		}
		if taxRate.Valid {
			r := taxRate.Float64
			rec.TaxRate = &r
		}
		if len(variantsJSON) > 0 {
			if err := json.Unmarshal(variantsJSON, &rec.Variants); err != nil {
				return errors.Wrapf(err, "%s %s variants", table, rec.ID)
			}
		}
		into[RecordKey{Type: t, ID: rec.ID}] = &rec
	}
	return rows.Err()
}

func nullMoney(ns sql.NullString) (*pricing.Money, error) {
	if !ns.Valid {
		return nil, nil
	}
	m, err := pricing.ParseMoney(ns.String)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetCart loads the cart document of a user. A user without a cart row has
// an empty cart.
func (s *PostgresStore) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	query := `SELECT entries, updated_at FROM carts WHERE user_id = $1`

	var entriesJSON []byte
	cart := &models.Cart{UserID: userID}
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&entriesJSON, &cart.UpdatedAt)
	if err == sql.ErrNoRows {
		return cart, nil
	}
	if err != nil {
		s.logger.Error("Failed to load cart", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, errors.Wrap(err, "query cart")
	}

	if len(entriesJSON) > 0 {
		if err := json.Unmarshal(entriesJSON, &cart.Entries); err != nil {
			return nil, errors.Wrap(err, "decode cart entries")
		}
	}
	return cart, nil
}

// GetCoupon loads a coupon by its normalized code.
func (s *PostgresStore) GetCoupon(ctx context.Context, code string) (*pricing.Coupon, error) {
	query := `
		SELECT code, discount_type, value, max_discount, applicable_to, product_allow_list,
		       min_subtotal, usage_limit, per_user_limit, used_count, used_by,
		       valid_from, valid_to, active, version
		FROM coupons
		WHERE code = $1
	`

	var (
		c               pricing.Coupon
		maxDiscount     sql.NullString
		allowList       pq.StringArray
		usedBy          pq.StringArray
		validFrom, till sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, pricing.NormalizeCouponCode(code)).Scan(
		&c.Code,
		&c.DiscountType,
		&c.Value,
		&maxDiscount,
		&c.ApplicableTo,
		&allowList,
		&c.MinSubtotal,
		&c.UsageLimit,
		&c.PerUserLimit,
		&c.UsedCount,
		&usedBy,
		&validFrom,
		&till,
		&c.Active,
		&c.Version,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		s.logger.Error("Failed to load coupon", logging.Fields{
			"code":  code,
			"error": err.Error(),
		})
		return nil, errors.Wrap(err, "query coupon")
	}

	if c.MaxDiscount, err = nullMoney(maxDiscount); err != nil {
		return nil, errors.Wrap(err, "coupon max_discount")
	}
	c.ProductAllowList = []string(allowList)
	c.UsedBy = []string(usedBy)
	if validFrom.Valid {
		t := validFrom.Time
		c.ValidFrom = &t
	}
	if till.Valid {
		t := till.Time
		c.ValidTo = &t
	}
	return &c, nil
}
