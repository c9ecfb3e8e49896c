package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"storefront/internal/entity"
	"storefront/internal/sharding"
)

var ErrOrderNotFound = errors.New("order not found")

const orderColumns = `id, user_id, amount, currency, status, delivery_status, payment_intent_id, payment_id,
	address_line1, address_line2, address_city, address_state, address_postal_code, address_country, address_phone,
	delivery_charge, created_at, updated_at`

const productColumns = `order_id, product_id, name, brand, category, color, color_code, image, price, quantity`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type OrderRepository struct {
	dbShards []*sql.DB
	router   *sharding.ShardRouter
}

func NewOrderRepository(dbShards []*sql.DB, router *sharding.ShardRouter) *OrderRepository {
	return &OrderRepository{dbShards, router}
}

func (r *OrderRepository) shardFor(userID string) *sql.DB {
	return r.dbShards[r.router.GetShard(userID)]
}

// CreateOrder inserts the order and its product snapshots in one transaction.
func (r *OrderRepository) CreateOrder(ctx context.Context, order *entity.Order) (*entity.Order, error) {
	db := r.shardFor(order.UserID)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	if err := insertOrder(ctx, tx, order); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrderIfAbsent inserts order unless the user already has an order for
// the same gateway order id. It reports whether a row was written.
func (r *OrderRepository) CreateOrderIfAbsent(ctx context.Context, order *entity.Order) (bool, error) {
	db := r.shardFor(order.UserID)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE payment_intent_id = ? AND user_id = ? LIMIT 1 FOR UPDATE`,
		order.PaymentIntentID, order.UserID,
	).Scan(&existing)
	switch {
	case err == nil:
		tx.Rollback()
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		tx.Rollback()
		return false, err
	}

	if err := insertOrder(ctx, tx, order); err != nil {
		tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// FinalizeOrder records a confirmed payment at most once per payment id.
// Under row locks it returns an order already carrying the payment id, or
// completes the user's pending order for the gateway order id, or inserts a
// new row. created is false when an existing finalised order is returned.
func (r *OrderRepository) FinalizeOrder(ctx context.Context, order *entity.Order) (result *entity.Order, created bool, err error) {
	db := r.shardFor(order.UserID)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	existing, err := selectOrder(ctx, tx, `WHERE payment_id = ? FOR UPDATE`, order.PaymentID)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, false, err
	}
	if existing != nil {
		if err := loadProducts(ctx, tx, existing); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		committed = true
		return existing, false, nil
	}

	pending, err := selectOrder(ctx, tx,
		`WHERE payment_intent_id = ? AND user_id = ? AND status = ? ORDER BY created_at LIMIT 1 FOR UPDATE`,
		order.PaymentIntentID, order.UserID, string(entity.PaymentPending))
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, false, err
	}

	if pending != nil {
		order.ID = pending.ID
		order.CreatedAt = pending.CreatedAt
		if err := completeOrder(ctx, tx, order); err != nil {
			return nil, false, err
		}
	} else if err := insertOrder(ctx, tx, order); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	committed = true
	return order, true, nil
}

// GetOrderByID looks the order up on every shard.
func (r *OrderRepository) GetOrderByID(ctx context.Context, id string) (*entity.Order, error) {
	for _, db := range r.dbShards {
		order, err := selectOrder(ctx, db, `WHERE id = ?`, id)
		if errors.Is(err, ErrOrderNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := loadProducts(ctx, db, order); err != nil {
			return nil, err
		}
		return order, nil
	}
	return nil, ErrOrderNotFound
}

// ListOrdersByUser returns the user's orders, newest first.
func (r *OrderRepository) ListOrdersByUser(ctx context.Context, userID string) ([]*entity.Order, error) {
	return listOrders(ctx, r.shardFor(userID), `WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListOrders returns every order across shards, newest first. With
// paymentCompleted only orders whose payment is complete are returned.
func (r *OrderRepository) ListOrders(ctx context.Context, paymentCompleted bool) ([]*entity.Order, error) {
	where := `ORDER BY created_at DESC`
	var args []interface{}
	if paymentCompleted {
		where = `WHERE status = ? ORDER BY created_at DESC`
		args = append(args, string(entity.PaymentComplete))
	}

	results := make([][]*entity.Order, len(r.dbShards))
	errs := make([]error, len(r.dbShards))

	var wg sync.WaitGroup
	for i, db := range r.dbShards {
		wg.Add(1)
		go func(idx int, db *sql.DB) {
			defer wg.Done()
			results[idx], errs[idx] = listOrders(ctx, db, where, args...)
		}(i, db)
	}
	wg.Wait()

	var all []*entity.Order
	for i := range r.dbShards {
		if errs[i] != nil {
			return nil, fmt.Errorf("shard %d: %w", i, errs[i])
		}
		all = append(all, results[i]...)
	}
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].CreatedAt.After(all[b].CreatedAt)
	})
	return all, nil
}

func (r *OrderRepository) UpdateDeliveryStatus(ctx context.Context, order *entity.Order) error {
	res, err := r.shardFor(order.UserID).ExecContext(ctx,
		`UPDATE orders SET delivery_status = ?, updated_at = ? WHERE id = ?`,
		string(order.DeliveryStatus), order.UpdatedAt, order.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepository) DeleteOrder(ctx context.Context, order *entity.Order) error {
	db := r.shardFor(order.UserID)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_products WHERE order_id = ?`, order.ID)
	if err != nil {
		tx.Rollback()
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, order.ID)
	if err != nil {
		tx.Rollback()
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		tx.Rollback()
		return ErrOrderNotFound
	}

	return tx.Commit()
}

func insertOrder(ctx context.Context, q querier, order *entity.Order) error {
	line1, line2, city, state, postal, country, phone := addressArgs(order.Address)
	_, err := q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, int64(order.Amount), order.Currency,
		string(order.Status), string(order.DeliveryStatus), order.PaymentIntentID, nullable(order.PaymentID),
		line1, line2, city, state, postal, country, phone,
		int64(order.DeliveryCharge), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return insertProducts(ctx, q, order)
}

func completeOrder(ctx context.Context, q querier, order *entity.Order) error {
	line1, line2, city, state, postal, country, phone := addressArgs(order.Address)
	_, err := q.ExecContext(ctx, `UPDATE orders SET amount = ?, currency = ?, status = ?, delivery_status = ?, payment_id = ?,
		address_line1 = ?, address_line2 = ?, address_city = ?, address_state = ?, address_postal_code = ?, address_country = ?, address_phone = ?,
		delivery_charge = ?, updated_at = ? WHERE id = ?`,
		int64(order.Amount), order.Currency, string(order.Status), string(order.DeliveryStatus), nullable(order.PaymentID),
		line1, line2, city, state, postal, country, phone,
		int64(order.DeliveryCharge), order.UpdatedAt, order.ID,
	)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM order_products WHERE order_id = ?`, order.ID); err != nil {
		return fmt.Errorf("replace order products: %w", err)
	}
	return insertProducts(ctx, q, order)
}

// insertProducts writes all snapshots with a single batch statement.
func insertProducts(ctx context.Context, q querier, order *entity.Order) error {
	if len(order.Products) == 0 {
		return nil
	}

	query := `INSERT INTO order_products (position, ` + productColumns + `) VALUES `
	var values []interface{}
	for idx, p := range order.Products {
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
		values = append(values, idx, order.ID, p.ID, p.Name, p.Brand, p.Category,
			p.SelectedImg.Color, p.SelectedImg.ColorCode, p.SelectedImg.Image, int64(p.Price), p.Quantity)
	}
	query = query[:len(query)-1]

	if _, err := q.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("insert order products: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*entity.Order, error) {
	var (
		o                                              entity.Order
		paymentID                                      sql.NullString
		line1, line2, city, state, postal, country, ph sql.NullString
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Amount, &o.Currency, &o.Status, &o.DeliveryStatus, &o.PaymentIntentID, &paymentID,
		&line1, &line2, &city, &state, &postal, &country, &ph,
		&o.DeliveryCharge, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.PaymentID = paymentID.String
	if line1.Valid {
		o.Address = &entity.Address{
			Line1:      line1.String,
			Line2:      line2.String,
			City:       city.String,
			State:      state.String,
			PostalCode: postal.String,
			Country:    country.String,
			Phone:      ph.String,
		}
	}
	return &o, nil
}

func selectOrder(ctx context.Context, q querier, where string, args ...interface{}) (*entity.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func listOrders(ctx context.Context, q querier, where string, args ...interface{}) ([]*entity.Order, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadProducts(ctx, q, orders...); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadProducts fills the snapshots of all given orders with one query.
func loadProducts(ctx context.Context, q querier, orders ...*entity.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*entity.Order, len(orders))
	placeholders := make([]string, 0, len(orders))
	args := make([]interface{}, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		placeholders = append(placeholders, "?")
		args = append(args, o.ID)
	}

	rows, err := q.QueryContext(ctx, `SELECT `+productColumns+` FROM order_products
		WHERE order_id IN (`+strings.Join(placeholders, ", ")+`) ORDER BY order_id, position`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID string
		var p entity.ProductSnapshot
		if err := rows.Scan(&orderID, &p.ID, &p.Name, &p.Brand, &p.Category,
			&p.SelectedImg.Color, &p.SelectedImg.ColorCode, &p.SelectedImg.Image, &p.Price, &p.Quantity); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			o.Products = append(o.Products, p)
		}
	}
	return rows.Err()
}

func addressArgs(a *entity.Address) (line1, line2, city, state, postal, country, phone interface{}) {
	if a == nil {
		return nil, nil, nil, nil, nil, nil, nil
	}
	return a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
