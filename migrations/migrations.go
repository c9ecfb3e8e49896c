package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateKeyName is returned when an index with that name already exists.
const mysqlDuplicateKeyName = 1061

const createUsers = `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(10) NOT NULL DEFAULT 'USER'
	);
`

const createOrders = `
	CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(36) NOT NULL,
		amount BIGINT NOT NULL,
		currency CHAR(3) NOT NULL,
		status VARCHAR(20) NOT NULL,
		delivery_status VARCHAR(20) NOT NULL,
		payment_intent_id VARCHAR(64) NOT NULL,
		payment_id VARCHAR(64) NULL,
		address_line1 VARCHAR(255) NULL,
		address_line2 VARCHAR(255) NULL,
		address_city VARCHAR(100) NULL,
		address_state VARCHAR(100) NULL,
		address_postal_code VARCHAR(20) NULL,
		address_country VARCHAR(100) NULL,
		address_phone VARCHAR(30) NULL,
		delivery_charge BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_orders_user (user_id, created_at),
		INDEX idx_orders_intent (payment_intent_id)
	);
`

const createOrderProducts = `
	CREATE TABLE IF NOT EXISTS order_products (
		id INT AUTO_INCREMENT PRIMARY KEY,
		order_id VARCHAR(36) NOT NULL,
		position INT NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		brand VARCHAR(255) NOT NULL,
		category VARCHAR(100) NOT NULL,
		color VARCHAR(50) NOT NULL,
		color_code VARCHAR(20) NOT NULL,
		image VARCHAR(1024) NOT NULL,
		price BIGINT NOT NULL,
		quantity INT NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	);
`

// paymentIDUnique backs idempotent finalisation: one order per gateway payment.
const paymentIDUnique = `CREATE UNIQUE INDEX uq_orders_payment_id ON orders (payment_id)`

// AutoMigrate creates the tables on every shard. Each statement is retried
// while the database is still coming up.
func AutoMigrate(retries int, dbs ...*sql.DB) error {
	for _, db := range dbs {
		for _, stmt := range []string{createUsers, createOrders, createOrderProducts} {
			if err := execWithRetry(db, stmt, retries); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddPaymentIDUniqueIndex enforces a single order per gateway payment id.
// It is skipped when finalisation runs without idempotency, since that mode
// stores one row per confirmation.
func AddPaymentIDUniqueIndex(retries int, dbs ...*sql.DB) error {
	for _, db := range dbs {
		err := execWithRetry(db, paymentIDUnique, retries)
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKeyName {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func execWithRetry(db *sql.DB, query string, retries int) error {
	_, err := db.Exec(query)
	for i := 0; err != nil && i < retries; i++ {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateKeyName {
			return err
		}
		time.Sleep(1 * time.Second)
		_, err = db.Exec(query)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
