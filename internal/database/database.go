package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"storefront-payments/internal/config"
)

func NewPostgres(cfg config.Database) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Schema,
	)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id              UUID PRIMARY KEY,
	user_id         UUID NOT NULL,
	amount          NUMERIC(18,2) NOT NULL,
	is_paid         BOOLEAN NOT NULL DEFAULT FALSE,
	paid_at         TIMESTAMPTZ,
	payment_method  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id               UUID PRIMARY KEY,
	order_id         UUID NOT NULL,
	gateway          TEXT NOT NULL,
	amount           NUMERIC(18,2) NOT NULL,
	currency         TEXT NOT NULL,
	status           TEXT NOT NULL,
	transaction_ref  TEXT NOT NULL DEFAULT '',
	gateway_txn_id   TEXT NOT NULL DEFAULT '',
	redirect_url     TEXT NOT NULL DEFAULT '',
	request_payload  JSONB,
	notify_payload   JSONB,
	verified         BOOLEAN NOT NULL DEFAULT FALSE,
	response_code    TEXT NOT NULL DEFAULT '',
	fail_reason      TEXT NOT NULL DEFAULT '',
	paid_at          TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_order_gateway ON payments (order_id, gateway, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments (status, created_at);
`

// Migrate applies the schema. Statements are idempotent so repeated
// startup runs are safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Service reports database health for the /health endpoint.
type Service interface {
	Health() map[string]string
	Close() error
}

type service struct {
	db *sql.DB
}

func NewService(db *sql.DB) Service {
	return &service{db: db}
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}
	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

func (s *service) Close() error {
	return s.db.Close()
}
