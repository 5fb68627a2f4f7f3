package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"storefront/register/internal/domain"
	"storefront/register/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS categories (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	stock       INTEGER NOT NULL DEFAULT 0,
	barcode     TEXT,
	category_id TEXT REFERENCES categories(id),
	has_sizes   BOOLEAN NOT NULL DEFAULT false,
	price       NUMERIC(12,2) NOT NULL DEFAULT 0,
	s_price     NUMERIC(12,2) NOT NULL DEFAULT 0,
	m_price     NUMERIC(12,2) NOT NULL DEFAULT 0,
	l_price     NUMERIC(12,2) NOT NULL DEFAULT 0,
	image       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS employees (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sales_invoices (
	invoice_number TEXT PRIMARY KEY,
	invoice_date   DATE NOT NULL,
	invoice_time   TIME NOT NULL,
	employee_id    TEXT NOT NULL REFERENCES employees(id),
	total          NUMERIC(12,2) NOT NULL,
	kitchen_note   TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sales_invoice_items (
	invoice_number TEXT NOT NULL REFERENCES sales_invoices(invoice_number) ON DELETE CASCADE,
	line_no        INTEGER NOT NULL,
	product_id     TEXT NOT NULL,
	name           TEXT NOT NULL,
	unit_price     NUMERIC(12,2) NOT NULL,
	quantity       INTEGER NOT NULL CHECK (quantity > 0),
	size           TEXT NOT NULL DEFAULT '',
	barcode        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (invoice_number, line_no)
);
`

// EnsureSchema creates the tables this register reads and writes when they
// do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, stock, COALESCE(barcode, ''), COALESCE(category_id, ''),
		       has_sizes, price, s_price, m_price, l_price, image
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		var id, categoryID string
		if err := rows.Scan(&id, &p.Name, &p.Stock, &p.Barcode, &categoryID,
			&p.HasSizes, &p.Price, &p.SmallPrice, &p.MediumPrice, &p.LargePrice, &p.Image); err != nil {
			return nil, err
		}
		p.ID = domain.ID(id)
		p.CategoryID = domain.ID(categoryID)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, color FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		var id string
		if err := rows.Scan(&id, &c.Name, &c.Description, &c.Color); err != nil {
			return nil, err
		}
		c.ID = domain.ID(id)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM employees ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]domain.Employee, 0, 16)
	for rows.Next() {
		var e domain.Employee
		var id string
		if err := rows.Scan(&id, &e.Name); err != nil {
			return nil, err
		}
		e.ID = domain.ID(id)
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return employees, nil
}

func (s *Store) CreateSalesInvoice(ctx context.Context, payload domain.SalesInvoicePayload) error {
	if err := store.ValidatePayload(payload); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales_invoices (invoice_number, invoice_date, invoice_time, employee_id, total, kitchen_note)
		VALUES ($1, $2::date, $3::time, $4, $5::numeric, $6)
	`, payload.InvoiceNumber, payload.Date, payload.Time, payload.EmployeeID.String(), payload.Total.String(), payload.KitchenNote)
	if err != nil {
		return classify(err)
	}

	for i, item := range payload.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales_invoice_items (invoice_number, line_no, product_id, name, unit_price, quantity, size, barcode)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, payload.InvoiceNumber, i+1, item.ProductID.String(), item.Name, item.UnitPrice, item.Quantity, string(item.Size), item.Barcode)
		if err != nil {
			return classify(err)
		}
	}

	return tx.Commit()
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return store.ErrDuplicateInvoice
	case "23503":
		return &store.RejectedError{Message: fmt.Sprintf("unknown reference (%s)", pgErr.ConstraintName)}
	case "22007", "22008", "23514":
		return store.ErrInvalidInvoice
	}
	return err
}
