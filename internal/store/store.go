package store

import (
	"context"
	"errors"

	"storefront/register/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInvoice   = errors.New("invalid sales invoice")
	ErrDuplicateInvoice = errors.New("duplicate invoice number")
	ErrUnavailable      = errors.New("storefront backend unavailable")
)

// RejectedError is returned when the backend answers a write with a
// non-success status. Message is the server's human-readable reason.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "sales invoice rejected"
	}
	return "sales invoice rejected: " + e.Message
}

// CatalogReader is the read side of the storefront backend.
type CatalogReader interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListEmployees(ctx context.Context) ([]domain.Employee, error)
}

// InvoiceWriter persists a completed sale.
type InvoiceWriter interface {
	CreateSalesInvoice(ctx context.Context, payload domain.SalesInvoicePayload) error
}

type Repository interface {
	CatalogReader
	InvoiceWriter
}

// ValidatePayload checks the invariants every backend relies on.
func ValidatePayload(payload domain.SalesInvoicePayload) error {
	if payload.InvoiceNumber == "" || payload.Date == "" || payload.Time == "" {
		return ErrInvalidInvoice
	}
	if payload.EmployeeID == "" || len(payload.Items) == 0 {
		return ErrInvalidInvoice
	}
	for _, item := range payload.Items {
		if item.ProductID == "" || item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return ErrInvalidInvoice
		}
	}
	return nil
}
