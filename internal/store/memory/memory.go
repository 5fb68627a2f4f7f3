package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"storefront/register/internal/domain"
	"storefront/register/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	products    []domain.Product
	categories  []domain.Category
	employees   []domain.Employee
	invoices    []domain.SalesInvoicePayload
	invoiceByNo map[string]int
	failNext    error
}

func New(products []domain.Product, categories []domain.Category, employees []domain.Employee) *Store {
	return &Store{
		products:    slices.Clone(products),
		categories:  slices.Clone(categories),
		employees:   slices.Clone(employees),
		invoiceByNo: make(map[string]int),
	}
}

// NewSeeded returns a store with a small demo catalog for local runs.
func NewSeeded() *Store {
	price := decimal.RequireFromString
	return New(
		[]domain.Product{
			{ID: "1", Name: "Espresso", Stock: 100, Barcode: "6221000000011", CategoryID: "1", Price: price("25")},
			{ID: "2", Name: "Latte", Stock: 80, Barcode: "6221000000028", CategoryID: "1", HasSizes: true,
				SmallPrice: price("30"), MediumPrice: price("38"), LargePrice: price("45")},
			{ID: "3", Name: "Fresh Orange Juice", Stock: 40, Barcode: "6221000000035", CategoryID: "2", HasSizes: true,
				SmallPrice: price("0"), MediumPrice: price("35"), LargePrice: price("42.50")},
			{ID: "4", Name: "Mineral Water 600ml", Stock: 200, Barcode: "6221000000042", CategoryID: "2", Price: price("7.50")},
			{ID: "5", Name: "Chocolate Croissant", Stock: 24, Barcode: "6221000000059", CategoryID: "3", Price: price("32")},
		},
		[]domain.Category{
			{ID: "1", Name: "Hot Drinks", Color: "#b45309"},
			{ID: "2", Name: "Cold Drinks", Color: "#0284c7"},
			{ID: "3", Name: "Bakery", Color: "#a16207"},
		},
		[]domain.Employee{
			{ID: "1", Name: "Main Cashier"},
			{ID: "2", Name: "Evening Cashier"},
		},
	)
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.products), nil
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.categories), nil
}

func (s *Store) ListEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.employees), nil
}

func (s *Store) CreateSalesInvoice(ctx context.Context, payload domain.SalesInvoicePayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidatePayload(payload); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if _, exists := s.invoiceByNo[payload.InvoiceNumber]; exists {
		return store.ErrDuplicateInvoice
	}
	if !s.hasEmployeeLocked(payload.EmployeeID) {
		return &store.RejectedError{Message: "employee not found"}
	}

	payload.Items = slices.Clone(payload.Items)
	s.invoiceByNo[payload.InvoiceNumber] = len(s.invoices)
	s.invoices = append(s.invoices, payload)
	return nil
}

// FailNextInvoice makes the next CreateSalesInvoice call return err.
func (s *Store) FailNextInvoice(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) Invoices() []domain.SalesInvoicePayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.SalesInvoicePayload, len(s.invoices))
	for i, inv := range s.invoices {
		inv.Items = slices.Clone(inv.Items)
		out[i] = inv
	}
	return out
}

func (s *Store) hasEmployeeLocked(id domain.ID) bool {
	for _, e := range s.employees {
		if e.ID == id {
			return true
		}
	}
	return false
}
