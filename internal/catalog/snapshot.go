package catalog

import (
	"errors"
	"strings"

	"storefront/register/internal/domain"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrEmployeeNotFound = errors.New("employee not found")
)

// Snapshot is the read-only catalog a register session works against. It is
// never mutated after NewSnapshot returns, so readers need no locking.
type Snapshot struct {
	products   []domain.Product
	categories []domain.Category
	employees  []domain.Employee

	productByID      map[domain.ID]int
	productByBarcode map[string]int
	employeeByID     map[domain.ID]int
}

func NewSnapshot(products []domain.Product, categories []domain.Category, employees []domain.Employee) *Snapshot {
	s := &Snapshot{
		products:         append([]domain.Product(nil), products...),
		categories:       append([]domain.Category(nil), categories...),
		employees:        append([]domain.Employee(nil), employees...),
		productByID:      make(map[domain.ID]int, len(products)),
		productByBarcode: make(map[string]int, len(products)),
		employeeByID:     make(map[domain.ID]int, len(employees)),
	}
	for i, p := range s.products {
		s.productByID[p.ID] = i
		if code := strings.TrimSpace(p.Barcode); code != "" {
			if _, taken := s.productByBarcode[code]; !taken {
				s.productByBarcode[code] = i
			}
		}
	}
	for i, e := range s.employees {
		s.employeeByID[e.ID] = i
	}
	return s
}

func (s *Snapshot) Products() []domain.Product {
	return append([]domain.Product(nil), s.products...)
}

func (s *Snapshot) Categories() []domain.Category {
	return append([]domain.Category(nil), s.categories...)
}

func (s *Snapshot) Employees() []domain.Employee {
	return append([]domain.Employee(nil), s.employees...)
}

// Bundle returns the snapshot in the shape served to the register UI.
func (s *Snapshot) Bundle() domain.CatalogResponse {
	return domain.CatalogResponse{
		Products:   s.Products(),
		Categories: s.Categories(),
		Employees:  s.Employees(),
	}
}

func (s *Snapshot) Product(id domain.ID) (domain.Product, error) {
	i, ok := s.productByID[id]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return s.products[i], nil
}

// ProductByBarcode matches the scanned code exactly, ignoring surrounding
// whitespace left by the scanner.
func (s *Snapshot) ProductByBarcode(code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, ErrProductNotFound
	}
	i, ok := s.productByBarcode[code]
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	return s.products[i], nil
}

func (s *Snapshot) Employee(id domain.ID) (domain.Employee, error) {
	i, ok := s.employeeByID[id]
	if !ok {
		return domain.Employee{}, ErrEmployeeNotFound
	}
	return s.employees[i], nil
}

func (s *Snapshot) ProductsInCategory(categoryID domain.ID) []domain.Product {
	out := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	return out
}

// Search returns products whose name contains term, case-insensitively.
// An empty term returns every product.
func (s *Snapshot) Search(term string) []domain.Product {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return s.Products()
	}
	out := make([]domain.Product, 0)
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), term) {
			out = append(out, p)
		}
	}
	return out
}
