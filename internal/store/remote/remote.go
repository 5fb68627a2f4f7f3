// Package remote talks to the storefront REST API that owns products,
// categories, employees and sales invoices.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"storefront/register/internal/domain"
	"storefront/register/internal/store"
)

const maxResponseBytes = 8 << 20

type Store struct {
	baseURL string
	client  *http.Client
}

// New builds a client for baseURL. A nil client means http.DefaultClient; no
// request timeout is imposed beyond what the transport does.
func New(baseURL string, client *http.Client) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
	}
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	if err := s.list(ctx, "/products", "products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var categories []domain.Category
	if err := s.list(ctx, "/categories", "categories", &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.Employee, error) {
	var employees []domain.Employee
	if err := s.list(ctx, "/employees", "employees", &employees); err != nil {
		return nil, err
	}
	return employees, nil
}

func (s *Store) CreateSalesInvoice(ctx context.Context, payload domain.SalesInvoicePayload) error {
	if err := store.ValidatePayload(payload); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sales-invoices", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &store.RejectedError{Message: fmt.Sprintf("unexpected response (HTTP %d)", res.StatusCode)}
	}
	if env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", res.StatusCode)
		}
		return &store.RejectedError{Message: msg}
	}
	return nil
}

func (s *Store) list(ctx context.Context, path string, field string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", store.ErrUnavailable, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", store.ErrUnavailable, path, err)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("%w: GET %s: HTTP %d with malformed body", store.ErrUnavailable, path, res.StatusCode)
	}

	var env envelope
	_ = json.Unmarshal(body["status"], &env.Status)
	_ = json.Unmarshal(body["message"], &env.Message)
	if env.Status != "success" {
		if env.Message == "" {
			env.Message = fmt.Sprintf("HTTP %d", res.StatusCode)
		}
		return fmt.Errorf("%w: GET %s: %s", store.ErrUnavailable, path, env.Message)
	}

	items, ok := body[field]
	if !ok || string(items) == "null" {
		return fmt.Errorf("%w: GET %s: missing %q", store.ErrUnavailable, path, field)
	}
	if err := json.Unmarshal(items, dest); err != nil {
		return fmt.Errorf("GET %s: decode %s: %w", path, field, err)
	}
	return nil
}
