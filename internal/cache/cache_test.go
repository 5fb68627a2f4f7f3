package cache

import (
	"context"
	"testing"
	"time"

	"storefront/register/internal/domain"
)

func TestNoopCatalogCacheAlwaysMisses(t *testing.T) {
	var c CatalogCache = NoopCatalogCache{}
	ctx := context.Background()

	if err := c.Set(ctx, "catalog", &domain.CatalogResponse{Employees: []domain.Employee{{ID: "1", Name: "A"}}}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, "catalog")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok || got != nil {
		t.Fatalf("expected miss, got %+v", got)
	}
}
