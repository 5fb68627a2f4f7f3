package cache

import (
	"context"
	"time"

	"storefront/register/internal/domain"
)

// CatalogCache holds the last fetched catalog bundle so new register sessions
// can start without another round trip to the storefront API.
type CatalogCache interface {
	Get(ctx context.Context, key string) (*domain.CatalogResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.CatalogResponse, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*domain.CatalogResponse, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ *domain.CatalogResponse, _ time.Duration) error {
	return nil
}
