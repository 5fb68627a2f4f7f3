package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront/register/internal/cache"
	"storefront/register/internal/domain"
	"storefront/register/internal/store"
)

const cacheKey = "register:catalog:v1"

type Loader struct {
	reader store.CatalogReader
	cache  cache.CatalogCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewLoader(reader store.CatalogReader, c cache.CatalogCache, ttl time.Duration, logger *zap.Logger) *Loader {
	if c == nil {
		c = cache.NoopCatalogCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{reader: reader, cache: c, ttl: ttl, logger: logger}
}

// Load returns a fresh snapshot. Products, categories and employees are
// fetched concurrently; any failure fails the whole load.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	if l.ttl > 0 {
		bundle, ok, err := l.cache.Get(ctx, cacheKey)
		if err != nil {
			l.logger.Warn("catalog cache read failed", zap.Error(err))
		} else if ok {
			l.logger.Debug("catalog served from cache",
				zap.Int("products", len(bundle.Products)),
				zap.Int("employees", len(bundle.Employees)))
			return NewSnapshot(bundle.Products, bundle.Categories, bundle.Employees), nil
		}
	}

	var (
		products   []domain.Product
		categories []domain.Category
		employees  []domain.Employee
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = l.reader.ListProducts(gctx)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		categories, err = l.reader.ListCategories(gctx)
		if err != nil {
			return fmt.Errorf("load categories: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		employees, err = l.reader.ListEmployees(gctx)
		if err != nil {
			return fmt.Errorf("load employees: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if l.ttl > 0 {
		bundle := &domain.CatalogResponse{Products: products, Categories: categories, Employees: employees}
		if err := l.cache.Set(ctx, cacheKey, bundle, l.ttl); err != nil {
			l.logger.Warn("catalog cache write failed", zap.Error(err))
		}
	}

	l.logger.Info("catalog loaded",
		zap.Int("products", len(products)),
		zap.Int("categories", len(categories)),
		zap.Int("employees", len(employees)))
	return NewSnapshot(products, categories, employees), nil
}
