package printer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storefront/register/internal/domain"
	"storefront/register/internal/receipt"
)

// Dispatcher renders both copies of an invoice and sends each to the printer.
type Dispatcher struct {
	renderer *receipt.Renderer
	printer  Printer
	logger   *zap.Logger
}

func NewDispatcher(renderer *receipt.Renderer, p Printer, logger *zap.Logger) *Dispatcher {
	if p == nil {
		p = Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{renderer: renderer, printer: p, logger: logger}
}

// PrintInvoice prints the customer copy then the kitchen copy. A failure on
// one copy does not stop the other; all failures are joined.
func (d *Dispatcher) PrintInvoice(ctx context.Context, inv domain.Invoice) error {
	docs, err := d.renderer.RenderPair(inv)
	if err != nil {
		return err
	}

	var errs []error
	for _, doc := range docs {
		if err := d.printer.Print(ctx, Job{InvoiceNumber: inv.Number, Document: doc}); err != nil {
			d.logger.Warn("receipt print failed",
				zap.String("invoice", inv.Number),
				zap.String("variant", string(doc.Variant)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s copy: %w", doc.Variant, err))
			continue
		}
		d.logger.Info("receipt printed",
			zap.String("invoice", inv.Number),
			zap.String("variant", string(doc.Variant)))
	}
	return errors.Join(errs...)
}
