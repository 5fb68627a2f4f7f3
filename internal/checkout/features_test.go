package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	"storefront/register/internal/cart"
	"storefront/register/internal/catalog"
	"storefront/register/internal/domain"
	"storefront/register/internal/receipt"
	"storefront/register/internal/store"
	"storefront/register/internal/store/memory"
)

type renderingPrinter struct {
	renderer *receipt.Renderer
	docs     []receipt.Document
}

func (p *renderingPrinter) PrintInvoice(_ context.Context, inv domain.Invoice) error {
	docs, err := p.renderer.RenderPair(inv)
	if err != nil {
		return err
	}
	p.docs = docs
	return nil
}

type checkoutScenario struct {
	products  []domain.Product
	employees []domain.Employee

	store   *memory.Store
	coord   *Coordinator
	printer *renderingPrinter
	invoice domain.Invoice
	err     error
}

func (s *checkoutScenario) reset() {
	*s = checkoutScenario{}
}

func (s *checkoutScenario) coordinator() *Coordinator {
	if s.coord == nil {
		s.store = memory.New(s.products, nil, s.employees)
		s.printer = &renderingPrinter{renderer: receipt.NewRenderer(receipt.Options{Currency: "EGP"})}
		s.coord = New(cart.NewLedger(), s.store, catalog.NewSnapshot(s.products, nil, s.employees), Options{
			SessionID: "feature",
			Location:  time.UTC,
			Printer:   s.printer,
		})
	}
	return s.coord
}

func (s *checkoutScenario) product(name string) (domain.Product, error) {
	for _, p := range s.products {
		if p.Name == name {
			return p, nil
		}
	}
	return domain.Product{}, fmt.Errorf("no product %q in scenario", name)
}

func (s *checkoutScenario) catalogHasProduct(name string, price int) error {
	s.products = append(s.products, domain.Product{ID: domain.ID(name), Name: name, Price: decimal.NewFromInt(int64(price))})
	return nil
}

func (s *checkoutScenario) catalogHasSizedProduct(name string, medium, large int) error {
	s.products = append(s.products, domain.Product{
		ID:          domain.ID(name),
		Name:        name,
		HasSizes:    true,
		MediumPrice: decimal.NewFromInt(int64(medium)),
		LargePrice:  decimal.NewFromInt(int64(large)),
	})
	return nil
}

func (s *checkoutScenario) employeeWorksTheRegister(id, name string) error {
	s.employees = append(s.employees, domain.Employee{ID: domain.ID(id), Name: name})
	return nil
}

func (s *checkoutScenario) addProduct(name string) error {
	return s.addProductInSize(name, "")
}

func (s *checkoutScenario) addProductInSize(name, size string) error {
	p, err := s.product(name)
	if err != nil {
		return err
	}
	sz, err := domain.ParseSize(size)
	if err != nil {
		return err
	}
	return s.coordinator().Edit(func(l *cart.Ledger) error {
		_, err := l.Add(p, sz, nil)
		return err
	})
}

func (s *checkoutScenario) setQuantity(name string, quantity int) error {
	p, err := s.product(name)
	if err != nil {
		return err
	}
	return s.coordinator().Edit(func(l *cart.Ledger) error {
		return l.UpdateQuantity(cart.KeyFor(p.ID, p.Price, domain.SizeNone), quantity)
	})
}

func (s *checkoutScenario) backendWillReject(message string) error {
	s.coordinator()
	s.store.FailNextInvoice(&store.RejectedError{Message: message})
	return nil
}

func (s *checkoutScenario) startCheckout() error {
	s.err = s.coordinator().Begin()
	return nil
}

func (s *checkoutScenario) selectEmployee(id string) error {
	return s.coordinator().SelectEmployee(domain.ID(id))
}

func (s *checkoutScenario) enterKitchenNote(note string) error {
	return s.coordinator().SetKitchenNote(note)
}

func (s *checkoutScenario) confirmCheckout() error {
	if s.err != nil {
		return nil
	}
	res, err := s.coordinator().Confirm(context.Background())
	s.invoice, s.err = res.Invoice, err
	return nil
}

func (s *checkoutScenario) cartHasLines(n int) error {
	if got := s.coordinator().Ledger().Len(); got != n {
		return fmt.Errorf("expected %d cart lines, got %d", n, got)
	}
	return nil
}

func (s *checkoutScenario) cartTotalIs(total int) error {
	got := s.coordinator().Ledger().Total()
	if !got.Equal(decimal.NewFromInt(int64(total))) {
		return fmt.Errorf("expected cart total %d, got %s", total, got)
	}
	return nil
}

func (s *checkoutScenario) checkoutRejectedWith(message string) error {
	if s.err == nil {
		return errors.New("expected checkout to be rejected")
	}
	if !strings.Contains(s.err.Error(), message) {
		return fmt.Errorf("expected error containing %q, got %q", message, s.err.Error())
	}
	return nil
}

func (s *checkoutScenario) checkoutStateIs(state string) error {
	if got := s.coordinator().State(); string(got) != state {
		return fmt.Errorf("expected state %q, got %q", state, got)
	}
	return nil
}

func (s *checkoutScenario) noInvoiceSubmitted() error {
	if got := len(s.store.Invoices()); got != 0 {
		return fmt.Errorf("expected no stored invoice, got %d", got)
	}
	return nil
}

func (s *checkoutScenario) invoicesSubmittedWithTotal(n, total int) error {
	if s.err != nil {
		return fmt.Errorf("checkout failed: %v", s.err)
	}
	stored := s.store.Invoices()
	if len(stored) != n {
		return fmt.Errorf("expected %d stored invoices, got %d", n, len(stored))
	}
	got, err := decimal.NewFromString(string(stored[len(stored)-1].Total))
	if err != nil {
		return err
	}
	if !got.Equal(decimal.NewFromInt(int64(total))) {
		return fmt.Errorf("expected invoice total %d, got %s", total, got)
	}
	return nil
}

func (s *checkoutScenario) invoiceNumberMatches(pattern string) error {
	if !regexp.MustCompile(pattern).MatchString(s.invoice.Number) {
		return fmt.Errorf("invoice number %q does not match %s", s.invoice.Number, pattern)
	}
	return nil
}

func (s *checkoutScenario) receiptsDifferOnlyInCaption() error {
	if len(s.printer.docs) != 2 {
		return fmt.Errorf("expected 2 receipts, got %d", len(s.printer.docs))
	}
	customer, kitchen := s.printer.docs[0], s.printer.docs[1]
	if customer.Variant != receipt.Customer || kitchen.Variant != receipt.Kitchen {
		return errors.New("receipts out of order")
	}
	if customer.Text != strings.ReplaceAll(kitchen.Text, "Kitchen Order", "Sales Receipt") {
		return errors.New("receipt bodies differ beyond the caption")
	}
	return nil
}

func (s *checkoutScenario) kitchenNoteIsStill(note string) error {
	if got := s.coordinator().Status().KitchenNote; got != note {
		return fmt.Errorf("expected kitchen note %q, got %q", note, got)
	}
	return nil
}

func (s *checkoutScenario) lastErrorIs(message string) error {
	if got := s.coordinator().Status().LastError; got != message {
		return fmt.Errorf("expected last error %q, got %q", message, got)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	s := &checkoutScenario{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		s.reset()
		return ctx, nil
	})

	ctx.Step(`^the catalog has a product "([^"]*)" priced (\d+)$`, s.catalogHasProduct)
	ctx.Step(`^the catalog has a sized product "([^"]*)" with medium (\d+) and large (\d+)$`, s.catalogHasSizedProduct)
	ctx.Step(`^employee "([^"]*)" named "([^"]*)" works the register$`, s.employeeWorksTheRegister)
	ctx.Step(`^the backend will reject the next invoice with "([^"]*)"$`, s.backendWillReject)

	ctx.Step(`^I add product "([^"]*)"$`, s.addProduct)
	ctx.Step(`^I add product "([^"]*)" in size "([^"]*)"$`, s.addProductInSize)
	ctx.Step(`^I set the quantity of product "([^"]*)" to (-?\d+)$`, s.setQuantity)
	ctx.Step(`^I start checkout$`, s.startCheckout)
	ctx.Step(`^I select employee "([^"]*)"$`, s.selectEmployee)
	ctx.Step(`^I enter the kitchen note "([^"]*)"$`, s.enterKitchenNote)
	ctx.Step(`^I confirm checkout$`, s.confirmCheckout)

	ctx.Step(`^the cart has (\d+) lines?$`, s.cartHasLines)
	ctx.Step(`^the cart total is (\d+)$`, s.cartTotalIs)
	ctx.Step(`^checkout is rejected with "([^"]*)"$`, s.checkoutRejectedWith)
	ctx.Step(`^the checkout state is "([^"]*)"$`, s.checkoutStateIs)
	ctx.Step(`^no invoice was submitted$`, s.noInvoiceSubmitted)
	ctx.Step(`^(\d+) invoices? (?:was|were) submitted with total (\d+)$`, s.invoicesSubmittedWithTotal)
	ctx.Step(`^the invoice number matches "([^"]*)"$`, s.invoiceNumberMatches)
	ctx.Step(`^the customer and kitchen receipts differ only in their caption$`, s.receiptsDifferOnlyInCaption)
	ctx.Step(`^the kitchen note is still "([^"]*)"$`, s.kitchenNoteIsStill)
	ctx.Step(`^the last error is "([^"]*)"$`, s.lastErrorIs)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
