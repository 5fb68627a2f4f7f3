package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront/register/internal/cart"
	"storefront/register/internal/catalog"
	"storefront/register/internal/checkout"
	"storefront/register/internal/domain"
	"storefront/register/internal/receipt"
	"storefront/register/internal/store"
	"storefront/register/internal/store/memory"
)

type noticeLog struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (l *noticeLog) Notify(n domain.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) titles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.notices))
	for _, n := range l.notices {
		out = append(out, n.Title)
	}
	return out
}

type countingPrinter struct {
	mu    sync.Mutex
	count int
	err   error
}

func (p *countingPrinter) PrintInvoice(context.Context, domain.Invoice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return p.err
}

type failingReader struct{ *memory.Store }

func (failingReader) ListCategories(context.Context) ([]domain.Category, error) {
	return nil, store.ErrUnavailable
}

type testEnv struct {
	svc     *Service
	repo    *memory.Store
	notices *noticeLog
	printer *countingPrinter
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:    memory.NewSeeded(),
		notices: &noticeLog{},
		printer: &countingPrinter{},
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = New(catalog.NewLoader(env.repo, nil, 0, nil), env.repo, Options{
		Location:   time.UTC,
		Clock:      func() time.Time { return env.now },
		SessionTTL: 30 * time.Minute,
		Notifier:   env.notices,
		Printer:    env.printer,
		Renderer:   receipt.NewRenderer(receipt.Options{StoreName: "Demo", Currency: "EGP"}),
	})
	return env
}

func (env *testEnv) open(t *testing.T) string {
	t.Helper()
	sess, err := env.svc.OpenSession(context.Background())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return sess.ID
}

func TestOpenSessionLoadsCatalog(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)

	if !strings.HasPrefix(id, "reg-") {
		t.Fatalf("unexpected session id %q", id)
	}
	bundle, err := env.svc.Catalog(id)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if len(bundle.Products) != 5 || len(bundle.Categories) != 3 || len(bundle.Employees) != 2 {
		t.Fatalf("unexpected catalog sizes: %d/%d/%d", len(bundle.Products), len(bundle.Categories), len(bundle.Employees))
	}
}

func TestOpenSessionSurfacesCatalogFailure(t *testing.T) {
	env := newTestEnv(t)
	env.svc.loader = catalog.NewLoader(failingReader{env.repo}, nil, 0, nil)

	if _, err := env.svc.OpenSession(context.Background()); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if env.svc.SessionCount() != 0 {
		t.Fatalf("expected no session to be created")
	}
	if titles := env.notices.titles(); len(titles) != 1 || titles[0] != "Catalog unavailable" {
		t.Fatalf("unexpected notices %v", titles)
	}
}

func TestAddProductMergesAndValidatesSizes(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)

	if _, err := env.svc.AddProduct(id, "1", ""); err != nil {
		t.Fatalf("add espresso: %v", err)
	}
	resp, err := env.svc.AddProduct(id, "1", "")
	if err != nil {
		t.Fatalf("add espresso again: %v", err)
	}
	if len(resp.Lines) != 1 || resp.ItemCount != 2 || !resp.Total.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected cart after merge: %+v", resp)
	}

	if _, err := env.svc.AddProduct(id, "2", ""); !errors.Is(err, ErrSizeRequired) {
		t.Fatalf("expected size required, got %v", err)
	}
	if _, err := env.svc.AddProduct(id, "3", "small"); !errors.Is(err, ErrSizeNotOffered) {
		t.Fatalf("expected small juice to be refused, got %v", err)
	}
	if _, err := env.svc.AddProduct(id, "1", "l"); !errors.Is(err, ErrSizeNotOffered) {
		t.Fatalf("expected size on flat product to be refused, got %v", err)
	}
	if _, err := env.svc.AddProduct(id, "2", "xl"); !errors.Is(err, cart.ErrInvalidSize) {
		t.Fatalf("expected invalid size, got %v", err)
	}
	if _, err := env.svc.AddProduct(id, "404", ""); !errors.Is(err, catalog.ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}

	resp, err = env.svc.AddProduct(id, "2", "m")
	if err != nil {
		t.Fatalf("add medium latte: %v", err)
	}
	if len(resp.Lines) != 2 || resp.Lines[1].SizeLabel != "Medium" || !resp.Total.Equal(decimal.NewFromInt(88)) {
		t.Fatalf("unexpected cart: %+v", resp)
	}

	titles := env.notices.titles()
	if titles[len(titles)-1] != "Added Latte (Medium)" {
		t.Fatalf("unexpected confirmation notice %v", titles)
	}
}

func TestScanBarcodeMissLeavesCartUntouched(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)

	if _, err := env.svc.ScanBarcode(id, "6221000000042"); err != nil {
		t.Fatalf("scan water: %v", err)
	}
	if _, err := env.svc.ScanBarcode(id, "999"); !errors.Is(err, catalog.ErrProductNotFound) {
		t.Fatalf("expected lookup miss, got %v", err)
	}
	resp, err := env.svc.Cart(id)
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if len(resp.Lines) != 1 || resp.Total.StringFixed(2) != "7.50" {
		t.Fatalf("unexpected cart: %+v", resp)
	}
	if !contains(env.notices.titles(), "Product not found") {
		t.Fatalf("expected lookup miss notice, got %v", env.notices.titles())
	}
}

func TestUpdateAndRemoveByKey(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)

	resp, err := env.svc.AddProduct(id, "5", "")
	if err != nil {
		t.Fatalf("add croissant: %v", err)
	}
	key := resp.Lines[0].Key

	resp, err = env.svc.UpdateQuantity(id, key, 4)
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if resp.ItemCount != 4 || !resp.Total.Equal(decimal.NewFromInt(128)) {
		t.Fatalf("unexpected cart after update: %+v", resp)
	}
	if _, err := env.svc.UpdateQuantity(id, key, MaxLineQuantity+1); !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	if _, err := env.svc.UpdateQuantity(id, "garbage", 1); !errors.Is(err, cart.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}

	resp, err = env.svc.RemoveLine(id, key)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(resp.Lines) != 0 || !resp.Total.IsZero() {
		t.Fatalf("expected empty cart, got %+v", resp)
	}
	if _, err := env.svc.RemoveLine(id, key); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
	if _, err := env.svc.UpdateQuantity(id, key, 2); !errors.Is(err, cart.ErrLineNotFound) {
		t.Fatalf("expected line not found, got %v", err)
	}
}

func TestCheckoutFlowThroughService(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)

	if _, err := env.svc.BeginCheckout(id); !errors.Is(err, checkout.ErrEmptyCart) {
		t.Fatalf("expected empty cart, got %v", err)
	}
	if _, err := env.svc.AddProduct(id, "2", "m"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := env.svc.AddProduct(id, "2", "l"); err != nil {
		t.Fatalf("add: %v", err)
	}

	st, err := env.svc.BeginCheckout(id)
	if err != nil || st.State != string(checkout.AwaitingConfirmation) {
		t.Fatalf("begin: %v %+v", err, st)
	}
	if _, err := env.svc.ConfirmCheckout(context.Background(), id); !errors.Is(err, checkout.ErrEmployeeRequired) {
		t.Fatalf("expected employee required, got %v", err)
	}
	if _, err := env.svc.SelectEmployee(id, "1"); err != nil {
		t.Fatalf("select employee: %v", err)
	}
	if _, err := env.svc.SetKitchenNote(id, "oat milk"); err != nil {
		t.Fatalf("note: %v", err)
	}

	resp, err := env.svc.ConfirmCheckout(context.Background(), id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if resp.State != "completed" || !resp.Total.Equal(decimal.NewFromInt(83)) || len(resp.PrintErrors) != 0 {
		t.Fatalf("unexpected confirm response: %+v", resp)
	}
	if !strings.HasPrefix(resp.Invoice.Number, "INV-20240601-") {
		t.Fatalf("unexpected invoice number %q", resp.Invoice.Number)
	}
	if env.printer.count != 1 {
		t.Fatalf("expected one print dispatch, got %d", env.printer.count)
	}

	cartResp, _ := env.svc.Cart(id)
	if len(cartResp.Lines) != 0 {
		t.Fatalf("expected cart to be cleared")
	}
	status, _ := env.svc.CheckoutStatus(id)
	if status.LastInvoice == nil || status.LastInvoice.Number != resp.Invoice.Number || status.EmployeeID != "" {
		t.Fatalf("unexpected status %+v", status)
	}

	invoices := env.repo.Invoices()
	if len(invoices) != 1 || invoices[0].KitchenNote != "oat milk" || string(invoices[0].Total) != "83" {
		t.Fatalf("unexpected stored invoices %+v", invoices)
	}
}

func TestRejectedCheckoutKeepsCart(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)
	if _, err := env.svc.AddProduct(id, "4", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := env.svc.BeginCheckout(id); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := env.svc.SelectEmployee(id, "2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	env.repo.FailNextInvoice(&store.RejectedError{Message: "till is locked"})

	_, err := env.svc.ConfirmCheckout(context.Background(), id)
	var rejected *store.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejected error, got %v", err)
	}
	status, _ := env.svc.CheckoutStatus(id)
	if status.State != "failed" || status.LastError != "till is locked" || status.EmployeeID != "2" {
		t.Fatalf("unexpected status %+v", status)
	}
	cartResp, _ := env.svc.Cart(id)
	if len(cartResp.Lines) != 1 {
		t.Fatalf("expected cart to survive the failure")
	}
	if _, err := env.svc.PreviewReceipts(id); !errors.Is(err, ErrNoInvoice) {
		t.Fatalf("expected no invoice, got %v", err)
	}
}

func TestPreviewAndReprintLastSale(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)
	if _, err := env.svc.AddProduct(id, "1", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := env.svc.BeginCheckout(id); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := env.svc.SelectEmployee(id, "1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	resp, err := env.svc.ConfirmCheckout(context.Background(), id)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	preview, err := env.svc.PreviewReceipts(id)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.InvoiceNumber != resp.Invoice.Number || len(preview.Documents) != 2 {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if preview.Documents[0].Variant != "customer" || preview.Documents[1].Variant != "kitchen" {
		t.Fatalf("unexpected variant order")
	}
	if !strings.Contains(preview.Documents[0].Text, "25.00 EGP") {
		t.Fatalf("expected formatted total in preview:\n%s", preview.Documents[0].Text)
	}
	if raw, err := base64.StdEncoding.DecodeString(preview.Documents[1].EscposBase64); err != nil || len(raw) == 0 {
		t.Fatalf("expected escpos payload, err=%v", err)
	}

	if _, err := env.svc.ReprintReceipts(context.Background(), id); err != nil {
		t.Fatalf("reprint: %v", err)
	}
	if env.printer.count != 2 {
		t.Fatalf("expected a second print dispatch, got %d", env.printer.count)
	}
}

func TestSessionsAreIsolatedAndExpire(t *testing.T) {
	env := newTestEnv(t)
	a := env.open(t)
	b := env.open(t)

	if _, err := env.svc.AddProduct(a, "1", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	cartB, _ := env.svc.Cart(b)
	if len(cartB.Lines) != 0 {
		t.Fatalf("session carts must not be shared")
	}

	env.now = env.now.Add(20 * time.Minute)
	if _, err := env.svc.Cart(a); err != nil {
		t.Fatalf("touch a: %v", err)
	}
	env.now = env.now.Add(20 * time.Minute)

	if n := env.svc.ExpireIdle(env.now); n != 1 {
		t.Fatalf("expected one expired session, got %d", n)
	}
	if _, err := env.svc.Cart(b); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected b to be gone, got %v", err)
	}
	if err := env.svc.CloseSession(a); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if err := env.svc.CloseSession(a); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found on second close, got %v", err)
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func TestSearchProductsByNameAndCategory(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)

	drinks, err := env.svc.SearchProducts(id, "", "2")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(drinks) != 2 {
		t.Fatalf("expected 2 cold drinks, got %d", len(drinks))
	}
	matches, err := env.svc.SearchProducts(id, "lat", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected latte and chocolate croissant, got %+v", matches)
	}
	matches, _ = env.svc.SearchProducts(id, "lat", "3")
	if len(matches) != 1 || matches[0].Name != "Chocolate Croissant" {
		t.Fatalf("unexpected filtered matches %+v", matches)
	}
}

func TestReprintFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	id := env.open(t)
	if _, err := env.svc.AddProduct(id, "1", ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := env.svc.BeginCheckout(id); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := env.svc.SelectEmployee(id, "1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := env.svc.ConfirmCheckout(context.Background(), id); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	env.printer.err = errors.New("kitchen copy: offline")
	if _, err := env.svc.ReprintReceipts(context.Background(), id); !errors.Is(err, ErrPrintFailed) {
		t.Fatalf("expected print failure, got %v", err)
	}
}
