package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront/register/internal/cart"
	"storefront/register/internal/catalog"
	"storefront/register/internal/checkout"
	"storefront/register/internal/domain"
	"storefront/register/internal/notify"
	"storefront/register/internal/receipt"
	"storefront/register/internal/store"
	"storefront/register/internal/xid"
)

var (
	ErrSessionNotFound = errors.New("register session not found")
	ErrNoInvoice       = errors.New("no completed sale in this session")
	ErrSizeRequired    = errors.New("choose a size for this product")
	ErrSizeNotOffered  = errors.New("size not offered for this product")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrPrintFailed     = errors.New("receipt printing failed")
)

const MaxLineQuantity = 9999

type Options struct {
	Location   *time.Location
	Clock      func() time.Time
	SessionTTL time.Duration
	Notifier   notify.Notifier
	Printer    checkout.ReceiptPrinter
	Renderer   *receipt.Renderer
	Logger     *zap.Logger
}

// Service runs register sessions. Each session owns its catalog snapshot, cart
// ledger and checkout coordinator; nothing is shared between sessions except
// the invoice writer.
type Service struct {
	loader   *catalog.Loader
	writer   store.InvoiceWriter
	location *time.Location
	clock    func() time.Time
	ttl      time.Duration
	notifier notify.Notifier
	printer  checkout.ReceiptPrinter
	renderer *receipt.Renderer
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

type Session struct {
	ID       string
	OpenedAt time.Time

	catalog *catalog.Snapshot
	coord   *checkout.Coordinator

	// mu orders the events of one register; the invoice submission itself
	// runs outside it.
	mu       sync.Mutex
	lastSeen time.Time
}

func New(loader *catalog.Loader, writer store.InvoiceWriter, opts Options) *Service {
	s := &Service{
		loader:   loader,
		writer:   writer,
		location: opts.Location,
		clock:    opts.Clock,
		ttl:      opts.SessionTTL,
		notifier: opts.Notifier,
		printer:  opts.Printer,
		renderer: opts.Renderer,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.notifier == nil {
		s.notifier = notify.Multi{}
	}
	if s.renderer == nil {
		s.renderer = receipt.NewRenderer(receipt.Options{})
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// OpenSession loads a fresh catalog snapshot and starts an empty sale.
func (s *Service) OpenSession(ctx context.Context) (*Session, error) {
	snapshot, err := s.loader.Load(ctx)
	if err != nil {
		s.notify("", domain.NoticeError, "Catalog unavailable", err.Error())
		return nil, err
	}

	id := xid.New("reg")
	now := s.clock()
	sess := &Session{
		ID:       id,
		OpenedAt: now,
		catalog:  snapshot,
		lastSeen: now,
	}
	sess.coord = checkout.New(cart.NewLedger(), s.writer, snapshot, checkout.Options{
		SessionID: id,
		Location:  s.location,
		Clock:     s.clock,
		Notifier:  s.notifier,
		Printer:   s.printer,
		Logger:    s.logger,
	})

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.logger.Info("register session opened", zap.String("session", id))
	return sess, nil
}

func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.coord.State() == checkout.Submitting {
		return checkout.ErrSubmissionInProgress
	}
	delete(s.sessions, id)
	s.logger.Info("register session closed", zap.String("session", id))
	return nil
}

func (s *Service) session(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// withSession runs fn under the session's event lock.
func (s *Service) withSession(id string, fn func(sess *Session) error) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastSeen = s.clock()
	return fn(sess)
}

// ExpireIdle drops sessions untouched for longer than the session TTL. A
// session in the middle of a submission is kept.
func (s *Service) ExpireIdle(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := now.Sub(sess.lastSeen)
		sess.mu.Unlock()
		if idle <= s.ttl || sess.coord.State() == checkout.Submitting {
			continue
		}
		delete(s.sessions, id)
		expired++
		s.logger.Info("register session expired", zap.String("session", id), zap.Duration("idle", idle))
	}
	return expired
}

// RunJanitor expires idle sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireIdle(s.clock())
		}
	}
}

func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Service) Catalog(id string) (domain.CatalogResponse, error) {
	var out domain.CatalogResponse
	err := s.withSession(id, func(sess *Session) error {
		out = sess.catalog.Bundle()
		return nil
	})
	return out, err
}

// SearchProducts filters the session catalog by name and, when categoryID is
// set, by category.
func (s *Service) SearchProducts(id string, term string, categoryID domain.ID) ([]domain.Product, error) {
	var out []domain.Product
	err := s.withSession(id, func(sess *Session) error {
		matches := sess.catalog.Search(term)
		if categoryID == "" {
			out = matches
			return nil
		}
		out = make([]domain.Product, 0, len(matches))
		for _, p := range matches {
			if p.CategoryID == categoryID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// AddProduct adds one unit of a product. Sized products need a size whose
// tier is offered; unsized products take no size.
func (s *Service) AddProduct(id string, productID domain.ID, rawSize string) (domain.CartResponse, error) {
	var out domain.CartResponse
	err := s.withSession(id, func(sess *Session) error {
		product, err := sess.catalog.Product(productID)
		if err != nil {
			return err
		}
		size, err := domain.ParseSize(rawSize)
		if err != nil {
			return fmt.Errorf("%w: %s", cart.ErrInvalidSize, rawSize)
		}
		if err := s.addLocked(sess, product, size); err != nil {
			return err
		}
		out = s.cartView(sess)
		return nil
	})
	return out, err
}

// ScanBarcode adds one unit of the product carrying code. A miss is reported
// to the operator and leaves the cart as it was.
func (s *Service) ScanBarcode(id string, code string) (domain.CartResponse, error) {
	var out domain.CartResponse
	err := s.withSession(id, func(sess *Session) error {
		product, err := sess.catalog.ProductByBarcode(code)
		if err != nil {
			s.notify(sess.ID, domain.NoticeError, "Product not found", fmt.Sprintf("No product matches barcode %q.", code))
			return err
		}
		if err := s.addLocked(sess, product, domain.SizeNone); err != nil {
			return err
		}
		out = s.cartView(sess)
		return nil
	})
	return out, err
}

func (s *Service) addLocked(sess *Session, product domain.Product, size domain.Size) error {
	switch {
	case size == domain.SizeNone && product.HasSizes:
		return ErrSizeRequired
	case !product.OffersSize(size):
		return fmt.Errorf("%w: %s", ErrSizeNotOffered, size.Label())
	}

	var line domain.CartLine
	err := sess.coord.Edit(func(l *cart.Ledger) error {
		var err error
		line, err = l.Add(product, size, nil)
		return err
	})
	if err != nil {
		return err
	}

	title := "Added " + line.Name
	if label := line.Size.Label(); label != "" {
		title += " (" + label + ")"
	}
	s.notify(sess.ID, domain.NoticeSuccess, title, fmt.Sprintf("Quantity %d", line.Quantity))
	return nil
}

func (s *Service) UpdateQuantity(id string, rawKey string, quantity int) (domain.CartResponse, error) {
	if quantity > MaxLineQuantity {
		return domain.CartResponse{}, fmt.Errorf("%w: at most %d per line", ErrInvalidQuantity, MaxLineQuantity)
	}
	key, err := cart.ParseKey(rawKey)
	if err != nil {
		return domain.CartResponse{}, err
	}
	var out domain.CartResponse
	err = s.withSession(id, func(sess *Session) error {
		if err := sess.coord.Edit(func(l *cart.Ledger) error {
			return l.UpdateQuantity(key, quantity)
		}); err != nil {
			return err
		}
		out = s.cartView(sess)
		return nil
	})
	return out, err
}

func (s *Service) RemoveLine(id string, rawKey string) (domain.CartResponse, error) {
	key, err := cart.ParseKey(rawKey)
	if err != nil {
		return domain.CartResponse{}, err
	}
	var out domain.CartResponse
	err = s.withSession(id, func(sess *Session) error {
		if err := sess.coord.Edit(func(l *cart.Ledger) error {
			l.Remove(key)
			return nil
		}); err != nil {
			return err
		}
		out = s.cartView(sess)
		return nil
	})
	return out, err
}

func (s *Service) ClearCart(id string) (domain.CartResponse, error) {
	var out domain.CartResponse
	err := s.withSession(id, func(sess *Session) error {
		if err := sess.coord.ClearCart(); err != nil {
			return err
		}
		out = s.cartView(sess)
		return nil
	})
	return out, err
}

func (s *Service) Cart(id string) (domain.CartResponse, error) {
	var out domain.CartResponse
	err := s.withSession(id, func(sess *Session) error {
		out = s.cartView(sess)
		return nil
	})
	return out, err
}

func (s *Service) BeginCheckout(id string) (domain.CheckoutStatusResponse, error) {
	return s.checkoutStep(id, func(c *checkout.Coordinator) error { return c.Begin() })
}

func (s *Service) SelectEmployee(id string, employeeID domain.ID) (domain.CheckoutStatusResponse, error) {
	return s.checkoutStep(id, func(c *checkout.Coordinator) error { return c.SelectEmployee(employeeID) })
}

func (s *Service) SetKitchenNote(id string, note string) (domain.CheckoutStatusResponse, error) {
	return s.checkoutStep(id, func(c *checkout.Coordinator) error { return c.SetKitchenNote(note) })
}

func (s *Service) CancelCheckout(id string) (domain.CheckoutStatusResponse, error) {
	return s.checkoutStep(id, func(c *checkout.Coordinator) error { return c.Cancel() })
}

func (s *Service) CheckoutStatus(id string) (domain.CheckoutStatusResponse, error) {
	return s.checkoutStep(id, func(*checkout.Coordinator) error { return nil })
}

func (s *Service) checkoutStep(id string, step func(c *checkout.Coordinator) error) (domain.CheckoutStatusResponse, error) {
	var out domain.CheckoutStatusResponse
	err := s.withSession(id, func(sess *Session) error {
		if err := step(sess.coord); err != nil {
			return err
		}
		out = statusView(sess.coord.Status())
		return nil
	})
	return out, err
}

// ConfirmCheckout submits the sale. The session lock is released before the
// submission so the register can keep reading state while it is in flight.
func (s *Service) ConfirmCheckout(ctx context.Context, id string) (domain.CheckoutConfirmResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return domain.CheckoutConfirmResponse{}, err
	}
	sess.mu.Lock()
	sess.lastSeen = s.clock()
	sess.mu.Unlock()

	res, err := sess.coord.Confirm(ctx)
	if err != nil {
		return domain.CheckoutConfirmResponse{}, err
	}

	out := domain.CheckoutConfirmResponse{
		State:   string(checkout.Completed),
		Invoice: summary(res.Invoice),
		Total:   res.Invoice.Total,
	}
	for _, perr := range res.PrintErrors {
		out.PrintErrors = append(out.PrintErrors, perr.Error())
	}
	return out, nil
}

// PreviewReceipts renders both copies of the session's last stored sale.
func (s *Service) PreviewReceipts(id string) (domain.ReceiptPreviewResponse, error) {
	sess, err := s.session(id)
	if err != nil {
		return domain.ReceiptPreviewResponse{}, err
	}
	inv, ok := sess.coord.LastInvoice()
	if !ok {
		return domain.ReceiptPreviewResponse{}, ErrNoInvoice
	}
	docs, err := s.renderer.RenderPair(inv)
	if err != nil {
		return domain.ReceiptPreviewResponse{}, err
	}
	out := domain.ReceiptPreviewResponse{InvoiceNumber: inv.Number}
	for _, doc := range docs {
		out.Documents = append(out.Documents, domain.ReceiptDocumentView{
			Variant:      string(doc.Variant),
			HTML:         doc.HTML,
			Text:         doc.Text,
			EscposBase64: base64.StdEncoding.EncodeToString(doc.ESCPOS),
		})
	}
	return out, nil
}

// ReprintReceipts sends the last stored sale to the printer again.
func (s *Service) ReprintReceipts(ctx context.Context, id string) (domain.InvoiceSummary, error) {
	sess, err := s.session(id)
	if err != nil {
		return domain.InvoiceSummary{}, err
	}
	inv, ok := sess.coord.LastInvoice()
	if !ok {
		return domain.InvoiceSummary{}, ErrNoInvoice
	}
	if s.printer == nil {
		return summary(inv), nil
	}
	if err := s.printer.PrintInvoice(ctx, inv); err != nil {
		s.notify(sess.ID, domain.NoticeError, "Receipt not printed", err.Error())
		return domain.InvoiceSummary{}, fmt.Errorf("%w: %w", ErrPrintFailed, err)
	}
	s.notify(sess.ID, domain.NoticeInfo, "Receipts sent to printer", inv.Number)
	return summary(inv), nil
}

func (s *Service) cartView(sess *Session) domain.CartResponse {
	ledger := sess.coord.Ledger()
	lines := ledger.Lines()
	out := domain.CartResponse{
		Lines:     make([]domain.CartLineView, 0, len(lines)),
		ItemCount: 0,
		Total:     ledger.Total(),
	}
	for _, line := range lines {
		out.ItemCount += line.Quantity
		out.Lines = append(out.Lines, domain.CartLineView{
			Key:       cart.KeyOf(line).String(),
			Line:      line,
			SizeLabel: line.Size.Label(),
			LineTotal: line.LineTotal(),
		})
	}
	return out
}

func (s *Service) notify(sessionID, kind, title, description string) {
	s.notifier.Notify(domain.Notice{
		Kind:        kind,
		Title:       title,
		Description: description,
		SessionID:   sessionID,
		At:          s.clock(),
	})
}

func statusView(st checkout.Status) domain.CheckoutStatusResponse {
	out := domain.CheckoutStatusResponse{
		State:       string(st.State),
		EmployeeID:  st.EmployeeID,
		KitchenNote: st.KitchenNote,
		LastError:   st.LastError,
	}
	if st.LastInvoice != nil {
		sum := summary(*st.LastInvoice)
		out.LastInvoice = &sum
	}
	return out
}

func summary(inv domain.Invoice) domain.InvoiceSummary {
	return domain.InvoiceSummary{
		Number: inv.Number,
		Total:  inv.Total,
		Date:   inv.Date,
		Time:   inv.Time,
	}
}
