package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"storefront/register/internal/cart"
	"storefront/register/internal/domain"
	"storefront/register/internal/notify"
	"storefront/register/internal/store"
	"storefront/register/internal/xid"
)

type State string

const (
	Idle                 State = "idle"
	AwaitingConfirmation State = "awaiting_confirmation"
	Submitting           State = "submitting"
	Completed            State = "completed"
	Failed               State = "failed"
)

const MaxKitchenNoteLength = 500

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrEmployeeRequired     = errors.New("select the responsible employee")
	ErrUnknownEmployee      = errors.New("unknown employee")
	ErrNoteTooLong          = fmt.Errorf("kitchen note exceeds %d characters", MaxKitchenNoteLength)
	ErrNotStarted           = errors.New("checkout has not been started")
	ErrSubmissionInProgress = errors.New("checkout submission already in progress")
	ErrCheckoutInProgress   = errors.New("cart is locked while checkout is submitting")
)

// EmployeeDirectory resolves the responsible employee of an invoice.
type EmployeeDirectory interface {
	Employee(id domain.ID) (domain.Employee, error)
}

// ReceiptPrinter prints both copies of a stored invoice.
type ReceiptPrinter interface {
	PrintInvoice(ctx context.Context, inv domain.Invoice) error
}

type Options struct {
	SessionID string
	Location  *time.Location
	Clock     func() time.Time
	Notifier  notify.Notifier
	Printer   ReceiptPrinter
	Logger    *zap.Logger
}

// Result is the outcome of a stored sale. PrintErrors lists receipt copies
// that failed to print; the sale itself stands.
type Result struct {
	Invoice     domain.Invoice
	PrintErrors []error
}

type Status struct {
	State       State
	EmployeeID  domain.ID
	KitchenNote string
	LastInvoice *domain.Invoice
	LastError   string
}

// Coordinator moves one register session's cart to a stored invoice. It owns
// every mutation of the ledger so the cart cannot change mid-submission.
type Coordinator struct {
	ledger    *cart.Ledger
	writer    store.InvoiceWriter
	employees EmployeeDirectory

	sessionID string
	location  *time.Location
	clock     func() time.Time
	notifier  notify.Notifier
	printer   ReceiptPrinter
	logger    *zap.Logger

	mu          sync.Mutex
	state       State
	employeeID  domain.ID
	kitchenNote string
	last        *domain.Invoice
	lastErr     string
}

func New(ledger *cart.Ledger, writer store.InvoiceWriter, employees EmployeeDirectory, opts Options) *Coordinator {
	c := &Coordinator{
		ledger:    ledger,
		writer:    writer,
		employees: employees,
		sessionID: opts.SessionID,
		location:  opts.Location,
		clock:     opts.Clock,
		notifier:  opts.Notifier,
		printer:   opts.Printer,
		logger:    opts.Logger,
		state:     Idle,
	}
	if c.location == nil {
		c.location = time.Local
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.notifier == nil {
		c.notifier = notify.Multi{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("session", c.sessionID))
	return c
}

func (c *Coordinator) Ledger() *cart.Ledger {
	return c.ledger
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:       c.state,
		EmployeeID:  c.employeeID,
		KitchenNote: c.kitchenNote,
		LastError:   c.lastErr,
	}
	if c.last != nil {
		inv := *c.last
		st.LastInvoice = &inv
	}
	return st
}

// LastInvoice returns the most recent stored invoice of this session.
func (c *Coordinator) LastInvoice() (domain.Invoice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return domain.Invoice{}, false
	}
	return *c.last, true
}

// Edit applies fn to the ledger unless a submission is in flight. A cart left
// empty returns the coordinator to Idle, as does the first edit after a
// completed sale.
func (c *Coordinator) Edit(fn func(l *cart.Ledger) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Submitting {
		return ErrCheckoutInProgress
	}
	if err := fn(c.ledger); err != nil {
		return err
	}
	if c.state == Completed || c.ledger.Len() == 0 {
		c.state = Idle
	}
	return nil
}

// ClearCart empties the ledger and resets the checkout to Idle. Entered
// employee and note survive.
func (c *Coordinator) ClearCart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Submitting {
		return ErrCheckoutInProgress
	}
	c.ledger.Clear()
	c.state = Idle
	c.lastErr = ""
	return nil
}

// Begin opens the confirmation step.
func (c *Coordinator) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Submitting {
		return ErrSubmissionInProgress
	}
	if c.ledger.Len() == 0 {
		c.notify(domain.NoticeError, "Cart is empty", "Add at least one product before checkout.")
		return ErrEmptyCart
	}
	c.state = AwaitingConfirmation
	c.lastErr = ""
	return nil
}

// SelectEmployee records the responsible employee. An empty id clears it.
func (c *Coordinator) SelectEmployee(id domain.ID) error {
	id = domain.ID(strings.TrimSpace(id.String()))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Submitting {
		return ErrCheckoutInProgress
	}
	if id != "" {
		if _, err := c.employees.Employee(id); err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownEmployee, id)
		}
	}
	c.employeeID = id
	return nil
}

func (c *Coordinator) SetKitchenNote(note string) error {
	if utf8.RuneCountInString(note) > MaxKitchenNoteLength {
		return ErrNoteTooLong
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Submitting {
		return ErrCheckoutInProgress
	}
	c.kitchenNote = note
	return nil
}

// Cancel leaves the confirmation step. Entered data is kept.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Submitting:
		return ErrSubmissionInProgress
	case AwaitingConfirmation, Failed:
		c.state = Idle
	}
	return nil
}

// Confirm stores the sale with exactly one call to the invoice writer. The
// call is not cancelled when ctx is, and is never retried. On failure the
// cart, employee and note are left as they were.
func (c *Coordinator) Confirm(ctx context.Context) (Result, error) {
	c.mu.Lock()
	switch c.state {
	case Submitting:
		c.mu.Unlock()
		return Result{}, ErrSubmissionInProgress
	case AwaitingConfirmation, Failed:
	default:
		c.mu.Unlock()
		return Result{}, ErrNotStarted
	}
	if c.ledger.Len() == 0 {
		c.notify(domain.NoticeError, "Cart is empty", "Add at least one product before checkout.")
		c.mu.Unlock()
		return Result{}, ErrEmptyCart
	}
	if c.employeeID == "" {
		c.notify(domain.NoticeError, "Employee required", "Select the employee responsible for this sale.")
		c.mu.Unlock()
		return Result{}, ErrEmployeeRequired
	}
	employee, err := c.employees.Employee(c.employeeID)
	if err != nil {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownEmployee, c.employeeID)
	}

	now := c.clock().In(c.location)
	inv := domain.Invoice{
		Number:       xid.InvoiceNumber(now),
		Date:         now.Format("2006-01-02"),
		Time:         now.Format("15:04:05"),
		EmployeeID:   employee.ID,
		EmployeeName: employee.Name,
		Total:        c.ledger.Total(),
		Items:        c.ledger.Lines(),
		KitchenNote:  c.kitchenNote,
		IssuedAt:     now,
	}
	c.state = Submitting
	c.lastErr = ""
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	c.logger.Info("submitting sales invoice",
		zap.String("invoice", inv.Number),
		zap.String("total", inv.Total.StringFixed(2)),
		zap.Int("lines", len(inv.Items)))

	if err := c.writer.CreateSalesInvoice(ctx, domain.NewSalesInvoicePayload(inv)); err != nil {
		reason := describe(err)
		c.mu.Lock()
		c.state = Failed
		c.lastErr = reason
		c.mu.Unlock()

		c.logger.Warn("sales invoice rejected", zap.String("invoice", inv.Number), zap.Error(err))
		c.notify(domain.NoticeError, "Checkout failed", reason)
		return Result{}, fmt.Errorf("submit invoice %s: %w", inv.Number, err)
	}

	c.mu.Lock()
	c.state = Completed
	stored := inv
	c.last = &stored
	c.ledger.Clear()
	c.employeeID = ""
	c.kitchenNote = ""
	c.mu.Unlock()

	res := Result{Invoice: inv}
	if c.printer != nil {
		if err := c.printer.PrintInvoice(ctx, inv); err != nil {
			res.PrintErrors = splitErrors(err)
			for _, perr := range res.PrintErrors {
				c.notify(domain.NoticeError, "Receipt not printed", perr.Error())
			}
		}
	}

	c.logger.Info("sales invoice stored", zap.String("invoice", inv.Number))
	c.notify(domain.NoticeSuccess,
		fmt.Sprintf("Invoice %s saved", inv.Number),
		fmt.Sprintf("Total %s", inv.Total.StringFixed(2)))
	return res, nil
}

func (c *Coordinator) notify(kind, title, description string) {
	c.notifier.Notify(domain.Notice{
		Kind:        kind,
		Title:       title,
		Description: description,
		SessionID:   c.sessionID,
		At:          c.clock(),
	})
}

// describe returns the message shown to the operator for a failed submission,
// preferring the server's own words.
func describe(err error) string {
	var rejected *store.RejectedError
	if errors.As(err, &rejected) && strings.TrimSpace(rejected.Message) != "" {
		return rejected.Message
	}
	switch {
	case errors.Is(err, store.ErrDuplicateInvoice):
		return "An invoice with this number already exists. Try again."
	case errors.Is(err, store.ErrInvalidInvoice):
		return "The invoice was incomplete and was not sent."
	}
	return err.Error()
}

func splitErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
