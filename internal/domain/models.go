package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ID is an identifier issued by the storefront API. The API mixes numeric and
// string ids, so both JSON forms are accepted and numeric ids are written back
// as numbers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*id = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string {
	return string(id)
}

func (id ID) numeric() bool {
	s := string(id)
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Size is the size tier of a cart line. The wire tags match the storefront API.
type Size string

const (
	SizeNone   Size = ""
	SizeSmall  Size = "s"
	SizeMedium Size = "m"
	SizeLarge  Size = "l"
)

func ParseSize(raw string) (Size, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return SizeNone, nil
	case "s", "small":
		return SizeSmall, nil
	case "m", "medium":
		return SizeMedium, nil
	case "l", "large":
		return SizeLarge, nil
	}
	return SizeNone, fmt.Errorf("unknown size %q", raw)
}

func (s Size) Valid() bool {
	switch s {
	case SizeNone, SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// Label is the human-readable caption printed on receipts.
func (s Size) Label() string {
	switch s {
	case SizeSmall:
		return "Small"
	case SizeMedium:
		return "Medium"
	case SizeLarge:
		return "Large"
	}
	return string(s)
}

func (s Size) MarshalJSON() ([]byte, error) {
	if s == SizeNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Size) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = SizeNone
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Product struct {
	ID          ID              `json:"id"`
	Name        string          `json:"name"`
	Stock       int             `json:"stock"`
	Barcode     string          `json:"barcode,omitempty"`
	CategoryID  ID              `json:"category_id,omitempty"`
	HasSizes    bool            `json:"hasSizes"`
	Price       decimal.Decimal `json:"price"`
	SmallPrice  decimal.Decimal `json:"s_price"`
	MediumPrice decimal.Decimal `json:"m_price"`
	LargePrice  decimal.Decimal `json:"l_price"`
	Image       string          `json:"image,omitempty"`
}

// UnmarshalJSON tolerates the loose payloads the storefront API produces:
// prices may be numbers, numeric strings, empty strings or null, and hasSizes
// may arrive as 0/1.
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          ID              `json:"id"`
		Name        string          `json:"name"`
		Stock       json.RawMessage `json:"stock"`
		Barcode     *string         `json:"barcode"`
		CategoryID  ID              `json:"category_id"`
		HasSizes    json.RawMessage `json:"hasSizes"`
		Price       json.RawMessage `json:"price"`
		SmallPrice  json.RawMessage `json:"s_price"`
		MediumPrice json.RawMessage `json:"m_price"`
		LargePrice  json.RawMessage `json:"l_price"`
		Image       *string         `json:"image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	prices := make([]decimal.Decimal, 4)
	for i, field := range []json.RawMessage{raw.Price, raw.SmallPrice, raw.MediumPrice, raw.LargePrice} {
		amount, err := ParseAmount(field)
		if err != nil {
			return fmt.Errorf("product %s: %w", raw.ID, err)
		}
		prices[i] = amount
	}
	stock, err := ParseAmount(raw.Stock)
	if err != nil {
		return fmt.Errorf("product %s stock: %w", raw.ID, err)
	}

	*p = Product{
		ID:          raw.ID,
		Name:        raw.Name,
		Stock:       int(stock.IntPart()),
		CategoryID:  raw.CategoryID,
		HasSizes:    parseFlag(raw.HasSizes),
		Price:       prices[0],
		SmallPrice:  prices[1],
		MediumPrice: prices[2],
		LargePrice:  prices[3],
	}
	if raw.Barcode != nil {
		p.Barcode = strings.TrimSpace(*raw.Barcode)
	}
	if raw.Image != nil {
		p.Image = *raw.Image
	}
	return nil
}

// SizePrice returns the tier price for size; SizeNone yields the flat price.
func (p Product) SizePrice(size Size) decimal.Decimal {
	switch size {
	case SizeSmall:
		return p.SmallPrice
	case SizeMedium:
		return p.MediumPrice
	case SizeLarge:
		return p.LargePrice
	}
	return p.Price
}

// OffersSize reports whether the tier is sold. Tiers priced at zero are hidden.
func (p Product) OffersSize(size Size) bool {
	if size == SizeNone {
		return !p.HasSizes
	}
	return p.HasSizes && p.SizePrice(size).IsPositive()
}

type Category struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

type Employee struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type CartLine struct {
	ProductID ID              `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Size      Size            `json:"size"`
	Barcode   string          `json:"barcode,omitempty"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) MarshalJSON() ([]byte, error) {
	type wire struct {
		ProductID ID          `json:"id"`
		Name      string      `json:"name"`
		UnitPrice json.Number `json:"price"`
		Quantity  int         `json:"quantity"`
		Size      Size        `json:"size"`
		Barcode   string      `json:"barcode,omitempty"`
	}
	return json.Marshal(wire{
		ProductID: l.ProductID,
		Name:      l.Name,
		UnitPrice: Number(l.UnitPrice),
		Quantity:  l.Quantity,
		Size:      l.Size,
		Barcode:   l.Barcode,
	})
}

func (l *CartLine) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductID ID              `json:"id"`
		Name      string          `json:"name"`
		UnitPrice json.RawMessage `json:"price"`
		Quantity  int             `json:"quantity"`
		Size      Size            `json:"size"`
		Barcode   string          `json:"barcode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := ParseAmount(raw.UnitPrice)
	if err != nil {
		return err
	}
	*l = CartLine{
		ProductID: raw.ProductID,
		Name:      raw.Name,
		UnitPrice: price,
		Quantity:  raw.Quantity,
		Size:      raw.Size,
		Barcode:   raw.Barcode,
	}
	return nil
}

// Invoice is the write-once record produced by a successful checkout.
type Invoice struct {
	Number       string          `json:"invoice_number"`
	Date         string          `json:"date"`
	Time         string          `json:"time"`
	EmployeeID   ID              `json:"employee_id"`
	EmployeeName string          `json:"employee_name"`
	Total        decimal.Decimal `json:"total"`
	Items        []CartLine      `json:"items"`
	KitchenNote  string          `json:"kitchen_note,omitempty"`
	IssuedAt     time.Time       `json:"issued_at"`
}

// SalesInvoicePayload is the body accepted by POST /sales-invoices.
type SalesInvoicePayload struct {
	InvoiceNumber string      `json:"invoiceNumber"`
	Date          string      `json:"date"`
	Time          string      `json:"time"`
	EmployeeID    ID          `json:"employee_id"`
	Total         json.Number `json:"total"`
	Items         []CartLine  `json:"items"`
	KitchenNote   string      `json:"kitchen_note"`
}

func NewSalesInvoicePayload(inv Invoice) SalesInvoicePayload {
	items := make([]CartLine, len(inv.Items))
	copy(items, inv.Items)
	return SalesInvoicePayload{
		InvoiceNumber: inv.Number,
		Date:          inv.Date,
		Time:          inv.Time,
		EmployeeID:    inv.EmployeeID,
		Total:         Number(inv.Total),
		Items:         items,
		KitchenNote:   inv.KitchenNote,
	}
}

const (
	NoticeSuccess = "success"
	NoticeInfo    = "info"
	NoticeError   = "error"
)

// Notice is a transient, non-blocking message for the register operator.
type Notice struct {
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	At          time.Time `json:"at"`
}

type SessionOpenResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type CatalogResponse struct {
	Products   []Product  `json:"products"`
	Categories []Category `json:"categories"`
	Employees  []Employee `json:"employees"`
}

type AddItemRequest struct {
	ProductID ID     `json:"product_id"`
	Size      string `json:"size,omitempty"`
}

type ScanRequest struct {
	Barcode string `json:"barcode"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type CartLineView struct {
	Key       string          `json:"key"`
	Line      CartLine        `json:"line"`
	SizeLabel string          `json:"size_label,omitempty"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CartResponse struct {
	Lines     []CartLineView  `json:"lines"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
}

type SelectEmployeeRequest struct {
	EmployeeID ID `json:"employee_id"`
}

type KitchenNoteRequest struct {
	Note string `json:"note"`
}

type InvoiceSummary struct {
	Number string          `json:"invoice_number"`
	Total  decimal.Decimal `json:"total"`
	Date   string          `json:"date"`
	Time   string          `json:"time"`
}

type CheckoutStatusResponse struct {
	State       string          `json:"state"`
	EmployeeID  ID              `json:"employee_id,omitempty"`
	KitchenNote string          `json:"kitchen_note,omitempty"`
	LastInvoice *InvoiceSummary `json:"last_invoice,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

type CheckoutConfirmResponse struct {
	State       string          `json:"state"`
	Invoice     InvoiceSummary  `json:"invoice"`
	PrintErrors []string        `json:"print_errors,omitempty"`
	Total       decimal.Decimal `json:"total"`
}

type ReceiptDocumentView struct {
	Variant      string `json:"variant"`
	HTML         string `json:"html"`
	Text         string `json:"text"`
	EscposBase64 string `json:"escpos_base64"`
}

type ReceiptPreviewResponse struct {
	InvoiceNumber string                `json:"invoice_number"`
	Documents     []ReceiptDocumentView `json:"documents"`
}

// ParseAmount reads a JSON number, numeric string, empty string or null.
// Missing and empty values are zero.
func ParseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return decimal.Zero, nil
	}
	if s[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return decimal.Zero, err
		}
		s = strings.TrimSpace(inner)
		if s == "" {
			return decimal.Zero, nil
		}
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

// Number renders an amount as a bare JSON number.
func Number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func parseFlag(raw json.RawMessage) bool {
	switch strings.Trim(strings.TrimSpace(string(raw)), `"`) {
	case "true", "1":
		return true
	}
	return false
}
