package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/register/internal/domain"
)

type Variant string

const (
	Customer Variant = "customer"
	Kitchen  Variant = "kitchen"
)

var ErrUnknownVariant = errors.New("unknown receipt variant")

const (
	DefaultWidth = 48
	minWidth     = 24
	footer       = "Thank you for your visit"
)

func (v Variant) caption() string {
	if v == Kitchen {
		return "Kitchen Order"
	}
	return "Sales Receipt"
}

type Options struct {
	StoreName string
	// Currency is appended to every amount, e.g. "10.00 EGP". Empty prints bare amounts.
	Currency string
	// Width is the character budget of one row on the roll.
	Width int
}

// Document is one printable copy of an invoice in every output format the
// print layer understands.
type Document struct {
	Variant Variant
	HTML    string
	Text    string
	ESCPOS  []byte
}

type Renderer struct {
	opts Options
}

func NewRenderer(opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Width < minWidth {
		opts.Width = minWidth
	}
	opts.StoreName = strings.TrimSpace(opts.StoreName)
	opts.Currency = strings.TrimSpace(opts.Currency)
	return &Renderer{opts: opts}
}

func (r *Renderer) Width() int {
	return r.opts.Width
}

// Money formats an amount with two decimals and the configured currency.
func (r *Renderer) Money(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	if r.opts.Currency == "" {
		return s
	}
	return s + " " + r.opts.Currency
}

// RenderPair returns the customer copy followed by the kitchen copy.
func (r *Renderer) RenderPair(inv domain.Invoice) ([]Document, error) {
	docs := make([]Document, 0, 2)
	for _, v := range []Variant{Customer, Kitchen} {
		doc, err := r.Render(inv, v)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *Renderer) Render(inv domain.Invoice, variant Variant) (Document, error) {
	if variant != Customer && variant != Kitchen {
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}

	view := r.view(inv, variant)

	var buf bytes.Buffer
	if err := receiptHTMLTmpl.Execute(&buf, view); err != nil {
		return Document{}, fmt.Errorf("render %s receipt %s: %w", variant, inv.Number, err)
	}

	l := r.layout(view)
	return Document{
		Variant: variant,
		HTML:    buf.String(),
		Text:    l.text(),
		ESCPOS:  l.escpos(),
	}, nil
}

type itemView struct {
	Name      string
	SizeLabel string
	UnitPrice string
	Quantity  int
	LineTotal string
}

type receiptView struct {
	StoreName string
	Caption   string
	Number    string
	Date      string
	Time      string
	Cashier   string
	HasNote   bool
	Note      string
	Items     []itemView
	Total     string
	Footer    string
}

func (r *Renderer) view(inv domain.Invoice, variant Variant) receiptView {
	cashier := strings.TrimSpace(inv.EmployeeName)
	if cashier == "" {
		cashier = inv.EmployeeID.String()
	}

	v := receiptView{
		StoreName: r.opts.StoreName,
		Caption:   variant.caption(),
		Number:    inv.Number,
		Date:      inv.Date,
		Time:      inv.Time,
		Cashier:   cashier,
		Total:     r.Money(inv.Total),
		Footer:    footer,
		Items:     make([]itemView, 0, len(inv.Items)),
	}
	// Any non-empty note gets the block, even one made of spaces.
	if variant == Kitchen && inv.KitchenNote != "" {
		v.HasNote = true
		v.Note = strings.TrimSpace(inv.KitchenNote)
	}
	for _, item := range inv.Items {
		v.Items = append(v.Items, itemView{
			Name:      item.Name,
			SizeLabel: item.Size.Label(),
			UnitPrice: r.Money(item.UnitPrice),
			Quantity:  item.Quantity,
			LineTotal: r.Money(item.LineTotal()),
		})
	}
	return v
}

func (r *Renderer) layout(v receiptView) *layout {
	l := newLayout(r.opts.Width)
	if v.StoreName != "" {
		l.emphasize(v.StoreName, true)
	}
	l.emphasize(v.Caption, false)
	l.separator("=")
	l.keyValue("Invoice", v.Number, false)
	l.keyValue("Date", v.Date, false)
	l.keyValue("Time", v.Time, false)
	l.keyValue("Cashier", v.Cashier, false)
	l.separator("-")

	if v.HasNote {
		l.emphasize("*** NOTE ***", false)
		l.paragraph(v.Note)
		l.separator("-")
	}

	for _, item := range v.Items {
		name := item.Name
		if item.SizeLabel != "" {
			name += " (" + item.SizeLabel + ")"
		}
		l.paragraph(name)
		l.keyValue(fmt.Sprintf("  %d x %s", item.Quantity, item.UnitPrice), item.LineTotal, false)
	}

	l.separator("-")
	l.keyValue("TOTAL", v.Total, true)
	l.separator("=")
	l.center(v.Footer)
	return l
}

// receiptHTMLTmpl is a standalone page for an 80mm roll with a 72mm printable
// body. Fields are escaped by html/template.
var receiptHTMLTmpl = template.Must(template.New("receipt").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.Caption}} {{.Number}}</title>
  <style>
    @page { size: 80mm auto; margin: 0; }
    body { width: 72mm; margin: 0 auto; padding: 4mm 0; font-family: "Courier New", monospace; font-size: 12px; color: #000; }
    .header { text-align: center; margin-bottom: 6px; }
    .header h1 { font-size: 16px; margin: 0; }
    .header h2 { font-size: 13px; margin: 2px 0 0; text-transform: uppercase; }
    .meta { width: 100%; border-top: 1px dashed #000; border-bottom: 1px dashed #000; padding: 4px 0; }
    .meta td { padding: 1px 0; }
    .kitchen-note { border: 2px solid #000; margin: 6px 0; padding: 4px; font-weight: bold; font-size: 14px; white-space: pre-wrap; word-wrap: break-word; }
    .items { width: 100%; border-collapse: collapse; margin-top: 6px; table-layout: fixed; }
    .items th { text-align: left; border-bottom: 1px solid #000; font-size: 11px; }
    .items td { vertical-align: top; padding: 2px 0; word-wrap: break-word; }
    .items .num { text-align: right; }
    .size { font-size: 10px; }
    .total { border-top: 1px dashed #000; margin-top: 6px; padding-top: 4px; font-weight: bold; font-size: 14px; display: flex; justify-content: space-between; }
    .footer { text-align: center; margin-top: 10px; border-top: 1px dashed #000; padding-top: 4px; }
  </style>
</head>
<body>
  <div class="header">
    {{if .StoreName}}<h1>{{.StoreName}}</h1>{{end}}
    <h2>{{.Caption}}</h2>
  </div>
  <table class="meta">
    <tr><td>Invoice</td><td>{{.Number}}</td></tr>
    <tr><td>Date</td><td>{{.Date}}</td></tr>
    <tr><td>Time</td><td>{{.Time}}</td></tr>
    <tr><td>Cashier</td><td>{{.Cashier}}</td></tr>
  </table>
  {{if .HasNote}}<div class="kitchen-note">NOTE: {{.Note}}</div>{{end}}
  <table class="items">
    <colgroup><col style="width:40%"><col style="width:22%"><col style="width:10%"><col style="width:28%"></colgroup>
    <thead><tr><th>Item</th><th class="num">Price</th><th class="num">Qty</th><th class="num">Total</th></tr></thead>
    <tbody>{{range .Items}}<tr><td>{{.Name}}{{if .SizeLabel}}<br /><span class="size">{{.SizeLabel}}</span>{{end}}</td><td class="num">{{.UnitPrice}}</td><td class="num">{{.Quantity}}</td><td class="num">{{.LineTotal}}</td></tr>{{end}}</tbody>
  </table>
  <div class="total"><span>TOTAL</span><span>{{.Total}}</span></div>
  <div class="footer">{{.Footer}}</div>
</body>
</html>
`))
