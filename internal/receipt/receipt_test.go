package receipt

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"storefront/register/internal/domain"
)

func sampleInvoice(note string) domain.Invoice {
	items := []domain.CartLine{
		{ProductID: "2", Name: "Latte", UnitPrice: decimal.NewFromInt(15), Quantity: 1, Size: domain.SizeMedium},
		{ProductID: "2", Name: "Latte", UnitPrice: decimal.NewFromInt(20), Quantity: 1, Size: domain.SizeLarge},
	}
	return domain.Invoice{
		Number:       "INV-20240601-4321",
		Date:         "2024-06-01",
		Time:         "09:15:00",
		EmployeeID:   "1",
		EmployeeName: "Main Cashier",
		Total:        decimal.NewFromInt(35),
		Items:        items,
		KitchenNote:  note,
	}
}

func TestRenderPairDiffersOnlyByCaptionWithoutNote(t *testing.T) {
	r := NewRenderer(Options{StoreName: "Corner Cafe", Currency: "EGP"})

	docs, err := r.RenderPair(sampleInvoice(""))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, Customer, docs[0].Variant)
	require.Equal(t, Kitchen, docs[1].Variant)

	require.Equal(t, docs[0].Text, strings.ReplaceAll(docs[1].Text, "Kitchen Order", "Sales Receipt"))
	require.Equal(t, docs[0].HTML, strings.ReplaceAll(docs[1].HTML, "Kitchen Order", "Sales Receipt"))
	require.NotContains(t, docs[1].HTML, `class="kitchen-note"`)
}

func TestKitchenNoteOnlyOnKitchenCopy(t *testing.T) {
	r := NewRenderer(Options{})
	const note = "no sugar in the large one"

	docs, err := r.RenderPair(sampleInvoice(note))
	require.NoError(t, err)

	customer, kitchen := docs[0], docs[1]
	require.NotContains(t, customer.HTML, note)
	require.NotContains(t, customer.HTML, `<div class="kitchen-note">`)
	require.NotContains(t, customer.Text, "NOTE")
	require.NotContains(t, string(customer.ESCPOS), note)

	require.Contains(t, kitchen.HTML, `<div class="kitchen-note">NOTE: `+note+`</div>`)
	require.Contains(t, kitchen.Text, "*** NOTE ***")
	require.Contains(t, kitchen.Text, note)
	require.Contains(t, string(kitchen.ESCPOS), note)
}

func TestWhitespaceNoteStillGetsNoteBlock(t *testing.T) {
	r := NewRenderer(Options{})

	kitchen, err := r.Render(sampleInvoice("   "), Kitchen)
	require.NoError(t, err)
	require.Contains(t, kitchen.HTML, `<div class="kitchen-note">NOTE: </div>`)
	require.Contains(t, kitchen.Text, "*** NOTE ***")

	customer, err := r.Render(sampleInvoice("   "), Customer)
	require.NoError(t, err)
	require.NotContains(t, customer.HTML, `<div class="kitchen-note">`)
	require.NotContains(t, customer.Text, "NOTE")

	empty, err := r.Render(sampleInvoice(""), Kitchen)
	require.NoError(t, err)
	require.NotContains(t, empty.HTML, `<div class="kitchen-note">`)
	require.NotContains(t, empty.Text, "NOTE")
}

func TestMoneyHasTwoDecimalsAndCurrency(t *testing.T) {
	r := NewRenderer(Options{Currency: "EGP"})
	require.Equal(t, "7.50 EGP", r.Money(decimal.RequireFromString("7.5")))
	require.Equal(t, "35.00 EGP", r.Money(decimal.NewFromInt(35)))
	require.Equal(t, "0.10", NewRenderer(Options{}).Money(decimal.RequireFromString("0.1")))

	doc, err := r.Render(sampleInvoice(""), Customer)
	require.NoError(t, err)
	require.Contains(t, doc.Text, "35.00 EGP")
	require.Contains(t, doc.Text, "  1 x 15.00 EGP")
	require.Contains(t, doc.Text, "Latte (Medium)")
	require.Contains(t, doc.Text, "Latte (Large)")
	require.Contains(t, doc.HTML, "Main Cashier")
	require.Contains(t, doc.HTML, "INV-20240601-4321")
}

func TestTextRowsStayWithinWidth(t *testing.T) {
	inv := sampleInvoice("please deliver this to the table by the window next to the very large plant")
	inv.Items = append(inv.Items, domain.CartLine{
		ProductID: "9",
		Name:      "Extraordinarily long seasonal pumpkin spice caramel macchiato with oat milk",
		UnitPrice: decimal.RequireFromString("1234567.25"),
		Quantity:  12,
	})
	inv.EmployeeName = "Someone With An Unusually Long Display Name For A Cashier"

	for _, width := range []int{32, 48} {
		r := NewRenderer(Options{StoreName: "The Corner Cafe And Bakery On Main Street", Currency: "EGP", Width: width})
		doc, err := r.Render(inv, Kitchen)
		require.NoError(t, err)

		for _, row := range strings.Split(strings.TrimRight(doc.Text, "\n"), "\n") {
			require.LessOrEqual(t, utf8.RuneCountInString(row), width, "row %q", row)
		}
		require.Contains(t, doc.Text, "Extraordinarily")
	}
}

func TestEscposFraming(t *testing.T) {
	doc, err := NewRenderer(Options{StoreName: "Cafe"}).Render(sampleInvoice(""), Customer)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(doc.ESCPOS, []byte{0x1B, '@'}))
	require.True(t, bytes.HasSuffix(doc.ESCPOS, []byte{0x1D, 'V', 0x01}))
	require.Contains(t, string(doc.ESCPOS), "Sales Receipt")
}

func TestHTMLEscapesUserText(t *testing.T) {
	inv := sampleInvoice("<script>alert(1)</script>")
	inv.Items[0].Name = "<b>Latte</b>"

	doc, err := NewRenderer(Options{}).Render(inv, Kitchen)
	require.NoError(t, err)
	require.NotContains(t, doc.HTML, "<script>")
	require.NotContains(t, doc.HTML, "<b>Latte</b>")
	require.Contains(t, doc.HTML, "&lt;b&gt;Latte&lt;/b&gt;")
}

func TestUnknownVariantIsRejected(t *testing.T) {
	_, err := NewRenderer(Options{}).Render(sampleInvoice(""), Variant("bar"))
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestWrapSplitsLongWords(t *testing.T) {
	require.Equal(t, []string{"abcde", "f gh"}, wrap("abcdef gh", 5))
	require.Equal(t, []string{""}, wrap("   ", 5))
}
