package cart

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"storefront/register/internal/domain"
)

var (
	ErrLineNotFound = errors.New("cart line not found")
	ErrInvalidSize  = errors.New("invalid size")
	ErrInvalidKey   = errors.New("invalid cart line key")
)

// Key identifies a cart line. Lines merge only when product, resolved unit
// price and size all match.
type Key struct {
	ProductID domain.ID
	Price     string
	Size      domain.Size
}

// KeyFor is the only place a merge key is derived. Prices are canonicalised so
// 10, 10.0 and "10.00" map to the same key.
func KeyFor(productID domain.ID, price decimal.Decimal, size domain.Size) Key {
	return Key{ProductID: productID, Price: price.String(), Size: size}
}

func KeyOf(line domain.CartLine) Key {
	return KeyFor(line.ProductID, line.UnitPrice, line.Size)
}

// String encodes the key as a path-safe token: id~price~size.
func (k Key) String() string {
	return url.PathEscape(string(k.ProductID)) + "~" + k.Price + "~" + string(k.Size)
}

func ParseKey(raw string) (Key, error) {
	sizeAt := strings.LastIndex(raw, "~")
	if sizeAt < 0 {
		return Key{}, ErrInvalidKey
	}
	priceAt := strings.LastIndex(raw[:sizeAt], "~")
	if priceAt < 0 {
		return Key{}, ErrInvalidKey
	}
	id, err := url.PathUnescape(raw[:priceAt])
	if err != nil || id == "" {
		return Key{}, ErrInvalidKey
	}
	price, err := decimal.NewFromString(raw[priceAt+1 : sizeAt])
	if err != nil {
		return Key{}, ErrInvalidKey
	}
	size := domain.Size(raw[sizeAt+1:])
	if !size.Valid() {
		return Key{}, ErrInvalidKey
	}
	return KeyFor(domain.ID(id), price, size), nil
}

// Ledger holds the lines of the sale in progress, unique by Key and kept in
// insertion order.
type Ledger struct {
	mu    sync.RWMutex
	order []Key
	lines map[Key]*domain.CartLine
}

func NewLedger() *Ledger {
	return &Ledger{lines: make(map[Key]*domain.CartLine)}
}

// Add resolves the unit price (override, then size tier, then flat price) and
// either bumps the quantity of the matching line or appends a new line.
func (l *Ledger) Add(product domain.Product, size domain.Size, priceOverride *decimal.Decimal) (domain.CartLine, error) {
	if !size.Valid() {
		return domain.CartLine{}, fmt.Errorf("%w: %q", ErrInvalidSize, size)
	}

	price := product.Price
	switch {
	case priceOverride != nil:
		price = *priceOverride
	case size != domain.SizeNone:
		price = product.SizePrice(size)
	}

	key := KeyFor(product.ID, price, size)

	l.mu.Lock()
	defer l.mu.Unlock()

	if line, ok := l.lines[key]; ok {
		line.Quantity++
		return *line, nil
	}

	line := &domain.CartLine{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: price,
		Quantity:  1,
		Size:      size,
		Barcode:   product.Barcode,
	}
	l.lines[key] = line
	l.order = append(l.order, key)
	return *line, nil
}

// UpdateQuantity replaces the quantity of a line; zero or less removes it.
func (l *Ledger) UpdateQuantity(key Key, quantity int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, ok := l.lines[key]
	if !ok {
		return ErrLineNotFound
	}
	if quantity <= 0 {
		l.removeLocked(key)
		return nil
	}
	line.Quantity = quantity
	return nil
}

// Remove drops a line. Removing an absent key is a no-op.
func (l *Ledger) Remove(key Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(key)
}

func (l *Ledger) removeLocked(key Key) {
	if _, ok := l.lines[key]; !ok {
		return
	}
	delete(l.lines, key)
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Total is recomputed from the lines on every call.
func (l *Ledger) Total() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := decimal.Zero
	for _, line := range l.lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = nil
	l.lines = make(map[Key]*domain.CartLine)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// ItemCount is the sum of quantities.
func (l *Ledger) ItemCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for _, line := range l.lines {
		count += line.Quantity
	}
	return count
}

func (l *Ledger) Get(key Key) (domain.CartLine, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	line, ok := l.lines[key]
	if !ok {
		return domain.CartLine{}, false
	}
	return *line, true
}

// Lines returns a copy of the lines in insertion order. The copy shares no
// state with the ledger, so it can be stored on an invoice.
func (l *Ledger) Lines() []domain.CartLine {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.CartLine, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, *l.lines[key])
	}
	return out
}
