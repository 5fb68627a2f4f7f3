package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a random identifier with the given prefix, e.g. "sess-1b4e...".
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// InvoiceNumber formats INV-YYYYMMDD-NNNN where NNNN are the last four digits
// of the millisecond epoch. Two sales within the same 10s window can collide;
// the backend is the authority on uniqueness.
func InvoiceNumber(at time.Time) string {
	tail := (at.UnixMilli()%10000 + 10000) % 10000
	return fmt.Sprintf("INV-%s-%04d", at.Format("20060102"), tail)
}
