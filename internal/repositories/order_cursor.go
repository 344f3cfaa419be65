package repositories

import (
	"time"

	"github.com/loomline/api/internal/platform/pagination"
)

// OrderCursor positions ListByUser after the last order of the previous page. Orders are listed
// newest first, ties broken by descending id.
type OrderCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// IsZero reports whether the cursor points at the first page.
func (c OrderCursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// After reports whether an order with createdAt and id sorts after the cursor.
func (c OrderCursor) After(createdAt time.Time, id string) bool {
	if c.IsZero() {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// DecodeOrderCursor parses a page token.
func DecodeOrderCursor(token string) (OrderCursor, error) {
	return pagination.DecodeToken[OrderCursor](token)
}

// EncodeOrderCursor renders a page token for the last order on a page.
func EncodeOrderCursor(createdAt time.Time, id string) (string, error) {
	return pagination.EncodeToken(OrderCursor{CreatedAt: createdAt.UTC(), ID: id})
}
