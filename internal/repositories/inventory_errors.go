package repositories

import "fmt"

// InventoryErrorCode tells services why a ledger movement was refused.
type InventoryErrorCode string

const (
	InventoryErrorUnknown           InventoryErrorCode = "inventory_unknown"
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	InventoryErrorStockNotFound     InventoryErrorCode = "inventory_stock_not_found"
	InventoryErrorInvalidQuantity   InventoryErrorCode = "inventory_invalid_quantity"
)

// InventoryError is returned by every ledger backend for refusals decided by the ledger itself.
// Backend outages are reported with the backend's own error type instead.
type InventoryError struct {
	Op      string
	Code    InventoryErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*InventoryError)(nil)

func NewInventoryError(op string, code InventoryErrorCode, message string, err error) *InventoryError {
	if code == "" {
		code = InventoryErrorUnknown
	}
	if message == "" {
		message = string(code)
	}
	return &InventoryError{Op: op, Code: code, Message: message, Err: err}
}

func (e *InventoryError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op == "":
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *InventoryError) is(code InventoryErrorCode) bool { return e != nil && e.Code == code }

func (e *InventoryError) IsNotFound() bool    { return e.is(InventoryErrorStockNotFound) }
func (e *InventoryError) IsConflict() bool    { return e.is(InventoryErrorInsufficientStock) }
func (e *InventoryError) IsUnavailable() bool { return false }
