package storage

import (
	"fmt"
	"strings"

	"github.com/loomline/api/internal/services"
)

var unsafeKeyChars = strings.NewReplacer("/", "_", "\\", "_", "..", "_")

// InvoiceObjectPath returns orders/<orderID>/invoices/<orderNumber>.html. Either part containing
// a separator or ".." is rejected so a key can never escape its order prefix.
func InvoiceObjectPath(orderID, orderNumber string) (string, error) {
	id, err := pathSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		number = "invoice"
	}
	file, err := pathSegment("orderNumber", number+".html")
	if err != nil {
		return "", err
	}
	return "orders/" + id + "/invoices/" + file, nil
}

// InvoicePathFunc is the checkout service's invoice path. Ids that cannot form a safe key are
// flattened under invoices/ instead.
func InvoicePathFunc() func(services.Order) string {
	return func(order services.Order) string {
		if path, err := InvoiceObjectPath(order.ID, order.OrderNumber); err == nil {
			return path
		}
		return "invoices/" + unsafeKeyChars.Replace(order.ID) + ".html"
	}
}

func pathSegment(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", field)
	case strings.ContainsAny(value, "/\\"), strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s %q is not a safe path segment", field, value)
	}
	return value, nil
}
