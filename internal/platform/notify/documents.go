package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/loomline/api/internal/services"
)

const defaultStoreName = "Loomline"

// RendererConfig customises generated documents.
type RendererConfig struct {
	StoreName string
	// Locale is a BCP 47 tag controlling number formatting, e.g. "en-US" or "de-DE".
	Locale string
}

// Renderer produces invoice and email HTML for placed orders.
type Renderer struct {
	store   string
	printer *message.Printer
	policy  *bluemonday.Policy

	invoice   *template.Template
	purchaser *template.Template
	designer  *template.Template
}

var _ services.DocumentRenderer = (*Renderer)(nil)

// NewRenderer parses the document templates.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	tag := language.AmericanEnglish
	if locale := strings.TrimSpace(cfg.Locale); locale != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("renderer: invalid locale %q: %w", locale, err)
		}
		tag = parsed
	}
	store := strings.TrimSpace(cfg.StoreName)
	if store == "" {
		store = defaultStoreName
	}

	r := &Renderer{
		store:   store,
		printer: message.NewPrinter(tag),
		policy:  newDocumentPolicy(),
	}
	var err error
	if r.invoice, err = template.New("invoice").Parse(invoiceTemplate); err != nil {
		return nil, fmt.Errorf("renderer: parse invoice: %w", err)
	}
	if r.purchaser, err = template.New("purchaser").Parse(purchaserTemplate); err != nil {
		return nil, fmt.Errorf("renderer: parse purchaser email: %w", err)
	}
	if r.designer, err = template.New("designer").Parse(designerTemplate); err != nil {
		return nil, fmt.Errorf("renderer: parse designer email: %w", err)
	}
	return r, nil
}

// newDocumentPolicy keeps the table and inline styling the templates rely on.
func newDocumentPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("html", "head", "body", "title", "meta")
	policy.AllowAttrs("charset").OnElements("meta")
	policy.AllowAttrs("class").Globally()
	return policy
}

type lineView struct {
	Name          string
	Variant       string
	Quantity      int
	UnitPrice     string
	LineTotal     string
	Customization []string
}

type documentView struct {
	Store       string
	OrderNumber string
	PlacedAt    string
	Customer    string
	Address     []string
	Designer    string
	Lines       []lineView
	Subtotal    string
	Discount    string
	CouponCode  string
	Tax         string
	Shipping    string
	Total       string
}

func (r *Renderer) RenderInvoice(_ context.Context, order services.Order, customer services.CustomerProfile) ([]byte, error) {
	view := r.view(order, order.Items)
	view.Customer = firstNonBlank(customer.Name, customer.Email)
	return r.execute(r.invoice, view)
}

func (r *Renderer) RenderPurchaserEmail(_ context.Context, order services.Order, customer services.CustomerProfile) (services.Email, error) {
	view := r.view(order, order.Items)
	view.Customer = firstNonBlank(customer.Name, customer.Email)
	body, err := r.execute(r.purchaser, view)
	if err != nil {
		return services.Email{}, err
	}
	return services.Email{
		To:      strings.TrimSpace(customer.Email),
		Subject: fmt.Sprintf("%s order %s confirmed", r.store, order.OrderNumber),
		HTML:    string(body),
	}, nil
}

func (r *Renderer) RenderDesignerEmail(_ context.Context, order services.Order, designer services.Designer) (services.Email, error) {
	var lines []services.OrderLineItem
	for _, item := range order.Items {
		if item.DesignerID == designer.ID {
			lines = append(lines, item)
		}
	}
	if len(lines) == 0 {
		return services.Email{}, fmt.Errorf("renderer: order %s has no lines for designer %s", order.ID, designer.ID)
	}
	view := r.view(order, lines)
	view.Designer = firstNonBlank(designer.Name, designer.Email)
	body, err := r.execute(r.designer, view)
	if err != nil {
		return services.Email{}, err
	}
	return services.Email{
		To:      strings.TrimSpace(designer.Email),
		Subject: fmt.Sprintf("New order %s", order.OrderNumber),
		HTML:    string(body),
	}, nil
}

func (r *Renderer) execute(tmpl *template.Template, view documentView) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("renderer: execute %s: %w", tmpl.Name(), err)
	}
	return r.policy.SanitizeBytes(buf.Bytes()), nil
}

func (r *Renderer) view(order services.Order, items []services.OrderLineItem) documentView {
	cur := order.Currency
	view := documentView{
		Store:       r.store,
		OrderNumber: order.OrderNumber,
		PlacedAt:    order.Timestamps.PlacedAt.Format("2006-01-02"),
		Subtotal:    r.money(order.Subtotal, cur),
		Tax:         r.money(order.TaxAmount, cur),
		Shipping:    r.money(order.ShippingCost, cur),
		Total:       r.money(order.TotalAmount, cur),
		CouponCode:  order.CouponCode,
		Address:     addressLines(order.ShippingAddress),
	}
	if order.DiscountAmount != 0 {
		view.Discount = r.money(order.DiscountAmount, cur)
	}
	for _, item := range items {
		view.Lines = append(view.Lines, lineView{
			Name:          firstNonBlank(item.ProductName, item.ProductID),
			Variant:       strings.TrimSpace(item.Color + " / " + item.Size),
			Quantity:      item.Quantity,
			UnitPrice:     r.money(item.UnitPrice, cur),
			LineTotal:     r.money(item.UnitPrice*int64(item.Quantity), cur),
			Customization: customizationLines(item.Customization),
		})
	}
	return view
}

// money formats minor units using the currency's standard scale.
func (r *Renderer) money(amount int64, code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return r.printer.Sprintf("%d %s", amount, strings.ToUpper(code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := float64(amount) / math.Pow10(scale)
	return r.printer.Sprint(currency.Symbol(unit.Amount(value)))
}

func addressLines(addr *services.Address) []string {
	if addr == nil {
		return nil
	}
	lines := []string{addr.Recipient, addr.Line1}
	if addr.Line2 != nil {
		lines = append(lines, *addr.Line2)
	}
	city := addr.City
	if addr.State != nil && *addr.State != "" {
		city += ", " + *addr.State
	}
	lines = append(lines, strings.TrimSpace(city+" "+addr.PostalCode), addr.Country)
	out := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func customizationLines(values map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+": "+values[key])
	}
	return out
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

const linesTable = `<table class="lines">
<tr><th>Item</th><th>Variant</th><th>Qty</th><th>Price</th><th>Total</th></tr>
{{range .Lines}}<tr><td>{{.Name}}{{range .Customization}}<br><small>{{.}}</small>{{end}}</td><td>{{.Variant}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.LineTotal}}</td></tr>
{{end}}</table>`

const totalsTable = `<table class="totals">
<tr><td>Subtotal</td><td>{{.Subtotal}}</td></tr>
{{if .Discount}}<tr><td>Discount{{if .CouponCode}} ({{.CouponCode}}){{end}}</td><td>-{{.Discount}}</td></tr>{{end}}
<tr><td>Tax</td><td>{{.Tax}}</td></tr>
<tr><td>Shipping</td><td>{{.Shipping}}</td></tr>
<tr><td><strong>Total</strong></td><td><strong>{{.Total}}</strong></td></tr>
</table>`

const invoiceTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Invoice {{.OrderNumber}}</title></head>
<body>
<h1>{{.Store}} invoice {{.OrderNumber}}</h1>
<p>Date: {{.PlacedAt}}</p>
{{if .Customer}}<p>Billed to: {{.Customer}}</p>{{end}}
{{if .Address}}<p>{{range .Address}}{{.}}<br>{{end}}</p>{{end}}
` + linesTable + totalsTable + `
</body></html>`

const purchaserTemplate = `<p>Hi {{if .Customer}}{{.Customer}}{{else}}there{{end}},</p>
<p>Thanks for shopping with {{.Store}}. Your order <strong>{{.OrderNumber}}</strong> has been placed.</p>
` + linesTable + totalsTable

const designerTemplate = `<p>Hello {{.Designer}},</p>
<p>Order <strong>{{.OrderNumber}}</strong> includes the following items from your collection.</p>
` + linesTable
