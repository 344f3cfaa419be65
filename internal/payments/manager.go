package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PaymentContext carries the hints used to pick a provider for one call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager routes calls to a registered provider. A provider is picked by, in order: the
// caller's preference, the currency route, the default, and finally the only registered one.
type Manager struct {
	providers      map[string]Provider
	fallback       string
	currencyRoutes map[string]string
}

type ManagerOption func(*Manager)

func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) {
		m.fallback = providerKey(name)
	}
}

// WithCurrencyRoutes maps ISO currency codes to provider names, e.g. {"EUR": "adyen"}.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, name := range routes {
			if m.currencyRoutes == nil {
				m.currencyRoutes = make(map[string]string, len(routes))
			}
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = providerKey(name)
		}
	}
}

func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for name, p := range providers {
		key := providerKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = p
	}
	if _, ok := m.providers["stripe"]; ok {
		m.fallback = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Providers lists the registered provider names in sorted order.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) pick(pc PaymentContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	candidates := []string{
		providerKey(pc.PreferredProvider),
		m.currencyRoutes[strings.ToUpper(strings.TrimSpace(pc.Currency))],
		m.fallback,
	}
	for _, name := range candidates {
		if p, ok := m.providers[name]; ok && name != "" {
			return name, p, nil
		}
	}
	if len(m.providers) == 1 {
		name := m.Providers()[0]
		return name, m.providers[name], nil
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent creates the intent and records which provider issued it.
func (m *Manager) CreateIntent(ctx context.Context, pc PaymentContext, req IntentRequest) (Intent, error) {
	name, p, err := m.pick(pc)
	if err != nil {
		return Intent{}, err
	}
	intent, err := p.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, fmt.Errorf("payments: %s create intent: %w", name, err)
	}
	intent.Provider = name
	return intent, nil
}

// CancelIntent cancels on the provider named by pc. Callers pass the provider stored with the
// payment so the cancel reaches the provider that issued the intent.
func (m *Manager) CancelIntent(ctx context.Context, pc PaymentContext, intentID string) error {
	name, p, err := m.pick(pc)
	if err != nil {
		return err
	}
	if err := p.CancelIntent(ctx, intentID); err != nil {
		return fmt.Errorf("payments: %s cancel intent: %w", name, err)
	}
	return nil
}

func (m *Manager) LookupPayment(ctx context.Context, pc PaymentContext, intentID string) (PaymentDetails, error) {
	name, p, err := m.pick(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := p.LookupPayment(ctx, intentID)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("payments: %s lookup: %w", name, err)
	}
	if details.Provider == "" {
		details.Provider = name
	}
	return details, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
