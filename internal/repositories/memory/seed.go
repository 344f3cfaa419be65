package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

// Seed is the fixture file format used for local development.
type Seed struct {
	Products  []seedProduct  `yaml:"products"`
	Stock     []seedStock    `yaml:"stock"`
	Coupons   []seedCoupon   `yaml:"coupons"`
	Designers []seedDesigner `yaml:"designers"`
	Profiles  []seedProfile  `yaml:"profiles"`
}

type seedProduct struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	DesignerID   string        `yaml:"designerId"`
	Currency     string        `yaml:"currency"`
	Customizable bool          `yaml:"customizable"`
	Variants     []seedVariant `yaml:"variants"`
}

type seedVariant struct {
	Color string `yaml:"color"`
	Sizes []struct {
		Size  string `yaml:"size"`
		Price int64  `yaml:"price"`
	} `yaml:"sizes"`
}

type seedStock struct {
	ProductID string `yaml:"productId"`
	Color     string `yaml:"color"`
	Size      string `yaml:"size"`
	Available int    `yaml:"available"`
}

type seedCoupon struct {
	Code      string    `yaml:"code"`
	Amount    int64     `yaml:"amount"`
	ExpiresAt time.Time `yaml:"expiresAt"`
	Active    *bool     `yaml:"active"`
}

type seedDesigner struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type seedProfile struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Email     string `yaml:"email"`
	PushToken string `yaml:"pushToken"`
}

// ParseSeed decodes a YAML fixture document.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("memory: parse seed: %w", err)
	}
	for i, p := range seed.Products {
		if strings.TrimSpace(p.ID) == "" {
			return Seed{}, fmt.Errorf("memory: product %d has no id", i)
		}
	}
	for i, st := range seed.Stock {
		key := domain.VariantKey{ProductID: st.ProductID, Color: st.Color, Size: st.Size}
		if !key.Valid() || st.Available < 0 {
			return Seed{}, fmt.Errorf("memory: stock row %d is invalid", i)
		}
	}
	return seed, nil
}

// LoadSeedFile reads and parses the fixture file at path.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("memory: read seed: %w", err)
	}
	return ParseSeed(data)
}

// ApplyInventory writes the seed's stock rows to ledger, which may be any backend.
func (seed Seed) ApplyInventory(ctx context.Context, ledger repositories.InventoryRepository) error {
	for _, st := range seed.Stock {
		key := domain.VariantKey{ProductID: st.ProductID, Color: st.Color, Size: st.Size}
		if err := ledger.SetStock(ctx, key, st.Available); err != nil {
			return fmt.Errorf("memory: seed stock %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) applySeed(seed Seed) {
	now := s.now()
	for _, p := range seed.Products {
		product := domain.Product{
			ID:           p.ID,
			Name:         p.Name,
			DesignerID:   p.DesignerID,
			Currency:     strings.ToUpper(p.Currency),
			Customizable: p.Customizable,
			UpdatedAt:    now,
		}
		for _, v := range p.Variants {
			variant := domain.ProductVariant{Color: v.Color}
			for _, size := range v.Sizes {
				variant.Sizes = append(variant.Sizes, domain.SizeOption{Size: size.Size, Price: size.Price})
			}
			product.Variants = append(product.Variants, variant)
		}
		s.products[product.ID] = product
	}
	for _, st := range seed.Stock {
		key := domain.VariantKey{ProductID: st.ProductID, Color: st.Color, Size: st.Size}.Normalize()
		s.stock[key] = domain.InventoryStock{Key: key, Available: st.Available, UpdatedAt: now}
	}
	for _, c := range seed.Coupons {
		active := true
		if c.Active != nil {
			active = *c.Active
		}
		code := normalizeCode(c.Code)
		s.coupons[code] = domain.Coupon{Code: code, Amount: c.Amount, ExpiresAt: c.ExpiresAt.UTC(), Active: active, CreatedAt: now, UpdatedAt: now}
	}
	for _, d := range seed.Designers {
		s.designers[d.ID] = domain.Designer{ID: d.ID, Name: d.Name, Email: d.Email}
	}
	for _, p := range seed.Profiles {
		s.profiles[p.ID] = domain.CustomerProfile{ID: p.ID, Name: p.Name, Email: p.Email, PushToken: p.PushToken}
	}
}
