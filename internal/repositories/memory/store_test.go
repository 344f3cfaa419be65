package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/loomline/api/internal/domain"
	"github.com/loomline/api/internal/repositories"
)

var redM = domain.VariantKey{ProductID: "prod-linen", Color: "red", Size: "M"}

func seededStore(t *testing.T) *Store {
	t.Helper()
	seed, err := LoadSeedFile("testdata/seed.yaml")
	require.NoError(t, err)
	return New(WithSeed(seed))
}

func TestSeedLoadsFixtures(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	product, err := store.Products().FindByID(ctx, "prod-linen")
	require.NoError(t, err)
	assert.Equal(t, "USD", product.Currency)
	require.Len(t, product.Variants, 1)
	assert.Len(t, product.Variants[0].Sizes, 2)

	stock, err := store.Inventory().Get(ctx, redM)
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Available)

	coupon, err := store.Coupons().FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.True(t, coupon.Active)
	assert.EqualValues(t, 1000, coupon.Amount)

	designer, err := store.Designers().FindByID(ctx, "designer-ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", designer.Email)
}

func TestParseSeedRejectsInvalidStock(t *testing.T) {
	_, err := ParseSeed([]byte("stock:\n  - productId: p\n    color: red\n    available: 3\n"))
	assert.Error(t, err)
}

func TestConcurrentReserveAgainstLimitedStock(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		failed  int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Inventory().Reserve(ctx, redM, 3)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			assert.True(t, repositories.IsConflict(err), "unexpected error %v", err)
			failed++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, failed)
	stock, err := store.Inventory().Get(ctx, redM)
	require.NoError(t, err)
	assert.Equal(t, 2, stock.Available)
}

func TestReserveUnknownKeyIsNotFound(t *testing.T) {
	store := New()
	_, err := store.Inventory().Reserve(context.Background(), redM, 1)
	assert.True(t, repositories.IsNotFound(err))
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := store.Inventory().Reserve(ctx, redM, 2); err != nil {
			return err
		}
		if _, err := store.Carts().Save(ctx, domain.Cart{ID: "cart-1", UserID: "user-1"}, 0); err != nil {
			return err
		}
		if err := store.Orders().Insert(ctx, domain.Order{ID: "ord-1", UserID: "user-1", CheckoutKey: "cart:cart-1:1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stock, err := store.Inventory().Get(ctx, redM)
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Available)
	_, err = store.Carts().FindByUser(ctx, "user-1")
	assert.True(t, repositories.IsNotFound(err))
	_, err = store.Orders().FindByCheckoutKey(ctx, "cart:cart-1:1")
	assert.True(t, repositories.IsNotFound(err))
}

func TestCartSaveChecksVersion(t *testing.T) {
	store := New()
	ctx := context.Background()
	cart := domain.Cart{ID: "cart-1", UserID: "user-1", Items: []domain.CartItem{{ProductID: "p", Quantity: 1, Customization: map[string]string{"initials": "AB"}}}}

	saved, err := store.Carts().Save(ctx, cart, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.Version)

	_, err = store.Carts().Save(ctx, cart, 0)
	assert.True(t, repositories.IsConflict(err))

	saved.Items[0].Customization["initials"] = "ZZ"
	reloaded, err := store.Carts().FindByID(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, "AB", reloaded.Items[0].Customization["initials"], "stored cart must not alias caller maps")
}

func TestCouponRedeemIsAppendIfAbsent(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := store.Coupons().Redeem(ctx, "save10", "user-1", now)
	require.NoError(t, err)
	_, err = store.Coupons().Redeem(ctx, "SAVE10", "user-1", now)
	assert.True(t, repositories.IsConflict(err))

	require.NoError(t, store.Coupons().Withdraw(ctx, "SAVE10", "user-1"))
	coupon, err := store.Coupons().FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Empty(t, coupon.RedeemedBy)
}

func TestOrderInsertRejectsDuplicateCheckoutKey(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.Orders().Insert(ctx, domain.Order{ID: "ord-1", CheckoutKey: "payment:TX1"}))
	err := store.Orders().Insert(ctx, domain.Order{ID: "ord-2", CheckoutKey: "payment:TX1"})
	assert.True(t, repositories.IsConflict(err))
}

func TestListByUserPagesNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Orders().Insert(ctx, domain.Order{
			ID:          id,
			UserID:      "user-1",
			CheckoutKey: "k-" + id,
			CreatedAt:   base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.Orders().Insert(ctx, domain.Order{ID: "other", UserID: "user-2", CheckoutKey: "k-other", CreatedAt: base}))

	first, err := store.Orders().ListByUser(ctx, "user-1", domain.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "c", first.Items[0].ID)
	assert.Equal(t, "b", first.Items[1].ID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := store.Orders().ListByUser(ctx, "user-1", domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "a", second.Items[0].ID)
	assert.Empty(t, second.NextPageToken)
}

func TestPaymentTransitionIsConditional(t *testing.T) {
	store := New()
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Payments().Insert(ctx, domain.Payment{TransactionID: "TX1", Status: domain.PaymentStatusPending, CreatedAt: created}))

	update := repositories.PaymentUpdate{Status: domain.PaymentStatusPaid, InstrumentType: "CARD", SettledAt: created.Add(time.Minute)}
	paid, err := store.Payments().Transition(ctx, "TX1", domain.PaymentStatusPending, update)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, paid.Status)
	require.NotNil(t, paid.SettledAt)

	_, err = store.Payments().Transition(ctx, "TX1", domain.PaymentStatusPending, update)
	assert.True(t, repositories.IsConflict(err))

	pending, err := store.Payments().ListPendingBefore(ctx, created.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPaymentMarkUnfulfilledKeepsAttachedOrders(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.Payments().Insert(ctx, domain.Payment{TransactionID: "TX1", Status: domain.PaymentStatusPaid, CartVersion: 3}))
	require.NoError(t, store.Payments().Insert(ctx, domain.Payment{TransactionID: "TX2", Status: domain.PaymentStatusPaid}))

	require.NoError(t, store.Payments().MarkUnfulfilled(ctx, "TX1", "cart_changed"))
	flagged, err := store.Payments().FindByTransactionID(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, "cart_changed", flagged.FailureReason)
	assert.Equal(t, domain.PaymentStatusPaid, flagged.Status)
	assert.EqualValues(t, 3, flagged.CartVersion)

	require.NoError(t, store.Payments().AttachOrder(ctx, "TX2", "order-1"))
	err = store.Payments().MarkUnfulfilled(ctx, "TX2", "cart_changed")
	assert.True(t, repositories.IsConflict(err))

	err = store.Payments().MarkUnfulfilled(ctx, "TX9", "cart_changed")
	assert.True(t, repositories.IsNotFound(err))
}

func TestWithInventoryRoutesLedgerAndHealth(t *testing.T) {
	ctx := context.Background()
	seed, err := LoadSeedFile("testdata/seed.yaml")
	require.NoError(t, err)

	ledger := New().Inventory()
	store := New(
		WithSeed(seed),
		WithInventory(ledger),
		WithHealthChecks(repositories.DependencyCheck{
			Name:  "ledger",
			Check: func(context.Context) error { return errors.New("locked") },
		}),
	)
	require.NoError(t, seed.ApplyInventory(ctx, store.Inventory()))

	stock, err := ledger.Get(ctx, redM)
	require.NoError(t, err)
	assert.Equal(t, 5, stock.Available)

	_, err = store.Inventory().Reserve(ctx, redM, 2)
	require.NoError(t, err)
	stock, err = ledger.Get(ctx, redM)
	require.NoError(t, err)
	assert.Equal(t, 3, stock.Available)

	report, err := store.Health().Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, "locked", report.Checks["ledger"].Detail)
}
