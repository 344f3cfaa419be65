package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/platform/pagination"
	"github.com/loomline/api/internal/repositories"
)

// OrderRepository persists orders together with a checkoutKeys index that makes checkout
// idempotent: the key document is created in the same transaction as the order.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func checkoutKeyID(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), "/", "_")
}

// Insert creates the order and claims its checkout key. Either document already existing
// aborts the write with a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.CheckoutKey) == "" {
		return pfirestore.NewError("orders.insert", codes.InvalidArgument, "order id and checkout key are required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	orderRef := client.Collection(ordersCollection).Doc(order.ID)
	keyRef := client.Collection(checkoutKeysCollection).Doc(checkoutKeyID(order.CheckoutKey))

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(keyRef, checkoutKeyDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(orderRef, orderToDocument(order))
	})
	return pfirestore.WrapError("orders.insert", err)
}

// Update overwrites the mutable status fields of an existing order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return pfirestore.NewError("orders.update", codes.InvalidArgument, "order id is required")
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	doc := orderToDocument(order)
	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "items", Value: doc.Items},
		{Path: "invoiceUrl", Value: doc.InvoiceURL},
		{Path: "processingAt", Value: doc.ProcessingAt},
		{Path: "shippedAt", Value: doc.ShippedAt},
		{Path: "deliveredAt", Value: doc.DeliveredAt},
		{Path: "cancelledAt", Value: doc.CancelledAt},
		{Path: "returnedAt", Value: doc.ReturnedAt},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	ref := coll.Doc(order.ID)
	if tx, ok := pfirestore.TransactionFrom(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Update(ref, updates))
	}
	_, err = ref.Update(ctx, updates)
	return pfirestore.WrapError("orders.update", err)
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, pfirestore.NewError("orders.find", codes.InvalidArgument, "order id is required")
	}
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	snap, err := pfirestore.GetDoc(ctx, coll.Doc(orderID))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode", err)
	}
	return orderFromDocument(doc), nil
}

// FindByCheckoutKey resolves the order that claimed key.
func (r *OrderRepository) FindByCheckoutKey(ctx context.Context, key string) (domain.Order, error) {
	if strings.TrimSpace(key) == "" {
		return domain.Order{}, pfirestore.NewError("orders.find_by_key", codes.InvalidArgument, "checkout key is required")
	}
	coll, err := r.provider.Collection(ctx, checkoutKeysCollection)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_key", err)
	}
	snap, err := pfirestore.GetDoc(ctx, coll.Doc(checkoutKeyID(key)))
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_key", err)
	}
	var doc checkoutKeyDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode_key", err)
	}
	return r.FindByID(ctx, doc.OrderID)
}

// ListByUser pages through a user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, pfirestore.NewError("orders.list", codes.InvalidArgument, "user id is required")
	}
	cursor, err := repositories.DecodeOrderCursor(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.NewError("orders.list", codes.InvalidArgument, "%v", err)
	}
	size := pagination.NormalizePageSize(pager.PageSize)

	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	query := coll.Where("userId", "==", userID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy("id", firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	docs, _, err := pfirestore.DecodeAll[orderDocument](ctx, query.Limit(size+1), "orders.list")
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			break
		}
		page.Items = append(page.Items, orderFromDocument(doc))
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		token, err := repositories.EncodeOrderCursor(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}
