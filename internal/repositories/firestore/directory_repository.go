package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"

	domain "github.com/loomline/api/internal/domain"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/repositories"
)

// DesignerRepository reads designer contact documents.
type DesignerRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.DesignerRepository = (*DesignerRepository)(nil)

// NewDesignerRepository constructs a Firestore-backed designer repository.
func NewDesignerRepository(provider *pfirestore.Provider) (*DesignerRepository, error) {
	if provider == nil {
		return nil, errors.New("designer repository requires firestore provider")
	}
	return &DesignerRepository{provider: provider}, nil
}

// FindByID loads a designer.
func (r *DesignerRepository) FindByID(ctx context.Context, designerID string) (domain.Designer, error) {
	id := strings.TrimSpace(designerID)
	if id == "" {
		return domain.Designer{}, pfirestore.NewError("designers.find", codes.InvalidArgument, "designer id is required")
	}
	coll, err := r.provider.Collection(ctx, designersCollection)
	if err != nil {
		return domain.Designer{}, pfirestore.WrapError("designers.find", err)
	}
	snap, err := pfirestore.GetDoc(ctx, coll.Doc(id))
	if err != nil {
		return domain.Designer{}, pfirestore.WrapError("designers.find", err)
	}
	var doc designerDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Designer{}, pfirestore.WrapError("designers.decode", err)
	}
	return domain.Designer{ID: id, Name: doc.Name, Email: doc.Email}, nil
}

// ProfileRepository reads customer profile documents.
type ProfileRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a Firestore-backed profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository requires firestore provider")
	}
	return &ProfileRepository{provider: provider}, nil
}

// FindByID loads the profile of userID.
func (r *ProfileRepository) FindByID(ctx context.Context, userID string) (domain.CustomerProfile, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.CustomerProfile{}, pfirestore.NewError("profiles.find", codes.InvalidArgument, "user id is required")
	}
	coll, err := r.provider.Collection(ctx, profilesCollection)
	if err != nil {
		return domain.CustomerProfile{}, pfirestore.WrapError("profiles.find", err)
	}
	snap, err := pfirestore.GetDoc(ctx, coll.Doc(id))
	if err != nil {
		return domain.CustomerProfile{}, pfirestore.WrapError("profiles.find", err)
	}
	var doc profileDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.CustomerProfile{}, pfirestore.WrapError("profiles.decode", err)
	}
	return domain.CustomerProfile{
		ID:              id,
		Name:            doc.Name,
		Email:           doc.Email,
		PushToken:       doc.PushToken,
		ShippingAddress: addressFromDocument(doc.ShippingAddress),
	}, nil
}

// NotificationRepository writes in-app notifications.
type NotificationRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{provider: provider}, nil
}

// Insert stores a notification, assigning an id when absent.
func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	id := strings.TrimSpace(notification.ID)
	if id == "" {
		id = ulid.Make().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	coll, err := r.provider.Collection(ctx, notificationsCollection)
	if err != nil {
		return pfirestore.WrapError("notifications.insert", err)
	}
	doc := notificationDocument{
		RecipientID: notification.RecipientID,
		Kind:        notification.Kind,
		OrderID:     notification.OrderID,
		Message:     notification.Message,
		Read:        notification.Read,
		CreatedAt:   notification.CreatedAt.UTC(),
	}
	return pfirestore.WrapError("notifications.insert", pfirestore.CreateDoc(ctx, coll.Doc(id), doc))
}
