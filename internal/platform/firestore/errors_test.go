package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/loomline/api/internal/platform/config"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{codes.NotFound, true, false, false},
		{codes.AlreadyExists, false, true, false},
		{codes.FailedPrecondition, false, true, false},
		{codes.Aborted, false, true, false},
		{codes.Unavailable, false, false, true},
		{codes.ResourceExhausted, false, false, true},
		{codes.PermissionDenied, false, false, false},
	}

	for _, tc := range cases {
		err := WrapError("carts.save", status.Error(tc.code, "boom"))
		var fsErr *Error
		if !errors.As(err, &fsErr) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if fsErr.IsNotFound() != tc.notFound || fsErr.IsConflict() != tc.conflict || fsErr.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification notFound=%v conflict=%v unavailable=%v", tc.code, fsErr.IsNotFound(), fsErr.IsConflict(), fsErr.IsUnavailable())
		}
	}
}

func TestWrapErrorPassesThroughCancellation(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestWrapErrorKeepsExistingRepositoryError(t *testing.T) {
	original := NewError("", codes.FailedPrecondition, "version %d is stale", 3)
	wrapped := WrapError("carts.save", original)
	var fsErr *Error
	if !errors.As(wrapped, &fsErr) || fsErr != original {
		t.Fatalf("expected original error to be returned, got %v", wrapped)
	}
	if fsErr.Error() != "carts.save: version 3 is stale" {
		t.Fatalf("unexpected message %q", fsErr.Error())
	}
}

func TestTransactionFromEmptyContext(t *testing.T) {
	if _, ok := TransactionFrom(context.Background()); ok {
		t.Fatal("expected no transaction on background context")
	}
}

func TestNewProviderResolvesEnvironment(t *testing.T) {
	t.Setenv(envGoogleProjectID, "env-project")
	t.Setenv(envEmulatorHost, "localhost:8681")

	p := NewProvider(config.FirestoreConfig{}, WithTransactionPolicy(2, 0))
	if p.projectID != "env-project" || p.emulator != "localhost:8681" {
		t.Fatalf("expected environment fallback, got project=%q emulator=%q", p.projectID, p.emulator)
	}
	if p.tx.attempts != 2 || p.tx.timeout != defaultTxTimeout {
		t.Fatalf("unexpected transaction policy %+v", p.tx)
	}

	explicit := NewProvider(config.FirestoreConfig{ProjectID: " loomline-dev "})
	if explicit.projectID != "loomline-dev" {
		t.Fatalf("expected configured project to win, got %q", explicit.projectID)
	}
}

func TestClosedProviderRejectsClient(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "p"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
