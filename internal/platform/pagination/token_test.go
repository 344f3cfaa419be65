package pagination

import (
	"errors"
	"testing"
	"time"
)

type orderCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func TestTokenRoundTrip(t *testing.T) {
	in := orderCursor{CreatedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), ID: "ord_1"}
	token, err := EncodeToken(in)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	out, err := DecodeToken[orderCursor](token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.ID != in.ID {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken[orderCursor]("%%%"); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
	cursor, err := DecodeToken[orderCursor]("  ")
	if err != nil || cursor.ID != "" {
		t.Fatalf("expected zero cursor for empty token, got %+v %v", cursor, err)
	}
}

func TestNormalizePageSize(t *testing.T) {
	if NormalizePageSize(0) != DefaultPageSize || NormalizePageSize(500) != MaxPageSize || NormalizePageSize(7) != 7 {
		t.Fatal("unexpected page size normalisation")
	}
}
