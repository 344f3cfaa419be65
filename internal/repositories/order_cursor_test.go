package repositories

import (
	"errors"
	"testing"
	"time"

	"github.com/loomline/api/internal/platform/pagination"
)

func TestOrderCursorRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	token, err := EncodeOrderCursor(at, "ord-9")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeOrderCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cursor.CreatedAt.Equal(at) || cursor.ID != "ord-9" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
}

func TestOrderCursorAfter(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cursor := OrderCursor{CreatedAt: at, ID: "b"}

	if !cursor.After(at.Add(-time.Second), "z") {
		t.Fatal("older order should follow the cursor")
	}
	if cursor.After(at.Add(time.Second), "a") {
		t.Fatal("newer order should precede the cursor")
	}
	if !cursor.After(at, "a") || cursor.After(at, "c") {
		t.Fatal("ties should order by descending id")
	}
	if !(OrderCursor{}).After(at, "x") {
		t.Fatal("zero cursor admits every order")
	}
}

func TestDecodeOrderCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeOrderCursor("%%%"); !errors.Is(err, pagination.ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}
