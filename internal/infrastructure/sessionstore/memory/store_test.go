package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/docquery/internal/core/domain"
)

func TestGetReturnsNilForMissingSession(t *testing.T) {
	store := New()
	got, err := store.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestExpiryIsCheckedOnRead(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewWithClock(func() time.Time { return current })
	ctx := context.Background()

	session := domain.NewSession("sess-1", current)
	session.Append(domain.RoleUser, "hello", current)
	if err := store.Save(ctx, session, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	current = current.Add(59 * time.Minute)
	if got, _ := store.Get(ctx, "sess-1"); got == nil {
		t.Fatalf("session expired too early")
	}

	current = current.Add(2 * time.Minute)
	if got, _ := store.Get(ctx, "sess-1"); got != nil {
		t.Fatalf("expected expired session to be gone, got %+v", got)
	}
}

func TestSaveRefreshesExpiry(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewWithClock(func() time.Time { return current })
	ctx := context.Background()

	session := domain.NewSession("sess-1", current)
	if err := store.Save(ctx, session, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	current = current.Add(50 * time.Minute)
	if err := store.Save(ctx, session, time.Hour); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	current = current.Add(30 * time.Minute)
	if got, _ := store.Get(ctx, "sess-1"); got == nil {
		t.Fatalf("expected refreshed session to still exist")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()

	session := domain.NewSession("sess-1", time.Now())
	session.Append(domain.RoleUser, "original", time.Now())
	if err := store.Save(ctx, session, time.Hour); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	first, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.Messages[0].Content = "mutated"

	second, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second.Messages[0].Content != "original" {
		t.Fatalf("store leaked a mutable reference: %q", second.Messages[0].Content)
	}
}
