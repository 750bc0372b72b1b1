package username

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func TestMemoryStore_ReserveAndAvailability(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	alice, bob := uuid.New(), uuid.New()

	if ok, err := s.IsAvailable(ctx, "river_fox"); err != nil || !ok {
		t.Fatalf("IsAvailable()=%v,%v, want true", ok, err)
	}
	if err := s.Reserve(ctx, "river_fox", alice); err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if err := s.Reserve(ctx, "river_fox", alice); err != nil {
		t.Fatalf("Reserve() by owner error: %v", err)
	}
	if err := s.Reserve(ctx, "river_fox", bob); !errors.Is(err, ErrTaken) {
		t.Fatalf("Reserve() by other error=%v, want ErrTaken", err)
	}
	if ok, _ := s.IsAvailable(ctx, "river_fox"); ok {
		t.Fatal("IsAvailable() after Reserve = true")
	}
	if s.Len() != 1 {
		t.Fatalf("Len()=%d, want 1", s.Len())
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	s.Close()
	if _, err := s.IsAvailable(context.Background(), "river_fox"); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("IsAvailable() error=%v, want ErrStoreClosed", err)
	}
	if err := s.Reserve(context.Background(), "river_fox", uuid.New()); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("Reserve() error=%v, want ErrStoreClosed", err)
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().IsAvailable(ctx, "river_fox"); !errors.Is(err, context.Canceled) {
		t.Fatalf("IsAvailable() error=%v, want context.Canceled", err)
	}
}

func TestGormStore_AvailabilityQuery(t *testing.T) {
	s, err := OpenGormStore("host=localhost user=tether dbname=tether sslmode=disable", WithDryRun())
	if err != nil {
		t.Fatalf("OpenGormStore() error: %v", err)
	}
	defer s.Close()

	sql := s.DB().ToSQL(func(tx *gorm.DB) *gorm.DB {
		var n int64
		return s.availabilityQuery(tx, "river_fox").Count(&n)
	})
	for _, want := range []string{"count(*)", `"accounts"`, "username = 'river_fox'"} {
		if !strings.Contains(sql, want) {
			t.Errorf("query %q does not contain %q", sql, want)
		}
	}
}
