package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client)
}

func TestDriverMetaRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.SetDriverMeta(ctx, "d1", Meta{ActivePoints: 120, CurrentOrderCount: 2}); err != nil {
		t.Fatal(err)
	}
	meta, err := s.DriverMeta(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.ActivePoints != 120 || meta.CurrentOrderCount != 2 {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestUnknownDriverScoresAsNewcomer(t *testing.T) {
	s := testStore(t)
	meta, err := s.DriverMeta(context.Background(), "unknown")
	if err != nil {
		t.Fatal(err)
	}
	if meta.ActivePoints != 0 || meta.CurrentOrderCount != 0 {
		t.Fatalf("meta = %+v, want zeros", meta)
	}
}

func TestAddOrderCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_ = s.AddOrderCount(ctx, "d1", 1)
	_ = s.AddOrderCount(ctx, "d1", 1)
	_ = s.AddOrderCount(ctx, "d1", -1)

	meta, err := s.DriverMeta(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if meta.CurrentOrderCount != 1 {
		t.Fatalf("currentOrderCount = %d, want 1", meta.CurrentOrderCount)
	}
}
