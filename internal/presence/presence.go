package presence

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Meta is the scoring metadata the fleet keeps per driver. It is written by
// the presence consumer and read during candidate enrichment; a driver with
// no record scores as a newcomer (all zeros).
type Meta struct {
	ActivePoints      int `json:"activePoints"`
	CurrentOrderCount int `json:"currentOrderCount"`
}

func metaKey(driverID string) string { return "driver:meta:" + driverID }

// Store keeps driver metadata in redis hashes shared by the fleet.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) DriverMeta(ctx context.Context, driverID string) (Meta, error) {
	m, err := s.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if v, ok := m["activePoints"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			meta.ActivePoints = n
		}
	}
	if v, ok := m["currentOrderCount"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			meta.CurrentOrderCount = n
		}
	}
	return meta, nil
}

func (s *Store) SetDriverMeta(ctx context.Context, driverID string, meta Meta) error {
	return s.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"activePoints":      meta.ActivePoints,
		"currentOrderCount": meta.CurrentOrderCount,
	}).Err()
}

// AddOrderCount shifts a driver's concurrent order load; the workflow calls
// it with +1 on assignment and -1 when the order reaches a terminal state.
func (s *Store) AddOrderCount(ctx context.Context, driverID string, delta int) error {
	return s.client.HIncrBy(ctx, metaKey(driverID), "currentOrderCount", int64(delta)).Err()
}

func (s *Store) AddActivePoints(ctx context.Context, driverID string, delta int) error {
	return s.client.HIncrBy(ctx, metaKey(driverID), "activePoints", int64(delta)).Err()
}
