package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/order-dispatch/internal/lock"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/observability"
	"github.com/example/order-dispatch/internal/rooms"
)

// ErrAdmissionRejected means another live connection already owns the actor,
// or admission could not prove exclusivity and failed closed.
var ErrAdmissionRejected = errors.New("admission rejected")

const (
	connectLockTTL    = 30 * time.Second
	defaultAttempts   = 10
	defaultRetryDelay = 100 * time.Millisecond
)

// Registry enforces "one live connection per actor" across the fleet. It
// holds only a weak index (actor -> connection id) for lookup; the gateway
// owns connection lifecycles.
type Registry struct {
	node   string
	locks  lock.Lock
	rooms  *rooms.Rooms
	client *redis.Client // optional fleet-wide socket index
	logger *slog.Logger

	attempts   int
	retryDelay time.Duration

	mu      sync.Mutex
	byActor map[string]string   // actorType:actorID -> connection id
	alive   map[string]struct{} // connection ids this node accepted
}

func New(node string, locks lock.Lock, r *rooms.Rooms, client *redis.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		node:       node,
		locks:      locks,
		rooms:      r,
		client:     client,
		logger:     logger,
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
		byActor:    make(map[string]string),
		alive:      make(map[string]struct{}),
	}
}

// SetRetryPolicy overrides the bounds of the admission retry loop.
func (r *Registry) SetRetryPolicy(attempts int, delay time.Duration) {
	if attempts > 0 {
		r.attempts = attempts
	}
	if delay > 0 {
		r.retryDelay = delay
	}
}

func connectLockKey(actorType models.ActorType, actorID string) string {
	return "lock:connect:" + string(actorType) + ":" + actorID
}

func socketIndexKey(connID string) string { return "conn:alive:" + connID }

// Track indexes a freshly accepted socket before admission starts, so other
// nodes contending for the same actor can tell a live holder from a dead one.
func (r *Registry) Track(ctx context.Context, connID string) error {
	r.mu.Lock()
	r.alive[connID] = struct{}{}
	r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	return r.client.Set(ctx, socketIndexKey(connID), r.node, connectLockTTL).Err()
}

// Admit makes conn the single authoritative connection for the actor, or
// rejects it. The connection lock serializes concurrent admissions; room
// reconciliation cleans up after holders that died without leaving.
func (r *Registry) Admit(ctx context.Context, actorID string, actorType models.ActorType, conn rooms.Conn) error {
	key := connectLockKey(actorType, actorID)
	token := conn.ID()

	acquired := false
	for i := 0; i < r.attempts; i++ {
		ok, err := r.locks.TryAcquire(ctx, key, token, connectLockTTL)
		if err != nil {
			// fail closed: never allow two live connections on a guess
			observability.AdmissionsTotal.WithLabelValues(string(actorType), "rejected").Inc()
			return fmt.Errorf("%w: lock store unavailable: %v", ErrAdmissionRejected, err)
		}
		if ok {
			acquired = true
			break
		}
		holder, found, err := r.locks.Get(ctx, key)
		if err != nil {
			observability.AdmissionsTotal.WithLabelValues(string(actorType), "rejected").Inc()
			return fmt.Errorf("%w: lock store unavailable: %v", ErrAdmissionRejected, err)
		}
		if found && r.holderAlive(ctx, holder) {
			// first writer wins
			observability.AdmissionsTotal.WithLabelValues(string(actorType), "rejected").Inc()
			return fmt.Errorf("%w: actor %s/%s already connected", ErrAdmissionRejected, actorType, actorID)
		}
		if found {
			// the holder died mid-admission; take the lock over
			r.logger.Info("releasing stale connection lock", "actor", actorID, "holder", holder)
			if err := r.locks.ForceRelease(ctx, key); err != nil {
				r.logger.Warn("stale lock release failed", "key", key, "error", err)
			}
			continue
		}
		time.Sleep(r.retryDelay)
	}
	if !acquired {
		observability.AdmissionsTotal.WithLabelValues(string(actorType), "rejected").Inc()
		return fmt.Errorf("%w: lock contention not resolved after %d attempts", ErrAdmissionRejected, r.attempts)
	}
	defer func() {
		if _, err := r.locks.Release(ctx, key, token); err != nil {
			r.logger.Warn("connection lock release failed", "key", key, "error", err)
		}
	}()

	room := rooms.RoomFor(string(actorType), actorID)
	members, err := r.rooms.Members(ctx, room)
	if err != nil {
		observability.AdmissionsTotal.WithLabelValues(string(actorType), "rejected").Inc()
		return fmt.Errorf("%w: room membership query failed: %v", ErrAdmissionRejected, err)
	}
	if len(members) > 0 {
		// a prior holder left its seat behind; clear it everywhere first
		r.logger.Info("evicting stale room members", "room", room, "count", len(members))
		observability.ForcedEvictions.Add(float64(len(members)))
		if err := r.rooms.Evict(ctx, room, conn.ID()); err != nil {
			r.logger.Warn("room eviction failed", "room", room, "error", err)
		}
	}
	if err := r.rooms.Join(ctx, room, conn); err != nil {
		observability.AdmissionsTotal.WithLabelValues(string(actorType), "rejected").Inc()
		return fmt.Errorf("%w: room join failed: %v", ErrAdmissionRejected, err)
	}

	r.mu.Lock()
	r.byActor[string(actorType)+":"+actorID] = conn.ID()
	r.mu.Unlock()

	observability.AdmissionsTotal.WithLabelValues(string(actorType), "accepted").Inc()
	return nil
}

// Release cleans up after a disconnect. Node-local and idempotent; the actor
// mapping is removed only if it still points at this connection.
func (r *Registry) Release(ctx context.Context, actorID string, actorType models.ActorType, connID string) {
	akey := string(actorType) + ":" + actorID
	r.mu.Lock()
	if r.byActor[akey] == connID {
		delete(r.byActor, akey)
	}
	delete(r.alive, connID)
	r.mu.Unlock()

	if err := r.rooms.Leave(ctx, rooms.RoomFor(string(actorType), actorID), connID); err != nil {
		r.logger.Warn("room leave failed", "conn", connID, "error", err)
	}
	if r.client != nil {
		if err := r.client.Del(ctx, socketIndexKey(connID)).Err(); err != nil {
			r.logger.Warn("socket index cleanup failed", "conn", connID, "error", err)
		}
	}
}

// Lookup returns the authoritative connection id for an actor on this node.
func (r *Registry) Lookup(actorID string, actorType models.ActorType) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byActor[string(actorType)+":"+actorID]
	return id, ok
}

func (r *Registry) holderAlive(ctx context.Context, connID string) bool {
	r.mu.Lock()
	_, ok := r.alive[connID]
	r.mu.Unlock()
	if ok {
		return true
	}
	if r.client == nil {
		return false
	}
	n, err := r.client.Exists(ctx, socketIndexKey(connID)).Result()
	if err != nil {
		// cannot disprove liveness, assume the holder is alive
		return true
	}
	return n > 0
}
