package rooms

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Conn is the slice of a live connection that room delivery needs. The
// gateway owns the socket; rooms only index it.
type Conn interface {
	ID() string
	Send(event string, payload any) error
	Close() error
}

// RoomFor names the broadcast group for one actor.
func RoomFor(actorType, actorID string) string {
	return actorType + ":" + actorID
}

// Member identifies a connection somewhere in the fleet.
type Member struct {
	Node   string
	ConnID string
}

func (m Member) String() string { return m.Node + "|" + m.ConnID }

func parseMember(s string) Member {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return Member{Node: s[:i], ConnID: s[i+1:]}
	}
	return Member{ConnID: s}
}

const (
	relayChannel = "dispatch.rooms"

	// each node refreshes its own liveness key; members of a node whose key
	// expired are leftovers of a crash and get reconciled away
	heartbeatTTL      = 30 * time.Second
	heartbeatInterval = 10 * time.Second
)

func nodeKey(node string) string { return "node:alive:" + node }

type relayEnvelope struct {
	Kind    string          `json:"kind"` // "emit" or "evict"
	Room    string          `json:"room"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Origin  string          `json:"origin"`
	Except  string          `json:"except,omitempty"`
}

// Rooms tracks node-local membership and mirrors it into a shared redis set
// so membership queries and deliveries see the whole fleet. When client is
// nil (tests, single-node runs) everything degrades to node-local maps.
type Rooms struct {
	node   string
	client *redis.Client
	logger *slog.Logger

	mu    sync.RWMutex
	local map[string]map[string]Conn
}

func New(node string, client *redis.Client, logger *slog.Logger) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{
		node:   node,
		client: client,
		logger: logger,
		local:  make(map[string]map[string]Conn),
	}
}

func fleetKey(room string) string { return "room:" + room }

func (r *Rooms) Join(ctx context.Context, room string, c Conn) error {
	r.mu.Lock()
	if r.local[room] == nil {
		r.local[room] = make(map[string]Conn)
	}
	r.local[room][c.ID()] = c
	r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	return r.client.SAdd(ctx, fleetKey(room), Member{Node: r.node, ConnID: c.ID()}.String()).Err()
}

func (r *Rooms) Leave(ctx context.Context, room, connID string) error {
	r.mu.Lock()
	if conns, ok := r.local[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.local, room)
		}
	}
	r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	return r.client.SRem(ctx, fleetKey(room), Member{Node: r.node, ConnID: connID}.String()).Err()
}

// Members reports fleet-wide membership. The shared set is the truth; the
// local map is only consulted when no shared store is configured.
func (r *Rooms) Members(ctx context.Context, room string) ([]Member, error) {
	if r.client == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		out := make([]Member, 0, len(r.local[room]))
		for id := range r.local[room] {
			out = append(out, Member{Node: r.node, ConnID: id})
		}
		return out, nil
	}
	raw, err := r.client.SMembers(ctx, fleetKey(room)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(raw))
	nodeAlive := make(map[string]bool)
	for _, s := range raw {
		m := parseMember(s)
		if m.Node == r.node {
			// the local map is the truth for this node's own entries
			r.mu.RLock()
			_, live := r.local[room][m.ConnID]
			r.mu.RUnlock()
			if !live {
				_ = r.client.SRem(ctx, fleetKey(room), s).Err()
				continue
			}
			out = append(out, m)
			continue
		}
		alive, probed := nodeAlive[m.Node]
		if !probed {
			n, err := r.client.Exists(ctx, nodeKey(m.Node)).Result()
			if err != nil {
				// cannot disprove liveness, keep the member
				out = append(out, m)
				continue
			}
			alive = n > 0
			nodeAlive[m.Node] = alive
		}
		if !alive {
			r.logger.Info("dropping room member of dead node", "room", room, "node", m.Node, "conn", m.ConnID)
			_ = r.client.SRem(ctx, fleetKey(room), s).Err()
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Emit delivers an event to every member of the room across the fleet and
// returns the fleet-wide member count observed at send time.
func (r *Rooms) Emit(ctx context.Context, room, event string, payload any) (int, error) {
	members, err := r.Members(ctx, room)
	if err != nil {
		return 0, err
	}
	r.deliverLocal(room, event, payload, "")
	if r.client != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return len(members), err
		}
		env := relayEnvelope{Kind: "emit", Room: room, Event: event, Payload: body, Origin: r.node}
		msg, _ := json.Marshal(env)
		if err := r.client.Publish(ctx, relayChannel, msg).Err(); err != nil {
			return len(members), err
		}
	}
	return len(members), nil
}

// Evict force-disconnects every member of the room on every node, sparing
// exceptConnID. Used when an admission finds leftovers of a dead holder.
func (r *Rooms) Evict(ctx context.Context, room, exceptConnID string) error {
	r.evictLocal(ctx, room, exceptConnID)
	if r.client == nil {
		return nil
	}
	env := relayEnvelope{Kind: "evict", Room: room, Origin: r.node, Except: exceptConnID}
	msg, _ := json.Marshal(env)
	return r.client.Publish(ctx, relayChannel, msg).Err()
}

// Run consumes the relay channel and keeps this node's heartbeat fresh
// until ctx is done. Each node delivers relayed events to its own local
// members only.
func (r *Rooms) Run(ctx context.Context) {
	if r.client == nil {
		return
	}
	r.heartbeat(ctx)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	sub := r.client.Subscribe(ctx, relayChannel)
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("bad relay envelope", "error", err)
				continue
			}
			switch env.Kind {
			case "emit":
				if env.Origin != r.node {
					r.deliverLocal(env.Room, env.Event, env.Payload, "")
				}
			case "evict":
				if env.Origin != r.node {
					r.evictLocal(ctx, env.Room, env.Except)
				}
			}
		}
	}
}

func (r *Rooms) heartbeat(ctx context.Context) {
	if err := r.client.Set(ctx, nodeKey(r.node), "1", heartbeatTTL).Err(); err != nil {
		r.logger.Warn("node heartbeat failed", "error", err)
	}
}

func (r *Rooms) deliverLocal(room, event string, payload any, exceptConnID string) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.local[room]))
	for id, c := range r.local[room] {
		if id == exceptConnID {
			continue
		}
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		if err := c.Send(event, payload); err != nil {
			r.logger.Warn("room delivery failed", "room", room, "conn", c.ID(), "error", err)
		}
	}
}

func (r *Rooms) evictLocal(ctx context.Context, room, exceptConnID string) {
	r.mu.Lock()
	victims := make([]Conn, 0)
	for id, c := range r.local[room] {
		if id == exceptConnID {
			continue
		}
		victims = append(victims, c)
		delete(r.local[room], id)
	}
	if len(r.local[room]) == 0 {
		delete(r.local, room)
	}
	r.mu.Unlock()
	for _, c := range victims {
		if r.client != nil {
			_ = r.client.SRem(ctx, fleetKey(room), Member{Node: r.node, ConnID: c.ID()}.String()).Err()
		}
		_ = c.Close()
	}
}
