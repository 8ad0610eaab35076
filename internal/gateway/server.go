package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/order-dispatch/internal/assignment"
	"github.com/example/order-dispatch/internal/auth"
	"github.com/example/order-dispatch/internal/bus"
	"github.com/example/order-dispatch/internal/lifecycle"
	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/rooms"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/workflow"
)

// PresenceWriter is the slice of the presence store the gateway updates when
// an order is assigned or finished.
type PresenceWriter interface {
	AddOrderCount(ctx context.Context, driverID string, delta int) error
}

// Server hosts the persistent actor connections and translates bus events
// into room deliveries.
type Server struct {
	Registry *registry.Registry
	Rooms    *rooms.Rooms
	Workflow *workflow.Service
	Notifier *notify.Dispatcher
	Bus      *bus.Bus
	Verifier auth.TokenVerifier
	Presence PresenceWriter // optional

	logger *slog.Logger
	mux    *mux.Router
	subs   []*bus.Subscription
}

func NewServer(reg *registry.Registry, rm *rooms.Rooms, wf *workflow.Service, notifier *notify.Dispatcher, b *bus.Bus, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Registry: reg,
		Rooms:    rm,
		Workflow: wf,
		Notifier: notifier,
		Bus:      b,
		Verifier: verifier,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	s.registerBusHandlers()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws/{actor_type}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// registerBusHandlers wires the reactive side: tracking snapshots feed
// NotifyOnce, new orders reach the restaurant room, assignments bump the
// driver's load. Handles are kept so Shutdown unsubscribes exactly once.
func (s *Server) registerBusHandlers() {
	s.subs = append(s.subs,
		s.Bus.Subscribe(bus.TopicOrderTracking, "gateway-notifier", func(ctx context.Context, payload any) {
			order, ok := payload.(models.Order)
			if !ok {
				return
			}
			go s.Notifier.NotifyOnce(context.WithoutCancel(ctx), order)
		}),
		s.Bus.Subscribe(bus.TopicNewOrder, "gateway-restaurant", func(ctx context.Context, payload any) {
			p, ok := payload.(models.IncomingOrderPayload)
			if !ok {
				return
			}
			order, err := s.Workflow.Orders.GetOrder(ctx, p.OrderID)
			if err != nil {
				s.logger.Warn("incoming order lookup failed", "order", p.OrderID, "error", err)
				return
			}
			room := rooms.RoomFor(string(models.ActorRestaurant), order.RestaurantID)
			if _, err := s.Rooms.Emit(ctx, room, models.EventIncomingOrder, p); err != nil {
				s.logger.Warn("incoming order delivery failed", "order", p.OrderID, "error", err)
			}
		}),
		s.Bus.Subscribe(bus.TopicOrderAssigned, "gateway-presence", func(ctx context.Context, payload any) {
			order, ok := payload.(models.Order)
			if !ok || s.Presence == nil || order.DriverID == "" {
				return
			}
			if err := s.Presence.AddOrderCount(ctx, order.DriverID, 1); err != nil {
				s.logger.Warn("presence update failed", "driver", order.DriverID, "error", err)
			}
		}),
	)
}

// Shutdown tears down the bus registrations.
func (s *Server) Shutdown() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
}

var upgrader = websocket.Upgrader{
	// origin checks belong to the edge proxy in this deployment
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	actorType := models.ActorType(mux.Vars(r)["actor_type"])
	if !actorType.Valid() {
		http.Error(w, "unknown actor type", http.StatusNotFound)
		return
	}

	header := r.Header.Get("Authorization")
	if header == "" && r.URL.Query().Get("token") != "" {
		// browser websocket clients cannot set headers
		header = "Bearer " + r.URL.Query().Get("token")
	}
	token, err := auth.BearerToken(header)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if claims.ActorType != "" && claims.ActorType != actorType {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := newWSConn(uuid.NewString(), raw)
	ctx := r.Context()

	if err := s.Registry.Track(ctx, conn.ID()); err != nil {
		s.logger.Warn("socket tracking failed", "conn", conn.ID(), "error", err)
	}
	if err := s.Registry.Admit(ctx, claims.ID, actorType, conn); err != nil {
		s.logger.Info("connection rejected", "actor", claims.ID, "type", actorType, "error", err)
		_ = conn.Send("connectionRejected", map[string]string{"reason": "another connection is active"})
		// the socket was indexed by Track before admission; drop it again
		s.Registry.Release(context.WithoutCancel(ctx), claims.ID, actorType, conn.ID())
		_ = conn.Close()
		return
	}
	s.logger.Info("actor connected", "actor", claims.ID, "type", actorType, "conn", conn.ID())

	defer func() {
		s.Registry.Release(context.WithoutCancel(ctx), claims.ID, actorType, conn.ID())
		_ = conn.Close()
		s.logger.Info("actor disconnected", "actor", claims.ID, "type", actorType, "conn", conn.ID())
	}()

	s.readLoop(ctx, conn, claims.ID, actorType, raw)
}

func (s *Server) readLoop(ctx context.Context, conn *wsConn, actorID string, actorType models.ActorType, raw *websocket.Conn) {
	for {
		var in struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := raw.ReadJSON(&in); err != nil {
			return
		}
		s.dispatch(ctx, conn, actorID, actorType, in.Event, in.Data)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *wsConn, actorID string, actorType models.ActorType, event string, data json.RawMessage) {
	switch event {
	case models.EventRestaurantAccept:
		if actorType != models.ActorRestaurant {
			s.sendCommandError(conn, event, errors.New("restaurant-only command"))
			return
		}
		var p models.RestaurantAcceptPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.sendCommandError(conn, event, err)
			return
		}
		if _, err := s.Workflow.AcceptOrder(ctx, p); err != nil {
			s.sendCommandError(conn, event, err)
		}
	case models.EventRestaurantOrderReady:
		if actorType != models.ActorRestaurant {
			s.sendCommandError(conn, event, errors.New("restaurant-only command"))
			return
		}
		var p models.RestaurantOrderReadyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			s.sendCommandError(conn, event, err)
			return
		}
		if _, err := s.Workflow.OrderReady(ctx, p); err != nil {
			s.sendCommandError(conn, event, err)
		}
	case "driverUpdateOrderStatus":
		if actorType != models.ActorDriver {
			s.sendCommandError(conn, event, errors.New("driver-only command"))
			return
		}
		var p struct {
			OrderID string             `json:"orderId"`
			Status  models.OrderStatus `json:"status"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			s.sendCommandError(conn, event, err)
			return
		}
		if _, err := s.Workflow.UpdateStatus(ctx, p.OrderID, p.Status); err != nil {
			s.sendCommandError(conn, event, err)
		}
	case "cancelOrder":
		var p struct {
			OrderID     string `json:"orderId"`
			Reason      string `json:"reason"`
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			s.sendCommandError(conn, event, err)
			return
		}
		c := models.Cancellation{By: actorType, ByID: actorID, Reason: p.Reason, Title: p.Title, Description: p.Description}
		if _, err := s.Workflow.CancelOrder(ctx, p.OrderID, c); err != nil {
			s.sendCommandError(conn, event, err)
		}
	default:
		s.logger.Debug("unknown inbound event", "event", event, "actor", actorID)
	}
}

// sendCommandError feeds a typed failure back to the origin connection.
// Workflow failures are results, not faults: the actor decides what to do.
func (s *Server) sendCommandError(conn *wsConn, event string, err error) {
	reason := "internal error"
	switch {
	case errors.Is(err, assignment.ErrNoSuitableDriver):
		reason = "no suitable driver"
	case errors.Is(err, assignment.ErrWageUnavailable):
		reason = "driver wage unavailable"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		reason = "invalid order status change"
	case errors.Is(err, storage.ErrNotFound):
		reason = "order not found"
	}
	s.logger.Info("command rejected", "event", event, "reason", reason, "error", err)
	if sendErr := conn.Send("commandRejected", map[string]string{"event": event, "reason": reason}); sendErr != nil {
		s.logger.Warn("command rejection delivery failed", "conn", conn.ID(), "error", sendErr)
	}
}
