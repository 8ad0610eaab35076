package models

import "time"

// ActorType identifies which population a connection belongs to.
type ActorType string

const (
	ActorCustomer   ActorType = "customer"
	ActorDriver     ActorType = "driver"
	ActorRestaurant ActorType = "restaurant"
)

func (t ActorType) Valid() bool {
	switch t {
	case ActorCustomer, ActorDriver, ActorRestaurant:
		return true
	}
	return false
}

// Claims is the verified identity extracted from a connection token.
type Claims struct {
	ID        string    `json:"id"`
	ActorType ActorType `json:"actorType"`
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Address is a delivery endpoint: human-readable text plus coordinates.
type Address struct {
	Text string  `json:"text"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type OrderStatus string

const (
	StatusPending            OrderStatus = "PENDING"
	StatusRestaurantAccepted OrderStatus = "RESTAURANT_ACCEPTED"
	StatusPreparing          OrderStatus = "PREPARING"
	StatusReadyForPickup     OrderStatus = "READY_FOR_PICKUP"
	StatusDispatched         OrderStatus = "DISPATCHED"
	StatusEnRoute            OrderStatus = "EN_ROUTE"
	StatusOutForDelivery     OrderStatus = "OUT_FOR_DELIVERY"
	StatusDelivered          OrderStatus = "DELIVERED"
	StatusDeliveryFailed     OrderStatus = "DELIVERY_FAILED"
	StatusCancelled          OrderStatus = "CANCELLED"
)

// TrackingInfo is the coarse, user-facing label kept in lock-step with Status.
type TrackingInfo string

const (
	TrackingOrderPlaced      TrackingInfo = "ORDER_PLACED"
	TrackingOrderReceived    TrackingInfo = "ORDER_RECEIVED"
	TrackingPreparing        TrackingInfo = "PREPARING"
	TrackingRestaurantPickup TrackingInfo = "RESTAURANT_PICKUP"
	TrackingOnTheWay         TrackingInfo = "ON_THE_WAY"
	TrackingDelivered        TrackingInfo = "DELIVERED"
	TrackingDeliveryFailed   TrackingInfo = "DELIVERY_FAILED"
	TrackingCancelled        TrackingInfo = "CANCELLED"
)

type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Cancellation records who ended an order and why.
type Cancellation struct {
	By          ActorType `json:"by"`
	ByID        string    `json:"byId"`
	Reason      string    `json:"reason"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	At          time.Time `json:"at"`
}

// Order is the read/write view the dispatch core needs. DriverID, Distance
// and DriverWage stay empty until an assignment succeeds.
type Order struct {
	ID                string        `json:"id"`
	Status            OrderStatus   `json:"status"`
	TrackingInfo      TrackingInfo  `json:"trackingInfo"`
	CustomerID        string        `json:"customerId"`
	RestaurantID      string        `json:"restaurantId"`
	DriverID          string        `json:"driverId,omitempty"`
	Distance          float64       `json:"distance,omitempty"`
	DriverWage        float64       `json:"driverWage,omitempty"`
	Items             []OrderItem   `json:"orderItems"`
	RestaurantAddress Address       `json:"restaurantAddress"`
	CustomerAddress   Address       `json:"customerAddress"`
	Cancellation      *Cancellation `json:"cancellation,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// DriverCandidate is supplied per assignment call, never persisted here.
type DriverCandidate struct {
	ID                string `json:"id"`
	Loc               Coord  `json:"loc"`
	ActivePoints      int    `json:"activePoints"`
	CurrentOrderCount int    `json:"currentOrderCount"`
}

// Profile is the denormalized actor snapshot embedded in tracking payloads.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}
