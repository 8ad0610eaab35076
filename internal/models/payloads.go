package models

// Wire event names. Field names on the payload structs are part of the
// contract with the mobile and web clients.
const (
	EventRestaurantAccept     = "restaurantAcceptWithAvailableDrivers"
	EventRestaurantOrderReady = "restaurantOrderReady"
	EventNotifyOrderStatus    = "notifyOrderStatus"
	EventIncomingOrder        = "incomingOrderForRestaurant"
)

// AvailableDriver is the candidate sketch sent by the restaurant app; the
// workflow enriches it with presence metadata before scoring.
type AvailableDriver struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type RestaurantAcceptPayload struct {
	OrderID          string            `json:"orderId"`
	AvailableDrivers []AvailableDriver `json:"availableDrivers"`
}

type RestaurantOrderReadyPayload struct {
	OrderID string `json:"orderId"`
}

// TrackingPayload is the canonical notifyOrderStatus body: the order plus
// denormalized restaurant/driver snapshots so clients render without extra
// round trips.
type TrackingPayload struct {
	OrderID           string        `json:"orderId"`
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
	RestaurantName    string        `json:"restaurantName,omitempty"`
	RestaurantAvatar  string        `json:"restaurantAvatar,omitempty"`
	DriverName        string        `json:"driverName,omitempty"`
	DriverAvatar      string        `json:"driverAvatar,omitempty"`
	Cancellation      *Cancellation `json:"cancellation,omitempty"`
}

// IncomingOrderPayload announces a freshly created order to its restaurant.
type IncomingOrderPayload struct {
	OrderID         string      `json:"orderId"`
	CustomerID      string      `json:"customerId"`
	Items           []OrderItem `json:"orderItems"`
	CustomerAddress Address     `json:"customerAddress"`
}
