package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/order-dispatch/internal/models"
	"github.com/example/order-dispatch/internal/observability"
)

// OrderEvent is the record written to the order-status stream for
// downstream analytics and billing consumers.
type OrderEvent struct {
	OrderID      string              `json:"orderId"`
	Status       models.OrderStatus  `json:"status"`
	TrackingInfo models.TrackingInfo `json:"trackingInfo"`
	DriverID     string              `json:"driverId,omitempty"`
	RestaurantID string              `json:"restaurantId"`
	CustomerID   string              `json:"customerId"`
	At           time.Time           `json:"at"`
}

type OrderEventProducer struct {
	writer *kafka.Writer
}

func NewOrderEventProducer(brokers []string, topic string) *OrderEventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &OrderEventProducer{writer: w}
}

func (p *OrderEventProducer) PublishStatus(o models.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := OrderEvent{
		OrderID:      o.ID,
		Status:       o.Status,
		TrackingInfo: o.TrackingInfo,
		DriverID:     o.DriverID,
		RestaurantID: o.RestaurantID,
		CustomerID:   o.CustomerID,
		At:           o.UpdatedAt,
	}
	b, _ := json.Marshal(ev)
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(o.ID), Value: b}); err != nil {
		return err
	}
	observability.OrderEventsOut.Inc()
	return nil
}

func (p *OrderEventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
