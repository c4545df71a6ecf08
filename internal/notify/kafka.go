package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const paymentEventsTopic = "payment-events"

// OrderPaidEvent refreshes admin dashboards after an order is durably
// marked paid. It is published at most once per reconciliation.
type OrderPaidEvent struct {
	OrderID      string    `json:"order_id"`
	PaymentID    string    `json:"payment_id"`
	Gateway      string    `json:"gateway"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	GatewayTxnID string    `json:"gateway_txn_id"`
	PaidAt       time.Time `json:"paid_at"`
}

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaNotifier(c *Client, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(c.Brokers...),
			Topic:        paymentEventsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

func (n *KafkaNotifier) NotifyPaymentSuccess(ctx context.Context, evt OrderPaidEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: data,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		n.logger.Error("failed to publish payment event",
			zap.String("order_id", evt.OrderID),
			zap.Error(err))
	}
	return err
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Noop stands in when no brokers are configured.
type Noop struct{}

func (Noop) NotifyPaymentSuccess(ctx context.Context, evt OrderPaidEvent) error { return nil }
