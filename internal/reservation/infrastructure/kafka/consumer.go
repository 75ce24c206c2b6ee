package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecomcore/reservation-service/internal/reservation/application"
	"github.com/ecomcore/reservation-service/pkg/idempotency"
	"github.com/ecomcore/reservation-service/pkg/tracing"
)

// Payment outcome events produced by the payment collaborator. Delivery is
// at-least-once; confirm/cancel are idempotent on top of the redis dedup.
const (
	eventPaymentSucceeded = "PaymentSucceeded"
	eventPaymentFailed    = "PaymentFailed"
)

type paymentEvent struct {
	OrderToken string `json:"order_token"`
	Reason     string `json:"reason,omitempty"`
}

// Consumer ingests payment outcomes and drives the reservation state
// machine: success confirms the token's holds, failure releases them.
type Consumer struct {
	log    *slog.Logger
	reader *kafka.Reader
	svc    *application.Service
	idem   *idempotency.Store
	tracer trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, svc *application.Service, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:    log,
		reader: r,
		svc:    svc,
		idem:   idem,
		tracer: otel.Tracer("payment-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		key := c.idem.MessageKey(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.idem.Seen(ctx, key)
		if err != nil {
			c.log.Error("idempotency check failed", "err", err)
			continue
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		c.handle(ctx, msg)
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentEvent")
	defer span.End()

	var ev paymentEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed", "err", err)
		return
	}
	if ev.OrderToken == "" {
		c.log.Warn("payment event without order token skipped")
		return
	}

	switch headerValue(msg.Headers, "event_type") {
	case eventPaymentSucceeded:
		if err := c.svc.ConfirmByToken(msgCtx, ev.OrderToken); err != nil {
			c.log.Error("confirm from payment event failed", "order_token", ev.OrderToken, "err", err)
		}
	case eventPaymentFailed:
		if err := c.svc.CancelByToken(msgCtx, ev.OrderToken); err != nil {
			c.log.Error("cancel from payment event failed", "order_token", ev.OrderToken, "err", err)
		}
	default:
		c.log.Debug("ignoring event", "type", headerValue(msg.Headers, "event_type"))
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
