package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/frolf-bot-shared/observability/attr"
	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	nc "github.com/nats-io/nats.go"
)

// EventBus publishes JSON payloads and hands out a subscriber for the watermill router.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscriber() message.Subscriber
	Close() error
}

// Bus wraps a watermill publisher/subscriber pair.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	closers    []func() error
}

var _ EventBus = (*Bus)(nil)

// NewNATS connects a core NATS publisher and subscriber. Subscriptions use no queue group, so
// every instance receives every event.
func NewNATS(url string, logger *slog.Logger, opts ...nc.Option) (*Bus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	natsOpts := []nc.Option{
		nc.MaxReconnects(-1),
		nc.ReconnectWait(2 * time.Second),
		nc.Name("scorekeeper"),
	}
	natsOpts = append(natsOpts, opts...)

	marshaler := &wmnats.NATSMarshaler{}
	jsConfig := wmnats.JetStreamConfig{Disabled: true}

	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL:               url,
		NatsOptions:       natsOpts,
		Marshaler:         marshaler,
		SubjectCalculator: wmnats.DefaultSubjectCalculator,
		JetStream:         jsConfig,
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:               url,
		SubscribersCount:  1,
		CloseTimeout:      30 * time.Second,
		AckWaitTimeout:    30 * time.Second,
		NatsOptions:       natsOpts,
		Unmarshaler:       marshaler,
		SubjectCalculator: wmnats.DefaultSubjectCalculator,
		JetStream:         jsConfig,
	}, wmLogger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("failed to create NATS subscriber: %w", err)
	}

	logger.Info("Connected event bus to NATS", attr.String("url", url))

	return &Bus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
		closers:    []func() error{sub.Close, pub.Close},
	}, nil
}

// NewInMemory returns a bus backed by a Go channel pub/sub, for tests and single-instance runs.
func NewInMemory(logger *slog.Logger) *Bus {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(logger))

	return &Bus{
		publisher:  ps,
		subscriber: ps,
		logger:     logger,
		closers:    []func() error{ps.Close},
	}
}

// Publish marshals payload to JSON and publishes it on topic. The correlation id from ctx is
// carried in the message metadata; a new one is generated when ctx has none.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)

	correlationID := CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = watermill.NewUUID()
	}
	middleware.SetCorrelationID(correlationID, msg)
	msg.Metadata.Set("topic", topic)

	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	b.logger.DebugContext(ctx, "Published event",
		attr.String("topic", topic),
		attr.String("message_id", msg.UUID),
		attr.String("correlation_id", correlationID))
	return nil
}

// Subscriber returns the subscriber side of the bus.
func (b *Bus) Subscriber() message.Subscriber {
	return b.subscriber
}

// Close closes the subscriber then the publisher.
func (b *Bus) Close() error {
	var firstErr error
	for _, closeFn := range b.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type correlationIDKey struct{}

// WithCorrelationID stores id on ctx for events published within the request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext returns the id stored by WithCorrelationID, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
