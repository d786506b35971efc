// NATSBroker publishes through gocloud.dev/pubsub's natspubsub driver, so
// the dispatcher stays driver-agnostic (it only depends on the Broker
// interface) while the shipped transport is the teacher's own NATS
// JetStream, grounded on pkg/nats/eventbus.go's ensureStream/durable-stream
// setup and nats.MsgId-based consumer dedup.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/natspubsub"
)

// NATSConfig configures the JetStream-backed Broker.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string

	// StreamName is the JetStream stream backing the subject below.
	StreamName string

	// Subject is the subject published to; EventName is carried as a
	// message attribute rather than a subject suffix so one durable stream
	// covers every event type (teacher's eventbus.go uses a per-type
	// subject; this core needs only one topic per spec §6).
	Subject string

	// MaxAge is how long JetStream retains published messages.
	MaxAge time.Duration
}

// DefaultNATSConfig mirrors the teacher's nats.DefaultConfig defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:        nats.DefaultURL,
		StreamName: "WAITQUEUE_OUTBOX",
		Subject:    "waitqueue.events",
		MaxAge:     7 * 24 * time.Hour,
	}
}

// NATSBroker is the shipped Broker driver.
type NATSBroker struct {
	nc    *nats.Conn
	topic *pubsub.Topic
}

// NewNATSBroker connects to NATS, ensures the durable JetStream stream
// exists (spec §6: "exchange: durable topic, declared on first publish"),
// and opens a gocloud.dev pubsub.Topic over it.
func NewNATSBroker(ctx context.Context, cfg NATSConfig) (*NATSBroker, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: jetstream context: %w", err)
	}

	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: ensure stream: %w", err)
	}

	topic, err := natspubsub.OpenTopic(nc, cfg.Subject, nil)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("broker: open topic: %w", err)
	}

	return &NATSBroker{nc: nc, topic: topic}, nil
}

func ensureStream(js nats.JetStreamContext, cfg NATSConfig) error {
	streamConfig := &nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.Subject},
		Retention: nats.InterestPolicy,
		MaxAge:    cfg.MaxAge,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		if _, err := js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	}

	if _, err := js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// Publish sends msg with the identity headers spec §6 requires, carried as
// pubsub.Message metadata and as the NATS message ID for dedup.
func (b *NATSBroker) Publish(ctx context.Context, msg Message) error {
	err := b.topic.Send(ctx, &pubsub.Message{
		Body: msg.Body,
		Metadata: map[string]string{
			"MessageId":     msg.MessageID,
			"CorrelationId": msg.CorrelationID,
			"Type":          msg.EventName,
			"ContentType":   msg.ContentType,
			"DeliveryMode":  "persistent",
			"Timestamp":     fmt.Sprintf("%d", msg.OccurredAt.Unix()),
		},
		BeforeSend: func(asFunc func(interface{}) bool) error {
			var natsMsg *nats.Msg
			if asFunc(&natsMsg) {
				natsMsg.Header.Set(nats.MsgIdHdr, msg.MessageID)
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("broker: publish %s: %w", msg.MessageID, err)
	}
	return nil
}

// Close shuts down the topic and the underlying NATS connection.
func (b *NATSBroker) Close() error {
	err := b.topic.Shutdown(context.Background())
	b.nc.Close()
	if err != nil {
		return fmt.Errorf("broker: shutdown topic: %w", err)
	}
	return nil
}
