package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"secretinvest/internal/core"
	"secretinvest/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher fans applied operations out to NATS for downstream consumers.
// Subjects follow the pattern: secretinvest.events.{event_type}[.{instrument}]
// Payloads are the engine's plaintext-only event payloads; ciphertext never
// leaves the encrypted value service.
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.CoreOutput
	log       zerolog.Logger
	metrics   *observability.Metrics
}

// Notification is the wire shape published to NATS.
type Notification struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Instrument     *string         `json:"instrument,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      []byte          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("notify"),
		metrics:   metrics,
	}
}

// Run starts the publisher loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, out); err != nil {
				// Non-fatal: consumers can query the event log directly
				p.log.Warn().
					Int64("sequence", out.Envelope.Sequence).
					Err(err).
					Msg("notification publish failed")
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope

	data, err := json.Marshal(Notification{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Instrument:     env.Instrument,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		Timestamp:      env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("secretinvest.events.%s", env.EventType)
	if env.Instrument != nil {
		subject = fmt.Sprintf("%s.%s", subject, *env.Instrument)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureEventStream creates the notification stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "SECRETINVEST_EVENTS",
		Subjects:  []string{"secretinvest.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	return nil
}

// ConnectNATS dials the NATS server and opens a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
