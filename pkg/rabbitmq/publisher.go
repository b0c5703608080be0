package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const eventExchange = "validation_events"

// Publisher fans validation events out to live listeners. Everything here
// is fire-and-forget: a broker failure is logged and swallowed, never
// surfaced to the pipeline.
type Publisher interface {
	PublishRealtime(ctx context.Context, payload any)
}

type publisher struct {
	conn *amqp.Connection
}

// NewPublisher declares the fanout exchange once. A nil connection yields a
// no-op publisher so the pipeline runs without a broker.
func NewPublisher(ctx context.Context, conn *amqp.Connection) Publisher {
	if conn == nil {
		return noopPublisher{}
	}

	ch, err := conn.Channel()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to open publish channel, realtime events disabled")
		return noopPublisher{}
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(eventExchange, "fanout", true, false, false, false, nil); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to declare event exchange, realtime events disabled")
		return noopPublisher{}
	}

	return &publisher{conn: conn}
}

func (p *publisher) PublishRealtime(ctx context.Context, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to marshal realtime event")
		return
	}

	ch, err := p.conn.Channel()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to open channel for realtime event")
		return
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, eventExchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to publish realtime event")
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishRealtime(context.Context, any) {}
