package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/driptech/admin-session/internal/adapters/authbus"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

const relayPublishTimeout = 2 * time.Second

// relayEnvelope is the wire form of a relayed event. Tokens never leave the process.
type relayEnvelope struct {
	Origin string           `json:"origin"`
	Event  domainauth.Event `json:"event"`
}

// EventRelay mirrors auth events between instances sharing a Redis channel.
// Events published locally on the bus are forwarded; events from other
// instances are delivered to local handlers without being forwarded again.
type EventRelay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	bus     *authbus.Bus
	logger  *slog.Logger
}

// NewEventRelay taps bus and returns a relay. Call Run to start receiving.
func NewEventRelay(client redis.UniversalClient, channel string, bus *authbus.Bus, logger *slog.Logger) *EventRelay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &EventRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		bus:     bus,
		logger:  logger.With("component", "event_relay", "channel", channel),
	}
	bus.Tap(r.forward)
	return r
}

// Origin identifies this instance on the channel.
func (r *EventRelay) Origin() string { return r.origin }

// Run subscribes to the channel and delivers remote events until ctx is done.
func (r *EventRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			r.logger.WarnContext(ctx, "close pubsub", "error", err)
		}
	}()

	// Wait for the subscription to be confirmed so no event is missed after Run returns ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.InfoContext(ctx, "auth event relay subscribed", "origin", r.origin)

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("event relay channel closed")
			}
			r.receive(ctx, msg.Payload)
		}
	}
}

func (r *EventRelay) receive(ctx context.Context, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.WarnContext(ctx, "drop malformed relay payload", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.logger.DebugContext(ctx, "relayed auth event", "kind", env.Event.Kind, "from", env.Origin)
	r.bus.Deliver(env.Event)
}

func (r *EventRelay) forward(ev domainauth.Event) {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: redact(ev)})
	if err != nil {
		r.logger.Error("marshal relay event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.WarnContext(ctx, "publish relay event", "kind", ev.Kind, "error", err)
	}
}

func redact(ev domainauth.Event) domainauth.Event {
	if ev.Session == nil {
		return ev
	}
	s := *ev.Session
	s.AccessToken = ""
	s.RefreshToken = ""
	ev.Session = &s
	return ev
}
