package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driptech/admin-session/internal/adapters/authbus"
	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	"github.com/driptech/admin-session/internal/testutil"
)

type eventLog struct {
	mu     sync.Mutex
	events []domainauth.Event
}

func (l *eventLog) add(ev domainauth.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []domainauth.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domainauth.Event(nil), l.events...)
}

func TestEventRelay_ForwardsBetweenInstances(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busA, busB := authbus.New(), authbus.New()
	relayA := NewEventRelay(client, "test:relay", busA, nil)
	relayB := NewEventRelay(client, "test:relay", busB, nil)
	assert.NotEqual(t, relayA.Origin(), relayB.Origin())

	var logA, logB eventLog
	busA.Subscribe(logA.add)
	busB.Subscribe(logB.add)

	done := make(chan struct{}, 2)
	for _, r := range []*EventRelay{relayA, relayB} {
		go func(r *EventRelay) {
			assert.NoError(t, r.Run(ctx))
			done <- struct{}{}
		}(r)
	}
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "test:relay").Result()
		return err == nil && n["test:relay"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	sess := testSession()
	busA.Publish(domainauth.Event{Kind: domainauth.EventSignedOut, Session: &sess})

	require.Eventually(t, func() bool { return len(logB.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := logB.all()[0]
	assert.Equal(t, domainauth.EventSignedOut, got.Kind)
	require.NotNil(t, got.Session)
	assert.Equal(t, "u-123", got.Session.UserID)
	assert.Empty(t, got.Session.AccessToken)
	assert.Empty(t, got.Session.RefreshToken)

	// A does not receive its own event twice and B does not echo it back.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, logA.all(), 1)
	assert.Len(t, logB.all(), 1)

	cancel()
	<-done
	<-done
}

func TestEventRelay_DropsMalformedPayload(t *testing.T) {
	bus := authbus.New()
	r := &EventRelay{origin: "self", bus: bus, logger: testLogger()}
	var log eventLog
	bus.Subscribe(log.add)

	r.receive(context.Background(), "{")
	r.receive(context.Background(), `{"origin":"self","event":{"kind":"SIGNED_OUT"}}`)
	assert.Empty(t, log.all())

	r.receive(context.Background(), `{"origin":"other","event":{"kind":"SIGNED_OUT"}}`)
	require.Len(t, log.all(), 1)
	assert.Equal(t, domainauth.EventSignedOut, log.all()[0].Kind)
}

func TestRedactLeavesOriginalUntouched(t *testing.T) {
	sess := testSession()
	ev := redact(domainauth.Event{Kind: domainauth.EventTokenRefreshed, Session: &sess})
	assert.Empty(t, ev.Session.AccessToken)
	assert.Equal(t, "access", sess.AccessToken)
	assert.Nil(t, redact(domainauth.Event{Kind: domainauth.EventSignedOut}).Session)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
