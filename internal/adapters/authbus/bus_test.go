package authbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
)

func TestBus_PublishInOrder(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(func(ev domainauth.Event) { got = append(got, "a:"+string(ev.Kind)) })
	b.Subscribe(func(ev domainauth.Event) { got = append(got, "b:"+string(ev.Kind)) })

	b.Publish(domainauth.Event{Kind: domainauth.EventSignedIn})
	assert.Equal(t, []string{"a:SIGNED_IN", "b:SIGNED_IN"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe(func(domainauth.Event) { calls++ })
	assert.Equal(t, 1, b.Len())

	unsub()
	unsub()
	b.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.Len())
}

func TestBus_HandlerMayUnsubscribeDuringPublish(t *testing.T) {
	b := New()
	var unsub func()
	unsub = b.Subscribe(func(domainauth.Event) { unsub() })
	assert.NotPanics(t, func() { b.Publish(domainauth.Event{Kind: domainauth.EventSignedOut}) })
	assert.Equal(t, 0, b.Len())
}

func TestBus_TapsSeeOnlyPublished(t *testing.T) {
	b := New()
	var tapped, handled int
	b.Tap(func(domainauth.Event) { tapped++ })
	b.Subscribe(func(domainauth.Event) { handled++ })

	b.Publish(domainauth.Event{Kind: domainauth.EventSignedIn})
	b.Deliver(domainauth.Event{Kind: domainauth.EventSignedIn})

	assert.Equal(t, 1, tapped)
	assert.Equal(t, 2, handled)
}

func TestBus_NilHandler(t *testing.T) {
	b := New()
	b.Subscribe(nil)()
	assert.Equal(t, 0, b.Len())
}

func TestBus_TapAddedDuringPublishWaitsForNextEvent(t *testing.T) {
	b := New()
	var late int
	b.Tap(func(domainauth.Event) {
		b.Tap(func(domainauth.Event) { late++ })
	})

	b.Publish(domainauth.Event{Kind: domainauth.EventSignedIn})
	assert.Equal(t, 0, late)

	b.Publish(domainauth.Event{Kind: domainauth.EventSignedOut})
	assert.Equal(t, 1, late)
}
