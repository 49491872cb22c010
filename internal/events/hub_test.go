package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubDeliversToTopicAndWildcard(t *testing.T) {
	hub := NewHub()
	var topical, all []string

	unsubTopic := hub.Subscribe(TopicModelEvicted, func(_ context.Context, ev Event) {
		topical = append(topical, ev.Topic)
	})
	hub.Subscribe(TopicAll, func(_ context.Context, ev Event) {
		all = append(all, ev.Topic)
	})

	hub.Publish(context.Background(), TopicModelEvicted, map[string]string{"model": "m1"}, nil)
	hub.Publish(context.Background(), TopicCredentialCooldown, nil, nil)

	require.Equal(t, []string{TopicModelEvicted}, topical)
	require.Equal(t, []string{TopicModelEvicted, TopicCredentialCooldown}, all)

	unsubTopic()
	hub.Publish(context.Background(), TopicModelEvicted, nil, nil)
	require.Len(t, topical, 1)
	require.Len(t, all, 3)
}

func TestNilHubPublishIsNoop(t *testing.T) {
	var hub *Hub
	require.NotPanics(t, func() {
		hub.Publish(context.Background(), TopicFlushFailed, nil, nil)
	})
}

func TestFamilyPatternAndPanicIsolation(t *testing.T) {
	hub := NewHub()
	var got []string
	hub.Subscribe("credential.*", func(context.Context, Event) { panic("bad subscriber") })
	hub.Subscribe("credential.*", func(_ context.Context, ev Event) { got = append(got, ev.Topic) })

	require.NotPanics(t, func() {
		hub.Publish(context.Background(), TopicCredentialAdded, nil, nil)
		hub.Publish(context.Background(), TopicModelEvicted, nil, nil)
		hub.Publish(context.Background(), TopicCredentialCooldown, CooldownSet{ID: "c1"}, nil)
	})
	require.Equal(t, []string{TopicCredentialAdded, TopicCredentialCooldown}, got)
}

func TestTapDropsWhenFull(t *testing.T) {
	hub := NewHub()
	ch, stop := hub.Tap(TopicAll, 1)
	require.Equal(t, 1, hub.Subscribers())

	hub.Publish(context.Background(), TopicFlushFailed, FlushFailure{Error: "x", Batch: 2}, nil)
	hub.Publish(context.Background(), TopicFlushFailed, nil, nil)

	ev := <-ch
	require.Equal(t, FlushFailure{Error: "x", Batch: 2}, ev.Payload)
	require.EqualValues(t, 1, stop())
	require.Equal(t, 0, hub.Subscribers())
}
