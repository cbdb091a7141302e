package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrderToMatchingSubscribers(t *testing.T) {
	bus := NewBus(8, nil)

	var mu sync.Mutex
	var all, downloads []Topic
	bus.Subscribe(func(e Event) {
		mu.Lock()
		all = append(all, e.Topic)
		mu.Unlock()
	})
	bus.Subscribe(func(e Event) {
		mu.Lock()
		downloads = append(downloads, e.Topic)
		mu.Unlock()
	}, DownloadListChanged, DownloadProgressChanged)

	bus.Publish(Event{Topic: DownloadListChanged})
	bus.Publish(Event{Topic: ContinueWatchingChanged})
	bus.Publish(Event{Topic: DownloadProgressChanged, Payload: DownloadProgress{ID: "a", Progress: 0.5}})
	bus.Close()

	require.Equal(t, []Topic{DownloadListChanged, ContinueWatchingChanged, DownloadProgressChanged}, all)
	require.Equal(t, []Topic{DownloadListChanged, DownloadProgressChanged}, downloads)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(8, nil)
	count := 0
	unsubscribe := bus.Subscribe(func(Event) { count++ })
	unsubscribe()
	unsubscribe()

	bus.Publish(Event{Topic: ModulesChanged})
	bus.Close()
	require.Zero(t, count)
}

func TestBusSurvivesPanickingSubscriber(t *testing.T) {
	bus := NewBus(8, nil)
	got := 0
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { got++ })

	bus.Publish(Event{Topic: ModulesChanged})
	bus.Publish(Event{Topic: ModulesChanged})
	bus.Close()
	require.Equal(t, 2, got)
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus(1, nil)
	bus.Close()
	bus.Publish(Event{Topic: ModulesChanged})
	bus.Close()
}
