package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"tradebot/internal/models"
)

// Property: with buffers large enough, every subscriber receives every
// published event of the types it asked for.
func TestProperty_AllSubscribersReceiveEvents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("fast subscribers receive all events", prop.ForAll(
		func(subscriberCount int, eventCount int) bool {
			hub := NewHubWithConfig(HubConfig{BufferSize: 1000, SubscriberBufferSize: 100})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hub.Start(ctx)
			defer hub.Stop()

			var wg sync.WaitGroup
			received := make([]int64, subscriberCount)
			for i := 0; i < subscriberCount; i++ {
				ch := hub.Subscribe(models.EventTradeExecuted)
				wg.Add(1)
				go func(idx int, ch <-chan models.Event) {
					defer wg.Done()
					timeout := time.After(5 * time.Second)
					for {
						select {
						case _, ok := <-ch:
							if !ok {
								return
							}
							if atomic.AddInt64(&received[idx], 1) >= int64(eventCount) {
								return
							}
						case <-timeout:
							return
						}
					}
				}(i, ch)
			}

			for i := 0; i < eventCount; i++ {
				hub.Publish(models.Event{Type: models.EventTradeExecuted, SessionID: "s1"})
				// Filtered out for every subscriber.
				hub.Publish(models.Event{Type: models.EventPortfolioUpdate, SessionID: "s1"})
			}

			wg.Wait()
			for i := range received {
				if atomic.LoadInt64(&received[i]) != int64(eventCount) {
					return false
				}
			}
			return hub.Metrics().Dropped == 0
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

// Property: a subscriber that never reads never blocks the publisher.
func TestProperty_SlowSubscriberNeverBlocks(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("publish returns promptly with a stuck subscriber", prop.ForAll(
		func(eventCount int) bool {
			hub := NewHubWithConfig(HubConfig{BufferSize: 4, SubscriberBufferSize: 1})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hub.Start(ctx)
			defer hub.Stop()

			_ = hub.Subscribe()

			start := time.Now()
			for i := 0; i < eventCount; i++ {
				hub.Publish(models.Event{Type: models.EventBotStatusUpdate})
			}
			return time.Since(start) < time.Second
		},
		gen.IntRange(10, 500),
	))

	properties.TestingRun(t)
}
