package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/quiz-arena-backend/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	tests := map[string]struct {
		published   []event.Event
		subscribers map[string][]string
		want        map[string][]event.Event
	}{
		"subscriber only receives its events": {
			published:   []event.Event{named("e1"), named("e2")},
			subscribers: map[string][]string{"s1": {"e1"}},
			want:        map[string][]event.Event{"s1": {named("e1")}},
		},
		"every subscriber receives the event": {
			published:   []event.Event{named("e1")},
			subscribers: map[string][]string{"s1": {"e1"}, "s2": {"e1"}},
			want:        map[string][]event.Event{"s1": {named("e1")}, "s2": {named("e1")}},
		},
		"mixed events and subscribers": {
			published:   []event.Event{named("e1"), named("e2"), named("e1"), named("e3")},
			subscribers: map[string][]string{"s1": {"e1"}, "s2": {"e1", "e2"}, "s3": {"e3", "e2"}},
			want: map[string][]event.Event{
				"s1": {named("e1"), named("e1")},
				"s2": {named("e1"), named("e1"), named("e2")},
				"s3": {named("e2"), named("e3")},
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			got := map[string][]event.Event{}

			b := event.NewBus(nil)
			for sub, names := range tt.subscribers {
				for _, n := range names {
					b.Subscribe(n, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						got[sub] = append(got[sub], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range tt.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			for sub, want := range tt.want {
				assert.ElementsMatch(t, want, got[sub], sub)
			}
		})
	}
}

func TestBus_HandlerFailuresDoNotStopOthers(t *testing.T) {
	b := event.NewBus(nil)

	var mu sync.Mutex
	calls := 0
	b.Subscribe("e", func(context.Context, event.Event) error { panic("boom") })
	b.Subscribe("e", func(context.Context, event.Event) error { return errors.New("failed") })
	b.Subscribe("e", func(context.Context, event.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	b.Publish(context.Background(), named("e"))
	b.Stop()

	assert.Equal(t, 1, calls)
}

func TestBus_PublishNeverBlocksWhenWorkersBusy(t *testing.T) {
	b := event.NewBus(nil, event.WithWorkers(1))

	started, release := make(chan struct{}), make(chan struct{})
	b.Subscribe("slow", func(context.Context, event.Event) error {
		close(started)
		<-release
		return nil
	})
	b.Subscribe("fast", func(context.Context, event.Event) error { return nil })

	b.Publish(context.Background(), named("slow"))
	<-started

	done := make(chan struct{})
	go func() {
		b.Publish(context.Background(), named("fast"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a busy bus")
	}
	assert.Equal(t, int64(1), b.Dropped())

	close(release)
	b.Stop()

	// The slot is free again.
	b.Publish(context.Background(), named("fast"))
	b.Stop()
	assert.Equal(t, int64(1), b.Dropped())
}

type named string

func (n named) Name() string { return string(n) }
