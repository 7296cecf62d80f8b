// Package event is the in-process pub/sub between game lobbies and the
// services that react to finished games.
package event

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultWorkers = 256
	handlerTimeout = 10 * time.Second
)

type Event interface {
	Name() string
}

type Handler func(ctx context.Context, e Event) error

type Option func(*Bus)

// WithWorkers caps the number of handlers running at once.
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.slots = make(chan struct{}, n)
		}
	}
}

// Bus delivers events to subscribers on their own goroutines. Publish never
// blocks the caller: with every worker busy the delivery is dropped.
type Bus struct {
	log     *zap.Logger
	slots   chan struct{}
	running sync.WaitGroup
	dropped atomic.Int64

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus(log *zap.Logger, opts ...Option) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		log:      log,
		slots:    make(chan struct{}, defaultWorkers),
		handlers: make(map[string][]Handler),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	hs := b.handlers[e.Name()]
	b.mu.RUnlock()

	for _, h := range hs {
		select {
		case b.slots <- struct{}{}:
		default:
			b.dropped.Add(1)
			b.log.Warn("event: all workers busy, delivery dropped", zap.String("event", e.Name()))
			continue
		}
		b.running.Add(1)
		go b.run(ctx, h, e)
	}
}

func (b *Bus) run(ctx context.Context, h Handler, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event: handler panic",
				zap.String("event", e.Name()),
				zap.Error(fmt.Errorf("%v, stack: %s", r, debug.Stack())),
			)
		}
		cancel()
		<-b.slots
		b.running.Done()
	}()

	if err := h(ctx, e); err != nil {
		b.log.Error("event: handler failed", zap.String("event", e.Name()), zap.Error(err))
	}
}

// Dropped counts deliveries skipped because every worker was busy.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Stop waits for in-flight handlers.
func (b *Bus) Stop() {
	b.running.Wait()
}
