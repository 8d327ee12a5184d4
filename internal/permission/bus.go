package permission

import (
	"context"
	"log/slog"
	"sync"
)

// Handle identifies one subscription. The zero Handle is never issued.
type Handle uint64

type subscriber struct {
	handle Handle
	fn     func()
}

// Bus notifies subscribers synchronously whenever a Store changes.
type Bus struct {
	mu      sync.Mutex
	next    Handle
	subs    []subscriber
	logger  *slog.Logger
	onPanic func(recovered any)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger used to report failing callbacks.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithPanicHandler registers a hook invoked after a callback panic was recovered.
func WithPanicHandler(fn func(recovered any)) BusOption {
	return func(b *Bus) {
		b.onPanic = fn
	}
}

// NewBus constructs an empty Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn to run on every publish. A nil fn is ignored and
// yields the zero Handle.
func (b *Bus) Subscribe(fn func()) Handle {
	if fn == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	h := b.next
	b.subs = append(b.subs, subscriber{handle: h, fn: fn})
	return h
}

// SubscribeContext registers fn for as long as ctx is alive. The subscription
// is released automatically once ctx is done.
func (b *Bus) SubscribeContext(ctx context.Context, fn func()) Handle {
	if ctx.Err() != nil {
		return 0
	}
	h := b.Subscribe(fn)
	if h == 0 {
		return 0
	}
	context.AfterFunc(ctx, func() {
		b.Unsubscribe(h)
	})
	return h
}

// Unsubscribe removes a subscription. Unknown, zero and already removed
// handles are ignored.
func (b *Bus) Unsubscribe(h Handle) {
	if h == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.handle == h {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish runs every callback registered when the call started, in
// registration order, on the caller's goroutine. A panicking callback is
// recovered and does not prevent the rest from running.
func (b *Bus) Publish() {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.invoke(s)
	}
}

func (b *Bus) invoke(s subscriber) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("permission subscriber panicked",
				slog.Uint64("handle", uint64(s.handle)),
				slog.Any("panic", r))
			if b.onPanic != nil {
				b.onPanic(r)
			}
		}
	}()
	s.fn()
}
