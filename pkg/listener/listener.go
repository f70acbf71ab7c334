package listener

import (
	"context"
	"log/slog"
	"sync"
)

// Listener drains a channel on a single goroutine, so inputs are handled
// strictly in the order they were sent. Handler errors never stop it.
type Listener[T any] struct {
	name    string
	handler func(ctx context.Context, input T) error
	onError func(input T, err error)

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
}

func New[T any](
	name string,
	in <-chan T,
	handler func(context.Context, T) error,
	onError ...func(T, error),
) *Listener[T] {
	l := &Listener[T]{
		name:    name,
		in:      in,
		handler: handler,
		cancel:  func() {},
	}
	if len(onError) > 0 && onError[0] != nil {
		l.onError = onError[0]
	} else {
		l.onError = func(_ T, err error) {
			slog.Warn("listener handler failed", "listener", name, "error", err)
		}
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			select {
			case inp, ok := <-l.in:
				if !ok {
					return
				}
				if err := l.handler(ctx, inp); err != nil {
					l.onError(inp, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the in-flight handler and waits for the goroutine to exit.
// Inputs still queued are abandoned.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
}
