package event

import (
	"context"
	"sync"
)

// DrainValue consumes stream, forwarding every non-value event to the
// returned channel and capturing the payload of the last KindValue event
// seen. The captured value is returned via the *last return value once
// stream closes; callers that need it before stream closes should read
// the returned channel to completion first (spec §4.2 "Drain value").
func DrainValue(stream <-chan Event) (<-chan Event, *Capture) {
	out := make(chan Event)
	capture := &Capture{}
	go func() {
		defer close(out)
		for ev := range stream {
			if ev.Kind == KindValue {
				capture.set(ev.Payload)
				continue
			}
			out <- ev
		}
	}()
	return out, capture
}

// Capture holds the value drained out of an event stream. Value is only
// valid for reading once the stream that populates it has closed;
// orchestration code always ranges the forwarded channel to completion
// before calling Value.
type Capture struct {
	mu    sync.Mutex
	value any
	set_  bool
}

func (c *Capture) set(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.set_ = true
}

// Value returns the captured payload and whether a value was ever
// observed.
func (c *Capture) Value() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.set_
}

// ErrNoValue is returned by CaptureValue when the stream produced no
// KindValue event before closing.
type ErrNoValue struct{ Source string }

func (e *ErrNoValue) Error() string {
	return "event stream for " + e.Source + " produced no value before closing"
}

// CaptureValue drains stream the same way DrainValue does, but asserts a
// value was produced once the stream closes. source is used only for the
// error message. Returns the forwarded channel and a function that must
// be called after ranging it to completion.
func CaptureValue(source string, stream <-chan Event) (<-chan Event, func() (any, error)) {
	out, capture := DrainValue(stream)
	return out, func() (any, error) {
		v, ok := capture.Value()
		if !ok {
			return nil, &ErrNoValue{Source: source}
		}
		return v, nil
	}
}

// Gathered is the terminal marker GatherEventStreams emits once every
// named sub-stream has finished, carrying each stream's captured value
// keyed by name.
type Gathered struct {
	Values map[string]any
}

// GatherEventStreams runs the named producers concurrently, forwarding
// every non-value event as it arrives and collecting each producer's
// drained value into a dict keyed by name. When all producers finish, it
// emits a single KindValue event carrying a Gathered payload. If ctx is
// cancelled, the returned channel closes early without an event for the
// streams that did not finish (cancellation propagation, spec §5).
func GatherEventStreams(ctx context.Context, source string, producers map[string]func(context.Context) <-chan Event) <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		var mu sync.Mutex
		values := make(map[string]any, len(producers))

		for name, produce := range producers {
			name := name
			stream := produce(ctx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				forwarded, capture := DrainValue(stream)
				for {
					select {
					case ev, ok := <-forwarded:
						if !ok {
							v, has := capture.Value()
							if has {
								mu.Lock()
								values[name] = v
								mu.Unlock()
							}
							return
						}
						ev.StreamLabel = name
						select {
						case out <- ev:
						case <-ctx.Done():
							return
						}
					case <-ctx.Done():
						return
					}
				}
			}()
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			out <- Event{Source: source, Kind: KindValue, Payload: Gathered{Values: values}}
		case <-ctx.Done():
		}
	}()

	return out
}
