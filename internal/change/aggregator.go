package change

import "context"

// Source hands out buffered changes one at a time without blocking. Next
// returns false when nothing is currently available; more changes may appear
// after future scan cycles.
type Source interface {
	Next() (Change, bool)
}

// Aggregator is the fan-in point between monitor goroutines and the
// checkpoint queue. Monitors block in Add when the buffer is full, which
// back-pressures scanning until the consumer drains the queue. Interleaving
// across monitors is unordered; within one monitor, Add calls preserve
// emission order.
type Aggregator struct {
	ch chan Change
}

// NewAggregator creates an aggregator buffering up to capacity changes.
func NewAggregator(capacity int) *Aggregator {
	return &Aggregator{ch: make(chan Change, capacity)}
}

// Add enqueues one change, blocking while the buffer is full. It returns
// ctx.Err() if the context is canceled first.
func (a *Aggregator) Add(ctx context.Context, c Change) error {
	select {
	case a.ch <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next implements Source.
func (a *Aggregator) Next() (Change, bool) {
	select {
	case c := <-a.ch:
		return c, true
	default:
		return Change{}, false
	}
}

// Len returns the number of buffered changes.
func (a *Aggregator) Len() int { return len(a.ch) }
