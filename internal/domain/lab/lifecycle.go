package lab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrInvalidTransition  = errors.New("lab: invalid status transition")
	ErrTransitionInFlight = errors.New("lab: a status transition is already in flight")
)

// StatusPoster sends a status change to the backend.
type StatusPoster interface {
	PostStatus(ctx context.Context, path string, status Status) error
}

// TransitionError is returned when the backend rejects a transition. The order
// has already been rolled back when it is returned.
type TransitionError struct {
	From Status
	To   Status
	Path string
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s via %s: %v", e.From, e.To, e.Path, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Transition describes one settled transition attempt.
type Transition struct {
	Key     OrderKey
	Variant Variant
	From    Status
	To      Status
	Err     error
	At      time.Time
}

// Committed reports whether the backend accepted the transition.
func (t Transition) Committed() bool { return t.Err == nil }

// Order is the in-memory lifecycle of one test order. It keeps the committed
// status separately from an in-flight target so the displayed status can move
// ahead of the backend and fall back if the call fails.
type Order struct {
	mu        sync.Mutex
	caller    Caller
	variant   Variant
	key       OrderKey
	committed Status
	target    Status
	inFlight  bool

	observers []func(Status)
	settled   []func(Transition)
}

// NewOrder starts the lifecycle at status. An empty status means Pending.
func NewOrder(caller Caller, variant Variant, key OrderKey, status Status) *Order {
	if status == "" {
		status = StatusPending
	}
	return &Order{caller: caller, variant: variant, key: key, committed: status}
}

// OrderFromView starts the lifecycle of a view row.
func OrderFromView(caller Caller, t TestOrder) *Order {
	return NewOrder(caller, t.Variant, t.Key, t.Status)
}

func (o *Order) Key() OrderKey { return o.key }
func (o *Order) Variant() Variant { return o.variant }

// Status is the status to display: the in-flight target if any, otherwise the
// committed status.
func (o *Order) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return o.target
	}
	return o.committed
}

// Committed is the last status the backend confirmed.
func (o *Order) Committed() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.committed
}

// InFlight reports whether a transition awaits the backend.
func (o *Order) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

// Subscribe registers fn to receive every change of the displayed status.
func (o *Order) Subscribe(fn func(Status)) {
	o.mu.Lock()
	o.observers = append(o.observers, fn)
	o.mu.Unlock()
}

// OnSettled registers fn to receive every finished transition attempt.
func (o *Order) OnSettled(fn func(Transition)) {
	o.mu.Lock()
	o.settled = append(o.settled, fn)
	o.mu.Unlock()
}

// StartProcessing moves Pending to Processing.
func (o *Order) StartProcessing(ctx context.Context, p StatusPoster) error {
	return o.transition(ctx, p, StatusPending, StatusProcessing)
}

// RequestUpload checks the order may enter the upload flow. No backend call
// is made and the status does not change.
func (o *Order) RequestUpload() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return ErrTransitionInFlight
	}
	if o.committed != StatusProcessing {
		return fmt.Errorf("%w: upload requires %s, order is %s", ErrInvalidTransition, StatusProcessing, o.committed)
	}
	return nil
}

// Complete moves Processing to Completed.
func (o *Order) Complete(ctx context.Context, p StatusPoster) error {
	return o.transition(ctx, p, StatusProcessing, StatusCompleted)
}

func (o *Order) transition(ctx context.Context, p StatusPoster, from, to Status) error {
	path, pathErr := StatusEndpoint(o.caller, o.variant, o.key)

	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return ErrTransitionInFlight
	}
	if o.committed != from {
		current := o.committed
		o.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s, order is %s", ErrInvalidTransition, from, to, current)
	}
	if pathErr != nil {
		o.mu.Unlock()
		return pathErr
	}
	o.inFlight = true
	o.target = to
	observers := append([]func(Status){}, o.observers...)
	o.mu.Unlock()

	notify(observers, to)

	err := p.PostStatus(ctx, path, to)

	o.mu.Lock()
	o.inFlight = false
	if err == nil {
		o.committed = to
	}
	settled := append([]func(Transition){}, o.settled...)
	o.mu.Unlock()

	if err != nil {
		notify(observers, from)
		err = &TransitionError{From: from, To: to, Path: path, Err: err}
	}

	tr := Transition{Key: o.key, Variant: o.variant, From: from, To: to, Err: err, At: time.Now().UTC()}
	for _, fn := range settled {
		fn(tr)
	}
	return err
}

func notify(observers []func(Status), s Status) {
	for _, fn := range observers {
		fn(s)
	}
}
