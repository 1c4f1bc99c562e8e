// Package viewer implements the client side of the annotation engine: the
// in-memory annotation store, the optimistic-update sync coordinator, and
// the interaction surface that wires selections and pointer hits to
// commands.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marginalia/internal/annotation"
	"marginalia/internal/geometry"
)

// Remote is the persistence boundary the coordinator dispatches to. The
// HTTP implementation lives in internal/remote; tests supply fakes.
type Remote interface {
	CreateAnnotation(ctx context.Context, documentID string, a annotation.Annotation) (annotation.Annotation, error)
	UpdateAnnotation(ctx context.Context, documentID, id string, changes annotation.Changes) (annotation.Annotation, error)
	DeleteAnnotation(ctx context.Context, documentID, id string) error
	ListAnnotations(ctx context.Context, documentID string) ([]annotation.Annotation, error)
}

// OpKind identifies the mutation a pending operation carries.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

const maxRetries = 2

// notifyCoalesceDelay gives simultaneously failing operations a window to
// collapse into a single user notification.
const notifyCoalesceDelay = 250 * time.Millisecond

// retryDelay implements linear backoff: 1s before the first retry, 2s
// before the second.
func retryDelay(retryCount int) time.Duration {
	return time.Duration(retryCount+1) * time.Second
}

// outcome is the next transition after a dispatch attempt.
type outcome int

const (
	outcomeConfirm outcome = iota
	outcomeRetry
	outcomeFail
)

// decide classifies a dispatch result. Transient failures (no response, or
// status >= 500) retry up to maxRetries; everything else fails immediately.
func decide(err error, retryCount int) outcome {
	if err == nil {
		return outcomeConfirm
	}
	if isTransient(err) && retryCount < maxRetries {
		return outcomeRetry
	}
	return outcomeFail
}

// transientError is implemented by boundary errors that carry a status
// classification. Errors without one (no response at all, timeouts) are
// treated as transient.
type transientError interface{ Transient() bool }

func isTransient(err error) bool {
	var te transientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	return true
}

// command is a user mutation applied locally whose dispatch is deferred
// behind an in-flight operation on the same annotation.
type command struct {
	kind    OpKind
	changes annotation.Changes
	prev    annotation.Annotation
}

// pendingOp tracks one in-flight or retrying mutation. The queue holds
// commands already applied to the store whose dispatch waits for this
// operation to reach a terminal state. Fields other than queue are owned by
// the dispatch goroutine once it starts; queue is only touched under the
// coordinator mutex.
type pendingOp struct {
	annotationID string
	kind         OpKind
	retryCount   int
	err          error

	record  annotation.Annotation // create payload
	changes annotation.Changes    // update payload
	prev    annotation.Annotation // update/delete rollback snapshot
	result  annotation.Annotation // server-confirmed record

	queue []command
}

// Coordinator makes every user-visible mutation instantaneous and drives
// the remote calls behind them with retry, backoff and rollback. It is the
// only component allowed to mutate the store for command-originated
// changes.
type Coordinator struct {
	documentID string
	remote     Remote
	clock      clockwork.Clock
	notifier   Notifier

	onChange       func()
	clearSelection func()

	mu            sync.Mutex
	store         *Store
	pending       map[string]*pendingOp
	failed        map[string]*pendingOp
	notifyPending bool

	closed chan struct{}
	wg     sync.WaitGroup
}

type Option func(*Coordinator)

// WithClock injects the clock used for backoff and timestamps. Tests pass
// a clockwork fake so retries never sleep for real.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithOnChange registers a callback invoked after every locally applied
// store change; the overlay renderer re-projects from it.
func WithOnChange(fn func()) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// WithSelectionClearer registers the hook that clears the active selection
// after a create is applied locally, before its dispatch starts.
func WithSelectionClearer(fn func()) Option {
	return func(c *Coordinator) { c.clearSelection = fn }
}

func NewCoordinator(documentID string, store *Store, remote Remote, opts ...Option) *Coordinator {
	c := &Coordinator{
		documentID: documentID,
		remote:     remote,
		clock:      clockwork.NewRealClock(),
		store:      store,
		pending:    make(map[string]*pendingOp),
		failed:     make(map[string]*pendingOp),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create applies a new annotation to the store, clears the selection, then
// dispatches the remote create. The store mutation completes before the
// network call starts, so perceived latency is zero regardless of network
// speed. Returns the local pending id.
func (c *Coordinator) Create(pos annotation.Position, color annotation.Color, note string) string {
	c.mu.Lock()
	now := c.clock.Now()
	a := annotation.Annotation{
		ID:         annotation.NewPendingID(),
		DocumentID: c.documentID,
		Position:   pos,
		Color:      color,
		Note:       note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	c.store.Add(a)
	op := &pendingOp{annotationID: a.ID, kind: OpCreate, record: a}
	c.pending[a.ID] = op
	c.mu.Unlock()

	c.changed()
	if c.clearSelection != nil {
		c.clearSelection()
	}
	c.dispatchAsync(op)
	return a.ID
}

// UpdateColor changes the highlight color, optimistically.
func (c *Coordinator) UpdateColor(id string, color annotation.Color) {
	c.applyUpdate(id, annotation.Changes{Color: &color})
}

// UpdateNote changes the note text, optimistically.
func (c *Coordinator) UpdateNote(id, note string) {
	c.applyUpdate(id, annotation.Changes{Note: &note})
}

func (c *Coordinator) applyUpdate(id string, changes annotation.Changes) {
	c.mu.Lock()
	cur, ok := c.store.Get(id)
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.failed, id) // a new command supersedes a parked failure

	updated := cur
	if changes.Color != nil {
		updated.Color = *changes.Color
	}
	if changes.Note != nil {
		updated.Note = *changes.Note
	}
	updated.UpdatedAt = c.clock.Now()
	c.store.Replace(id, updated)

	if busy, inFlight := c.pending[id]; inFlight {
		// Rule: at most one in-flight operation per annotation. The change
		// is visible already; its dispatch queues behind the current op.
		busy.queue = append(busy.queue, command{kind: OpUpdate, changes: changes, prev: cur})
		c.mu.Unlock()
		c.changed()
		return
	}

	op := &pendingOp{annotationID: id, kind: OpUpdate, changes: changes, prev: cur}
	c.pending[id] = op
	c.mu.Unlock()

	c.changed()
	c.dispatchAsync(op)
}

// Delete removes the annotation from the store immediately, retaining the
// full record for rollback.
func (c *Coordinator) Delete(id string) {
	c.mu.Lock()
	if busy, inFlight := c.pending[id]; inFlight {
		cur, ok := c.store.Remove(id)
		if !ok {
			c.mu.Unlock()
			return
		}
		busy.queue = append(busy.queue, command{kind: OpDelete, prev: cur})
		c.mu.Unlock()
		c.changed()
		return
	}
	delete(c.failed, id)
	cur, ok := c.store.Remove(id)
	if !ok {
		c.mu.Unlock()
		return
	}
	op := &pendingOp{annotationID: id, kind: OpDelete, prev: cur}
	c.pending[id] = op
	c.mu.Unlock()

	c.changed()
	c.dispatchAsync(op)
}

// Load seeds the store from the remote list endpoint. Geometry never comes
// back from the server; any rects the client already computed are kept.
func (c *Coordinator) Load(ctx context.Context) error {
	list, err := c.remote.ListAnnotations(ctx, c.documentID)
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}
	c.mu.Lock()
	for _, a := range list {
		if _, inFlight := c.pending[a.ID]; inFlight {
			continue
		}
		if cur, ok := c.store.Get(a.ID); ok && len(a.Position.Rects) == 0 {
			a.Position.Rects = cur.Position.Rects
		}
		c.store.Add(a)
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// SetGeometry attaches recomputed rects to an annotation. Local-only:
// geometry is a client rendering concern and is never synced.
func (c *Coordinator) SetGeometry(id string, rects []geometry.Rect) {
	c.mu.Lock()
	cur, ok := c.store.Get(id)
	if !ok {
		c.mu.Unlock()
		return
	}
	cur.Position.Rects = rects
	c.store.Replace(id, cur)
	c.mu.Unlock()
	c.changed()
}

// Annotations returns the current store snapshot in insertion order.
func (c *Coordinator) Annotations() []annotation.Annotation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.List()
}

// Annotation looks up a single record by id.
func (c *Coordinator) Annotation(id string) (annotation.Annotation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(id)
}

// PendingCount returns the number of in-flight operations.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// FailedCount returns the number of operations parked in the failed state.
func (c *Coordinator) FailedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failed)
}

// RetryAll re-issues every parked failed operation: the optimistic
// mutation the rollback undid is re-applied and the dispatch starts over
// with a fresh retry budget.
func (c *Coordinator) RetryAll() {
	c.mu.Lock()
	var started []*pendingOp
	for id, op := range c.failed {
		delete(c.failed, id)
		op.retryCount = 0
		op.err = nil
		switch op.kind {
		case OpCreate:
			c.store.Add(op.record)
		case OpUpdate:
			cur, ok := c.store.Get(id)
			if !ok {
				continue
			}
			op.prev = cur
			updated := cur
			if op.changes.Color != nil {
				updated.Color = *op.changes.Color
			}
			if op.changes.Note != nil {
				updated.Note = *op.changes.Note
			}
			updated.UpdatedAt = c.clock.Now()
			c.store.Replace(id, updated)
		case OpDelete:
			prev, ok := c.store.Remove(id)
			if !ok {
				continue
			}
			op.prev = prev
		}
		c.pending[id] = op
		started = append(started, op)
	}
	c.mu.Unlock()

	c.changed()
	for _, op := range started {
		c.dispatchAsync(op)
	}
}

// DiscardAll forgets every parked failure. Their rollbacks were already
// applied when they failed.
func (c *Coordinator) DiscardAll() {
	c.mu.Lock()
	c.failed = make(map[string]*pendingOp)
	c.mu.Unlock()
}

// Close stops retry waits and blocks until dispatch goroutines finish.
func (c *Coordinator) Close() {
	close(c.closed)
	c.wg.Wait()
}

func (c *Coordinator) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Coordinator) dispatchAsync(op *pendingOp) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatch(op)
	}()
}

// dispatch drives one operation to a terminal state. Retries run to
// completion even if the user navigated away; results still apply to the
// store.
func (c *Coordinator) dispatch(op *pendingOp) {
	for {
		err := c.call(op)
		switch decide(err, op.retryCount) {
		case outcomeConfirm:
			c.confirm(op)
			return
		case outcomeRetry:
			delay := retryDelay(op.retryCount)
			log.Printf("sync: %s %s attempt %d failed, retrying in %s: %v",
				op.kind, op.annotationID, op.retryCount+1, delay, err)
			op.retryCount++
			select {
			case <-c.clock.After(delay):
			case <-c.closed:
				return
			}
		case outcomeFail:
			log.Printf("sync: %s %s failed terminally after %d retries: %v",
				op.kind, op.annotationID, op.retryCount, err)
			c.fail(op, err)
			return
		}
	}
}

func (c *Coordinator) call(op *pendingOp) error {
	// No cancellation: a retry sequence runs to completion. Timeout
	// semantics belong to the transport.
	ctx := context.Background()
	switch op.kind {
	case OpCreate:
		confirmed, err := c.remote.CreateAnnotation(ctx, c.documentID, op.record)
		if err != nil {
			return err
		}
		op.result = confirmed
		return nil
	case OpUpdate:
		confirmed, err := c.remote.UpdateAnnotation(ctx, c.documentID, op.annotationID, op.changes)
		if err != nil {
			return err
		}
		op.result = confirmed
		return nil
	case OpDelete:
		return c.remote.DeleteAnnotation(ctx, c.documentID, op.annotationID)
	default:
		return fmt.Errorf("unknown operation kind %q", op.kind)
	}
}

// confirm promotes the pending record to the server-confirmed one,
// preserving locally computed rects (the server never echoes geometry) and
// any newer values applied by queued commands, then dispatches the next
// queued command if one is waiting.
func (c *Coordinator) confirm(op *pendingOp) {
	c.mu.Lock()
	var next *pendingOp
	switch op.kind {
	case OpCreate, OpUpdate:
		if cur, ok := c.store.Get(op.annotationID); ok {
			merged := op.result
			merged.Position.Rects = cur.Position.Rects
			if len(op.queue) > 0 {
				merged.Color = cur.Color
				merged.Note = cur.Note
			}
			c.store.Replace(op.annotationID, merged)
			delete(c.pending, op.annotationID)
			if len(op.queue) > 0 {
				next = c.takeQueued(merged.ID, op.queue)
			}
		} else {
			// Locally deleted while in flight; the queued delete (if any)
			// follows with the confirmed id.
			delete(c.pending, op.annotationID)
			if len(op.queue) > 0 {
				next = c.takeQueued(op.result.ID, op.queue)
			}
		}
	case OpDelete:
		delete(c.pending, op.annotationID)
		// Nothing can follow a confirmed delete.
	}
	c.mu.Unlock()

	c.changed()
	if next != nil {
		c.dispatchAsync(next)
	}
}

// takeQueued turns the head of a queue into the next in-flight operation.
// Called with the mutex held. The rollback snapshot is rebuilt against the
// current record so only the fields this command changed revert.
func (c *Coordinator) takeQueued(id string, queue []command) *pendingOp {
	head := queue[0]
	prev := head.prev
	prev.ID = id
	if cur, ok := c.store.Get(id); ok && head.kind == OpUpdate {
		merged := cur
		if head.changes.Color != nil {
			merged.Color = head.prev.Color
		}
		if head.changes.Note != nil {
			merged.Note = head.prev.Note
		}
		merged.UpdatedAt = head.prev.UpdatedAt
		prev = merged
	}
	op := &pendingOp{
		annotationID: id,
		kind:         head.kind,
		changes:      head.changes,
		prev:         prev,
		queue:        queue[1:],
	}
	c.pending[id] = op
	return op
}

// fail applies the rollback for a terminally failed operation, parks it for
// retry-all/discard-all, and schedules the coalesced notification. Queued
// commands behind the failure are unwound with it and dropped.
func (c *Coordinator) fail(op *pendingOp, err error) {
	c.mu.Lock()
	switch op.kind {
	case OpCreate:
		c.store.Remove(op.annotationID)
	case OpUpdate:
		if !c.store.Replace(op.annotationID, op.prev) {
			c.store.Add(op.prev)
		}
	case OpDelete:
		c.store.Add(op.prev)
	}
	if len(op.queue) > 0 {
		log.Printf("sync: dropping %d queued command(s) behind failed %s for %s",
			len(op.queue), op.kind, op.annotationID)
		op.queue = nil
	}
	op.err = err
	delete(c.pending, op.annotationID)
	c.failed[op.annotationID] = op
	c.scheduleNotify()
	c.mu.Unlock()
	c.changed()
}

// scheduleNotify arranges a single notification for all failures that land
// within the coalesce window. Called with the mutex held.
func (c *Coordinator) scheduleNotify() {
	if c.notifyPending || c.notifier == nil {
		return
	}
	c.notifyPending = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.clock.After(notifyCoalesceDelay):
		case <-c.closed:
			return
		}
		c.flushNotify()
	}()
}

func (c *Coordinator) flushNotify() {
	c.mu.Lock()
	c.notifyPending = false
	if len(c.failed) == 0 {
		c.mu.Unlock()
		return
	}
	notice := Notice{}
	for _, id := range c.store.order {
		if op, ok := c.failed[id]; ok {
			notice.Failures = append(notice.Failures, newFailure(op))
		}
	}
	// Failed creates and deletes are no longer in the store; include them
	// after the ordered ones.
	for id, op := range c.failed {
		if _, inStore := c.store.Get(id); !inStore {
			notice.Failures = append(notice.Failures, newFailure(op))
		}
	}
	c.mu.Unlock()
	c.notifier.Notify(notice)
}

func newFailure(op *pendingOp) Failure {
	return Failure{
		AnnotationID: op.annotationID,
		Kind:         op.kind,
		Permanent:    !isTransient(op.err),
		Message:      op.err.Error(),
	}
}
