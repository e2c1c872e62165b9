// Package engine matches committed mutations against registered
// subscriptions and fans notifications out to their channels. It is the seam
// between storage and every delivery surface: SSE streams, embedded
// consumers and the external publisher tap.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/db"
	"github.com/sublite/sublite/query"
	"github.com/sublite/sublite/telemetry"
)

const (
	DefaultSubscriptionBuffer = 64
	DefaultTapBuffer          = 256
)

// ErrEngineClosed rejects calls made after Close.
var ErrEngineClosed = errors.New("engine is closed")

// Options tune engine behavior. The zero value picks the defaults above
// with raw writes disabled.
type Options struct {
	// SubscriptionBuffer is the per-subscriber channel capacity. A
	// subscriber that falls this far behind is pruned.
	SubscriptionBuffer int
	// AllowRawWrites permits write statements through Raw. Raw writes
	// bypass subscription matching, so they stay off unless opted into.
	AllowRawWrites bool
	// TapBuffer is the capacity of the notification tap.
	TapBuffer int
}

// Engine ties one store to the subscription registry.
type Engine struct {
	store    *db.Store
	registry *registry
	opts     Options

	tapMu     sync.Mutex
	tap       chan change.Notification
	tapClosed bool

	closed atomic.Bool
}

// New wraps store. The caller keeps ownership of the store and closes it
// after the engine.
func New(store *db.Store, opts Options) *Engine {
	if opts.SubscriptionBuffer <= 0 {
		opts.SubscriptionBuffer = DefaultSubscriptionBuffer
	}
	if opts.TapBuffer <= 0 {
		opts.TapBuffer = DefaultTapBuffer
	}
	return &Engine{
		store:    store,
		registry: newRegistry(),
		opts:     opts,
	}
}

// Fetch runs a one-shot query document.
func (e *Engine) Fetch(ctx context.Context, q *query.Query) (*query.Result, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	start := time.Now()
	result, err := e.store.Fetch(ctx, q)
	if err != nil {
		telemetry.FetchesTotal.With("failed").Inc()
		return nil, err
	}
	telemetry.FetchesTotal.With("success").Inc()
	telemetry.FetchDurationSeconds.Observe(time.Since(start).Seconds())
	return result, nil
}

// Subscribe registers condition on table under id and returns the rows it
// matches right now together with the delivery channel. The initial fetch
// and the registration happen inside the table's exclusive section, pairing
// with Execute's shared section: every commit lands either in the snapshot
// or on the channel, never both and never neither.
func (e *Engine) Subscribe(ctx context.Context, table, id string, condition query.Condition) (*query.Result, *BufferedChannel, error) {
	if e.closed.Load() {
		return nil, nil, ErrEngineClosed
	}
	if !query.ValidIdentifier(table) {
		return nil, nil, &query.ValidationError{Reason: fmt.Sprintf("invalid table name %q", table)}
	}
	if id == "" {
		return nil, nil, &query.ValidationError{Reason: "empty subscription id"}
	}
	if err := query.Validate(condition); err != nil {
		return nil, nil, err
	}

	t := e.registry.table(table)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.subs[id]; ok {
		return nil, nil, &query.ValidationError{Reason: fmt.Sprintf("subscription %q already exists on table %q", id, table)}
	}

	result, err := e.store.Fetch(ctx, &query.Query{
		Return:    query.ReturnMany,
		Table:     table,
		Condition: condition,
	})
	if err != nil {
		return nil, nil, err
	}

	channel := NewBufferedChannel(e.opts.SubscriptionBuffer)
	t.subs[id] = &subscription{id: id, condition: condition, channel: channel}
	telemetry.ActiveSubscriptions.With(table).Inc()

	log.Debug().
		Str("table", table).
		Str("subscription", id).
		Int("snapshot_rows", len(result.Rows)).
		Msg("Subscription registered")
	return result, channel, nil
}

// Unsubscribe removes id from table and closes its channel. Reports whether
// the subscription existed.
func (e *Engine) Unsubscribe(table, id string) bool {
	t, ok := e.registry.lookup(table)
	if !ok {
		return false
	}

	t.mu.Lock()
	sub, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	sub.channel.Close()
	telemetry.ActiveSubscriptions.With(table).Dec()
	log.Debug().Str("table", table).Str("subscription", id).Msg("Subscription removed")
	return true
}

// Execute commits one mutation and fans its notification out to matching
// subscribers. The table's shared section is held from before the commit
// until after the matching pass; see Subscribe for why.
func (e *Engine) Execute(ctx context.Context, op change.Operation) (change.Notification, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	opType := operationType(op)
	start := time.Now()

	t := e.registry.table(op.Table())
	t.mu.RLock()
	notification, err := e.store.Apply(ctx, op)
	if err != nil {
		t.mu.RUnlock()
		telemetry.OperationsTotal.With(opType, "failed").Inc()
		return nil, err
	}
	if notification == nil {
		// An update or delete that touched nothing commits no change and
		// notifies nobody.
		t.mu.RUnlock()
		telemetry.OperationsTotal.With(opType, "noop").Inc()
		return nil, nil
	}

	failed := dispatchLocked(t, notification)
	t.mu.RUnlock()

	if len(failed) > 0 {
		removed := t.remove(failed...)
		for _, sub := range removed {
			sub.channel.Close()
		}
		if len(removed) > 0 {
			telemetry.ActiveSubscriptions.With(op.Table()).Sub(float64(len(removed)))
		}
	}

	e.offerTap(notification)

	telemetry.OperationsTotal.With(opType, "success").Inc()
	telemetry.OperationDurationSeconds.With(opType).Observe(time.Since(start).Seconds())
	return notification, nil
}

// Raw executes one raw SQL statement. Write statements are refused unless
// the engine was opened with AllowRawWrites; either way they bypass
// subscription matching entirely.
func (e *Engine) Raw(ctx context.Context, stmt string, args []any) (*db.RawResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	class, err := db.ClassifyStatement(stmt)
	if err != nil {
		return nil, err
	}
	if class == db.StatementWrite && !e.opts.AllowRawWrites {
		telemetry.RawStatementsTotal.With(class.String(), "refused").Inc()
		return nil, &query.ValidationError{Reason: "raw write statements are disabled"}
	}

	result, err := e.store.Raw(ctx, stmt, args)
	if err != nil {
		telemetry.RawStatementsTotal.With(class.String(), "failed").Inc()
		return nil, err
	}
	telemetry.RawStatementsTotal.With(class.String(), "success").Inc()
	return result, nil
}

// Tap returns a feed of every committed notification, created on first
// call. Delivery is best effort: when the buffer is full the notification
// is dropped and counted rather than blocking a writer.
func (e *Engine) Tap() <-chan change.Notification {
	e.tapMu.Lock()
	defer e.tapMu.Unlock()
	if e.tap == nil && !e.tapClosed {
		e.tap = make(chan change.Notification, e.opts.TapBuffer)
	}
	return e.tap
}

func (e *Engine) offerTap(n change.Notification) {
	e.tapMu.Lock()
	defer e.tapMu.Unlock()
	if e.tap == nil || e.tapClosed {
		return
	}
	select {
	case e.tap <- n:
	default:
		telemetry.TapDroppedTotal.Inc()
	}
}

// Close tears down every subscription and closes the tap. The store stays
// open; the caller owns it.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	e.registry.tables.Range(func(table string, t *tableSubscriptions) bool {
		t.mu.Lock()
		for id, sub := range t.subs {
			sub.channel.Close()
			delete(t.subs, id)
		}
		t.mu.Unlock()
		telemetry.ActiveSubscriptions.With(table).Set(0)
		return true
	})

	e.tapMu.Lock()
	if e.tap != nil && !e.tapClosed {
		close(e.tap)
	}
	e.tapClosed = true
	e.tapMu.Unlock()

	log.Info().Msg("Engine closed")
}
