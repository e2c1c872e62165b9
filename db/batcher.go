package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	future "github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/sublite/sublite/change"
	"github.com/sublite/sublite/query"
	"github.com/sublite/sublite/telemetry"
)

// ErrCommitterStopped rejects operations submitted after shutdown began.
var ErrCommitterStopped = errors.New("batch committer is stopped")

type pendingOp struct {
	op           change.Operation
	promise      *future.Promise[change.Notification]
	notification change.Notification
	err          error
}

// batchCommitter groups concurrent operations into one write transaction per
// flush interval: one fsync for the whole batch. A savepoint around each
// operation keeps failures from poisoning their batch mates.
type batchCommitter struct {
	writer  *sql.DB
	dialect query.Dialect

	mu      sync.Mutex
	pending []*pendingOp

	maxWait time.Duration

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

func newBatchCommitter(writer *sql.DB, dialect query.Dialect, maxWait time.Duration) *batchCommitter {
	return &batchCommitter{
		writer:  writer,
		dialect: dialect,
		maxWait: maxWait,
		stopCh:  make(chan struct{}),
	}
}

func (bc *batchCommitter) Start() {
	bc.wg.Add(1)
	go bc.flushLoop()
}

func (bc *batchCommitter) Stop() {
	if !bc.stopped.CompareAndSwap(false, true) {
		return
	}
	close(bc.stopCh)
	bc.wg.Wait()
}

// Submit enqueues op and blocks until its batch commits. Operations are
// applied in arrival order within a batch.
func (bc *batchCommitter) Submit(op change.Operation) (change.Notification, error) {
	if bc.stopped.Load() {
		return nil, ErrCommitterStopped
	}

	p := future.NewPromise[change.Notification]()
	bc.mu.Lock()
	bc.pending = append(bc.pending, &pendingOp{op: op, promise: p})
	bc.mu.Unlock()

	return p.Future().Get()
}

func (bc *batchCommitter) flushLoop() {
	defer bc.wg.Done()

	ticker := time.NewTicker(bc.maxWait)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bc.tryFlush()
		case <-bc.stopCh:
			bc.tryFlush()
			return
		}
	}
}

func (bc *batchCommitter) tryFlush() {
	bc.mu.Lock()
	if len(bc.pending) == 0 {
		bc.mu.Unlock()
		return
	}
	batch := bc.pending
	bc.pending = nil
	bc.mu.Unlock()

	bc.flush(batch)
}

func (bc *batchCommitter) flush(batch []*pendingOp) {
	ctx := context.Background()

	tx, err := bc.writer.BeginTx(ctx, nil)
	if err != nil {
		failBatch(batch, storageErr("begin", "", err))
		return
	}

	for i, pending := range batch {
		if err := bc.applyWithSavepoint(ctx, tx, i, pending); err != nil {
			// The transaction itself is broken; nothing in it will land.
			tx.Rollback()
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("Batch transaction failed")
			failBatch(batch, storageErr("batch", "", err))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("Batch commit failed")
		failBatch(batch, storageErr("commit", "", err))
		return
	}

	telemetry.BatchedWritesPerFlush.Observe(float64(len(batch)))

	for _, pending := range batch {
		pending.promise.Set(pending.notification, pending.err)
	}
}

// applyWithSavepoint runs one operation inside its own savepoint. The
// returned error is transaction-level; operation-level failures are parked
// on the pending entry and rolled back to the savepoint.
func (bc *batchCommitter) applyWithSavepoint(ctx context.Context, tx *sql.Tx, index int, pending *pendingOp) error {
	name := fmt.Sprintf("op_%d", index)

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}

	notification, err := applyOperation(ctx, tx, bc.dialect, pending.op)
	if err != nil {
		pending.err = err
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return rbErr
		}
	} else {
		pending.notification = notification
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return err
	}
	return nil
}

func failBatch(batch []*pendingOp, err error) {
	for _, pending := range batch {
		pending.promise.Set(nil, err)
	}
}
