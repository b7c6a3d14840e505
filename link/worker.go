package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-wearlink/transport"
)

// Enqueue schedules tx and returns its completion handle without blocking.
//
// A Transaction can be enqueued once. On a disconnected or closed link the
// returned Pending has already failed with ErrTransportDisconnected, on a
// failed link with ErrLinkFailed.
func (l *Link) Enqueue(tx *Transaction) (*Pending, error) {
	if tx == nil || len(tx.ops) == 0 {
		return nil, ErrEmptyTransaction
	}
	if !tx.enqueued.CompareAndSwap(false, true) {
		return nil, ErrTransactionReused
	}

	if err := l.acceptErr(); err != nil {
		l.failTx(tx, err)
		return tx.pending, nil
	}

	l.metrics.incTxEnqueued()
	l.txQueue.Enqueue(tx)
	l.signal()

	// lost a race with Close
	if l.closed.Load() {
		l.failQueued(ErrTransportDisconnected)
	}

	return tx.pending, nil
}

// CancelPending fails every queued Transaction that has not started with
// ErrTransactionCancelled. The in-flight Transaction is not affected. It
// returns the number of cancelled Transactions.
func (l *Link) CancelPending() int {
	n := l.failQueued(ErrTransactionCancelled)
	if n > 0 {
		l.logger.Info("link: cancelled pending transactions", "count", n)
	}

	return n
}

// QueueLength returns the number of Transactions waiting for the worker.
func (l *Link) QueueLength() int {
	return l.txQueue.Length()
}

// acceptErr returns the error failing work enqueued in the current state.
func (l *Link) acceptErr() error {
	if l.closed.Load() {
		return ErrTransportDisconnected
	}

	switch l.state.Current().Kind {
	case Disconnected, Shutdown:
		return ErrTransportDisconnected
	case Failed:
		return ErrLinkFailed
	default:
		return nil
	}
}

func (l *Link) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Link) failQueued(err error) int {
	items := l.txQueue.Drain()
	l.metrics.decTxQueued(len(items))

	for _, tx := range items {
		l.failTx(tx, err)
	}

	return len(items)
}

func (l *Link) failTx(tx *Transaction, err error) {
	if tx.finish(err) {
		l.metrics.incTxFailed()
	}
}

// workerTask runs queued Transactions one at a time in FIFO order.
func (l *Link) workerTask(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.notify:
	}

	for {
		tx, ok := l.txQueue.Dequeue()
		if !ok {
			return true
		}
		l.metrics.decTxQueued(1)

		l.runTransaction(ctx, tx)

		if ctx.Err() != nil {
			return false
		}
	}
}

func (l *Link) runTransaction(ctx context.Context, tx *Transaction) {
	if tx.finished.Load() {
		return
	}
	// queued before initialization failed
	if l.state.Current().Kind == Failed {
		l.failTx(tx, ErrLinkFailed)
		return
	}

	txCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	l.runMu.Lock()
	l.running, l.runCancel = tx, cancel
	l.runMu.Unlock()

	defer func() {
		l.runMu.Lock()
		l.running, l.runCancel = nil, nil
		l.runMu.Unlock()
	}()

	l.logger.Debug("link: run transaction", "tx", tx.label, "ops", len(tx.ops))

	for i, op := range tx.ops {
		// failed from outside, e.g. by a disconnect
		if tx.finished.Load() {
			return
		}

		if err := l.runOperation(txCtx, op); err != nil {
			if !tx.finished.Load() {
				l.logger.Warn("link: operation failed, skipping rest of transaction",
					"tx", tx.label, "op", op.String(), "index", i, "remaining", len(tx.ops)-i-1, "error", err)
			}
			l.failTx(tx, err)

			return
		}
	}

	if tx.finish(nil) {
		l.metrics.incTxSucceeded()
	}
}

// runOperation executes op bounded by its timeout. An operation that
// ignores its context is abandoned when the timeout fires.
func (l *Link) runOperation(ctx context.Context, op Operation) error {
	bound := op.timeout(l.cfg.opTimeout)
	opCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("link: panic in %s: %v", op, r)
			}
		}()
		done <- op.execute(opCtx, l)
	}()

	var err error
	select {
	case err = <-done:
	case <-opCtx.Done():
		err = opCtx.Err()
	}

	return l.operationError(ctx, op, bound, err)
}

func (l *Link) operationError(ctx context.Context, op Operation, bound time.Duration, err error) error {
	if err == nil {
		return nil
	}

	// the transaction context is cancelled with the abort cause
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		l.metrics.incOpTimeouts()
		return fmt.Errorf("%w: %s after %v", ErrOperationTimeout, op, bound)
	}

	if errors.Is(err, transport.ErrNotConnected) {
		return fmt.Errorf("%w: %w", ErrTransportDisconnected, err)
	}

	return err
}
