package link

import (
	"context"
	"sync"
	"sync/atomic"
)

// Transaction is an ordered batch of Operations executed atomically with
// respect to other Transactions on the same link.
//
// A Transaction is built, optionally given callbacks, and enqueued once.
// Exactly one of its success or failure outcomes is reported, once.
type Transaction struct {
	label    string
	ops      []Operation
	enqueued atomic.Bool
	finished atomic.Bool
	pending  *Pending

	mu        sync.Mutex
	onSuccess []func()
	onFailure []func(err error)
}

// NewTransaction creates a Transaction running ops in order.
func NewTransaction(label string, ops ...Operation) *Transaction {
	return &Transaction{
		label:   label,
		ops:     append([]Operation(nil), ops...),
		pending: newPending(),
	}
}

// Add appends Operations. It must be called before the Transaction is enqueued.
func (tx *Transaction) Add(ops ...Operation) *Transaction {
	tx.ops = append(tx.ops, ops...)
	return tx
}

// OnSuccess registers fn to be called once every Operation has completed.
func (tx *Transaction) OnSuccess(fn func()) *Transaction {
	tx.mu.Lock()
	tx.onSuccess = append(tx.onSuccess, fn)
	tx.mu.Unlock()

	return tx
}

// OnFailure registers fn to be called with the error that failed the Transaction.
func (tx *Transaction) OnFailure(fn func(err error)) *Transaction {
	tx.mu.Lock()
	tx.onFailure = append(tx.onFailure, fn)
	tx.mu.Unlock()

	return tx
}

// Label returns the label given at construction.
func (tx *Transaction) Label() string { return tx.label }

// Len returns the number of Operations.
func (tx *Transaction) Len() int { return len(tx.ops) }

// Operations returns the Operations in execution order.
func (tx *Transaction) Operations() []Operation {
	return append([]Operation(nil), tx.ops...)
}

// finish runs the callbacks and then resolves the Pending with err. It
// returns false when the Transaction was already finished.
func (tx *Transaction) finish(err error) bool {
	if !tx.finished.CompareAndSwap(false, true) {
		return false
	}
	defer tx.pending.resolve(err)

	tx.mu.Lock()
	onSuccess := tx.onSuccess
	onFailure := tx.onFailure
	tx.mu.Unlock()

	if err == nil {
		for _, fn := range onSuccess {
			fn()
		}
	} else {
		for _, fn := range onFailure {
			fn(err)
		}
	}

	return true
}

// Pending is the completion handle of an enqueued Transaction.
type Pending struct {
	once     sync.Once
	done     chan struct{}
	resolved atomic.Bool
	err      error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		p.resolved.Store(true)
		close(p.done)
	})
}

// Done returns a channel closed when the Transaction completes or fails.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the failure, or nil while pending and after success.
func (p *Pending) Err() error {
	if !p.resolved.Load() {
		return nil
	}

	return p.err
}

// Wait blocks until the Transaction completes and returns its error, or
// returns ctx.Err() when ctx is done first.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
