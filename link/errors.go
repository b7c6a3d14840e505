package link

import "errors"

var (
	// ErrOperationTimeout fails a Transaction whose Operation did not
	// complete within the operation timeout.
	ErrOperationTimeout = errors.New("link: operation timeout")
	// ErrTransportDisconnected fails every queued and in-flight Transaction
	// when the transport drops, and every Transaction enqueued on a
	// disconnected or closed link.
	ErrTransportDisconnected = errors.New("link: transport disconnected")
	// ErrTransactionReused is returned when a Transaction is enqueued twice.
	ErrTransactionReused = errors.New("link: transaction already enqueued")
	// ErrTransactionCancelled fails queued Transactions dropped by CancelPending.
	ErrTransactionCancelled = errors.New("link: transaction cancelled")
	// ErrEmptyTransaction is returned for a Transaction without Operations.
	ErrEmptyTransaction = errors.New("link: transaction has no operations")
	// ErrUnsupportedOperation fails an Operation the transport cannot perform.
	ErrUnsupportedOperation = errors.New("link: operation not supported by transport")
	// ErrInvalidTransition is returned for a state change not allowed from
	// the current state.
	ErrInvalidTransition = errors.New("link: invalid state transition")
	// ErrLinkFailed fails Transactions enqueued or still queued after
	// initialization failed. Connect again to recover.
	ErrLinkFailed = errors.New("link: initialization failed")
	// ErrLinkClosed is returned by operations on a closed link.
	ErrLinkClosed = errors.New("link: closed")
)
