package reassembly

import "errors"

var (
	// ErrReassemblyTimeout is reported when the next fragment of a transfer
	// does not arrive within the fragment timeout.
	ErrReassemblyTimeout = errors.New("reassembly: fragment timeout")
	// ErrChecksumMismatch is reported when a completed transfer fails its
	// trailing checksum.
	ErrChecksumMismatch = errors.New("reassembly: transfer checksum mismatch")
	// ErrFragmentOutOfOrder is returned for a fragment that does not continue
	// the open context of its transfer.
	ErrFragmentOutOfOrder = errors.New("reassembly: fragment out of order")
	// ErrTransferTooLarge is reported when a transfer exceeds the configured size limit.
	ErrTransferTooLarge = errors.New("reassembly: transfer too large")
	// ErrBufferClosed is returned by a closed Buffer.
	ErrBufferClosed = errors.New("reassembly: buffer closed")

	// ErrRequestTimeout is reported when a requested transfer never starts.
	ErrRequestTimeout = errors.New("reassembly: transfer request timeout")
	// ErrTransferReset is reported for the active transfer when the fetcher is reset.
	ErrTransferReset = errors.New("reassembly: transfer reset")
)
