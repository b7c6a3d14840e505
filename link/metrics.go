package link

import (
	"sync/atomic"
)

// LinkMetrics contains atomic counters of a Link.
// They can back a prometheus CounterFunc or GaugeFunc.
type LinkMetrics struct {
	// TxEnqueued counts accepted Transactions.
	TxEnqueued atomic.Uint64
	// TxSucceeded counts Transactions whose Operations all completed.
	TxSucceeded atomic.Uint64
	// TxFailed counts failed or cancelled Transactions.
	TxFailed atomic.Uint64
	// OpTimeouts counts Operations that timed out.
	OpTimeouts atomic.Uint64
	// TxQueued is the number of Transactions waiting for the worker.
	TxQueued atomic.Int64

	// FramesSent counts frames written to the transport.
	FramesSent atomic.Uint64
	// FramesReceived counts frames decoded successfully.
	FramesReceived atomic.Uint64
	// MalformedFrames counts frames dropped by the codec.
	MalformedFrames atomic.Uint64
	// UnknownCommands counts decoded frames nobody handles.
	UnknownCommands atomic.Uint64

	// TransfersCompleted counts verified transfers.
	TransfersCompleted atomic.Uint64
	// TransfersFailed counts timed out, corrupt or rejected transfers.
	TransfersFailed atomic.Uint64

	// Disconnects counts transport drops.
	Disconnects atomic.Uint32
}

func (m *LinkMetrics) incTxEnqueued() {
	m.TxEnqueued.Add(1)
	m.TxQueued.Add(1)
}

func (m *LinkMetrics) decTxQueued(n int) {
	m.TxQueued.Add(-int64(n))
}

func (m *LinkMetrics) incTxSucceeded() {
	m.TxSucceeded.Add(1)
}

func (m *LinkMetrics) incTxFailed() {
	m.TxFailed.Add(1)
}

func (m *LinkMetrics) incOpTimeouts() {
	m.OpTimeouts.Add(1)
}

func (m *LinkMetrics) incFramesSent() {
	m.FramesSent.Add(1)
}

func (m *LinkMetrics) incFramesReceived() {
	m.FramesReceived.Add(1)
}

func (m *LinkMetrics) incMalformedFrames() {
	m.MalformedFrames.Add(1)
}

func (m *LinkMetrics) incUnknownCommands() {
	m.UnknownCommands.Add(1)
}

func (m *LinkMetrics) incTransfersCompleted() {
	m.TransfersCompleted.Add(1)
}

func (m *LinkMetrics) incTransfersFailed() {
	m.TransfersFailed.Add(1)
}

func (m *LinkMetrics) incDisconnects() {
	m.Disconnects.Add(1)
}
