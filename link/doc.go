// Package link is the per-device link engine.
//
// A Link composes a codec.Protocol with a transport.Transport and owns every
// piece of mutable per-device state: the transaction queue and its worker,
// the stream decoder, the reassembly buffer and transfer fetcher, the
// dispatch registry and the link state machine.
//
// Callers build Transactions out of Operations and enqueue them:
//
//	tx := link.NewTransaction("set-time",
//	    link.NewCommandWrite("", 0x03, 0x01, payload),
//	    link.Wait(50*time.Millisecond),
//	)
//	pending, err := l.Enqueue(tx)
//	...
//	err = pending.Wait(ctx)
//
// One worker executes Transactions in FIFO order and the Operations of a
// Transaction strictly in order, each bounded by the operation timeout.
// Transactions never interleave. When an Operation fails or times out the
// rest of its Transaction is skipped and the worker moves on.
//
// Inbound bytes are cut into frames and decoded on the transport's read
// goroutine, then handed to a dispatcher task over a buffered channel.
// Fragmented transfers go through the reassembly buffer, everything else
// through the dispatch registry. Results surface on the Sink.
package link
