// Package reassembly rebuilds multi-fragment transfers and schedules which
// transfer to fetch next.
//
// A Buffer accumulates the fragments of each transfer into one context keyed
// by transfer id. Each non-final fragment arms a pooled timer; when it fires
// the context is discarded and ErrReassemblyTimeout is reported once. The
// final fragment triggers verification of the trailing transfer checksum
// described by the family's codec.Protocol.
//
// A Fetcher keeps the transfers a caller wants in a priority queue
// (summaries before details before tracks, then by timestamp) and requests
// them one at a time. It implements Handler, so a Buffer reports straight
// into it:
//
//	fetcher := reassembly.NewFetcher(requester, sink)
//	buf, _ := reassembly.NewBuffer(proto, fetcher, reassembly.WithFragmentTimeout(3*time.Second))
package reassembly
