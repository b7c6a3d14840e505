package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-wearlink/codec"
	"github.com/arloliu/go-wearlink/dispatch"
	"github.com/arloliu/go-wearlink/reassembly"
	"github.com/arloliu/go-wearlink/trace"
)

// ===================================
// Connect and state
// ===================================

func TestLink_ConnectInitializes(t *testing.T) {
	t.Parallel()

	sink := &eventLog{}
	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr, WithSink(sink))
	require.Equal(t, Disconnected, l.State().Kind)

	connectLink(t, l)

	changes := sink.byKind(StateChanged)
	require.Len(t, changes, 3)
	assert.Equal(t, Connecting, changes[0].State.Kind)
	assert.Equal(t, Initializing, changes[1].State.Kind)
	assert.Equal(t, Initialized, changes[2].State.Kind)
	assert.Equal(t, Initializing, changes[2].Prev.Kind)
	assert.Equal(t, l.ID(), changes[0].LinkID)
}

func TestLink_InitFailureAndRetry(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.setFail("auth", errors.New("auth rejected"))

	p := codec.NewCompact8()
	l := newTestLink(t, p, tr, WithInitTransaction(func() *Transaction {
		return NewTransaction("auth", Write("auth", []byte{0x01}))
	}))

	err := l.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth rejected")

	st := l.State()
	assert.Equal(t, Failed, st.Kind)
	assert.Contains(t, st.Reason, "auth rejected")

	p2, err := l.Enqueue(NewTransaction("after failure", Write("b", nil)))
	require.NoError(t, err)
	require.ErrorIs(t, p2.Err(), ErrLinkFailed)

	tr.setFail("auth", nil)
	connectLink(t, l)
	assert.Equal(t, []string{"auth"}, tr.targets())
}

func TestLink_InitFailureFailsQueued(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.setFail("auth", errors.New("auth rejected"))

	l := newTestLink(t, codec.NewCompact8(), tr, WithInitTransaction(func() *Transaction {
		return NewTransaction("auth", Wait(50*time.Millisecond), Write("auth", []byte{0x01}))
	}))

	connErr := make(chan error, 1)
	go func() { connErr <- l.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return l.State().Kind == Initializing }, time.Second, time.Millisecond)

	out := &outcome{}
	queued, err := l.Enqueue(out.watch(NewTransaction("queued", Write("b", nil))))
	require.NoError(t, err)

	require.ErrorContains(t, <-connErr, "auth rejected")
	require.ErrorIs(t, waitPending(t, queued), ErrLinkFailed)
	_, failures := out.counts()
	assert.Len(t, failures, 1)
	assert.NotContains(t, tr.targets(), "b")
}

func TestLink_ConnectOpenError(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.openErr = errors.New("no such port")
	l := newTestLink(t, codec.NewCompact8(), tr)

	err := l.Connect(context.Background())
	require.ErrorContains(t, err, "no such port")
	assert.Equal(t, Disconnected, l.State().Kind)
}

func TestLink_SetLinkStateOperations(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr)
	connectLink(t, l)

	p, err := l.Enqueue(NewTransaction("sync", SetLinkState(State{Kind: Busy, Label: "sync"})))
	require.NoError(t, err)
	require.NoError(t, waitPending(t, p))
	assert.Equal(t, State{Kind: Busy, Label: "sync"}, l.State())

	p, err = l.Enqueue(NewTransaction("done", SetLinkState(State{Kind: Initialized})))
	require.NoError(t, err)
	require.NoError(t, waitPending(t, p))
	assert.Equal(t, Initialized, l.State().Kind)

	p, err = l.Enqueue(NewTransaction("bad", SetLinkState(State{Kind: Initializing})))
	require.NoError(t, err)
	require.ErrorIs(t, waitPending(t, p), ErrInvalidTransition)
}

// ===================================
// Transaction queue
// ===================================

func TestLink_TransactionsNeverInterleave(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		tr := newFakeTransport()
		l := newTestLink(t, codec.NewCompact8(), tr)
		connectLink(t, l)

		txA := NewTransaction("A", Write("A1", []byte{1}), Write("A2", []byte{2}))
		txB := NewTransaction("B", Write("B1", []byte{3}))

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			pA    *Pending
			pB    *Pending
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			pA, _ = l.Enqueue(txA)
		}()
		go func() {
			defer wg.Done()
			<-start
			pB, _ = l.Enqueue(txB)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, waitPending(t, pA))
		require.NoError(t, waitPending(t, pB))

		got := tr.targets()
		valid := assert.ObjectsAreEqual([]string{"A1", "A2", "B1"}, got) ||
			assert.ObjectsAreEqual([]string{"B1", "A1", "A2"}, got)
		require.True(t, valid, "interleaved execution: %v", got)

		require.NoError(t, l.Close())
	}
}

func TestLink_FIFOOrder(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr)
	connectLink(t, l)

	release := tr.setStall("first")
	p0, err := l.Enqueue(NewTransaction("first", Write("first", nil)))
	require.NoError(t, err)
	tr.waitStarted(t, "first")

	pendings := make([]*Pending, 0, 5)
	for i := 0; i < 5; i++ {
		p, err := l.Enqueue(NewTransaction(fmt.Sprint(i), Write(fmt.Sprintf("t%d", i), nil)))
		require.NoError(t, err)
		pendings = append(pendings, p)
	}
	assert.Equal(t, 5, l.QueueLength())

	close(release)
	require.NoError(t, waitPending(t, p0))
	for _, p := range pendings {
		require.NoError(t, waitPending(t, p))
	}

	assert.Equal(t, []string{"first", "t0", "t1", "t2", "t3", "t4"}, tr.targets())
	assert.Equal(t, uint64(7), l.Metrics().TxSucceeded.Load()) // including init
	assert.Equal(t, int64(0), l.Metrics().TxQueued.Load())
}

func TestLink_SuccessReportedOnce(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr)
	connectLink(t, l)

	out := &outcome{}
	p, err := l.Enqueue(out.watch(NewTransaction("ok", Write("x", []byte{1}), Write("y", []byte{2}))))
	require.NoError(t, err)
	require.NoError(t, waitPending(t, p))

	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed")
	}
	require.NoError(t, p.Err())

	success, failures := out.counts()
	assert.Equal(t, 1, success)
	assert.Empty(t, failures)
}

func TestLink_OperationTimeoutSkipsRest(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr, WithOperationTimeout(50*time.Millisecond))
	connectLink(t, l)

	tr.setStall("slow")

	outA := &outcome{}
	pA, err := l.Enqueue(outA.watch(NewTransaction("A", Write("slow", nil), Write("A2", nil))))
	require.NoError(t, err)
	pB, err := l.Enqueue(NewTransaction("B", Write("B1", nil)))
	require.NoError(t, err)

	errA := waitPending(t, pA)
	require.ErrorIs(t, errA, ErrOperationTimeout)
	require.NoError(t, waitPending(t, pB))

	assert.Equal(t, []string{"B1"}, tr.targets(), "A2 must be skipped")

	success, failures := outA.counts()
	assert.Zero(t, success)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0], ErrOperationTimeout)
	assert.Equal(t, uint64(1), l.Metrics().OpTimeouts.Load())
}

func TestLink_UnresponsiveOperationTimesOut(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr, WithOperationTimeout(50*time.Millisecond))
	connectLink(t, l)

	release := tr.setDeaf("deaf")
	t.Cleanup(func() { close(release) })

	pA, err := l.Enqueue(NewTransaction("A", Write("deaf", nil)))
	require.NoError(t, err)
	pB, err := l.Enqueue(NewTransaction("B", Write("B1", nil)))
	require.NoError(t, err)

	require.ErrorIs(t, waitPending(t, pA), ErrOperationTimeout)
	require.NoError(t, waitPending(t, pB))
}

func TestLink_WaitOperation(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr, WithOperationTimeout(20*time.Millisecond))
	connectLink(t, l)

	start := time.Now()
	p, err := l.Enqueue(NewTransaction("pause", Write("a", nil), Wait(80*time.Millisecond), Write("b", nil)))
	require.NoError(t, err)
	require.NoError(t, waitPending(t, p), "wait is bounded by its own duration")

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, tr.targets())
}

func TestLink_OperationErrorFailsTransaction(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	errWrite := errors.New("write refused")
	tr.setFail("bad", errWrite)

	l := newTestLink(t, codec.NewCompact8(), tr)
	connectLink(t, l)

	p, err := l.Enqueue(NewTransaction("A", Write("bad", nil), Write("after", nil)))
	require.NoError(t, err)
	require.ErrorIs(t, waitPending(t, p), errWrite)
	assert.Empty(t, tr.targets())
	assert.Equal(t, uint64(1), l.Metrics().TxFailed.Load())
}

func TestLink_DisconnectFailsEverything(t *testing.T) {
	t.Parallel()

	sink := &eventLog{}
	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr, WithSink(sink))
	connectLink(t, l)

	tr.setStall("slow")

	outs := make([]*outcome, 3)
	pendings := make([]*Pending, 3)
	for i := range outs {
		outs[i] = &outcome{}
		target := "slow"
		if i > 0 {
			target = fmt.Sprintf("q%d", i)
		}

		p, err := l.Enqueue(outs[i].watch(NewTransaction(target, Write(target, nil))))
		require.NoError(t, err)
		pendings[i] = p
	}
	tr.waitStarted(t, "slow")

	tr.drop(io.EOF)

	for i, p := range pendings {
		require.ErrorIs(t, waitPending(t, p), ErrTransportDisconnected, "transaction %d", i)

		success, failures := outs[i].counts()
		assert.Zero(t, success)
		assert.Len(t, failures, 1)
	}

	assert.Equal(t, Disconnected, l.State().Kind)
	assert.Zero(t, l.QueueLength())
	assert.Empty(t, tr.targets())
	assert.Equal(t, uint32(1), l.Metrics().Disconnects.Load())

	p, err := l.Enqueue(NewTransaction("late", Write("late", nil)))
	require.NoError(t, err)
	require.ErrorIs(t, p.Err(), ErrTransportDisconnected)

	last := sink.byKind(StateChanged)
	require.NotEmpty(t, last)
	assert.Equal(t, Disconnected, last[len(last)-1].State.Kind)
}

func TestLink_CancelPending(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr)
	connectLink(t, l)

	release := tr.setStall("busy")
	p0, err := l.Enqueue(NewTransaction("busy", Write("busy", nil)))
	require.NoError(t, err)
	tr.waitStarted(t, "busy")

	p1, err := l.Enqueue(NewTransaction("q1", Write("q1", nil)))
	require.NoError(t, err)
	p2, err := l.Enqueue(NewTransaction("q2", Write("q2", nil)))
	require.NoError(t, err)

	assert.Equal(t, 2, l.CancelPending())
	require.ErrorIs(t, waitPending(t, p1), ErrTransactionCancelled)
	require.ErrorIs(t, waitPending(t, p2), ErrTransactionCancelled)

	close(release)
	require.NoError(t, waitPending(t, p0))
	assert.Equal(t, []string{"busy"}, tr.targets())
	assert.Zero(t, l.CancelPending())
}

func TestLink_EnqueueErrors(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr)
	connectLink(t, l)

	_, err := l.Enqueue(nil)
	require.ErrorIs(t, err, ErrEmptyTransaction)
	_, err = l.Enqueue(NewTransaction("empty"))
	require.ErrorIs(t, err, ErrEmptyTransaction)

	tx := NewTransaction("once", Write("a", nil))
	p, err := l.Enqueue(tx)
	require.NoError(t, err)
	require.NoError(t, waitPending(t, p))

	_, err = l.Enqueue(tx)
	require.ErrorIs(t, err, ErrTransactionReused)

	require.NoError(t, l.Close())

	out := &outcome{}
	p, err = l.Enqueue(out.watch(NewTransaction("closed", Write("b", nil))))
	require.NoError(t, err)
	require.ErrorIs(t, waitPending(t, p), ErrTransportDisconnected)
	_, failures := out.counts()
	assert.Len(t, failures, 1)
}

func TestLink_EnqueueBeforeConnect(t *testing.T) {
	t.Parallel()

	l := newTestLink(t, codec.NewCompact8(), newFakeTransport())

	p, err := l.Enqueue(NewTransaction("early", Write("a", nil)))
	require.NoError(t, err)
	require.ErrorIs(t, p.Err(), ErrTransportDisconnected)
}

func TestLink_CommandCounterFollowsQueueOrder(t *testing.T) {
	t.Parallel()

	p := codec.NewCompact8()
	tr := newFakeTransport()
	l := newTestLink(t, p, tr)
	connectLink(t, l)

	var last *Pending
	for i := 0; i < 3; i++ {
		pending, err := l.Enqueue(NewTransaction("cmd", NewCommandWrite("", 0x40, uint16(i), []byte{byte(i)})))
		require.NoError(t, err)
		last = pending
	}
	require.NoError(t, waitPending(t, last))

	frames := tr.frames(t, p)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, uint32(i), f.Counter())
		assert.Equal(t, uint16(0x40), f.Command())
		assert.Equal(t, uint16(i), f.SubCommand())
		assert.Equal(t, []byte{byte(i)}, f.Args())
	}
	assert.Equal(t, uint64(3), l.Metrics().FramesSent.Load())
}

func TestLink_ReadAndSubscribe(t *testing.T) {
	t.Parallel()

	t.Run("byte stream", func(t *testing.T) {
		t.Parallel()

		l := newTestLink(t, codec.NewCompact8(), newFakeTransport())
		connectLink(t, l)

		p, err := l.Enqueue(NewTransaction("sub", SetSubscription("notify", true)))
		require.NoError(t, err)
		require.NoError(t, waitPending(t, p))

		p, err = l.Enqueue(NewTransaction("read", Read("battery", nil)))
		require.NoError(t, err)
		require.ErrorIs(t, waitPending(t, p), ErrUnsupportedOperation)
	})

	t.Run("attribute transport", func(t *testing.T) {
		t.Parallel()

		tr := &readerTransport{
			fakeTransport: newFakeTransport(),
			values:        map[string][]byte{"battery": {87}},
		}
		l := newTestLink(t, codec.NewCompact8(), tr)
		connectLink(t, l)

		var got []byte
		p, err := l.Enqueue(NewTransaction("read",
			SetSubscription("notify", true),
			Read("battery", func(v []byte) { got = v }),
		))
		require.NoError(t, err)
		require.NoError(t, waitPending(t, p))

		assert.Equal(t, []byte{87}, got)
		assert.Equal(t, []string{"notify"}, tr.subscriptions)

		p, err = l.Enqueue(NewTransaction("read", Read("missing", nil)))
		require.NoError(t, err)
		require.Error(t, waitPending(t, p))
	})
}

func TestLink_TransferOps(t *testing.T) {
	t.Parallel()

	p := codec.NewCompact8()
	tr := newFakeTransport()
	l := newTestLink(t, p, tr, WithMTU(40))
	connectLink(t, l)

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	ops, err := l.TransferOps("", codec.Compact8CmdTransfer, 0, payload)
	require.NoError(t, err)
	require.Greater(t, len(ops), 1)

	pending, err := l.Enqueue(NewTransaction("upload", ops...))
	require.NoError(t, err)
	require.NoError(t, waitPending(t, pending))

	frames := tr.frames(t, p)
	require.Len(t, frames, len(ops))

	var buf []byte
	for i, f := range frames {
		frag, ok, err := p.Fragments.Parse(f)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint16(i+1), frag.Index)
		buf = append(buf, frag.Data...)
	}
	assert.Equal(t, p.AppendTransferChecksum(payload), buf)
}

// ===================================
// Inbound path
// ===================================

func TestLink_InboundRouting(t *testing.T) {
	t.Parallel()

	p := codec.NewCompact8()
	sink := &eventLog{}
	tr := newFakeTransport()
	l := newTestLink(t, p, tr, WithSink(sink))
	connectLink(t, l)

	var (
		mu  sync.Mutex
		got []*codec.Frame
	)
	l.Route(0x42, dispatch.ProcessorFunc(func(f *codec.Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}))

	good, err := p.Encode(0x42, 0x01, []byte("hello"))
	require.NoError(t, err)

	corrupt, err := p.Encode(0x42, 0x02, []byte("world"))
	require.NoError(t, err)
	corrupt[len(corrupt)-1] ^= 0xFF

	unknown, err := p.Encode(0x77, 0x00, nil)
	require.NoError(t, err)

	// noise, a frame split across reads, a corrupt frame and an unknown command
	tr.inject([]byte{0x00, 0x13})
	tr.inject(good[:5])
	tr.inject(append(good[5:], corrupt...))
	tr.inject(unknown)

	require.Eventually(t, func() bool {
		return l.Metrics().UnknownCommands.Load() == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("hello"), got[0].Args())
	mu.Unlock()

	assert.Equal(t, uint64(1), l.Metrics().MalformedFrames.Load())
	assert.Equal(t, uint64(2), l.Metrics().FramesReceived.Load())

	dispatched := sink.byKind(FrameDispatched)
	require.Len(t, dispatched, 1)
	assert.Equal(t, uint16(0x01), dispatched[0].Frame.SubCommand())
}

func TestLink_CMFInboundRouting(t *testing.T) {
	t.Parallel()

	p := codec.NewCMF()
	sink := &eventLog{}
	tr := newFakeTransport()
	l := newTestLink(t, p, tr, WithSink(sink))
	connectLink(t, l)

	var (
		mu  sync.Mutex
		got []*codec.Frame
	)
	l.Route(0x42, dispatch.ProcessorFunc(func(f *codec.Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}))

	encode := func(f *codec.Frame) []byte {
		data, err := p.EncodeFrame(f)
		require.NoError(t, err)

		return data
	}

	corrupt := encode(codec.NewFrame(0x42, 3, []byte("bad")).WithFragment(1, 1))
	corrupt[len(corrupt)-1] ^= 0xFF

	tr.inject(encode(codec.NewFrame(0x42, 1, []byte("one")).WithFragment(1, 1)))
	tr.inject(encode(codec.NewFrame(0x42, 2, []byte("two"))))
	tr.inject(corrupt)
	tr.inject(encode(codec.NewFrame(0x50, 0, []byte("ab")).WithFragment(1, 2)))
	tr.inject(encode(codec.NewFrame(0x50, 0, []byte("cd")).WithFragment(2, 2)))

	require.Eventually(t, func() bool {
		return len(sink.byKind(TransferCompleted)) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, []byte("one"), got[0].Args())
	assert.Equal(t, []byte("two"), got[1].Args())
	mu.Unlock()

	assert.Equal(t, uint64(1), l.Metrics().MalformedFrames.Load())
	assert.Zero(t, l.Metrics().TransfersFailed.Load())
	assert.Len(t, sink.byKind(FrameDispatched), 2)

	completed := sink.byKind(TransferCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, []byte("abcd"), completed[0].Transfer.Payload)
}

func TestLink_OpenService(t *testing.T) {
	t.Parallel()

	p := codec.NewCompact8()
	tr := newFakeTransport()
	l := newTestLink(t, p, tr)
	connectLink(t, l)

	var streamed atomic.Int32
	require.NoError(t, l.RegisterService(dispatch.Service{
		ID: 0x0102,
		Processor: dispatch.ProcessorFunc(func(*codec.Frame) {
			streamed.Add(1)
		}),
	}))

	pending, err := l.OpenService(0x0102)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tr.targets()) == 1 }, time.Second, 5*time.Millisecond)
	req := tr.frames(t, p)[0]
	assert.Equal(t, codec.Compact8CmdStreamOpen, req.Command())
	assert.Equal(t, []byte{0x01, 0x02}, req.Args()[:2])

	ack, err := p.EncodeFrame(codec.NewFrame(codec.Compact8CmdOpenAck, 0, []byte{0x01, 0x02, 0x05, 0x00}))
	require.NoError(t, err)
	tr.inject(ack)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	handle, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), handle)

	data, err := p.EncodeFrame(codec.NewFrame(5, 0, []byte{9, 9}).WithFlags(codec.Compact8FlagStream))
	require.NoError(t, err)
	tr.inject(data)

	require.Eventually(t, func() bool { return streamed.Load() == 1 }, time.Second, 5*time.Millisecond)

	// a disconnect invalidates handles
	tr.drop(io.ErrUnexpectedEOF)
	_, open := l.Registry().Handle(0x0102)
	assert.False(t, open)
}

// ===================================
// Transfers
// ===================================

func transferPayload(t *testing.T, size int, detail codec.DetailType, minute int) ([]byte, codec.FileID) {
	t.Helper()
	require.GreaterOrEqual(t, size, codec.FileIDSize)

	id := codec.FileID{
		Timestamp:  time.Date(2025, 1, 2, 8, minute, 0, 0, time.UTC),
		Version:    1,
		DetailType: detail,
	}

	payload := make([]byte, size)
	copy(payload, id.Pack())
	for i := codec.FileIDSize; i < size; i++ {
		payload[i] = byte(i * 3)
	}

	return payload, id
}

func TestLink_OpenServiceWriteFails(t *testing.T) {
	t.Parallel()

	p := codec.NewCompact8()
	tr := newFakeTransport()
	l := newTestLink(t, p, tr)
	connectLink(t, l)

	require.NoError(t, l.RegisterService(dispatch.Service{ID: 7, Processor: dispatch.ProcessorFunc(func(*codec.Frame) {})}))

	writeErr := errors.New("radio busy")
	tr.setFail("", writeErr)

	pending, err := l.OpenService(7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, writeErr)
	assert.False(t, l.Registry().IsOpen(7))

	// not stuck opening: close is a no-op and a new open sends again
	c, err := l.CloseService(7)
	require.NoError(t, err)
	require.NoError(t, c.Err())

	tr.setFail("", nil)
	again, err := l.OpenService(7)
	require.NoError(t, err)
	assert.NotSame(t, pending, again)
	require.Eventually(t, func() bool { return len(tr.frames(t, p)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, codec.Compact8CmdStreamOpen, tr.frames(t, p)[0].Command())
}

func TestLink_OpenServiceAckTimeout(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr, WithAckTimeout(40*time.Millisecond))
	connectLink(t, l)

	require.NoError(t, l.RegisterService(dispatch.Service{ID: 7, Processor: dispatch.ProcessorFunc(func(*codec.Frame) {})}))

	pending, err := l.OpenService(7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, dispatch.ErrAckTimeout)
	assert.False(t, l.Registry().IsOpen(7))
}

func TestLink_RequestTransfer(t *testing.T) {
	t.Parallel()

	p := codec.NewCompact8()
	sink := &eventLog{}
	tr := newFakeTransport()
	l := newTestLink(t, p, tr,
		WithSink(sink),
		WithMTU(40),
		WithTransferRequest(func(item reassembly.Item) (*Transaction, error) {
			return NewTransaction("fetch "+item.ID, NewCommandWrite("", 0x30, 0, []byte(item.ID))), nil
		}),
	)
	connectLink(t, l)

	payload, id := transferPayload(t, 90, codec.DetailTypeSummary, 0)

	itemA := reassembly.Item{ID: "a", DetailType: codec.DetailTypeSummary, Timestamp: id.Timestamp}
	itemB := reassembly.Item{ID: "b", DetailType: codec.DetailTypeDetails, Timestamp: id.Timestamp}
	require.True(t, l.RequestTransfer(itemA))
	require.True(t, l.RequestTransfer(itemB))
	require.False(t, l.RequestTransfer(itemB), "duplicate ignored")

	require.Eventually(t, func() bool { return len(tr.targets()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("a"), tr.frames(t, p)[0].Args())

	frames, err := p.SplitPayload(codec.Compact8CmdTransfer, 0, payload, l.MTU())
	require.NoError(t, err)
	for _, f := range frames {
		raw, err := p.EncodeFrame(f)
		require.NoError(t, err)
		tr.inject(raw)
	}

	require.Eventually(t, func() bool { return len(sink.byKind(TransferCompleted)) == 1 }, time.Second, 5*time.Millisecond)
	done := sink.byKind(TransferCompleted)[0]
	assert.Equal(t, "a", done.Item.ID)
	assert.Equal(t, payload, done.Transfer.Payload)
	assert.True(t, done.Transfer.HasFileID)
	assert.True(t, id.Timestamp.Equal(done.Transfer.FileID.Timestamp))

	// completion requests the next item immediately
	require.Eventually(t, func() bool { return len(tr.targets()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("b"), tr.frames(t, p)[1].Args())

	// the active transfer fails on disconnect
	tr.drop(io.EOF)
	require.Eventually(t, func() bool { return len(sink.byKind(TransferFailed)) == 1 }, time.Second, 5*time.Millisecond)
	failed := sink.byKind(TransferFailed)[0]
	assert.Equal(t, "b", failed.Item.ID)
	require.ErrorIs(t, failed.Err, ErrTransportDisconnected)
	assert.Equal(t, uint64(1), l.Metrics().TransfersCompleted.Load())
}

func TestLink_RequestTransferWithoutRequester(t *testing.T) {
	t.Parallel()

	sink := &eventLog{}
	l := newTestLink(t, codec.NewCompact8(), newFakeTransport(), WithSink(sink))
	connectLink(t, l)

	require.True(t, l.RequestTransfer(reassembly.Item{ID: "a"}))
	require.Eventually(t, func() bool { return len(sink.byKind(TransferFailed)) == 1 }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, sink.byKind(TransferFailed)[0].Err, ErrUnsupportedOperation)
	assert.Zero(t, l.PendingTransfers())
}

func TestLink_RequestTransferNoFragments(t *testing.T) {
	t.Parallel()

	l := newTestLink(t, codec.NewThermal(), newFakeTransport())
	assert.False(t, l.RequestTransfer(reassembly.Item{ID: "a"}))
	assert.Zero(t, l.PendingTransfers())
}

// ===================================
// Trace and lifecycle
// ===================================

func TestLink_TraceRecorder(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []trace.Event
	)
	rec := trace.RecorderFunc(func(ev trace.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	p := codec.NewCompact8()
	tr := newFakeTransport()
	l := newTestLink(t, p, tr, WithTraceRecorder(rec))
	connectLink(t, l)

	pending, err := l.Enqueue(NewTransaction("ping", NewCommandWrite("", 0x01, 0x00, nil)))
	require.NoError(t, err)
	require.NoError(t, waitPending(t, pending))

	in, err := p.Encode(0x02, 0x00, []byte{1})
	require.NoError(t, err)
	bad := append([]byte(nil), in...)
	bad[len(bad)-1] ^= 0x01
	tr.inject(append(in, bad...))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, trace.Outbound, events[0].Direction)
	assert.Equal(t, trace.Inbound, events[1].Direction)
	assert.Equal(t, in, events[1].Data)
	assert.Equal(t, trace.Dropped, events[2].Direction)
	assert.NotEmpty(t, events[2].Note)
	for _, ev := range events {
		assert.Equal(t, l.ID(), ev.LinkID)
		assert.Equal(t, codec.FamilyCompact8, ev.Family)
	}
}

func TestLink_Close(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l, err := New(context.Background(), codec.NewCompact8(), tr)
	require.NoError(t, err)
	connectLink(t, l)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Equal(t, Shutdown, l.State().Kind)
	require.ErrorIs(t, l.Connect(context.Background()), ErrLinkClosed)
	require.ErrorIs(t, l.Disconnect(), ErrLinkClosed)
	assert.Zero(t, l.taskMgr.TaskCount())
}

func TestLink_DisconnectAndReconnect(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	l := newTestLink(t, codec.NewCompact8(), tr)
	connectLink(t, l)

	require.NoError(t, l.Disconnect())
	assert.Equal(t, Disconnected, l.State().Kind)

	connectLink(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitState(ctx, Initialized))
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil, newFakeTransport())
	require.Error(t, err)

	_, err = New(context.Background(), codec.NewCompact8(), nil)
	require.Error(t, err)

	_, err = New(context.Background(), codec.NewCompact8(), newFakeTransport(), WithOperationTimeout(time.Nanosecond))
	require.Error(t, err)
}
