package reassembly

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-wearlink/codec"
)

// recorder implements Handler, Sink and Requester for tests.
type recorder struct {
	mu        sync.Mutex
	started   []uint32
	completed []Completed
	failed    []error
	items     []Item
	requested []Item
	reqErr    error
}

func (r *recorder) TransferStarted(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, id)
}

func (r *recorder) TransferCompleted(c Completed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, c)
}

func (r *recorder) TransferFailed(_ uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, err)
}

func (r *recorder) request(item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, item)

	return r.reqErr
}

func (r *recorder) failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]error(nil), r.failed...)
}

func (r *recorder) completions() []Completed {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Completed(nil), r.completed...)
}

func (r *recorder) requests() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Item(nil), r.requested...)
}

// sinkRecorder adapts recorder to Sink, keeping the item of each result.
type sinkRecorder struct {
	recorder
}

func (s *sinkRecorder) TransferCompleted(item Item, c Completed) {
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.recorder.TransferCompleted(c)
}

func (s *sinkRecorder) TransferFailed(item Item, err error) {
	s.mu.Lock()
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.recorder.TransferFailed(0, err)
}

func (s *sinkRecorder) results() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Item(nil), s.items...)
}

func newTestBuffer(t *testing.T, p *codec.Protocol, h Handler, opts ...Option) *Buffer {
	t.Helper()

	b, err := NewBuffer(p, h, opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	return b
}

// testPayload returns a payload of size bytes starting with a packed FileID.
func testPayload(t *testing.T, size int, detail codec.DetailType) ([]byte, codec.FileID) {
	t.Helper()
	require.GreaterOrEqual(t, size, codec.FileIDSize)

	id := codec.FileID{
		Timestamp:  time.Date(2024, 5, 4, 10, 0, 0, 0, time.UTC),
		TZOffset:   2 * time.Hour,
		Version:    2,
		Subtype:    3,
		DetailType: detail,
	}

	payload := make([]byte, size)
	copy(payload, id.Pack())
	for i := codec.FileIDSize; i < size; i++ {
		payload[i] = byte(i)
	}

	return payload, id
}

// chunks cuts buf into pieces of the given sizes.
func chunks(buf []byte, sizes ...int) [][]byte {
	out := make([][]byte, 0, len(sizes))
	offset := 0
	for _, n := range sizes {
		out = append(out, buf[offset:offset+n])
		offset += n
	}

	return out
}
