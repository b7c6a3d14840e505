// Package trace records the frames a link sends and receives as a CBOR
// stream, one self-describing record per frame, for offline debugging.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Direction tells where a recorded frame went.
type Direction uint8

// Directions.
const (
	Outbound Direction = iota + 1
	Inbound
	// Dropped marks inbound bytes rejected by the codec.
	Dropped
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Outbound:
		return "out"
	case Inbound:
		return "in"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event is one recorded frame.
type Event struct {
	LinkID    string    `cbor:"1,keyasint"`
	Time      time.Time `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Family    string    `cbor:"4,keyasint"`
	Data      []byte    `cbor:"5,keyasint"`
	Note      string    `cbor:"6,keyasint,omitempty"`
}

// Recorder receives trace events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ev Event)

// Record implements Recorder.
func (fn RecorderFunc) Record(ev Event) { fn(ev) }

// Tee returns a Recorder forwarding every event to each non-nil recorder.
func Tee(recs ...Recorder) Recorder {
	out := make([]Recorder, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r)
		}
	}

	return RecorderFunc(func(ev Event) {
		for _, r := range out {
			r.Record(ev)
		}
	})
}

// ErrRecorderClosed is returned when writing to a closed recorder.
var ErrRecorderClosed = errors.New("trace: recorder closed")

// NewLinkID returns a random identifier for one link session.
func NewLinkID() string {
	return uuid.NewString()
}

// CBORRecorder appends events to a writer as a CBOR sequence.
type CBORRecorder struct {
	mu     sync.Mutex
	enc    *cbor.Encoder
	closer io.Closer
	count  uint64
	errs   uint64
	closed bool
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}

	return em
}()

// NewCBORRecorder creates a recorder writing to w. When w is an io.Closer
// it is closed by Close.
func NewCBORRecorder(w io.Writer) *CBORRecorder {
	r := &CBORRecorder{enc: encMode.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}

	return r
}

// Create creates or truncates the file at path and records to it.
func Create(path string) (*CBORRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}

	return NewCBORRecorder(f), nil
}

// Record implements Recorder. Write failures are counted, not returned.
func (r *CBORRecorder) Record(ev Event) {
	_ = r.Write(ev)
}

// Write encodes ev.
func (r *CBORRecorder) Write(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}

	if err := r.enc.Encode(ev); err != nil {
		r.errs++
		return fmt.Errorf("trace: encode: %w", err)
	}
	r.count++

	return nil
}

// Count returns the number of recorded events.
func (r *CBORRecorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.count
}

// Errors returns the number of events that failed to encode.
func (r *CBORRecorder) Errors() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.errs
}

// Close stops recording and closes the underlying writer if it is a Closer.
func (r *CBORRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.closer != nil {
		return r.closer.Close()
	}

	return nil
}

// ReadAll decodes every event of a CBOR trace stream.
func ReadAll(rd io.Reader) ([]Event, error) {
	dec := cbor.NewDecoder(rd)

	var events []Event
	for {
		var ev Event
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("trace: decode event %d: %w", len(events), err)
		}
		events = append(events, ev)
	}
}

// Open reads every event of the trace file at path.
func Open(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	defer f.Close()

	return ReadAll(f)
}
