package dispatch

import "errors"

var (
	// ErrUnknownCommand is returned for frames with no registered processor.
	ErrUnknownCommand = errors.New("dispatch: unknown command")
	// ErrUnknownService is returned for service ids that were never registered.
	ErrUnknownService = errors.New("dispatch: unknown service")
	// ErrDuplicateService is returned when a service id is registered twice.
	ErrDuplicateService = errors.New("dispatch: service already registered")
	// ErrNoSubStreams is returned when the family has no sub-stream handshake.
	ErrNoSubStreams = errors.New("dispatch: family has no sub-streams")

	// ErrHandshakeInProgress is returned when opening a closing service or
	// closing an opening one.
	ErrHandshakeInProgress = errors.New("dispatch: handshake in progress")
	// ErrUnexpectedAck is returned for an acknowledgement with no pending request.
	ErrUnexpectedAck = errors.New("dispatch: unexpected acknowledgement")
	// ErrOpenRejected fails an open the device refused.
	ErrOpenRejected = errors.New("dispatch: open rejected by device")
	// ErrCloseRejected fails a close the device refused.
	ErrCloseRejected = errors.New("dispatch: close rejected by device")
	// ErrAckTimeout fails a handshake the device did not acknowledge in time.
	ErrAckTimeout = errors.New("dispatch: acknowledgement timeout")
	// ErrHandleReset fails pending opens when the link resets.
	ErrHandleReset = errors.New("dispatch: handles reset")
)
