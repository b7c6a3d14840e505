package codec

import "errors"

var (
	// Frame errors.
	ErrMalformedFrame = errors.New("codec: malformed frame")
	ErrFieldOverflow  = errors.New("codec: field value overflow")

	// Descriptor errors.
	ErrInvalidLayout   = errors.New("codec: invalid layout")
	ErrUnknownFamily   = errors.New("codec: unknown device family")
	ErrDuplicateFamily = errors.New("codec: device family already registered")

	// Payload helpers.
	ErrInvalidFileID     = errors.New("codec: invalid file id")
	ErrInvalidFragment   = errors.New("codec: invalid fragment header")
	ErrInvalidTLV        = errors.New("codec: invalid TLV payload")
	ErrNoFragmentSupport = errors.New("codec: family does not support fragmentation")
)
