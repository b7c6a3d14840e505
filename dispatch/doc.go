// Package dispatch routes decoded frames to processors and manages the
// open/close handshake of multiplexed sub-streams.
//
// Frames are routed by handle when the family tags them as sub-stream
// frames, and by command code otherwise. Handles are assigned by the device
// in the open acknowledgement and are invalidated en masse by Reset.
//
// A Registry belongs to one link session; there is no process-wide state.
package dispatch
