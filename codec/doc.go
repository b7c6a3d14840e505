// Package codec implements the per-family frame codecs of the link engine.
//
// Device families differ in byte order, header width and checksum algorithm,
// so the codec does not hardcode one wire format. A [Protocol] descriptor
// bundles the data and functions of one family:
//
//   - a [Layout] describing the magic/preamble, the ordered header fields and
//     their widths, an optional command prefix and trailer,
//   - a [Checksum] strategy used to protect each frame,
//   - an optional [FragmentLayout] describing how multi-fragment transfers are
//     numbered,
//   - an optional [FileIDDecoder] used to route completed transfers.
//
// # Decoding
//
// [Protocol.Decode] validates, in order, the magic bytes, the declared length
// against the bytes actually present, and the embedded checksum. Any failure
// wraps [ErrMalformedFrame]; the caller drops the bytes and carries on.
//
// # Stream framing
//
// Byte-stream transports deliver arbitrary slices. [StreamDecoder] buffers
// them, resynchronises on the magic and cuts complete frames using the
// declared length field.
//
// # Families
//
// [NewRegistry] returns a registry preloaded with the built-in families:
// "compact8", "xiaomi-spp", "cmf" and "thermal". Applications can register
// their own descriptors on the same registry.
package codec
