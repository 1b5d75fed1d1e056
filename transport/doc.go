// Package transport implements the per-connection framing layer.
//
// Wire format of one frame:
//
//	length:uint32 (LE) | tag:uint8 | payload:bytes[length-1]
//
// length counts the tag plus the payload. The tag only distinguishes normal
// from RPC frames; the finer message role travels inside the payload and is
// recovered by the codec layer.
//
// A Session owns one connection and enforces the two transport invariants:
// concurrent writers are serialized so frames never interleave, and any
// transport fault (peer disconnect, short read, body deadline, write error)
// disposes the session instead of being retried.
package transport
