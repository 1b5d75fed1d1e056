// Package codec converts between the byte payload of a frame and the
// message envelope carried inside it. The framing layer treats the payload
// as opaque; all knowledge about envelope shape lives here.
//
// The package provides three implementations behind one interface:
//
//   - binaryCodecImpl: custom binary format using a flag byte to encode only
//     present envelope fields. Smallest payloads, recommended for production.
//     Message bodies are encoded as JSON since their shape is application
//     defined.
//
//   - jsonCodecImpl: JSON encoding for envelopes and bodies, human-readable
//     and useful for debugging or interoperability.
//
//   - gobCodecImpl: Go's gob encoding, compatible with the full Go type
//     system but with larger payloads.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
package codec
