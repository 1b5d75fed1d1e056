package codec

import "github.com/duplexio/duplex/common"

// Codec is the interface for all envelope codecs. It converts between the
// wire payload bytes of a frame and the envelope carried inside, and between
// concrete message values and the envelope body bytes.
type Codec interface {
	// EncodeEnvelope serializes an Envelope into frame payload bytes
	EncodeEnvelope(env *common.Envelope) ([]byte, error)

	// DecodeEnvelope deserializes frame payload bytes into an Envelope
	DecodeEnvelope(b []byte, env *common.Envelope) error

	// Marshal encodes a concrete message value into envelope body bytes
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes envelope body bytes into a concrete message value.
	// v must be a pointer to the concrete shape registered for the type.
	Unmarshal(b []byte, v any) error
}
