package codec

import (
	"encoding/json"

	"github.com/duplexio/duplex/common"
)

// NewJSONCodec creates a new codec using json encoding for envelopes and
// message values alike
func NewJSONCodec() Codec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the Codec interface using json encoding
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) EncodeEnvelope(env *common.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (j jsonCodecImpl) DecodeEnvelope(b []byte, env *common.Envelope) error {
	return json.Unmarshal(b, env)
}

func (j jsonCodecImpl) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (j jsonCodecImpl) Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
