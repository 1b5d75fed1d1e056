package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/duplexio/duplex/common"
)

// NewBinaryCodec creates a new codec using a custom binary format for
// envelopes, optimized for speed and efficiency. Message values inside the
// body are encoded as JSON since their shape is application defined.
func NewBinaryCodec() Codec {
	return &binaryCodecImpl{}
}

// binaryCodecImpl implements the Codec interface using a custom binary format
type binaryCodecImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasType byte = 1 << 0
	hasID   byte = 1 << 1
	hasErr  byte = 1 << 2
	hasBody byte = 1 << 3
)

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.Codec)
// --------------------------------------------------------------------------

func (c binaryCodecImpl) EncodeEnvelope(env *common.Envelope) ([]byte, error) {
	// Calculate total size needed
	totalSize := c.sizeBytes(env)
	result := make([]byte, totalSize)

	// Write role
	result[0] = byte(env.Role)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := 2 // Start after role and flags

	// Handle Type
	if env.Type != "" {
		flags |= hasType
		typeBytes := []byte(env.Type)
		typeLen := len(typeBytes)

		// Write type length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(typeLen))
		pos += 4

		// Write type data
		copy(result[pos:pos+typeLen], typeBytes)
		pos += typeLen
	}

	// Handle ID
	if env.ID > 0 {
		flags |= hasID
		binary.BigEndian.PutUint32(result[pos:pos+4], env.ID)
		pos += 4
	}

	// Handle Err
	if env.Err != "" {
		flags |= hasErr
		errBytes := []byte(env.Err)
		errLen := len(errBytes)

		// Write error length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(errLen))
		pos += 4

		// Write error data
		copy(result[pos:pos+errLen], errBytes)
		pos += errLen
	}

	// Handle Body
	if env.Body != nil {
		flags |= hasBody
		bodyLen := len(env.Body)

		// Write body length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(bodyLen))
		pos += 4

		// Write body data
		if bodyLen > 0 {
			copy(result[pos:pos+bodyLen], env.Body)
			pos += bodyLen
		}
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (c binaryCodecImpl) DecodeEnvelope(data []byte, env *common.Envelope) error {
	// Check minimum size (role + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for envelope header")
	}

	// Read role
	env.Role = common.Role(data[0])

	// Read flags
	flags := data[1]

	// Initialize read position
	pos := 2

	// Read Type if present
	if flags&hasType != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for type length")
		}

		typeLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(typeLen) > len(data) {
			return fmt.Errorf("data too short for type data")
		}

		env.Type = string(data[pos : pos+int(typeLen)])
		pos += int(typeLen)
	} else {
		env.Type = ""
	}

	// Read ID if present
	if flags&hasID != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for id")
		}

		env.ID = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	} else {
		env.ID = 0
	}

	// Read Err if present
	if flags&hasErr != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for error length")
		}

		errLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(errLen) > len(data) {
			return fmt.Errorf("data too short for error data")
		}

		env.Err = string(data[pos : pos+int(errLen)])
		pos += int(errLen)
	} else {
		env.Err = ""
	}

	// Read Body if present
	if flags&hasBody != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for body length")
		}

		bodyLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(bodyLen) > len(data) {
			return fmt.Errorf("data too short for body data")
		}

		// Create an empty slice (not nil) if length is 0, allocate only if needed
		if env.Body == nil || cap(env.Body) < int(bodyLen) {
			env.Body = make([]byte, bodyLen)
		} else {
			env.Body = env.Body[:bodyLen]
		}

		if bodyLen > 0 {
			copy(env.Body, data[pos:pos+int(bodyLen)])
		}
		pos += int(bodyLen)
	} else {
		env.Body = nil
	}

	return nil
}

func (c binaryCodecImpl) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c binaryCodecImpl) Unmarshal(b []byte, v any) error {
	return json.Unmarshal(b, v)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for envelope serialization
func (c binaryCodecImpl) sizeBytes(env *common.Envelope) int {
	// 1 byte for role + 1 byte for flags
	size := 2

	// Add sizes for fields that require length encoding
	if env.Type != "" {
		size += 4 + len(env.Type) // 4 bytes for length + type string
	}
	if env.ID > 0 {
		size += 4 // uint32
	}
	if env.Err != "" {
		size += 4 + len(env.Err) // 4 bytes for length + error string
	}
	if env.Body != nil {
		size += 4 + len(env.Body) // 4 bytes for length + body bytes
	}

	return size
}
