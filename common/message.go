package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Frame Tags
// --------------------------------------------------------------------------

// Frame kind tags as they appear on the wire. The finer message role
// (request, response, ping) is carried inside the envelope, not the tag.
const (
	TagNormal byte = 0 // fire-and-forget message
	TagRPC    byte = 1 // correlated request/response/ping
)

// --------------------------------------------------------------------------
// Message Role
// --------------------------------------------------------------------------

// Role is the explicit discriminant of an envelope. It is set at
// construction time so the router can match on it directly instead of
// probing the payload with type tests.
type Role uint8

const (
	RoleNormal   Role = iota // no reply expected
	RoleRequest              // expects exactly one response with the same id
	RoleResponse             // answers the request sharing its id
	RolePing                 // payload-less liveness probe; answered with a response
)

// String returns the string representation of a Role.
func (r Role) String() string {
	switch r {
	case RoleNormal:
		return "normal"
	case RoleRequest:
		return "request"
	case RoleResponse:
		return "response"
	case RolePing:
		return "ping"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for Role.
// This allows Role to be serialized as a string in JSON.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Role.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "normal":
		*r = RoleNormal
	case "request":
		*r = RoleRequest
	case "response":
		*r = RoleResponse
	case "ping":
		*r = RolePing
	default:
		return fmt.Errorf("unknown message role: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Envelope Structure
// --------------------------------------------------------------------------

// Envelope is the unit the codec layer encodes into a frame payload.
// Which fields are used depends on the role of the message.
type Envelope struct {
	// Role of the message, set at construction time
	Role Role `json:"role"`

	// Type is the registered name of the concrete message shape carried in
	// Body. Empty for pings.
	Type string `json:"type,omitempty"`

	// ID is the correlation id of an RPC exchange. Zero for normal messages.
	ID uint32 `json:"id,omitempty"`

	// Err is only set on responses. Non-empty if the remote handler failed.
	Err string `json:"err,omitempty"`

	// Body holds the codec-encoded concrete message value. Nil for pings.
	Body []byte `json:"body,omitempty"`
}

// Tag returns the frame kind tag this envelope travels under.
func (e *Envelope) Tag() byte {
	if e.Role == RoleNormal {
		return TagNormal
	}
	return TagRPC
}

// --------------------------------------------------------------------------
// Envelope Factory Functions
// --------------------------------------------------------------------------

// NewNormal creates a fire-and-forget envelope.
func NewNormal(msgType string, body []byte) *Envelope {
	return &Envelope{
		Role: RoleNormal,
		Type: msgType,
		Body: body,
	}
}

// NewRequest creates a request envelope. The correlation id is stamped
// later by the correlation engine.
func NewRequest(msgType string, body []byte) *Envelope {
	return &Envelope{
		Role: RoleRequest,
		Type: msgType,
		Body: body,
	}
}

// NewResponse creates a response envelope answering the request with id.
func NewResponse(msgType string, id uint32, body []byte) *Envelope {
	return &Envelope{
		Role: RoleResponse,
		Type: msgType,
		ID:   id,
		Body: body,
	}
}

// NewErrorResponse creates a response envelope carrying only an error.
func NewErrorResponse(msgType string, id uint32, errMsg string) *Envelope {
	return &Envelope{
		Role: RoleResponse,
		Type: msgType,
		ID:   id,
		Err:  errMsg,
	}
}

// NewPing creates a ping probe envelope. The reply is a payload-less
// response (NewPingReply), so an inbound ping role always means a probe.
func NewPing(id uint32) *Envelope {
	return &Envelope{
		Role: RolePing,
		ID:   id,
	}
}

// NewPingReply answers a ping probe. It travels as a response so the
// receiver resolves it against its pending table like any other reply;
// probe ids issued by the two sides never shadow each other.
func NewPingReply(id uint32) *Envelope {
	return &Envelope{
		Role: RoleResponse,
		ID:   id,
	}
}
