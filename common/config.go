package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Peer configuration structs
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings shared by all stream transports.
type SocketConf struct {
	// WriteBufferSize is the socket write buffer size in bytes (0 = OS default)
	WriteBufferSize int
	// ReadBufferSize is the socket read buffer size in bytes (0 = OS default)
	ReadBufferSize int
	// MaxFrameBytes caps the declared length of inbound frames; frames
	// exceeding it tear the connection down (0 = built-in default)
	MaxFrameBytes uint32
}

// TCPConf holds TCP specific tuning options.
type TCPConf struct {
	// TCPNoDelay disables Nagle's algorithm when true
	TCPNoDelay bool
	// TCPKeepAliveSec enables TCP keep-alive with the given period (0 = off)
	TCPKeepAliveSec int
	// TCPLingerSec sets the socket linger time (negative = OS default)
	TCPLingerSec int
}

// TransportConfig groups all socket level settings of a peer.
type TransportConfig struct {
	SocketConf
	TCPConf
}

// PeerConfig holds all configuration parameters for one peer endpoint.
// The same config is used whether the peer listens or dials.
type PeerConfig struct {
	// Endpoint is the address to listen on or to dial (e.g. "localhost:7070")
	Endpoint string

	// TimeoutSecond is the default RPC call timeout in seconds. Individual
	// calls may request a longer timeout; a floor is enforced by the engine.
	TimeoutSecond int64

	// PingIntervalSec is the period of the liveness prober (0 = disabled)
	PingIntervalSec int64

	// Transport holds socket level settings
	Transport TransportConfig

	// LogLevel is the level at which logs will be output (debug, info, warn, error)
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *PeerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Peer")
	addField("Endpoint", c.Endpoint)
	addField("Call Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.PingIntervalSec > 0 {
		addField("Ping Interval", fmt.Sprintf("%d sec", c.PingIntervalSec))
	} else {
		addField("Ping Interval", "disabled")
	}

	addSection("Transport")
	addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))
	if c.Transport.MaxFrameBytes > 0 {
		addField("Max Frame", fmt.Sprintf("%d bytes", c.Transport.MaxFrameBytes))
	} else {
		addField("Max Frame", "default")
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
