package protocol

// Protocol identifies the protocol type.
type Protocol string

// Protocols served by relayd.
const (
	ProtocolCoAP Protocol = "coap"
	ProtocolHTTP Protocol = "http"
	ProtocolMQTT Protocol = "mqtt"
)

// String returns the string representation of the protocol.
func (p Protocol) String() string {
	return string(p)
}

// TransportType indicates the underlying transport mechanism.
type TransportType string

// TransportType constants.
const (
	TransportUDP   TransportType = "udp"
	TransportTCP   TransportType = "tcp"
	TransportHTTP1 TransportType = "http1"
)

// String returns the string representation of the transport type.
func (t TransportType) String() string {
	return string(t)
}
