package protocolclient

import (
	"fmt"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/clockid"
	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// New builds the Client for the given protocol string (as it appears
// in config.SourceConfig.Protocol).
func New(protocol string, cfg Config, clock clockid.Clock) (Client, error) {
	switch record.ProtocolType(protocol) {
	case record.ProtocolOPCUA:
		return NewOPCUASimulator(cfg, clock), nil
	case record.ProtocolMQTT:
		return NewMQTTSimulator(cfg, clock), nil
	case record.ProtocolModbus:
		return NewModbusSimulator(cfg, clock), nil
	default:
		return nil, fmt.Errorf("protocolclient: unsupported protocol %q", protocol)
	}
}
