// Package protocolclient defines the small capability interface every
// OT protocol adapter implements (spec.md §4, "Protocol Client
// capability"), grounded on coreengine/agents' tagged-enum-plus-small-
// interface shape. Real wire protocols (OPC-UA binary, MQTT, Modbus
// TCP/RTU) are out of scope (spec.md Non-goals); the implementations in
// this package are in-process synthetic generators used for
// development, demos, and tests (see SPEC_FULL.md §4.11).
package protocolclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/pravinva/unified-ot-zerobus-connector-sub003/internal/record"
)

// ConnectionState mirrors a client's lifecycle position.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// ConnectionStateFromString parses a ConnectionState, matching the
// FromString-with-error convention used throughout the teacher's enums.
func ConnectionStateFromString(value string) (ConnectionState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "disconnected":
		return StateDisconnected, nil
	case "connecting":
		return StateConnecting, nil
	case "connected":
		return StateConnected, nil
	default:
		return "", fmt.Errorf("invalid connection state '%s'. Must be one of: disconnected, connecting, connected", value)
	}
}

// Client is the capability every protocol adapter exposes to
// internal/supervisor. Implementations must be safe for the
// connect/disconnect/subscribe/poll call sequence the supervisor drives
// (spec.md §4.3): Connect, then either Subscribe (push-style sources)
// or repeated Poll (pull-style sources), then Disconnect.
type Client interface {
	// Connect establishes the underlying session. Returns a
	// *bridgeerr.Error tagged NetworkUnreachable/AuthFailed/TLSFailed on
	// failure.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context) error

	// Subscribe registers a push callback invoked once per record. Not
	// all protocols support push; Modbus's client returns
	// ErrSubscribeUnsupported and callers must Poll instead.
	Subscribe(ctx context.Context, onRecord func(*record.Record)) error

	// Poll performs one pull-style read and returns whatever records
	// were available, possibly none.
	Poll(ctx context.Context) ([]*record.Record, error)

	ProtocolType() record.ProtocolType
	State() ConnectionState
}

// ErrSubscribeUnsupported is returned by protocols with no native push
// model (Modbus); the supervisor falls back to polling on this error.
var ErrSubscribeUnsupported = fmt.Errorf("protocolclient: this protocol does not support subscribe, use poll")

// Config is the shared per-source configuration every simulator reads;
// protocol-specific options live in Options (spec.md §6's
// SourceConfig.options free-form map).
type Config struct {
	SourceName string
	Endpoint   string
	Options    map[string]string
}
