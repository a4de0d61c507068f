package relay

import "fmt"

// NewBackend resolves a relay type name to a concrete Backend, mirroring
// RelayFactory.create_relay's dynamic class lookup with an explicit switch
// in place of Python's globals()[f"Relay_{relay_type}"].
func NewBackend(relayType, host string) (Backend, error) {
	switch relayType {
	case "default":
		return NewHTTPBackend(host), nil
	case "zqwl":
		return NewModbusBackend(host)
	case "corx":
		return NewRawModbusBackend(host), nil
	default:
		return nil, fmt.Errorf("relay: unknown relay type %q", relayType)
	}
}
