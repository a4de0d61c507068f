package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/grid-x/modbus"
)

// ModbusBackend drives a relay over Modbus-TCP using a real client library,
// grounded on other_examples' grid-x/modbus usage (spuky-evcc's
// solarmanv5.go). Coil address is port-1; a coil value of false means the
// port is on, matching the original Relay_zqwl's inverted sense.
type ModbusBackend struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewModbusBackend dials host:1030, the port the original zqwl relay
// listens on.
func NewModbusBackend(host string) (*ModbusBackend, error) {
	handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:1030", host))
	handler.Timeout = 5 * time.Second
	handler.SlaveID = 1

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("relay: modbus backend connect: %w", err)
	}

	return &ModbusBackend{
		handler: handler,
		client:  modbus.NewClient(handler),
	}, nil
}

func (b *ModbusBackend) Close() error {
	return b.handler.Close()
}

func (b *ModbusBackend) Query(ctx context.Context, port int) (PortState, error) {
	addr := uint16(port - 1)
	result, err := b.client.ReadCoils(addr, 1)
	if err != nil {
		return 0, fmt.Errorf("relay: modbus backend read coil %d: %w", addr, err)
	}
	if len(result) == 0 {
		return 0, fmt.Errorf("relay: modbus backend read coil %d: empty response", addr)
	}
	// coil bit 0 of the first byte; false (0) means the port is on.
	if result[0]&0x01 != 0 {
		return StateOff, nil
	}
	return StateOn, nil
}

func (b *ModbusBackend) Set(ctx context.Context, port int, state PortState) error {
	addr := uint16(port - 1)
	value := uint16(0xFF00) // coil true
	if state == StateOn {
		value = 0x0000 // coil false means on, per the original inverted sense
	}
	if _, err := b.client.WriteSingleCoil(addr, value); err != nil {
		return fmt.Errorf("relay: modbus backend write coil %d: %w", addr, err)
	}
	return nil
}
