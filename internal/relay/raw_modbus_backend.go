package relay

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// RawModbusBackend hand-rolls the Modbus-TCP write-single-coil frame
// against the "corx" relay, which doesn't tolerate a generic client
// library's framing. Frame layout (12 bytes: 7-byte MBAP header + 5-byte
// PDU), matching
// the original Relay_corx's hardcoded hex prefix:
//
//	00 00 00 00 00 06  unit 01  func 05  addr(2)  value(2)
//
// Grounded on other_examples' hand-rolled Modbus function-code constants
// (EdgxCloud-EdgeFlow's gpio/modbus.go) for the function-code byte, and on
// reboot.py's Relay_corx for the exact frame the "corx" relay expects.
type RawModbusBackend struct {
	Addr string
}

// NewRawModbusBackend targets host:502, the port Relay_corx dials.
func NewRawModbusBackend(host string) *RawModbusBackend {
	return &RawModbusBackend{Addr: fmt.Sprintf("%s:502", host)}
}

const (
	funcWriteSingleCoil = 0x05
	coilOn              = 0xFF00
	coilOff             = 0x0000
)

func (b *RawModbusBackend) frame(port int, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = funcWriteSingleCoil
	binary.BigEndian.PutUint16(pdu[1:3], uint16(port-1))
	binary.BigEndian.PutUint16(pdu[3:5], value)

	header := make([]byte, 7)
	binary.BigEndian.PutUint16(header[0:2], 0)       // transaction id
	binary.BigEndian.PutUint16(header[2:4], 0)       // protocol id
	binary.BigEndian.PutUint16(header[4:6], uint16(1+len(pdu)))
	header[6] = 1 // unit id

	return append(header, pdu...)
}

func (b *RawModbusBackend) roundTrip(ctx context.Context, frame []byte) ([]byte, error) {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", b.Addr)
	if err != nil {
		return nil, fmt.Errorf("relay: raw modbus backend dial: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(frame); err != nil {
		return nil, fmt.Errorf("relay: raw modbus backend write: %w", err)
	}

	resp := make([]byte, 256)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("relay: raw modbus backend read: %w", err)
	}
	return resp[:n], nil
}

func (b *RawModbusBackend) Set(ctx context.Context, port int, state PortState) error {
	value := uint16(coilOn)
	if state == StateOn {
		value = coilOff // coil false means on, matching the library backend's inverted sense
	}
	_, err := b.roundTrip(ctx, b.frame(port, value))
	return err
}

// Query is unsupported by the corx relay's raw protocol in the original
// source (it is write-only in practice); callers that need idempotent
// on/off behavior should prefer ModbusBackend or HTTPBackend for ports
// wired to a corx relay, or track last-known state themselves.
func (b *RawModbusBackend) Query(ctx context.Context, port int) (PortState, error) {
	return 0, ErrQueryUnsupported
}
