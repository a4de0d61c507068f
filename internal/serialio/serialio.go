// Package serialio wraps go.bug.st/serial with the read/flush/discover
// discipline the secure-debug and UART-bootstrap subsystems both need:
// timeout-bounded reads, buffer flushing before a command, and an FTDI
// four-port enumeration (DiscoverByFTDI). No subcommand calls
// DiscoverByFTDI: the CLI opens only the device nodes named in
// connect_param.json and fails if one of them does not open.
package serialio

import (
	"fmt"
	"io"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of go.bug.st/serial.Port this toolkit depends on,
// narrowed so tests can substitute an in-memory fake.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Open opens device at baud with 8N1 framing, the framing every endpoint in
// this toolkit uses.
func Open(device string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("serialio: open %s: %w", device, err)
	}
	return p, nil
}

// ReadWithTimeout reads into buf, returning io.EOF if timeout elapses with
// no data, mirroring the goroutine/select pattern used for bootloader
// handshakes elsewhere in this ecosystem.
func ReadWithTimeout(p Port, buf []byte, timeout time.Duration) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := p.Read(buf)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(timeout):
		return 0, io.EOF
	}
}

// Flush discards any data already buffered on p, reading until one read
// sees 50ms of silence (at most 100 reads), used before sending a new
// command so a stale reply from a previous exchange can't be mistaken for
// the new one.
func Flush(p Port) {
	buf := make([]byte, 256)
	for i := 0; i < 100; i++ {
		n, err := ReadWithTimeout(p, buf, 50*time.Millisecond)
		if err != nil || n == 0 {
			return
		}
	}
}

// FTDIPort is one port/role assignment from DiscoverByFTDI.
type FTDIPort struct {
	Device string
	Role   string // "hsm", "soc", or "mcu"
}

// DiscoverByFTDI enumerates serial ports filtered to FTDI-manufactured
// devices and assigns them to roles by sorted device index: index 1 is hsm,
// index 2 is soc, index 3 is mcu (index 0 is reserved for a debug/console
// port not used by this toolkit). It requires exactly four FTDI ports and
// returns an error naming the actual count otherwise, rather than guessing.
func DiscoverByFTDI() ([]FTDIPort, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialio: enumerate ports: %w", err)
	}

	var ftdi []string
	for _, p := range ports {
		if p.IsUSB && p.Manufacturer == "FTDI" {
			ftdi = append(ftdi, p.Name)
		}
	}
	sort.Strings(ftdi)

	if len(ftdi) != 4 {
		return nil, fmt.Errorf("serialio: expected 4 FTDI ports, found %d: %v", len(ftdi), ftdi)
	}

	return []FTDIPort{
		{Device: ftdi[1], Role: "hsm"},
		{Device: ftdi[2], Role: "soc"},
		{Device: ftdi[3], Role: "mcu"},
	}, nil
}
